package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authflow"
)

func newRecoverCmd(c *cli) *cobra.Command {
	var nav authflow.NavigationContext
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reset a forgotten password with an emailed code",
		Long: "recover requests a code for the account email, confirms it and sets a new password.\n" +
			"A code and email from a recovery link can be passed with --token and --email.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()
			return c.runRecover(cmd.Context(), app, newPrompter(c.stdin, c.stdout), nav)
		},
	}
	cmd.Flags().StringVar(&nav.Token, "token", "", "code from a recovery link")
	cmd.Flags().StringVar(&nav.Email, "email", "", "email from a recovery link")
	return cmd
}

func (c *cli) runRecover(ctx context.Context, app *authflow.App, p *prompter, nav authflow.NavigationContext) error {
	flow, err := app.NewRecovery()
	if err != nil {
		return err
	}
	defer flow.Close()

	snap, stepErr := flow.Load(ctx, nav)
	if err := c.settle(snap.Errors, stepErr); err != nil {
		return err
	}

	for snap.Stage != authflow.RecoveryCompleted {
		stepErr = nil
		switch snap.Stage {
		case authflow.RecoveryIdle:
			email := nav.Email
			if email == "" {
				if email, err = p.line("Email"); err != nil {
					return err
				}
			}
			nav.Email = ""
			snap, stepErr = flow.RequestCode(ctx, email)
			if stepErr == nil {
				fmt.Fprintf(c.stdout, "If %s has an account, a code is on its way.\n", snap.Email)
			}
		case authflow.RecoveryCodeSent, authflow.RecoverySessionExpired:
			if snap.Stage == authflow.RecoverySessionExpired {
				fmt.Fprintln(c.stdout, "The reset session expired. Confirm a code again.")
			}
			code, err := p.line(codeLabel(snap))
			if err != nil {
				return err
			}
			if strings.TrimSpace(code) == "" {
				snap, stepErr = c.resend(ctx, flow, snap)
				break
			}
			snap, stepErr = flow.ConfirmCode(ctx, code, snap.Email)
		case authflow.RecoveryLocked:
			fmt.Fprintln(c.stdout, "Too many wrong codes. A new code is required.")
			if _, err := p.line("Press enter to request a new code"); err != nil {
				return err
			}
			snap, stepErr = c.resend(ctx, flow, snap)
		case authflow.RecoverySessionActive:
			fmt.Fprintf(c.stdout, "Code accepted. Set a new password within %s.\n%s\n",
				snap.SessionExpiresIn.Round(time.Second), snap.PasswordPolicy)
			pw, err := p.secret("New password")
			if err != nil {
				return err
			}
			confirm, err := p.secret("Confirm password")
			if err != nil {
				return err
			}
			snap, stepErr = flow.SubmitReset(ctx, pw, confirm)
		}
		if err := c.settle(snap.Errors, stepErr); err != nil {
			return err
		}
	}

	fmt.Fprintln(c.stdout, "Password updated. Sign in with your new password.")
	return nil
}

func (c *cli) resend(ctx context.Context, flow *authflow.RecoveryController, snap authflow.RecoverySnapshot) (authflow.RecoverySnapshot, error) {
	if snap.Cooldown.Active() {
		fmt.Fprintf(c.stdout, "Wait before requesting another code: %s.\n", snap.Cooldown.Hint())
		return snap, nil
	}
	next, err := flow.RequestCode(ctx, snap.Email)
	if err == nil {
		fmt.Fprintln(c.stdout, "A new code is on its way.")
	}
	return next, err
}

func codeLabel(snap authflow.RecoverySnapshot) string {
	if snap.Cooldown.Active() {
		return fmt.Sprintf("Code (new code available in %ds)", snap.Cooldown.Seconds())
	}
	return "Code (empty for a new code)"
}
