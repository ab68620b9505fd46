package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authflow"
)

func newLoginCmd(c *cli) *cobra.Command {
	var (
		email  string
		logout bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password, answering an OTP challenge when asked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()
			return c.runLogin(cmd.Context(), app, newPrompter(c.stdin, c.stdout), email, logout)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email; prompted when empty")
	cmd.Flags().BoolVar(&logout, "logout", false, "end the session again after signing in")
	return cmd
}

func (c *cli) runLogin(ctx context.Context, app *authflow.App, p *prompter, email string, logout bool) error {
	flow, err := app.NewLogin()
	if err != nil {
		return err
	}
	defer flow.Close()

	snap := flow.Snapshot()
	for snap.Stage != authflow.LoginAuthenticated {
		var stepErr error
		switch snap.Stage {
		case authflow.LoginAwaitingCredentials:
			if email == "" {
				if email, err = p.line("Email"); err != nil {
					return err
				}
			}
			pw, err := p.secret("Password")
			if err != nil {
				return err
			}
			snap, stepErr = flow.SubmitCredentials(ctx, email, pw)
			if stepErr != nil {
				email = ""
			}
		case authflow.LoginOTPPending:
			if snap.Attempts.Locked {
				fmt.Fprintln(c.stdout, "Too many wrong codes. Sign in again to receive a new one.")
				snap, stepErr = flow.Restart()
				break
			}
			if snap.OTPExpiresIn > 0 {
				fmt.Fprintf(c.stdout, "A code was sent to %s (valid for %s).\n", snap.Email, snap.OTPExpiresIn.Round(time.Second))
			}
			code, err := p.line("Code")
			if err != nil {
				return err
			}
			snap, stepErr = flow.SubmitOTP(ctx, code)
		}
		if err := c.settle(snap.Errors, stepErr); err != nil {
			return err
		}
	}

	profile, err := app.Profile(ctx)
	if err != nil {
		c.logger.Warn("profile lookup failed", "error", err)
		fmt.Fprintf(c.stdout, "Signed in as %s.\n", snap.Email)
	} else {
		fmt.Fprintf(c.stdout, "Signed in as %s (%s).\n", profile.FullName, profile.Email)
	}

	if logout {
		if err := app.Logout(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Fprintln(c.stdout, "Signed out.")
	}
	return nil
}
