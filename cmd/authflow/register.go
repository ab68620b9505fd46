package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authflow"
)

func newRegisterCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account and verify its email address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()
			return c.runRegister(cmd.Context(), app, newPrompter(c.stdin, c.stdout))
		},
	}
}

func (c *cli) runRegister(ctx context.Context, app *authflow.App, p *prompter) error {
	flow, err := app.NewRegistration()
	if err != nil {
		return err
	}
	defer flow.Close()

	snap, err := flow.Restore(ctx)
	if err != nil {
		return err
	}
	if snap.Stage == authflow.RegistrationOTPPending {
		fmt.Fprintf(c.stdout, "Resuming verification of %s.\n", snap.Email)
	}

	for snap.Stage != authflow.RegistrationAuthenticated {
		var stepErr error
		switch snap.Stage {
		case authflow.RegistrationAwaitingDetails:
			details, err := promptDetails(p)
			if err != nil {
				return err
			}
			snap, stepErr = flow.SubmitRegistration(ctx, details)
			if stepErr == nil {
				fmt.Fprintf(c.stdout, "A verification code was sent to %s.\n", snap.Email)
			}
		case authflow.RegistrationOTPPending:
			label := "Code (empty to resend)"
			if snap.Cooldown.Active() {
				label = fmt.Sprintf("Code (resend available in %ds)", snap.Cooldown.Seconds())
			}
			if snap.Attempts.Locked {
				fmt.Fprintln(c.stdout, "Too many wrong codes. Request a new one.")
			}
			code, err := p.line(label)
			if err != nil {
				return err
			}
			if strings.TrimSpace(code) != "" {
				snap, stepErr = flow.SubmitOTP(ctx, code)
				break
			}
			snap, stepErr = flow.ResendCode(ctx)
			switch {
			case stepErr == nil:
				fmt.Fprintln(c.stdout, "A new code is on its way.")
			case snap.Cooldown.Active():
				fmt.Fprintf(c.stdout, "Wait before resending: %s.\n", snap.Cooldown.Hint())
			}
		}
		if err := c.settle(snap.Errors, stepErr); err != nil {
			return err
		}
	}

	fmt.Fprintf(c.stdout, "Email verified. Signed in as %s.\n", snap.Email)
	return nil
}

func promptDetails(p *prompter) (authflow.RegistrationDetails, error) {
	var (
		d   authflow.RegistrationDetails
		err error
	)
	if d.Email, err = p.line("Email"); err != nil {
		return d, err
	}
	if d.FullName, err = p.line("Full name"); err != nil {
		return d, err
	}
	if d.BaseCurrency, err = p.lineDefault("Base currency", "USD"); err != nil {
		return d, err
	}
	if d.Password, err = p.secret("Password"); err != nil {
		return d, err
	}
	return d, nil
}
