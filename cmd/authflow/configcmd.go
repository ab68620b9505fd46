package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authflow"
)

func newConfigCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective flow settings and configuration warnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()
			c.printReport(app.SecurityReport())
			return nil
		},
	}
}

func (c *cli) printReport(r authflow.SecurityReport) {
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "api\t%s\n", c.cfg.BaseURL)
	fmt.Fprintf(tw, "store\t%s\n", c.cfg.Store.Driver)
	fmt.Fprintf(tw, "persistent cooldowns\t%t\n", r.PersistentCooldowns)
	fmt.Fprintf(tw, "verification cooldown\t%s\n", r.VerificationCooldown)
	fmt.Fprintf(tw, "recovery cooldown\t%s\n", r.RecoveryCooldown)
	fmt.Fprintf(tw, "max attempts\t%d\n", r.MaxAttempts)
	fmt.Fprintf(tw, "reset session ttl\t%s (max %s)\n", r.DefaultSessionTTL, r.MaxSessionTTL)
	fmt.Fprintf(tw, "auto confirm links\t%t\n", r.AutoConfirm)
	fmt.Fprintf(tw, "password policy\t%s\n", r.PasswordPolicy)
	fmt.Fprintf(tw, "audit\t%t\n", r.AuditEnabled)
	fmt.Fprintf(tw, "metrics\t%t\n", r.MetricsEnabled)
	_ = tw.Flush()

	for _, w := range r.Lint {
		fmt.Fprintf(c.stdout, "%s %s: %s\n", w.Severity, w.Code, w.Message)
	}
}
