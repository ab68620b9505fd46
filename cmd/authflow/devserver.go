package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authflow/internal/authtest"
)

type devServerOptions struct {
	addr        string
	email       string
	password    string
	fullName    string
	otp         bool
	resendDelay time.Duration
	lockout     int
}

func newDevServerCmd(c *cli) *cobra.Command {
	var opts devServerOptions
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory authentication API that prints codes instead of mailing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runDevServer(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "127.0.0.1:8787", "listen address")
	flags.StringVar(&opts.email, "user", "", "seed an account with this email")
	flags.StringVar(&opts.password, "user-password", "", "password of the seeded account")
	flags.StringVar(&opts.fullName, "user-name", "Dev User", "full name of the seeded account")
	flags.BoolVar(&opts.otp, "otp", false, "require an OTP when the seeded account signs in")
	flags.DurationVar(&opts.resendDelay, "resend-interval", 60*time.Second, "server-side code resend interval; 0 disables")
	flags.IntVar(&opts.lockout, "lockout", 5, "failed logins before an account locks; 0 disables")
	return cmd
}

func (c *cli) runDevServer(ctx context.Context, opts devServerOptions) error {
	var outMu sync.Mutex
	srv := authtest.New(authtest.Config{
		ResendInterval:   opts.resendDelay,
		LockoutThreshold: opts.lockout,
		Logger:           c.logger,
		OnCode: func(purpose authtest.Purpose, email, code string) {
			outMu.Lock()
			defer outMu.Unlock()
			fmt.Fprintf(c.stdout, "code %s for %s: %s\n", purpose, email, code)
		},
	})
	if opts.email != "" {
		if opts.password == "" {
			return errors.New("--user-password is required with --user")
		}
		srv.AddUser(authtest.User{
			Email:        opts.email,
			Password:     opts.password,
			FullName:     opts.fullName,
			BaseCurrency: "USD",
			Verified:     true,
			OTPRequired:  opts.otp,
		})
	}

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpSrv := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()
	fmt.Fprintf(c.stdout, "dev API listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
