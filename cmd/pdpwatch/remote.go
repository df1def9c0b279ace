package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/pdpwatch/pkg/client"
)

func addClientFlags(cmd *cobra.Command, flags *ClientFlags) {
	cmd.Flags().StringVar(&flags.Admin, "admin", client.DefaultConfig().BaseURL, "admin API base URL")
	cmd.Flags().StringVar(&flags.User, "user", "", "username for basic auth")
	cmd.Flags().StringVar(&flags.Password, "password", "", "password for basic auth")
	cmd.Flags().StringVar(&flags.Token, "token", "", "bearer token from auth login")
	cmd.Flags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate for a TLS admin API")
	cmd.Flags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")
}

func newClient(flags ClientFlags) (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  flags.Admin,
		Username: flags.User,
		Password: flags.Password,
		Token:    flags.Token,
		Insecure: flags.Insecure,
	}
	if flags.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: flags.CACert}
	}
	return client.New(cfg)
}

func createStatusCommand(flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the supervised PDP's status and counters",
		Long: `Query a running pdpwatch through its admin API.

Examples:
  pdpwatch status
  pdpwatch status --admin https://pdp-host:7070/api --ca-cert tls_ca.crt --user ops --password secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createRestartCommand(flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the supervised PDP through the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestart(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	addClientFlags(cmd, flags)
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "how long the server waits for the respawn (server default when 0)")
	return cmd
}

func createLoginCommand(flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func runStatus(ctx context.Context, flags ClientFlags, out io.Writer) error {
	c, err := newClient(flags)
	if err != nil {
		return err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return printJSON(out, struct {
		Status *client.Status `json:"status"`
		Stats  *client.Stats  `json:"stats"`
	}{st, stats})
}

func runRestart(ctx context.Context, flags ClientFlags, out io.Writer) error {
	c, err := newClient(flags)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := c.Restart(ctx, flags.Timeout); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	_, _ = fmt.Fprintf(out, "restarted in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runLogin(ctx context.Context, flags ClientFlags, out io.Writer) error {
	c, err := newClient(flags)
	if err != nil {
		return err
	}
	tok, err := c.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return printJSON(out, tok)
}
