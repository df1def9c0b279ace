package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/pdpwatch/internal/auth"
)

func createAuthCommand(clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Admin API credential helpers",
	}
	var cost int
	hash := &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash of a password read from stdin",
		Long: `Read one line from stdin and print its bcrypt hash, for use as
password_hash in an [[admin.auth.users]] entry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashPassword(cmd.InOrStdin(), cmd.OutOrStdout(), cost)
		},
	}
	hash.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")
	cmd.AddCommand(hash, createLoginCommand(clientFlags))
	return cmd
}

func runHashPassword(in io.Reader, out io.Writer, cost int) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	h, err := auth.HashPassword(strings.TrimRight(line, "\r\n"), cost)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, h)
	return err
}
