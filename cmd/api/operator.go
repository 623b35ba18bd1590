package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tallerflow/ticket-service/internal/auth"
	"github.com/tallerflow/ticket-service/internal/config"
)

func newHashPasswordCmd() *cobra.Command {
	var (
		operator string
		cost     int
	)

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash an operator password for AUTH_OPERATORS",
		Long:  "Reads the password from the first line of stdin and prints a name:hash entry for AUTH_OPERATORS.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cost == 0 {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cost = cfg.Auth.BcryptCost
			}
			entry, err := hashOperatorPassword(cmd.InOrStdin(), operator, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry)
			return nil
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "operator id")
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default AUTH_BCRYPT_COST)")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func hashOperatorPassword(in io.Reader, operator string, cost int) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"), cost)
	if err != nil {
		return "", err
	}
	return auth.OperatorEntry(operator, hash)
}
