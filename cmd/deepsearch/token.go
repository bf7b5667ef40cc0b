package main

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/internal/runtime"
	"github.com/spf13/cobra"
)

func tokenCMD(cfgPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
		scopes  []string
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with server.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			signed, err := runtime.SignJWT(subject, secret, ttl, scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.Flags().StringSliceVar(&scopes, "scope", []string{runtime.ScopeResearch}, "granted scopes")
	return token
}
