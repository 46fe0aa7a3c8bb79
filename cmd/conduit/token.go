package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ConduitPlatform/Conduit-sub006/adapters/auth"
	"github.com/ConduitPlatform/Conduit-sub006/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token accepted by authMiddleware",
	Long: `Issue a bearer token signed with auth.jwt_secret.

Examples:
  conduit token u1
  conduit token u1 --scope admin --ttl 24h`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

var (
	tokenScopes []string
	tokenTTL    time.Duration
)

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "scope to grant (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: auth.token_ttl)")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	ttl := cfg.Auth.TokenTTL
	if tokenTTL > 0 {
		ttl = tokenTTL
	}

	token, expires, err := auth.NewTokenService(cfg.Auth.JWTSecret, ttl).Issue(args[0], tokenScopes...)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
	return nil
}
