package main

import (
	"errors"
	"fmt"
	"time"

	"projectflow/pkg/auth"
	"projectflow/pkg/config"
	"projectflow/pkg/rbac"

	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user ID placed in the token (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", rbac.RoleViewer, "role placed in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashAdminKeyCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token",
	Long: `Issue a signed JWT for the workflow API using jwt.secret from the config.

Example:
  projectflow token --user inspector-7 --role inspector --ttl 8h`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !rbac.ValidRole(tokenRole) {
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		cfg, err := config.Load(envName, configDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.JWT.Secret == "" {
			return errors.New("jwt.secret is not configured")
		}
		token, err := auth.GenerateJWT(tokenUser, tokenRole, cfg.JWT.Secret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var hashAdminKeyCmd = &cobra.Command{
	Use:   "hash-admin-key <key>",
	Short: "Print the bcrypt hash of an admin API key for admin.key_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashKey(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}
