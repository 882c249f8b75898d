package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/motor-control/mcn/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the status API",
	Long: `Signs an HS256 token with the same secret the node is configured with
(api.jwtSecret or MCN_API_JWT_SECRET).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = os.Getenv("MCN_API_JWT_SECRET")
		}
		subject, _ := cmd.Flags().GetString("subject")
		scopes, _ := cmd.Flags().GetStringSlice("scope")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.Issue(secret, subject, scopes, ttl, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("secret", "", "signing secret (default $MCN_API_JWT_SECRET)")
	tokenCmd.Flags().String("subject", "operator", "token subject")
	tokenCmd.Flags().StringSlice("scope", []string{auth.ScopeRead, auth.ScopeTelemetry, auth.ScopeMetrics}, "granted scopes")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}
