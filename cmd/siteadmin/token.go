package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"siteattend/internal/auth"
	"siteattend/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token",
	Long: `Issue an access token signed with JWT_SIGNING_KEY.

Examples:
  # Admin token for the back office
  siteadmin token --subject ops@example.com

  # Kiosk token bound to one project
  siteadmin token --subject gate-1 --role kiosk --project tower-b`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("subject", "", "Token subject (required)")
	tokenCmd.Flags().String("role", auth.RoleAdmin, "Role: admin or kiosk")
	tokenCmd.Flags().String("project", "", "Restrict a kiosk token to one project")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "Access token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, args []string) error {
	role := mustGetString(cmd, "role")
	if role != auth.RoleAdmin && role != auth.RoleKiosk {
		return fmt.Errorf("unknown role %q", role)
	}
	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return err
	}

	cfg := config.Load()
	pair, err := auth.Issue(mustGetString(cmd, "subject"), role, mustGetString(cmd, "project"),
		cfg.JWTIssuer, cfg.JWTSigningKey, ttl, cfg.RefreshTTL)
	if err != nil {
		return err
	}
	fmt.Println(pair.AccessToken)
	return nil
}
