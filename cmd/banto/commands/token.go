package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/Banto/internal/api"
	"github.com/shizukutanaka/Banto/internal/config"
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for the write endpoints",
	Long: `Issue a bearer token signed with the configured JWT secret. The token
authorizes POST requests against a server started from the same
configuration.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("subject", "cli", "Token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is not set, write endpoints are open")
	}

	token, err := api.NewToken(cfg.API.JWTSecret, subject, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}
