package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"larkcourier/internal/auth"
	"larkcourier/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "larkcourier",
		Short: "Resilient outbound message delivery for Feishu/Lark",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "path to config.toml")

	root.AddCommand(serveCmd())
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the delivery API server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func tokenCmd() *cobra.Command {
	var userID string
	var expiresIn time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			token, expiresAt, err := auth.GenerateToken(userID, cfg.Auth.JWTSecret, expiresIn)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "caller id to embed in the token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
