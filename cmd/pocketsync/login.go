package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/pocketsync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Store a Pocket access token",
	Long: `Store the access token (and optionally the consumer key) used for API
calls in ~/.config/pocketsync/.env.

Without --token the token is read from an interactive prompt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		consumerKey, _ := cmd.Flags().GetString("consumer-key")

		if token == "" {
			var err error
			token, err = ui.PromptToken("Pocket access token")
			if errors.Is(err, ui.ErrNotInteractive) {
				return errors.New("no terminal attached; pass --token")
			}
			if err != nil {
				return err
			}
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("access token cannot be empty")
		}

		if err := cfg.SaveCredentials(token, strings.TrimSpace(consumerKey)); err != nil {
			return err
		}
		fmt.Printf("%s Credentials saved to %s\n", ui.RenderPass("✓"), cfg.EnvFile())
		if cfg.API.ConsumerKey == "" {
			fmt.Printf("%s No consumer key configured; pass --consumer-key or set api.consumer_key\n", ui.RenderWarn("⚠"))
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().String("token", "", "access token (prompted when omitted)")
	loginCmd.Flags().String("consumer-key", "", "application consumer key")
	rootCmd.AddCommand(loginCmd)
}
