package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "craftybot",
		Short: "Telegram status board for Crafty Controller servers",
		Long: `craftybot keeps one live statistics message per subscribed Telegram chat
and edits it in place on every broadcast cycle. Chats subscribe with
/subscribe and leave with /unsubscribe.

Secrets can come from the environment instead of the config file:
  CRAFTYBOT_TELEGRAM_TOKEN, CRAFTYBOT_CRAFTY_API_KEY, CRAFTYBOT_STORAGE_DSN`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to the config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "console log level for offline commands")
	rootCmd.AddCommand(runCmd, renderCmd, subscribersCmd)
}
