package main

import (
	"fmt"

	"craftybot/internal/app"
	logx "craftybot/pkg/logx"

	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Fetch statistics once and print the report",
	Long: `Fetch one snapshot from Crafty Controller and print the report text a
broadcast cycle would send. Nothing is sent to Telegram.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := app.RenderOnce(cmd.Context(), cfgPath, logx.NewConsole(logLevel))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}
