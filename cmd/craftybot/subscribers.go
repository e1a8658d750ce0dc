package main

import (
	"fmt"
	"text/tabwriter"

	"craftybot/internal/app"
	logx "craftybot/pkg/logx"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var subscribersCmd = &cobra.Command{
	Use:     "subscribers",
	Aliases: []string{"subs"},
	Short:   "List subscribed chats from the configured store",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		states, err := app.Subscribers(cmd.Context(), cfgPath, logx.NewConsole(logLevel))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(states) == 0 {
			fmt.Fprintln(out, "No subscribers.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHAT\tMESSAGE\tUPDATED")
		for _, st := range states {
			msg := "-"
			if st.LastMessageID > 0 {
				msg = fmt.Sprint(st.LastMessageID)
			}
			updated := "never"
			if !st.UpdatedAt.IsZero() {
				updated = humanize.Time(st.UpdatedAt)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", st.ChatID, msg, updated)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s subscriber(s)\n", humanize.Comma(int64(len(states))))
		return nil
	},
}
