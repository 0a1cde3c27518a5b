package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

func playCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "play <node>",
		Short: "Play a browse node on its device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			if _, err := app.request(ctx, avrcp.CtlItemPlay, avrcp.ItemPlayBody{NodeID: args[0]}); err != nil {
				return err
			}
			return app.printer.Print(struct{}{})
		},
	}
}
