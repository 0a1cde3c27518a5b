package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

func activeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show or change the active device",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			reply, err := app.request(ctx, avrcp.CtlActiveGet, nil)
			if err != nil {
				return err
			}
			var out avrcp.ActiveReply
			if err := json.Unmarshal(reply.Body, &out); err != nil {
				return err
			}
			return app.printer.Print(out)
		},
	}
	cmd.AddCommand(activeSetCommand())
	cmd.AddCommand(activeClearCommand())
	return cmd
}

func activeSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <address>",
		Short: "Make a device the active routing target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			body := avrcp.ActiveBody{Address: app.resolveAddress(args[0])}
			if _, err := app.request(ctx, avrcp.CtlActiveSet, body); err != nil {
				return err
			}
			return app.printer.Print(struct{}{})
		},
	}
}

func activeClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the active device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			if _, err := app.request(ctx, avrcp.CtlActiveSet, avrcp.ActiveBody{}); err != nil {
				return err
			}
			return app.printer.Print(struct{}{})
		},
	}
}
