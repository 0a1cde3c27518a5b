package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

func devicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Inspect connected devices",
	}
	cmd.AddCommand(devicesListCommand())
	cmd.AddCommand(devicesStateCommand())
	return cmd
}

func devicesListCommand() *cobra.Command {
	var states []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			reply, err := app.request(ctx, avrcp.CtlDevicesList, avrcp.DevicesListBody{States: states})
			if err != nil {
				return err
			}
			var out avrcp.DevicesReply
			if err := json.Unmarshal(reply.Body, &out); err != nil {
				return err
			}
			return app.printer.Print(out)
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "filter by connection state")

	return cmd
}

func devicesStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state <address>",
		Short: "Show one device's connection state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			reply, err := app.request(ctx, avrcp.CtlDeviceState, avrcp.DeviceStateBody{
				Address: app.resolveAddress(args[0]),
			})
			if err != nil {
				return err
			}
			var out avrcp.DeviceStateReply
			if err := json.Unmarshal(reply.Body, &out); err != nil {
				return err
			}
			return app.printer.Print(out)
		},
	}
}
