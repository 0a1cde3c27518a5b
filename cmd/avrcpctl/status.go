package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func statusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the now-playing state of the active device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			if watch {
				return watchStatus(app)
			}
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			state, ok, err := app.client.GetNowPlaying(ctx)
			if err != nil {
				return err
			}
			if !ok {
				_, err := fmt.Fprintln(os.Stdout, "nothing playing")
				return err
			}
			return app.printer.Print(state)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "watch now-playing updates")

	return cmd
}

func watchStatus(app *app) error {
	ctx := context.Background()
	states, errs := app.client.WatchNowPlaying(ctx)

	for {
		select {
		case state, ok := <-states:
			if !ok {
				return nil
			}
			if err := app.printer.Print(state); err != nil {
				return err
			}
		case err := <-errs:
			if err != nil {
				return err
			}
		}
	}
}
