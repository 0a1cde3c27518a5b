package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/avrcpctl/internal/controller"
	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

func browseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "browse [node]",
		Short: "List the contents of a browse node",
		Long: "List the contents of a browse node. Without an argument the\n" +
			"device list at the tree root is shown; pass a node id from a\n" +
			"previous listing to descend.",
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			nodeID := controller.RootID
			if len(args) == 1 {
				nodeID = args[0]
			}

			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			reply, err := app.request(ctx, avrcp.CtlContentsGet, avrcp.ContentsGetBody{NodeID: nodeID})
			if err != nil {
				return err
			}
			var out avrcp.ContentsReply
			if err := json.Unmarshal(reply.Body, &out); err != nil {
				return err
			}
			return app.printer.Print(out)
		},
	}
}
