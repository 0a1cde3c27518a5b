package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

var keyNames = map[string]int{
	"play":     avrcp.KeyPlay,
	"pause":    avrcp.KeyPause,
	"stop":     avrcp.KeyStop,
	"next":     avrcp.KeyForward,
	"prev":     avrcp.KeyBackward,
	"ff":       avrcp.KeyFastFwd,
	"rew":      avrcp.KeyRewind,
	"vol-up":   avrcp.KeyVolUp,
	"vol-down": avrcp.KeyVolDown,
}

func keyCommand() *cobra.Command {
	var device string

	cmd := &cobra.Command{
		Use:   "key <name>",
		Short: "Send a media key to a device",
		Long:  "Send a media key. Known keys: " + strings.Join(knownKeys(), ", ") + ".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			code, ok := keyNames[strings.ToLower(args[0])]
			if !ok {
				return fmt.Errorf("unknown key %q (known: %s)", args[0], strings.Join(knownKeys(), ", "))
			}

			body := avrcp.KeyPressBody{KeyCode: code}
			if device != "" {
				body.Address = app.resolveAddress(device)
			}

			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			if _, err := app.request(ctx, avrcp.CtlKeyPress, body); err != nil {
				return err
			}
			return app.printer.Print(struct{}{})
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "target device (defaults to the active device)")

	return cmd
}

func knownKeys() []string {
	out := make([]string, 0, len(keyNames))
	for name := range keyNames {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
