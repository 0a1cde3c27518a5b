package output

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct{}

// Print renders human output.
func (HumanPrinter) Print(v any) error {
	switch data := v.(type) {
	case avrcp.DevicesReply:
		return printDevices(data)
	case avrcp.ContentsReply:
		return printContents(data)
	case avrcp.DeviceStateReply:
		return printDeviceState(data)
	case avrcp.ActiveReply:
		return printActive(data)
	case avrcp.NowPlayingState:
		return printNowPlaying(data)
	case avrcp.Presence:
		return printPresence(data)
	default:
		_, err := fmt.Fprintln(os.Stdout, "ok")
		return err
	}
}

func printDevices(result avrcp.DevicesReply) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ADDRESS\tSTATE\tBROWSING\tACTIVE"); err != nil {
		return err
	}
	for _, dev := range result.Devices {
		active := ""
		if dev.Active {
			active = "*"
		}
		browsing := "no"
		if dev.Browsing {
			browsing = "yes"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", dev.Address, dev.State, browsing, active); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printContents(result avrcp.ContentsReply) error {
	if result.Status != "success" {
		if _, err := fmt.Fprintf(os.Stdout, "status: %s\n", result.Status); err != nil {
			return err
		}
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "NAME\tFLAGS\tARTIST\tALBUM\tLEN\tNODE_ID"); err != nil {
		return err
	}
	for _, item := range result.Items {
		flags := ""
		if item.Browsable {
			flags += "d"
		}
		if item.Playable {
			flags += "p"
		}
		length := ""
		if item.DurationMS > 0 {
			length = formatDuration(item.DurationMS)
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			item.Name, flags, item.Artist, item.Album, length, item.NodeID); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printDeviceState(result avrcp.DeviceStateReply) error {
	_, err := fmt.Fprintln(os.Stdout, result.State)
	return err
}

func printActive(result avrcp.ActiveReply) error {
	if result.Address == "" {
		_, err := fmt.Fprintln(os.Stdout, "no active device")
		return err
	}
	_, err := fmt.Fprintln(os.Stdout, result.Address)
	return err
}

func printNowPlaying(state avrcp.NowPlayingState) error {
	item := state.Title
	if item == "" {
		item = "Unknown"
	}
	if state.Artist != "" {
		item = fmt.Sprintf("%s - %s", state.Artist, item)
	}
	position := ""
	if state.DurationMS > 0 {
		position = fmt.Sprintf("%s/%s", formatDuration(state.PositionMS), formatDuration(state.DurationMS))
	}
	line := strings.TrimSpace(fmt.Sprintf("%s  [%s]  %s  %s", state.Address, state.Status, item, position))
	_, err := fmt.Fprintln(os.Stdout, line)
	return err
}

func printPresence(presence avrcp.Presence) error {
	_, err := fmt.Fprintf(os.Stdout, "%s (%s)\n", presence.Identity, presence.Kind)
	return err
}

func formatDuration(ms int64) string {
	total := ms / 1000
	minutes := total / 60
	seconds := total % 60
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
