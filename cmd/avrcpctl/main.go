package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mikey-austin/avrcpctl/internal/adapters/config"
	"github.com/mikey-austin/avrcpctl/internal/adapters/ctlmqtt"
	"github.com/mikey-austin/avrcpctl/internal/adapters/output"
	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

type app struct {
	client   *ctlmqtt.Client
	printer  output.Printer
	identity string
	aliases  map[string]string
	timeout  time.Duration
	json     bool
}

func main() {
	root := &cobra.Command{
		Use:   "avrcpctl",
		Short: "Remote accessory control CLI",
	}

	var (
		broker    string
		topicBase string
		identity  string
		timeout   time.Duration
		jsonOut   bool
		tlsCA     string
		tlsCert   string
		tlsKey    string
		userOpt   string
		passOpt   string
	)

	root.PersistentFlags().StringVarP(&broker, "broker", "b", "", "MQTT broker URL")
	root.PersistentFlags().StringVar(&topicBase, "topic-base", avrcp.BaseTopic, "MQTT topic base")
	root.PersistentFlags().StringVarP(&identity, "identity", "i", "", "client identity")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "command timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().StringVar(&tlsCA, "tls-ca", "", "TLS CA path")
	root.PersistentFlags().StringVar(&tlsCert, "tls-cert", "", "TLS cert path")
	root.PersistentFlags().StringVar(&tlsKey, "tls-key", "", "TLS key path")
	root.PersistentFlags().StringVar(&userOpt, "user", "", "MQTT username")
	root.PersistentFlags().StringVar(&passOpt, "pass", "", "MQTT password")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		identity = defaultIdentity(identity, cfg.Identity)
		if broker == "" {
			broker = cfg.Broker
		}
		if topicBase == avrcp.BaseTopic && cfg.TopicBase != "" {
			topicBase = cfg.TopicBase
		}
		if broker == "" {
			return errors.New("broker is required (set --broker or config)")
		}

		clientID := fmt.Sprintf("avrcpctl-%d", time.Now().UnixNano())
		client, err := ctlmqtt.NewClient(ctlmqtt.Options{
			BrokerURL: broker,
			ClientID:  clientID,
			Username:  userOpt,
			Password:  passOpt,
			TLSCA:     tlsCA,
			TLSCert:   tlsCert,
			TLSKey:    tlsKey,
			TopicBase: topicBase,
			Timeout:   timeout,
		})
		if err != nil {
			return err
		}

		var printer output.Printer
		if jsonOut {
			printer = output.JSONPrinter{}
		} else {
			printer = output.HumanPrinter{}
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			client:   client,
			printer:  printer,
			identity: identity,
			aliases:  cfg.Aliases,
			timeout:  timeout,
			json:     jsonOut,
		}))
		return nil
	}

	root.AddCommand(devicesCommand())
	root.AddCommand(browseCommand())
	root.AddCommand(playCommand())
	root.AddCommand(activeCommand())
	root.AddCommand(keyCommand())
	root.AddCommand(statusCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

func defaultIdentity(flagVal string, cfgVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	usr, _ := user.Current()
	host, _ := os.Hostname()
	if usr != nil && host != "" {
		return fmt.Sprintf("%s@%s", usr.Username, host)
	}
	if host != "" {
		return host
	}
	return "avrcpctl-unknown"
}

// resolveAddress expands a config alias to a device address.
func (a *app) resolveAddress(arg string) string {
	if addr, ok := a.aliases[arg]; ok {
		return addr
	}
	return arg
}

// request sends one control command and fails on error replies.
func (a *app) request(ctx context.Context, cmdType string, body any) (avrcp.ReplyEnvelope, error) {
	cmd := avrcp.CtlEnvelope{
		ID:   uuid.NewString(),
		Type: cmdType,
		TS:   time.Now().Unix(),
		From: a.identity,
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return avrcp.ReplyEnvelope{}, err
		}
		cmd.Body = payload
	}

	reply, err := a.client.Request(ctx, cmd)
	if err != nil {
		return avrcp.ReplyEnvelope{}, err
	}
	if !reply.OK {
		if reply.Err != nil {
			return reply, fmt.Errorf("%s: %s", reply.Err.Code, reply.Err.Message)
		}
		return reply, errors.New("request failed")
	}
	return reply, nil
}
