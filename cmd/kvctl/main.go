// Command kvctl is the command-line client: it reads the same TOML config
// file as the server for the address and protocol, and maps each
// subcommand onto one wire command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"kvserver/internal/config"
	"kvserver/internal/wire"
	"kvserver/pkg/kvclient"
)

type clientFlags struct {
	configPath string
	addr       string
	protocol   string
	insecure   bool
}

func main() {
	flags := &clientFlags{}

	rootCmd := &cobra.Command{
		Use:           "kvctl",
		Short:         "Client for the key-value and pub/sub server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&flags.addr, "addr", "", "server address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flags.protocol, "protocol", "", "transport protocol: tls, noise, quic (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flags.insecure, "insecure", "k", true, "skip TLS certificate verification")

	rootCmd.AddCommand(
		getCmd(flags), getallCmd(flags), mgetCmd(flags),
		setCmd(flags), msetCmd(flags),
		delCmd(flags), mdelCmd(flags),
		existsCmd(flags), mexistsCmd(flags),
		publishCmd(flags), subscribeCmd(flags), unsubscribeCmd(flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kvctl: %v\n", err)
		os.Exit(1)
	}
}

func dial(ctx context.Context, flags *clientFlags) (*kvclient.Client, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	addr := cfg.Server.Addr
	if flags.addr != "" {
		addr = flags.addr
	}
	protocol := cfg.Server.Protocol
	if flags.protocol != "" {
		protocol = flags.protocol
	}
	return kvclient.Dial(ctx, kvclient.Options{
		Protocol:  protocol,
		Addr:      addr,
		Insecure:  flags.insecure,
		Algorithm: cfg.Frame.Algorithm,
	})
}

// parseValue maps a CLI argument onto the narrowest Value variant it parses
// as: int, then float, then bool, falling back to string.
func parseValue(arg string) wire.Value {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return wire.IntValue(n)
	}
	if f, err := strconv.ParseFloat(arg, 64); err == nil {
		return wire.FloatValue(f)
	}
	if b, err := strconv.ParseBool(arg); err == nil {
		return wire.BoolValue(b)
	}
	return wire.StringValue(arg)
}

func formatValue(v wire.Value) string {
	switch v.Kind {
	case wire.KindNone:
		return "(none)"
	case wire.KindString:
		return v.Str
	case wire.KindBytes:
		return fmt.Sprintf("%x", v.Bytes)
	case wire.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case wire.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case wire.KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "(unknown)"
	}
}

func clientRun(flags *clientFlags, fn func(ctx context.Context, c *kvclient.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := dial(ctx, flags)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(ctx, c, args)
	}
}

func getCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "get <table> <key>",
		Args: cobra.ExactArgs(2),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			v, err := c.Hget(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(formatValue(v))
			return nil
		}),
	}
}

func getallCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "getall <table>",
		Args: cobra.ExactArgs(1),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			pairs, err := c.Hgetall(ctx, args[0])
			if err != nil {
				return err
			}
			for _, p := range pairs {
				fmt.Printf("%s\t%s\n", p.Key, formatValue(p.Value))
			}
			return nil
		}),
	}
}

func mgetCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "mget <table> <key>...",
		Args: cobra.MinimumNArgs(2),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			values, err := c.Hmget(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			for i, v := range values {
				fmt.Printf("%s\t%s\n", args[1+i], formatValue(v))
			}
			return nil
		}),
	}
}

func setCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "set <table> <key> <value>",
		Args: cobra.ExactArgs(3),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			prior, err := c.Hset(ctx, args[0], args[1], parseValue(args[2]))
			if err != nil {
				return err
			}
			fmt.Println(formatValue(prior))
			return nil
		}),
	}
}

func msetCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "mset <table> <key> <value> [<key> <value>...]",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 || len(args)%2 != 1 {
				return fmt.Errorf("expected a table followed by key/value pairs")
			}
			return nil
		},
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			var pairs []wire.Kvpair
			for i := 1; i < len(args); i += 2 {
				pairs = append(pairs, wire.Kvpair{Key: args[i], Value: parseValue(args[i+1])})
			}
			priors, err := c.Hmset(ctx, args[0], pairs)
			if err != nil {
				return err
			}
			for i, v := range priors {
				fmt.Printf("%s\t%s\n", pairs[i].Key, formatValue(v))
			}
			return nil
		}),
	}
}

func delCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "del <table> <key>",
		Args: cobra.ExactArgs(2),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			prior, err := c.Hdel(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(formatValue(prior))
			return nil
		}),
	}
}

func mdelCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "mdel <table> <key>...",
		Args: cobra.MinimumNArgs(2),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			priors, err := c.Hmdel(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			for i, v := range priors {
				fmt.Printf("%s\t%s\n", args[1+i], formatValue(v))
			}
			return nil
		}),
	}
}

func existsCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "exists <table> <key>",
		Args: cobra.ExactArgs(2),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			ok, err := c.Hexist(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		}),
	}
}

func mexistsCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "mexists <table> <key>...",
		Args: cobra.MinimumNArgs(2),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			oks, err := c.Hmexist(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			for i, ok := range oks {
				fmt.Printf("%s\t%v\n", args[1+i], ok)
			}
			return nil
		}),
	}
}

func publishCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "publish <topic> [<value>...]",
		Args: cobra.MinimumNArgs(1),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			var values []wire.Value
			for _, arg := range args[1:] {
				values = append(values, parseValue(arg))
			}
			return c.Publish(ctx, args[0], values)
		}),
	}
}

func subscribeCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "subscribe <topic>",
		Args: cobra.ExactArgs(1),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sub, err := c.Subscribe(ctx, args[0])
			if err != nil {
				return err
			}
			defer sub.Close()
			fmt.Printf("subscribed: id=%d\n", sub.ID)

			go func() {
				<-ctx.Done()
				sub.Close()
			}()

			for {
				msg, err := sub.Recv()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				for _, v := range msg.Values {
					fmt.Println(formatValue(v))
				}
			}
		}),
	}
}

func unsubscribeCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:  "unsubscribe <topic> <id>",
		Args: cobra.ExactArgs(2),
		RunE: clientRun(flags, func(ctx context.Context, c *kvclient.Client, args []string) error {
			id, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid subscription id %q", args[1])
			}
			return c.Unsubscribe(ctx, args[0], uint32(id))
		}),
	}
}
