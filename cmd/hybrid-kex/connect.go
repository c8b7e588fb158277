package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/hybrid-kex/pkg/metrics"
	"github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
)

type connectOptions struct {
	addr  string
	ping  int
	echo  string
	info  bool
	rekey bool
}

func connectCmd(a *app) *cobra.Command {
	var opts connectOptions

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Handshake with a server and exchange application messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.addr != "" {
				a.cfg.Client.Address = opts.addr
			}
			if opts.ping == 0 && opts.echo == "" && !opts.info && !opts.rekey {
				opts.ping = 1
			}
			return a.connect(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "server address (overrides client.address)")
	cmd.Flags().IntVar(&opts.ping, "ping", 0, "send this many pings")
	cmd.Flags().StringVar(&opts.echo, "echo", "", "send an echo request with this payload")
	cmd.Flags().BoolVar(&opts.info, "info", false, "request the server's crypto info")
	cmd.Flags().BoolVar(&opts.rekey, "rekey", false, "rekey the session before closing")
	return cmd
}

func (a *app) connect(ctx context.Context, out io.Writer, opts connectOptions) error {
	tcfg, err := a.cfg.Client.TunnelConfig(a.observer(metrics.NewCollector(a.cfg.Metrics.Namespace, nil)))
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.Client.DialTimeout+a.cfg.Client.Exchange.HandshakeTimeout)
	client, err := tunnel.Dial(dialCtx, "tcp", a.cfg.Client.Address, tcfg)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", a.cfg.Client.Address, err)
	}
	defer func() { _ = client.Close() }()

	fmt.Fprintf(out, "Connected to %s\n", a.cfg.Client.Address)
	if err := printJSON(out, client.Result().Summary()); err != nil {
		return err
	}

	for i := 0; i < opts.ping; i++ {
		rtt, err := client.Ping(ctx)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		fmt.Fprintf(out, "pong: %v\n", rtt)
	}

	if opts.echo != "" {
		reply, err := client.Echo(ctx, opts.echo)
		if err != nil {
			return fmt.Errorf("echo: %w", err)
		}
		fmt.Fprintf(out, "echo: %q\n", reply)
	}

	if opts.info {
		info, err := client.CryptoInfo(ctx)
		if err != nil {
			return fmt.Errorf("crypto info: %w", err)
		}
		if err := printJSON(out, info); err != nil {
			return err
		}
	}

	if opts.rekey {
		res, err := client.Rekey(ctx)
		if err != nil {
			return fmt.Errorf("rekey: %w", err)
		}
		fmt.Fprintf(out, "rekeyed session %s in %v\n", res.SessionID, res.HandshakeDuration)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
