package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/hybrid-kex/pkg/metrics"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"
	"github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
)

// demoPolicies is one representative policy per mode.
var demoPolicies = []negotiation.Policy{
	{Mode: negotiation.ClassicalOnly, Classical: primitive.X25519},
	{Mode: negotiation.PostQuantumOnly, PQ1: primitive.MLKEM768},
	{Mode: negotiation.DualHybrid, Classical: primitive.X25519, PQ1: primitive.MLKEM768},
	{Mode: negotiation.TripleHybrid, Classical: primitive.X25519, PQ1: primitive.MLKEM768, PQ2: primitive.FrodoKEM640SHAKE},
}

func selectPolicies(mode string) ([]negotiation.Policy, error) {
	if mode == "" || mode == "all" {
		return demoPolicies, nil
	}
	m, err := negotiation.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	for _, p := range demoPolicies {
		if p.Mode == m {
			return []negotiation.Policy{p}, nil
		}
	}
	return nil, fmt.Errorf("no demo policy for mode %s", m)
}

func demoCmd(a *app) *cobra.Command {
	var mode, message string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run in-process handshakes for every mode and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := selectPolicies(mode)
			if err != nil {
				return err
			}
			obs := a.observer(metrics.NewCollector(a.cfg.Metrics.Namespace, nil))
			out := cmd.OutOrStdout()
			for _, p := range policies {
				if err := runDemo(cmd.Context(), out, p, message, obs); err != nil {
					return fmt.Errorf("%s: %w", p.Mode, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "all", "mode to demonstrate (classical, pq_only, dual_hybrid, triple_hybrid, all)")
	cmd.Flags().StringVar(&message, "message", "hello, hybrid world", "payload echoed over the session")
	return cmd
}

// runDemo serves one session over an in-memory pipe, echoes message and
// rekeys once.
func runDemo(ctx context.Context, out io.Writer, policy negotiation.Policy, message string, obs tunnel.Observer) error {
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprintf(out, "%s: %s\n", policy.Mode, policyAlgorithms(policy))
	fmt.Fprintln(out, strings.Repeat("─", 60))

	scfg := tunnel.DefaultServerConfig()
	scfg.Handshake.Policy = policy
	scfg.Handshake.Observer = obs
	srv, err := tunnel.NewServer(scfg)
	if err != nil {
		return err
	}

	cc, sc := net.Pipe()
	served := make(chan error, 1)
	go func() { served <- srv.ServeConn(ctx, sc) }()

	client, err := tunnel.NewClient(ctx, cc, tunnel.Config{Policy: policy, Observer: obs})
	if err != nil {
		_ = cc.Close()
		<-served
		return err
	}
	if err := printJSON(out, client.Result().Summary()); err != nil {
		_ = client.Close()
		return err
	}

	reply, err := client.Echo(ctx, message)
	if err != nil {
		_ = client.Close()
		return err
	}
	fmt.Fprintf(out, "echo:  %q\n", reply)

	res, err := client.Rekey(ctx)
	if err != nil {
		_ = client.Close()
		return err
	}
	fmt.Fprintf(out, "rekey: %v, %d messages\n", res.HandshakeDuration, res.MessageCount)

	if err := client.Close(); err != nil {
		return err
	}
	if err := <-served; err != nil {
		return fmt.Errorf("server: %w", err)
	}
	fmt.Fprintln(out)
	return nil
}
