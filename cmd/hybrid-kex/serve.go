package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/hybrid-kex/pkg/metrics"
	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
	pkgversion "github.com/sara-star-quant/hybrid-kex/pkg/version"
)

func serveCmd(a *app) *cobra.Command {
	var listen, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a key exchange server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				a.cfg.Server.ListenAddr = listen
			}
			if metricsAddr != "" {
				a.cfg.Metrics.Enabled = true
				a.cfg.Metrics.ListenAddr = metricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmd)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides server.listen_addr)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
	return cmd
}

func (a *app) serve(ctx context.Context, cmd *cobra.Command) error {
	collector := metrics.NewCollector(a.cfg.Metrics.Namespace, nil)
	if err := collector.RegisterRuntimeCollectors(); err != nil {
		return err
	}
	metrics.SetGlobal(collector)

	tcfg, err := a.cfg.Server.TunnelConfig(a.observer(collector))
	if err != nil {
		return err
	}
	if id := tcfg.Handshake.Identity; id != nil {
		defer id.Destroy()
	}
	srv, err := tunnel.NewServer(tcfg)
	if err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	policy, _ := a.cfg.Server.Policy()
	fmt.Fprintf(out, "%s listening on %s\n", pkgversion.Full(), ln.Addr())
	fmt.Fprintf(out, "  Mode:        %s\n", policy.Mode)
	fmt.Fprintf(out, "  Algorithms:  %s\n", policyAlgorithms(policy))
	if id := tcfg.Handshake.Identity; id != nil {
		fmt.Fprintf(out, "  Identity:    %s (%s)\n", id.Subject(), id.Algorithm())
		fmt.Fprintf(out, "  Trusted key: %s\n", hex.EncodeToString(id.PublicKey()))
	}

	errc := make(chan error, 1)
	if a.cfg.Metrics.Enabled {
		health := metrics.NewHealthCheck(srv.Stats, getVersion())
		msrv := metrics.NewServer(collector, health)
		go func() {
			errc <- msrv.ListenAndServe(ctx, a.cfg.Metrics.ListenAddr)
		}()
		fmt.Fprintf(out, "  Metrics:     %s (/metrics, /health, /healthz, /readyz)\n", a.cfg.Metrics.ListenAddr)
	}

	a.logger.Info("server started", metrics.Fields{
		"addr":    ln.Addr().String(),
		"mode":    policy.Mode.String(),
		"version": getVersion(),
	})
	err = srv.Serve(ctx, ln)

	stats := srv.Stats()
	a.logger.Info("server stopped", metrics.Fields{
		"bytes_sent":     stats.BytesSent,
		"bytes_received": stats.BytesReceived,
		"rekeys":         stats.Rekeys,
	})
	if err != nil {
		return err
	}
	if a.cfg.Metrics.Enabled {
		if merr := <-errc; merr != nil && !errors.Is(merr, context.Canceled) {
			return fmt.Errorf("metrics server: %w", merr)
		}
	}
	return nil
}

func policyAlgorithms(p negotiation.Policy) string {
	names := make([]string, 0, 3)
	for _, sel := range p.Required() {
		names = append(names, string(sel.Algorithm))
	}
	return strings.Join(names, " + ")
}
