package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/hybrid-kex/pkg/negotiation"
	"github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
)

type benchOptions struct {
	mode       string
	handshakes int
	echoes     int
	size       int
}

func benchCmd(a *app) *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark handshakes and record round trips over loopback TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.handshakes <= 0 && opts.echoes <= 0 {
				return errors.New("nothing to benchmark: set --handshakes or --echoes")
			}
			policies, err := selectPolicies(opts.mode)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range policies {
				if err := runBench(cmd.Context(), out, p, opts); err != nil {
					return fmt.Errorf("%s: %w", p.Mode, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "all", "mode to benchmark (classical, pq_only, dual_hybrid, triple_hybrid, all)")
	cmd.Flags().IntVarP(&opts.handshakes, "handshakes", "n", 100, "number of handshakes")
	cmd.Flags().IntVar(&opts.echoes, "echoes", 0, "echo round trips over one session")
	cmd.Flags().IntVar(&opts.size, "size", 1024, "echo payload size in bytes")
	return cmd
}

func runBench(ctx context.Context, out io.Writer, policy negotiation.Policy, opts benchOptions) error {
	fmt.Fprintf(out, "Benchmarking %s (%s)\n", policy.Mode, policyAlgorithms(policy))
	fmt.Fprintln(out, strings.Repeat("─", 60))

	scfg := tunnel.DefaultServerConfig()
	scfg.Handshake.Policy = policy
	scfg.MaxConnections = 0
	srv, err := tunnel.NewServer(scfg)
	if err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-served
	}()

	addr := ln.Addr().String()
	ccfg := tunnel.Config{Policy: policy}

	if opts.handshakes > 0 {
		benchHandshakes(ctx, out, addr, ccfg, opts.handshakes)
	}
	if opts.echoes > 0 {
		if err := benchEchoes(ctx, out, addr, ccfg, opts.echoes, opts.size); err != nil {
			return err
		}
	}
	fmt.Fprintln(out)
	return nil
}

func benchHandshakes(ctx context.Context, out io.Writer, addr string, cfg tunnel.Config, count int) {
	durations := make([]time.Duration, 0, count)
	failed := 0

	step := count / 10
	if step == 0 {
		step = 1
	}
	start := time.Now()
	for i := 0; i < count; i++ {
		client, err := tunnel.Dial(ctx, "tcp", addr, cfg)
		if err != nil {
			failed++
			continue
		}
		durations = append(durations, client.Result().HandshakeDuration)
		_ = client.Close()

		if (i+1)%step == 0 || i == count-1 {
			fmt.Fprintf(out, "Progress: %d/%d (%.0f%%)\r", i+1, count, float64(i+1)/float64(count)*100)
		}
	}
	fmt.Fprintln(out)
	printHandshakeResults(out, count, failed, time.Since(start), durations)
}

func printHandshakeResults(out io.Writer, total, failed int, totalTime time.Duration, durations []time.Duration) {
	fmt.Fprintln(out, "\nResults:")
	fmt.Fprintf(out, "  Total handshakes: %d\n", total)
	fmt.Fprintf(out, "  Successful: %d\n", len(durations))
	fmt.Fprintf(out, "  Failed: %d\n", failed)
	fmt.Fprintf(out, "  Total time: %v\n", totalTime)
	if len(durations) == 0 {
		return
	}

	sum, lo, hi := summarize(durations)
	avg := sum / time.Duration(len(durations))
	fmt.Fprintln(out, "\nHandshake Performance:")
	fmt.Fprintf(out, "  Average: %v\n", avg)
	fmt.Fprintf(out, "  Minimum: %v\n", lo)
	fmt.Fprintf(out, "  Maximum: %v\n", hi)
	fmt.Fprintf(out, "  Throughput: %.2f handshakes/sec\n", float64(len(durations))/totalTime.Seconds())
}

func summarize(durations []time.Duration) (sum, lo, hi time.Duration) {
	lo = durations[0]
	for _, d := range durations {
		sum += d
		lo = min(lo, d)
		hi = max(hi, d)
	}
	return sum, lo, hi
}

func benchEchoes(ctx context.Context, out io.Writer, addr string, cfg tunnel.Config, count, size int) error {
	client, err := tunnel.Dial(ctx, "tcp", addr, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	payload := strings.Repeat("x", size)
	start := time.Now()
	for i := 0; i < count; i++ {
		if _, err := client.Echo(ctx, payload); err != nil {
			return fmt.Errorf("echo %d: %w", i, err)
		}
	}
	elapsed := time.Since(start)

	fmt.Fprintln(out, "\nRecord Round Trips:")
	fmt.Fprintf(out, "  Cipher suite: %s\n", client.Result().CipherSuite)
	fmt.Fprintf(out, "  Round trips: %d x %d bytes\n", count, size)
	fmt.Fprintf(out, "  Average: %v\n", elapsed/time.Duration(count))
	fmt.Fprintf(out, "  Throughput: %.2f MB/s\n", float64(2*count*size)/elapsed.Seconds()/1024/1024)
	return nil
}
