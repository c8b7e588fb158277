package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/hybrid-kex/internal/config"
	"github.com/sara-star-quant/hybrid-kex/pkg/metrics"
)

// app is the state shared by every subcommand once the root command has
// loaded the configuration.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger *metrics.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "hybrid-kex",
		Short:         "Hybrid classical and post-quantum key exchange",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file to load (default .env when present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error, silent)")

	root.AddCommand(
		serveCmd(a),
		connectCmd(a),
		demoCmd(a),
		benchCmd(a),
		algorithmsCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) load() error {
	var envFiles []string
	if a.envFile != "" {
		envFiles = append(envFiles, a.envFile)
	}
	cfg, err := config.Load(a.configPath, envFiles...)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	a.logger = metrics.NewLogger(
		metrics.WithOutput(os.Stderr),
		metrics.WithLevel(metrics.ParseLevel(cfg.Log.Level)),
		metrics.WithFormat(metrics.ParseFormat(cfg.Log.Format)),
		metrics.WithName("hybrid-kex"),
	)
	metrics.SetLogger(a.logger)
	return nil
}

// observer builds the handshake observer for a command. Tracing goes to
// the global OpenTelemetry provider when enabled.
func (a *app) observer(collector *metrics.Collector) *metrics.HandshakeObserver {
	var tracer metrics.Tracer = metrics.NoOpTracer{}
	if a.cfg.Metrics.Tracing {
		tracer = metrics.NewOTelTracer(metrics.DefaultServiceName)
	}
	return metrics.NewHandshakeObserver(metrics.ObserverConfig{
		Collector: collector,
		Tracer:    tracer,
		Logger:    a.logger,
	})
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// configuration is not needed to print the version
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hybrid-kex version %s\n", getVersion())
			if buildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", buildTime)
			}
			if gitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			}
		},
	}
}
