package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/quipu"
	"github.com/aretw0/quipu/pkg/adapters/api"
	"github.com/aretw0/quipu/pkg/metrics"
)

var (
	serveAddr     string
	serveSchemas  string
	serveReadOnly bool
	serveMetrics  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Serve exposes collections, the document protocol, event streams and the
vector index over HTTP until interrupted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("addr") {
			cfg.Addr = serveAddr
		}
		if cmd.Flags().Changed("schemas") {
			cfg.Schemas.Dir = serveSchemas
		}
		if cmd.Flags().Changed("read-only") {
			cfg.ReadOnly = serveReadOnly
		}

		opts, err := cfg.Options()
		if err != nil {
			fatal("Invalid configuration", err)
		}
		opts = append(opts, quipu.WithLogger(slog.Default()))

		var apiOpts []api.Option
		if serveMetrics {
			prom := metrics.NewPrometheus()
			opts = append(opts, quipu.WithMetrics(prom))
			apiOpts = append(apiOpts, api.WithMetricsHandler(prom.Handler()))
		}

		node, err := quipu.New(ctx, cfg.DataDir, opts...)
		if err != nil {
			fatal("Error opening node", err)
		}
		defer node.Close()

		apiOpts = append(apiOpts,
			api.WithLogger(slog.Default()),
			api.WithComponent("node", node),
		)
		if node.Vectors != nil {
			apiOpts = append(apiOpts, api.WithComponent("vectors", node.Vectors))
		}
		srv := api.New(node.Engine, apiOpts...)

		if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
			fatal("Server error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", quipu.DefaultAddr, "Listen address")
	serveCmd.Flags().StringVar(&serveSchemas, "schemas", "", "Directory of collection schemas to load and watch")
	serveCmd.Flags().BoolVar(&serveReadOnly, "read-only", false, "Reject every mutation")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "Serve Prometheus metrics at /metrics")
}
