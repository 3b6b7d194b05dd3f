package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aretw0/quipu"
)

var (
	verbose    bool
	configPath string
	dataDir    string
	adapter    string

	cfg quipu.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quipu",
	Short: "A schema-governed document store with live events and vector search",
	Long: `Quipu keeps JSON documents in collections validated by JSON Schema.
Every mutation is broadcast to live subscribers, and a vector index answers
similarity queries over stored texts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = quipu.ConfigFile
			if root, err := quipu.FindRoot("."); err == nil {
				path = filepath.Join(root, quipu.ConfigFile)
			}
		}

		var err error
		cfg, err = quipu.LoadConfig(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("data-dir") || cfg.DataDir == "" {
			cfg.DataDir = dataDir
		}
		if cmd.Flags().Changed("adapter") || cfg.Adapter == "" {
			cfg.Adapter = adapter
		}

		slog.SetDefault(cfg.NewLogger(os.Stderr, verbose))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openNode opens the configured node for a one-shot command. The schema
// directory is imported but not watched.
func openNode(ctx context.Context, extra ...quipu.Option) (*quipu.Node, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		quipu.WithLogger(slog.Default()),
		quipu.WithSchemaWatch(false),
	)
	return quipu.New(ctx, cfg.DataDir, append(opts, extra...)...)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to quipu.yaml (default: searched upwards)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "./data", "Data directory")
	rootCmd.PersistentFlags().StringVar(&adapter, "adapter", quipu.AdapterBolt, "Storage adapter (bolt or memory)")
}
