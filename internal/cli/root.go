// Package cli provides receiptctl, the operator command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/receipt-processor/config"
	"github.com/feichai0017/receipt-processor/internal/bootstrap"
	"github.com/feichai0017/receipt-processor/internal/service/receipt"
	"github.com/feichai0017/receipt-processor/pkg/storage"
)

// app is what the subcommands run against.
type app struct {
	coordinator *receipt.Coordinator
	relay       *receipt.Relay
	storage     storage.Storage
	migrate     func(ctx context.Context) error
	folder      string
	retention   time.Duration
	close       func()
}

var (
	verbose bool

	// set by PersistentPreRunE, or by tests beforehand
	current *app
)

var rootCmd = &cobra.Command{
	Use:   "receiptctl",
	Short: "Operate the receipt pipeline",
	Long: `receiptctl talks to the same postgres, redis and object storage as the
server and workers. Configuration comes from .env, CONFIG_FILE and the
environment, exactly as for the other binaries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || current != nil {
			return nil
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil && current.close != nil {
			current.close()
		}
	},
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	cfg.Log.Level, cfg.Log.Encoding = level, "console"
	log, err := bootstrap.NewLogger(cfg.Log, "cli")
	if err != nil {
		return nil, err
	}

	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	dispatcher := infra.Dispatcher()
	return &app{
		coordinator: infra.Coordinator(dispatcher),
		relay:       infra.Relay(dispatcher),
		storage:     infra.Storage,
		migrate:     infra.Migrate,
		folder:      cfg.Storage.Folder,
		retention:   cfg.Storage.Retention,
		close: func() {
			infra.Close()
			_ = log.Sync()
		},
	}, nil
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
