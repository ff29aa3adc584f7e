package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goodtune/ispmeter/internal/config"
	"github.com/goodtune/ispmeter/internal/usage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var usageJSON bool

var usageCmd = &cobra.Command{
	Use:   "usage SUBSCRIBER",
	Short: "Show a subscriber's usage for the current month",
	Long: `Show a subscriber's received and transmitted bytes for the current
billing month, read directly from the usage ledger. Unknown subscribers
report zero.

With bolt storage the ledger file is locked by a running server; query
the server's /api/usage endpoint instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Print usage as JSON")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	subscriber := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	// Queries never touch the device, so no snapshot source is opened.
	engine := usage.NewEngine(nil, store.Ledger(), usage.Config{
		Location: cfg.Accounting.Location(),
	}, zerolog.Nop())

	u, err := engine.MonthlyUsage(context.Background(), subscriber)
	if err != nil {
		return err
	}
	period := engine.CurrentPeriod()

	if usageJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(usage.SubscriberUsage{SubscriberID: subscriber, Period: period, Usage: u})
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintf(os.Stdout, "%s (%s)\n", subscriber, period)
	fmt.Fprintf(os.Stdout, "  rx:    %s (%d bytes)\n", humanize.IBytes(u.Rx), u.Rx)
	fmt.Fprintf(os.Stdout, "  tx:    %s (%d bytes)\n", humanize.IBytes(u.Tx), u.Tx)
	fmt.Fprintf(os.Stdout, "  total: %s (%d bytes)\n", humanize.IBytes(u.Total()), u.Total())
	return nil
}
