package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/goodtune/ispmeter/internal/config"
	"github.com/goodtune/ispmeter/internal/usage"
	"github.com/spf13/cobra"
)

var pollJSON bool

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single accounting cycle",
	Long: `Take one counter snapshot from the configured device, fold it into the
usage ledger and exit. Useful from cron or for checking device access.`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().BoolVar(&pollJSON, "json", false, "Print the cycle result as JSON")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
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

	engine, err := newEngine(cfg, store, logger)
	if err != nil {
		return err
	}

	result, err := engine.RunCycle(context.Background())
	if err != nil {
		return err
	}

	if pollJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printCycleResult(result)
	return nil
}

func printCycleResult(result *usage.CycleResult) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)

	_, _ = green.Fprintf(os.Stdout, "✅ Accounting cycle complete for %s in %s\n", result.Period, result.Duration)
	fmt.Fprintf(os.Stdout, "   sessions: %d\n", result.Sessions)
	fmt.Fprintf(os.Stdout, "   updated:  %d\n", result.Updated)
	if result.Skipped > 0 {
		_, _ = yellow.Fprintf(os.Stdout, "   skipped:  %d\n", result.Skipped)
	} else {
		fmt.Fprintf(os.Stdout, "   skipped:  %d\n", result.Skipped)
	}

	transitions := make([]string, 0, len(result.Transitions))
	for t := range result.Transitions {
		transitions = append(transitions, string(t))
	}
	sort.Strings(transitions)
	for _, t := range transitions {
		fmt.Fprintf(os.Stdout, "   %-16s %d\n", t+":", result.Transitions[usage.Transition(t)])
	}
}
