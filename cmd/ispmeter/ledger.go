package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/goodtune/ispmeter/internal/config"
	"github.com/goodtune/ispmeter/internal/usage"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var ledgerAll bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List usage ledger records",
	Long: `List every subscriber's usage for the current billing month. With --all,
records from earlier months are shown with their raw session state.`,
	RunE: runLedger,
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerAll, "all", false, "Include records from earlier periods and raw session counters")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)

	if !ledgerAll {
		engine := usage.NewEngine(nil, store.Ledger(), usage.Config{Location: cfg.Accounting.Location()}, logger)
		usages, err := engine.ListMonthlyUsage(ctx)
		if err != nil {
			return err
		}

		tw.AppendHeader(table.Row{"subscriber", "period", "rx", "tx", "total"})
		for _, u := range usages {
			tw.AppendRow(table.Row{u.SubscriberID, u.Period, humanize.IBytes(u.Rx), humanize.IBytes(u.Tx), humanize.IBytes(u.Total())})
		}
		tw.AppendFooter(table.Row{"", "", "", "subscribers", len(usages)})
		tw.Render()
		return nil
	}

	records, err := store.Ledger().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ledger: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SubscriberID < records[j].SubscriberID })

	tw.AppendHeader(table.Row{"subscriber", "period", "accumulated rx", "accumulated tx", "session", "session rx", "session tx", "updated"})
	for _, r := range records {
		session, rx, tx := "-", "-", "-"
		if r.Current != nil {
			session = r.Current.SessionID
			rx = fmt.Sprintf("%d", r.Current.Rx)
			tx = fmt.Sprintf("%d", r.Current.Tx)
		}
		tw.AppendRow(table.Row{
			r.SubscriberID,
			r.Period,
			r.AccumulatedRx,
			r.AccumulatedTx,
			session,
			rx,
			tx,
			humanize.Time(r.UpdatedAt),
		})
	}
	tw.Render()
	return nil
}
