package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"probity/config"
	"probity/core/events"
	"probity/native/fixedpoint"
	"probity/native/shutdown"
	"probity/scenario"
	"probity/services/shutdownd/server"
	"probity/storage"
	"probity/storage/journal"
)

const (
	simulateCommand = "simulate"
	inspectCommand  = "inspect"
	journalCommand  = "journal"
	exportCommand   = "export"
	defaultConfig   = "./probity.toml"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		usage(out)
		return fmt.Errorf("command required")
	}
	switch args[0] {
	case simulateCommand:
		return runSimulate(args[1:], out)
	case inspectCommand:
		return runInspect(args[1:], out)
	case journalCommand:
		return runJournal(args[1:], out)
	case exportCommand:
		return runExport(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "Usage: shutdownctl <command> [flags]")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  simulate -file scenario.yaml   replay a settlement scenario")
	fmt.Fprintln(out, "  inspect  -config probity.toml  print the stored coordinator checkpoint")
	fmt.Fprintln(out, "  journal  -dsn <dsn>            list journaled settlement events")
	fmt.Fprintln(out, "  export   -dsn <dsn> -out f     export the journal to parquet")
}

func runSimulate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(simulateCommand, flag.ContinueOnError)
	fs.SetOutput(out)
	path := fs.String("file", "", "Path to the scenario file")
	asJSON := fs.Bool("json", false, "Print the final state as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-file is required")
	}
	file, err := scenario.Load(*path)
	if err != nil {
		return err
	}
	rec := &events.Recorder{}
	runner, err := scenario.NewRunner(file, scenario.Options{Emitter: rec})
	if err != nil {
		return err
	}
	results, runErr := runner.Run(context.Background())
	if !*asJSON {
		for _, result := range results {
			status := "ok"
			if result.Err != nil {
				status = "rejected: " + result.Err.Error()
			}
			fmt.Fprintf(out, "%3d %-28s %s %s\n", result.Index, result.Op, short(result.Caller), status)
		}
	}
	if runErr != nil {
		return runErr
	}
	engine := runner.World().Engine
	summary := summarize(engine.State(), engine.Sequence())
	summary.Events = len(rec.Events())
	return printSummary(out, summary, *asJSON)
}

func runInspect(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(inspectCommand, flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", defaultConfig, "Path to the probity config file")
	asJSON := fs.Bool("json", false, "Print the state as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	sequence, payload, err := storage.ReadCheckpoint(db, server.CheckpointName)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	state, err := shutdown.DecodeState(payload)
	if err != nil {
		return err
	}
	return printSummary(out, summarize(state, sequence), *asJSON)
}

func runJournal(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(journalCommand, flag.ContinueOnError)
	fs.SetOutput(out)
	dsn := fs.String("dsn", "", "Journal database DSN")
	filter := journalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	entries, err := listJournal(*dsn, filter())
	if err != nil {
		return err
	}
	for _, entry := range entries {
		attrs, err := entry.Decode()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(attrs))
		for key := range attrs {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, key+"="+attrs[key])
		}
		fmt.Fprintf(out, "%d %s %s %s\n", entry.Sequence, entry.OccurredAt.UTC().Format(time.RFC3339), entry.Type, strings.Join(pairs, " "))
	}
	return nil
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	fs.SetOutput(out)
	dsn := fs.String("dsn", "", "Journal database DSN")
	target := fs.String("out", "", "Output parquet file")
	filter := journalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" {
		return fmt.Errorf("-out is required")
	}
	entries, err := listJournal(*dsn, filter())
	if err != nil {
		return err
	}
	if err := journal.ExportParquet(*target, entries); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d entries to %s\n", len(entries), *target)
	return nil
}

func journalFlags(fs *flag.FlagSet) func() journal.Filter {
	eventType := fs.String("type", "", "Only include events of this type")
	holder := fs.String("holder", "", "Only include events for this holder address")
	limit := fs.Int("limit", 0, "Maximum number of entries")
	return func() journal.Filter {
		filter := journal.Filter{Type: strings.TrimSpace(*eventType), Limit: *limit}
		if h := strings.TrimSpace(*holder); h != "" {
			filter.Holder = common.HexToAddress(h).Hex()
		}
		return filter
	}
}

func listJournal(dsn string, filter journal.Filter) ([]journal.Entry, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("-dsn is required")
	}
	db, err := journal.Open(dsn)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	j, err := journal.New(db, nil)
	if err != nil {
		return nil, err
	}
	return j.List(context.Background(), filter)
}

type assetSummary struct {
	FinalPrice      string `json:"finalPrice"`
	Gap             string `json:"gap"`
	RedemptionRatio string `json:"redemptionRatio,omitempty"`
}

type stateSummary struct {
	Sequence                uint64                  `json:"sequence"`
	Initiated               bool                    `json:"initiated"`
	FinalUtilizationRatio   string                  `json:"finalUtilizationRatio"`
	UnbackedDebt            string                  `json:"unbackedDebt"`
	FinalDebtBalance        string                  `json:"finalDebtBalance,omitempty"`
	InvestorObligationRatio string                  `json:"investorObligationRatio"`
	FinalTotalReserve       string                  `json:"finalTotalReserve,omitempty"`
	Assets                  map[string]assetSummary `json:"assets"`
	Events                  int                     `json:"events,omitempty"`
}

func summarize(state *shutdown.State, sequence uint64) stateSummary {
	summary := stateSummary{
		Sequence:                sequence,
		Initiated:               state.Initiated,
		FinalUtilizationRatio:   fixedpoint.Format(state.FinalUtilizationRatio, fixedpoint.UnitRay),
		UnbackedDebt:            fixedpoint.Format(state.UnbackedDebt, fixedpoint.UnitRad),
		InvestorObligationRatio: fixedpoint.Format(state.InvestorObligationRatio, fixedpoint.UnitRay),
		Assets:                  make(map[string]assetSummary, len(state.Assets)),
	}
	if state.FinalDebtBalanceSet {
		summary.FinalDebtBalance = fixedpoint.Format(state.FinalDebtBalance, fixedpoint.UnitRad)
	}
	if state.FinalTotalReserveSet {
		summary.FinalTotalReserve = fixedpoint.Format(state.FinalTotalReserve, fixedpoint.UnitRad)
	}
	for id, record := range state.Assets {
		asset := assetSummary{
			FinalPrice: fixedpoint.Format(record.FinalPrice, fixedpoint.UnitRay),
			Gap:        fixedpoint.Format(record.Gap, fixedpoint.UnitWad),
		}
		if record.RedemptionRatioSet {
			asset.RedemptionRatio = fixedpoint.Format(record.RedemptionRatio, fixedpoint.UnitRay)
		}
		summary.Assets[id.String()] = asset
	}
	return summary
}

func printSummary(out io.Writer, summary stateSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	fmt.Fprintf(out, "sequence:                  %d\n", summary.Sequence)
	fmt.Fprintf(out, "initiated:                 %t\n", summary.Initiated)
	fmt.Fprintf(out, "final utilization ratio:   %s\n", summary.FinalUtilizationRatio)
	fmt.Fprintf(out, "unbacked debt:             %s\n", summary.UnbackedDebt)
	if summary.FinalDebtBalance != "" {
		fmt.Fprintf(out, "final debt balance:        %s\n", summary.FinalDebtBalance)
	}
	fmt.Fprintf(out, "investor obligation ratio: %s\n", summary.InvestorObligationRatio)
	if summary.FinalTotalReserve != "" {
		fmt.Fprintf(out, "final total reserve:       %s\n", summary.FinalTotalReserve)
	}
	names := make([]string, 0, len(summary.Assets))
	for name := range summary.Assets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		asset := summary.Assets[name]
		fmt.Fprintf(out, "asset %s: price=%s gap=%s", name, asset.FinalPrice, asset.Gap)
		if asset.RedemptionRatio != "" {
			fmt.Fprintf(out, " redemption=%s", asset.RedemptionRatio)
		}
		fmt.Fprintln(out)
	}
	if summary.Events > 0 {
		fmt.Fprintf(out, "events:                    %d\n", summary.Events)
	}
	return nil
}

func short(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + ".." + hex[len(hex)-4:]
}
