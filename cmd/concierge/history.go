package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yejikwon7/multi-agent/internal/config"
	"github.com/yejikwon7/multi-agent/internal/domain"
)

func historyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored trip history, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(runHistory(cmd.OutOrStdout(), asJSON))
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the history document as JSON")
	return cmd
}

func runHistory(out io.Writer, asJSON bool) int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	ctx := context.Background()
	store, db, err := openHistory(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open history: %v\n", err)
		return exitRuntimeError
	}
	if db != nil {
		defer db.Close()
	}

	entries, err := store.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load history: %v\n", err)
		return exitRuntimeError
	}

	if asJSON {
		if err := writeHistoryJSON(out, entries); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode history: %v\n", err)
			return exitRuntimeError
		}
		return exitSuccess
	}
	printHistory(out, entries)
	return exitSuccess
}

func writeHistoryJSON(w io.Writer, entries []domain.TripHistoryEntry) error {
	if entries == nil {
		entries = []domain.TripHistoryEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"trip_history": entries})
}

func printHistory(w io.Writer, entries []domain.TripHistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no trips recorded")
		return
	}

	faint := color.New(color.Faint)
	for i, e := range entries {
		dest, _ := e.Trip["destination"].(string)
		date, _ := e.Trip["departure_date"].(string)
		fmt.Fprintf(w, "%2d. %s  %s %s  from %s\n",
			i+1,
			faint.Sprint(e.CreatedAt.Format(time.RFC3339)),
			orDash(dest), orDash(date), orDash(e.HomeAddress))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
