package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/doughall/backup-runner/internal/history"
	"github.com/doughall/backup-runner/internal/runlog"
)

// printHistory renders the newest limit runs as a table, newest first.
func printHistory(w io.Writer, store *history.Store, limit int) error {
	records, err := store.Recent(limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	total, err := store.Count()
	if err != nil {
		return fmt.Errorf("count history: %w", err)
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Started", "Kind", "Exit", "Duration", "Message")
	for _, rec := range records {
		table.Append(
			strconv.FormatUint(rec.ID, 10),
			rec.StartedAt.Format(runlog.TimestampLayout),
			rec.Kind,
			strconv.Itoa(rec.ExitStatus),
			rec.Duration.Round(time.Second).String(),
			rec.Message,
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nShowing %d of %d recorded runs\n", len(records), total)
	return nil
}
