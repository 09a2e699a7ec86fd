package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/store"
)

func doStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	configPath, err := findConfig()
	if err != nil {
		return err
	}
	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	rows, err := loadStatus(ctx, config)
	if err != nil {
		return err
	}
	return printStatus(os.Stdout, rows)
}

// loadStatus lists the snapshots of the packet from the state database
// selected the same way rem run does.
func loadStatus(ctx context.Context, config *model.Config) ([]store.SnapshotRow, error) {
	settings, err := opts.Resolve(config.Service)
	if err != nil {
		return nil, err
	}
	if settings.State == "" {
		return nil, errors.New("no state database: use --state, REM_STATE or service.state")
	}

	db, err := store.InitDB(ctx, settings.State)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()
	return store.List(ctx, db, config.Packet.Name)
}

func printStatus(w io.Writer, rows []store.SnapshotRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tTRIES\tWORKING TIME\tUPDATED\tRESULT")
	for _, row := range rows {
		snap := row.Snapshot
		result := "-"
		if n := len(snap.Results); n > 0 {
			result = snap.Results[n-1].String()
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%s\t%s\t%s\n",
			snap.ID,
			snap.Tries,
			snap.MaxTryCount,
			snap.WorkingTime,
			row.Updated.Format("2006-01-02 15:04:05"),
			firstLine(result),
		)
	}
	return tw.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
