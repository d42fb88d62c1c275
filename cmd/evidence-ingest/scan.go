package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/welldanyogia/evidence-ingest/internal/archive"
	"github.com/welldanyogia/evidence-ingest/internal/ingest"
	"github.com/welldanyogia/evidence-ingest/internal/logger"
)

func newScanCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "scan <archive>",
		Short: "Count messages per folder without ingesting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(os.Stderr, logLevel, false)
			return scan(cmd.Context(), cmd.OutOrStdout(), args[0], archive.Options{
				MaxMessageSize: ingest.DefaultMaxMessageSize,
				Logger:         log,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	return cmd
}

func scan(ctx context.Context, out io.Writer, path string, opts archive.Options) error {
	reader, err := archive.Open(path, opts)
	if err != nil {
		return err
	}
	defer reader.Close()

	folders, err := reader.Folders(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FOLDER\tMESSAGES\tSTATUS")
	for _, f := range folders {
		status := "ok"
		if f.Err != nil {
			status = f.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", f.Path, f.MessageCount, status)
	}
	messages, failed := archive.Summary(folders)
	fmt.Fprintf(w, "TOTAL\t%d\t%d folder(s) unreadable\n", messages, failed)
	return w.Flush()
}
