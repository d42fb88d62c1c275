package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/welldanyogia/evidence-ingest/internal/ingest"
)

func newRethreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rethread <job-id>",
		Short: "Recompute thread roots for the records of a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			a, err := newApp(os.Stderr, false)
			if err != nil {
				return err
			}
			defer a.Close()

			threads, err := ingest.NewService(a.serviceConfig()).Rethread(cmd.Context(), uint(id))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %d: %d threads\n", id, threads)
			return nil
		},
	}
}
