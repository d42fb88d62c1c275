package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/welldanyogia/evidence-ingest/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "evidence-ingest",
		Short:         "Ingest mailbox archives into normalized, threaded evidence records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file to load before reading configuration")

	rootCmd.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newRethreadCmd(),
		newScanCmd(),
		newDictionaryCmd(),
	)
	return rootCmd
}
