package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/welldanyogia/evidence-ingest/internal/index"
	"github.com/welldanyogia/evidence-ingest/internal/ingest"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/tagging"
)

type ingestFlags struct {
	scopeType  string
	scopeID    uint
	dictionary string
	indexOut   string
}

func newIngestCmd() *cobra.Command {
	var f ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest <archive>",
		Short: "Ingest one archive synchronously and print the job result",
		Long: `Ingest one archive synchronously and print the job result as JSON.

The archive is a local path or blob://<key>. Tags come from the scope's
dictionary in the database unless --dictionary names a YAML or JSON file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIngest(ctx, cmd.OutOrStdout(), args[0], f)
		},
	}

	cmd.Flags().StringVar(&f.scopeType, "scope-type", string(models.ScopeCase), "scope the records belong to (case or project)")
	cmd.Flags().UintVar(&f.scopeID, "scope-id", 0, "id of the case or project")
	cmd.Flags().StringVar(&f.dictionary, "dictionary", "", "tag dictionary file (YAML or JSON)")
	cmd.Flags().StringVar(&f.indexOut, "index-out", "", "write one search document per record to this JSON lines file")
	_ = cmd.MarkFlagRequired("scope-id")
	return cmd
}

func runIngest(ctx context.Context, out io.Writer, source string, f ingestFlags) error {
	a, err := newApp(os.Stderr, false)
	if err != nil {
		return err
	}
	defer a.Close()

	svcCfg := a.serviceConfig()
	if f.dictionary != "" {
		dict, err := tagging.LoadDictionaryFile(f.dictionary)
		if err != nil {
			return err
		}
		svcCfg.Dictionaries = tagging.NewFileSource(dict)
	}
	if f.indexOut != "" {
		file, err := os.Create(f.indexOut)
		if err != nil {
			return fmt.Errorf("failed to create index file: %w", err)
		}
		defer file.Close()
		svcCfg.Indexer = index.NewJSONLines(file)
	}

	service := ingest.NewService(svcCfg)
	job, err := service.Submit(ctx, ingest.StartRequest{
		Source:    source,
		ScopeType: models.ScopeType(f.scopeType),
		ScopeID:   f.scopeID,
	})
	if err != nil {
		return err
	}

	result, err := service.RunJob(ctx, job)
	if result != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return err
	}
	if result.Status != models.JobStatusCompleted {
		return fmt.Errorf("job %d ended %s (%s)", result.JobID, result.Status, result.FailureReason)
	}
	return nil
}
