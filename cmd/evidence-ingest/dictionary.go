package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/repository"
	"github.com/welldanyogia/evidence-ingest/internal/tagging"
)

func newDictionaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dictionary",
		Short: "Manage stakeholder and keyword dictionaries",
	}

	var scopeType string
	var scopeID uint
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load a YAML or JSON dictionary file into a case or project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dict, err := tagging.LoadDictionaryFile(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(os.Stderr, false)
			if err != nil {
				return err
			}
			defer a.Close()

			return importDictionary(cmd.Context(), cmd.OutOrStdout(), a.dictionary, dict, models.ScopeType(scopeType), scopeID, a.logger)
		},
	}
	importCmd.Flags().StringVar(&scopeType, "scope-type", string(models.ScopeCase), "scope to import into (case or project)")
	importCmd.Flags().UintVar(&scopeID, "scope-id", 0, "id of the case or project")
	_ = importCmd.MarkFlagRequired("scope-id")

	cmd.AddCommand(importCmd)
	return cmd
}

// importDictionary stores every entry under the scope. Entries whose id
// already exists are skipped.
func importDictionary(ctx context.Context, out io.Writer, repo repository.DictionaryRepository, dict *tagging.Dictionary, scopeType models.ScopeType, scopeID uint, log *slog.Logger) error {
	if !scopeType.Valid() || scopeID == 0 {
		return fmt.Errorf("scope-type must be case or project and scope-id must be set")
	}

	var created, skipped int
	for i := range dict.Stakeholders {
		s := dict.Stakeholders[i]
		s.ScopeType, s.ScopeID = scopeType, scopeID
		switch err := repo.CreateStakeholder(ctx, &s); {
		case errors.Is(err, repository.ErrDuplicateEntry):
			log.Warn("stakeholder already exists", slog.Uint64("id", uint64(s.ID)))
			skipped++
		case err != nil:
			return err
		default:
			created++
		}
	}
	for i := range dict.Keywords {
		k := dict.Keywords[i]
		k.ScopeType, k.ScopeID = scopeType, scopeID
		switch err := repo.CreateKeyword(ctx, &k); {
		case errors.Is(err, repository.ErrDuplicateEntry):
			log.Warn("keyword already exists", slog.Uint64("id", uint64(k.ID)))
			skipped++
		case err != nil:
			return err
		default:
			created++
		}
	}

	fmt.Fprintf(out, "imported %d entries into %s %d (%d skipped)\n", created, scopeType, scopeID, skipped)
	return nil
}
