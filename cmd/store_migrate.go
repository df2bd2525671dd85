package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/store"
)

var storeMigrateURL string

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store maintenance commands",
}

// storeMigrateCmd copies every record and source image from the configured
// store into a Postgres database, typically when graduating a sqlite
// deployment onto shared infrastructure.
var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy all records into a Postgres store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		src, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		dst, err := store.NewPostgres(ctx, storeMigrateURL, nil)
		if err != nil {
			return eris.Wrap(err, "open target store")
		}
		defer dst.Close() //nolint:errcheck
		if err := dst.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate target schema")
		}

		const page = 500
		var copied, sources int
		seenSources := make(map[string]struct{})

		for offset := 0; ; offset += page {
			summaries, err := src.ListRecords(ctx, store.RecordFilter{Limit: page, Offset: offset})
			if err != nil {
				return eris.Wrap(err, "list source records")
			}
			if len(summaries) == 0 {
				break
			}

			batch := make([]model.Record, 0, len(summaries))
			for _, sm := range summaries {
				rec, err := src.GetRecord(ctx, sm.ID)
				if err != nil {
					return eris.Wrapf(err, "read record %s", sm.ID)
				}
				batch = append(batch, *rec)

				if _, ok := seenSources[rec.SourceHash]; ok {
					continue
				}
				seenSources[rec.SourceHash] = struct{}{}
				data, err := src.GetSource(ctx, rec.SourceHash)
				if err != nil {
					if eris.Is(err, store.ErrNotFound) {
						continue
					}
					return eris.Wrapf(err, "read source %s", rec.SourceHash)
				}
				if err := dst.SaveSource(ctx, rec.SourceHash, data); err != nil {
					return eris.Wrapf(err, "copy source %s", rec.SourceHash)
				}
				sources++
			}

			n, err := dst.BulkImport(ctx, batch)
			if err != nil {
				return eris.Wrap(err, "bulk import records")
			}
			copied += int(n)
		}

		zap.L().Info("store migration complete",
			zap.Int("records", copied),
			zap.Int("sources", sources),
		)
		return nil
	},
}

func init() {
	storeMigrateCmd.Flags().StringVar(&storeMigrateURL, "url", "", "target Postgres connection string (required)")
	_ = storeMigrateCmd.MarkFlagRequired("url")

	storeCmd.AddCommand(storeMigrateCmd)
	rootCmd.AddCommand(storeCmd)
}
