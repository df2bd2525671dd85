package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ocr/internal/export"
	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/store"
)

var (
	exportOut    string
	exportStatus string
	exportVenue  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export records to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Snapshot the filtered set, then write; identical data yields an
		// identical file.
		summaries, err := st.ListRecords(ctx, store.RecordFilter{
			Status: model.Status(exportStatus),
			Venue:  exportVenue,
			Limit:  50000,
		})
		if err != nil {
			return eris.Wrap(err, "export query")
		}

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", exportOut)
		}
		defer f.Close() //nolint:errcheck

		switch {
		case strings.HasSuffix(exportOut, ".xlsx"):
			err = export.WriteXLSX(f, summaries)
		default:
			err = export.WriteCSV(f, summaries)
		}
		if err != nil {
			return eris.Wrap(err, "write export")
		}

		zap.L().Info("export complete",
			zap.String("file", exportOut),
			zap.Int("records", len(summaries)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "records.csv", "output file; .xlsx extension switches format")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "filter by status")
	exportCmd.Flags().StringVar(&exportVenue, "venue", "", "filter by auction venue")
	rootCmd.AddCommand(exportCmd)
}
