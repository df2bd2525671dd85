package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ocr/internal/pipeline"
)

var (
	ingestVenue       string
	ingestConcurrency int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <image>...",
	Short: "Extract auction sheet images from local files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs := make([]pipeline.Job, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read %s", path)
			}
			jobs = append(jobs, pipeline.Job{
				Name:      filepath.Base(path),
				Data:      data,
				VenueHint: ingestVenue,
			})
		}

		limit := ingestConcurrency
		if limit == 0 {
			limit = cfg.Ingest.MaxConcurrent
		}

		result, err := pipeline.NewRunner(env.Pipeline, limit).RunBatch(ctx, jobs)
		if err != nil {
			return eris.Wrap(err, "run batch")
		}

		zap.L().Info("ingest complete",
			zap.Int("processed", result.Processed),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("failed", result.Failed),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestVenue, "venue", "", "venue hint for template matching (e.g. USS)")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 0, "parallel extractions (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
