package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ocr/internal/fetcher"
)

var fetchVenue string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Sweep the FTP drop directory and ingest every sheet image",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.FTP.URL == "" {
			return eris.New("ftp url is required (AUCTIONOCR_FTP_URL)")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		src, err := fetcher.NewFTPSource(cfg.FTP)
		if err != nil {
			return err
		}

		processed, err := src.Sweep(ctx, func(ctx context.Context, name string, data []byte) error {
			rec, created, err := env.Pipeline.Ingest(ctx, data, fetchVenue)
			if err != nil && rec == nil {
				return err
			}
			if !created {
				zap.L().Info("fetch: duplicate sheet",
					zap.String("name", name), zap.String("record", rec.ID))
			}
			// A failed extraction is still consumed; the record carries the
			// failure and retrying the same bytes would only dedupe.
			return nil
		})
		if err != nil {
			return eris.Wrap(err, "ftp sweep")
		}

		zap.L().Info("fetch complete", zap.Int("processed", processed))
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchVenue, "venue", "", "venue hint for template matching")
	rootCmd.AddCommand(fetchCmd)
}
