package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human review queue",
}

// -- review queue --

var reviewQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List records waiting for review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		summaries, err := st.ListRecords(ctx, store.RecordFilter{
			Status: model.StatusNeedsReview,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "review queue")
		}

		if len(summaries) == 0 {
			fmt.Fprintln(os.Stderr, "Review queue is empty.")
			return nil
		}

		formatRecordsList(os.Stdout, summaries)
		return nil
	},
}

// -- review verify --

var reviewActor string

var reviewVerifyCmd = &cobra.Command{
	Use:   "verify <record-id>",
	Short: "Mark a reviewed record verified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		id := args[0]
		if err := st.Transition(ctx, id,
			model.StatusNeedsReview, model.StatusVerified, reviewActor); err != nil {
			return eris.Wrap(err, "review verify")
		}

		zap.L().Info("record verified",
			zap.String("record", id),
			zap.String("actor", reviewActor),
		)
		return nil
	},
}

// -- review override --

var (
	overrideField  string
	overrideValue  string
	overrideReason string
	overrideActor  string
)

var reviewOverrideCmd = &cobra.Command{
	Use:   "override <record-id>",
	Short: "Correct one reconciled field on a record under review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if !model.KnownField(overrideField) {
			return eris.Errorf("review override: unknown field %q", overrideField)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		id := args[0]
		rec, err := st.OverrideField(ctx, id, overrideField, overrideValue, overrideReason, overrideActor)
		if err != nil {
			return eris.Wrap(err, "review override")
		}

		zap.L().Info("field overridden",
			zap.String("record", id),
			zap.String("field", overrideField),
			zap.String("value", rec.Reconciled[overrideField].Value),
			zap.String("actor", overrideActor),
		)
		return nil
	},
}

func init() {
	reviewQueueCmd.Flags().Int("limit", 50, "max number of records to display")

	reviewVerifyCmd.Flags().StringVar(&reviewActor, "actor", "", "reviewer name recorded in the status history (required)")
	_ = reviewVerifyCmd.MarkFlagRequired("actor")

	reviewOverrideCmd.Flags().StringVar(&overrideField, "field", "", "field key to correct, e.g. chassis_no (required)")
	reviewOverrideCmd.Flags().StringVar(&overrideValue, "value", "", "corrected value (required)")
	reviewOverrideCmd.Flags().StringVar(&overrideReason, "reason", "", "why the extracted value was wrong")
	reviewOverrideCmd.Flags().StringVar(&overrideActor, "actor", "", "reviewer name recorded in the audit trail (required)")
	_ = reviewOverrideCmd.MarkFlagRequired("field")
	_ = reviewOverrideCmd.MarkFlagRequired("value")
	_ = reviewOverrideCmd.MarkFlagRequired("actor")

	reviewCmd.AddCommand(reviewQueueCmd)
	reviewCmd.AddCommand(reviewVerifyCmd)
	reviewCmd.AddCommand(reviewOverrideCmd)
	rootCmd.AddCommand(reviewCmd)
}
