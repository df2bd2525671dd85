package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect extracted auction records",
	Long:  "Commands for listing and viewing extracted auction sheet records.",
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extracted records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		venue, _ := cmd.Flags().GetString("venue")
		chassis, _ := cmd.Flags().GetString("chassis")
		search, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RecordFilter{
			Status:  model.Status(status),
			Venue:   venue,
			Chassis: chassis,
			Search:  search,
			Limit:   limit,
		}
		if set, _ := cmd.Flags().GetBool("discrepancies"); set {
			filter.HasDiscrepancy = &set
		}
		if v, _ := cmd.Flags().GetString("since"); v != "" {
			d, err := time.Parse("2006-01-02", v)
			if err != nil {
				return eris.Wrap(err, "parse --since")
			}
			filter.DateFrom = d
		}
		if v, _ := cmd.Flags().GetFloat64("min-score"); v > 0 {
			filter.ScoreMin = v
		}
		if v, _ := cmd.Flags().GetInt("max-km"); v > 0 {
			filter.MileageMax = v
		}

		summaries, err := st.ListRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records list")
		}

		if len(summaries) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatRecordsList(os.Stdout, summaries)
		return nil
	},
}

// -- records show --

var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show full details of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetRecord(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "records show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// -- records reprocess --

var recordsReprocessCmd = &cobra.Command{
	Use:   "reprocess <record-id>",
	Short: "Re-run extraction on a record's stored source image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Pipeline.Reprocess(ctx, args[0])
		if err != nil && rec == nil {
			return eris.Wrap(err, "records reprocess")
		}

		fmt.Printf("created revision %d: %s (%s)\n", rec.Revision, rec.ID, rec.Status)
		return nil
	},
}

func init() {
	recordsListCmd.Flags().String("status", "", "filter by status (processing, auto_pass, needs_review, verified, failed)")
	recordsListCmd.Flags().String("venue", "", "filter by auction venue")
	recordsListCmd.Flags().String("chassis", "", "filter by chassis number")
	recordsListCmd.Flags().String("search", "", "free-text search across lot, venue, model, chassis")
	recordsListCmd.Flags().Bool("discrepancies", false, "only records with header/sheet discrepancies")
	recordsListCmd.Flags().String("since", "", "earliest auction date (YYYY-MM-DD)")
	recordsListCmd.Flags().Float64("min-score", 0, "minimum numeric auction score")
	recordsListCmd.Flags().Int("max-km", 0, "maximum mileage in km")
	recordsListCmd.Flags().Int("limit", 50, "max number of records to display")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsReprocessCmd)
	rootCmd.AddCommand(recordsCmd)
}

// formatRecordsList writes a tabular list of record summaries to w.
func formatRecordsList(out io.Writer, summaries []model.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLOT\tVENUE\tMODEL\tCHASSIS\tKM\tSCORE\tSTATUS")
	for _, sm := range summaries {
		score := ""
		if sm.ScoreNumeric != 0 {
			score = fmt.Sprintf("%.1f", sm.ScoreNumeric)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(sm.ID), sm.Lot, sm.Venue, sm.MakeModel, sm.Chassis,
			sm.MileageKM, score, sm.Status)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
