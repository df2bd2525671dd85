// Package export renders record summaries as CSV and XLSX for downstream
// inventory systems.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/auction-ocr/internal/model"
)

// columns is the export header row. Order is part of the contract with
// the downstream importer; do not reorder.
var columns = []string{
	"id",
	"lot_no",
	"auction_venue",
	"auction_date",
	"make_model",
	"model_code",
	"chassis_no",
	"mileage_km",
	"score",
	"final_bid_yen",
	"status",
	"created_at",
}

func rowValues(sm model.Summary) []string {
	date := ""
	if sm.AuctionDate != nil {
		date = sm.AuctionDate.Format("2006-01-02")
	}
	score := ""
	if sm.ScoreNumeric != 0 {
		score = strconv.FormatFloat(sm.ScoreNumeric, 'f', -1, 64)
	}
	return []string{
		sm.ID,
		sm.Lot,
		sm.Venue,
		date,
		sm.MakeModel,
		sm.ModelCode,
		sm.Chassis,
		strconv.Itoa(sm.MileageKM),
		score,
		strconv.Itoa(sm.PriceYen),
		string(sm.Status),
		sm.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// WriteCSV writes summaries in their given order. The caller controls
// ordering through the store query, so identical inputs produce identical
// bytes.
func WriteCSV(w io.Writer, summaries []model.Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, sm := range summaries {
		if err := cw.Write(rowValues(sm)); err != nil {
			return eris.Wrapf(err, "export: write csv row %s", sm.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes summaries as a single-sheet workbook.
func WriteXLSX(w io.Writer, summaries []model.Summary) error {
	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("records")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range columns {
		header.AddCell().SetString(col)
	}
	for _, sm := range summaries {
		row := sheet.AddRow()
		for _, v := range rowValues(sm) {
			row.AddCell().SetString(v)
		}
	}
	return eris.Wrap(wb.Write(w), "export: write xlsx")
}
