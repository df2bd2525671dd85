package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ocr/internal/export"
	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/store"
)

// exportLimit caps export queries. Exports are snapshots, not pages, so
// the cap is far above the list default.
const exportLimit = 50000

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.Ingest.MaxSizeMB) * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1)

	data, venueHint, err := readUpload(r)
	if err != nil {
		status := http.StatusBadRequest
		var mbe *http.MaxBytesError
		if eris.As(err, &mbe) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	rec, created, err := s.pipeline.Register(r.Context(), data, venueHint)
	if err != nil {
		writeError(w, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "duplicate",
			"record_id": rec.ID,
		})
		return
	}

	// Extraction outlives the request; the client polls the record.
	bg := context.WithoutCancel(r.Context())
	go func() {
		if err := s.pipeline.Process(bg, rec, data); err != nil {
			zap.L().Warn("api: background extraction failed",
				zap.String("record", rec.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"record_id": rec.ID,
	})
}

// readUpload accepts either a multipart form with a "file" part or a raw
// image body, with the venue hint in the form or query string.
func readUpload(r *http.Request) (data []byte, venueHint string, err error) {
	venueHint = r.URL.Query().Get("venue")

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		if v := r.FormValue("venue"); v != "" {
			venueHint = v
		}
		return data, venueHint, nil
	}

	data, err = io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return data, venueHint, nil
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListRecords(r.Context(), filterFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": emptyIfNil(summaries),
		"count":   len(summaries),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipeline.Reprocess(r.Context(), chi.URLParam(r, "id"))
	if err != nil && rec == nil {
		writeError(w, err)
		return
	}
	// A failed extraction still produced the new revision; return it.
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	filter.Status = model.StatusNeedsReview

	summaries, err := s.store.ListRecords(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": emptyIfNil(summaries),
		"count":   len(summaries),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Actor == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor is required"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.Transition(r.Context(), id,
		model.StatusNeedsReview, model.StatusVerified, req.Actor); err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.store.GetRecord(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleOverride lets a reviewer correct one reconciled value before
// verifying the record. The change is audited; the review queue entry
// stays open until an explicit verify.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field  string `json:"field"`
		Value  string `json:"value"`
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Actor == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor is required"})
		return
	}
	if !model.KnownField(req.Field) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown field"})
		return
	}
	if req.Value == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value is required"})
		return
	}

	rec, err := s.store.OverrideField(r.Context(), chi.URLParam(r, "id"),
		req.Field, req.Value, req.Reason, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRecord(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	overrides, err := s.store.ListOverrides(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if overrides == nil {
		overrides = []model.Override{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overrides": overrides,
		"count":     len(overrides),
	})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.exportQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, summaries); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="records.csv"`)
	w.Write(buf.Bytes())
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.exportQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, summaries); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="records.xlsx"`)
	w.Write(buf.Bytes())
}

// exportQuery snapshots the filtered record set before streaming so the
// file reflects one consistent read.
func (s *Server) exportQuery(r *http.Request) ([]model.Summary, error) {
	filter := filterFromQuery(r)
	filter.Limit = exportLimit
	filter.Offset = 0
	return s.store.ListRecords(r.Context(), filter)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func filterFromQuery(r *http.Request) store.RecordFilter {
	q := r.URL.Query()
	filter := store.RecordFilter{
		Status:  model.Status(q.Get("status")),
		Venue:   q.Get("venue"),
		Chassis: q.Get("chassis"),
		Lot:     q.Get("lot"),
		Search:  q.Get("q"),
	}
	if v := q.Get("discrepancy"); v != "" {
		b := v == "true" || v == "1"
		filter.HasDiscrepancy = &b
	}
	if d, err := time.Parse("2006-01-02", q.Get("date_from")); err == nil {
		filter.DateFrom = d
	}
	if d, err := time.Parse("2006-01-02", q.Get("date_to")); err == nil {
		filter.DateTo = d
	}
	if f, err := strconv.ParseFloat(q.Get("score_min"), 64); err == nil && f > 0 {
		filter.ScoreMin = f
	}
	if n, err := strconv.Atoi(q.Get("mileage_max")); err == nil && n > 0 {
		filter.MileageMax = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		filter.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		filter.Offset = n
	}
	return filter
}

func emptyIfNil(s []model.Summary) []model.Summary {
	if s == nil {
		return []model.Summary{}
	}
	return s
}
