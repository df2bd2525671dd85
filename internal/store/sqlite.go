package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/auction-ocr/internal/extract"
	"github.com/sells-group/auction-ocr/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the pragmas in force for every statement and
	// makes :memory: databases behave.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id                 TEXT PRIMARY KEY,
	revision           INTEGER NOT NULL DEFAULT 1,
	source_hash        TEXT NOT NULL,
	venue_hint         TEXT,
	header_fields      TEXT,
	sheet_fields       TEXT,
	reconciled         TEXT,
	status             TEXT NOT NULL DEFAULT 'processing',
	discrepancies      TEXT,
	status_history     TEXT NOT NULL DEFAULT '[]',
	overall_confidence REAL NOT NULL DEFAULT 0,
	failure_reason     TEXT,
	review_reasons     TEXT,
	lot_no             TEXT,
	auction_venue      TEXT,
	auction_date       DATETIME,
	make_model         TEXT,
	model_code         TEXT,
	chassis_no         TEXT,
	mileage_km         INTEGER NOT NULL DEFAULT 0,
	score_numeric      REAL NOT NULL DEFAULT 0,
	price_yen          INTEGER NOT NULL DEFAULT 0,
	search_text        TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	hash       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS overrides (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES records(id),
	field      TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT NOT NULL,
	reason     TEXT,
	actor      TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_overrides_record ON overrides(record_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_source_rev ON records(source_hash, revision);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_records_venue ON records(auction_venue);
CREATE INDEX IF NOT EXISTS idx_records_chassis ON records(chassis_no);
CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const recordColumns = `id, revision, source_hash, venue_hint, header_fields, sheet_fields,
	reconciled, status, discrepancies, status_history, overall_confidence,
	failure_reason, review_reasons, lot_no, auction_venue, auction_date,
	make_model, model_code, chassis_no, mileage_km, score_numeric, price_yen,
	created_at, updated_at`

func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *model.Record) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = model.StatusProcessing
	}
	rec.StatusHistory = append(rec.StatusHistory, model.StatusEvent{
		Status: rec.Status, At: now, Actor: model.ActorPipeline,
	})

	enc, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`, search_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Revision, rec.SourceHash, rec.VenueHint,
		enc.headerFields, enc.sheetFields, enc.reconciled,
		string(rec.Status), enc.discrepancies, enc.statusHistory,
		rec.OverallConfidence, rec.FailureReason, enc.reviewReasons,
		rec.Lot, rec.Venue, rec.AuctionDate, rec.MakeModel, rec.ModelCode,
		rec.Chassis, rec.MileageKM, rec.ScoreNumeric, rec.PriceYen,
		rec.CreatedAt, rec.UpdatedAt, searchText(rec),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return eris.Wrapf(ErrDuplicateSource, "hash %s revision %d", rec.SourceHash, rec.Revision)
		}
		return eris.Wrapf(err, "sqlite: insert record %s", rec.ID)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	return scanRecord(row)
}

func (s *SQLiteStore) FindBySourceHash(ctx context.Context, hash string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE source_hash = ?
		 ORDER BY revision DESC LIMIT 1`, hash)
	return scanRecord(row)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Summary, error) {
	query := `SELECT id, lot_no, auction_venue, auction_date, make_model, model_code,
		chassis_no, mileage_km, score_numeric, price_yen, status, created_at
		FROM records WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Venue != "" {
		query += ` AND auction_venue = ?`
		args = append(args, filter.Venue)
	}
	if !filter.DateFrom.IsZero() {
		query += ` AND auction_date >= ?`
		args = append(args, filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		query += ` AND auction_date <= ?`
		args = append(args, filter.DateTo)
	}
	if filter.ScoreMin > 0 {
		query += ` AND score_numeric >= ?`
		args = append(args, filter.ScoreMin)
	}
	if filter.MileageMax > 0 {
		query += ` AND mileage_km > 0 AND mileage_km <= ?`
		args = append(args, filter.MileageMax)
	}
	if filter.Chassis != "" {
		query += ` AND chassis_no = ?`
		args = append(args, strings.ToUpper(extract.Normalize(filter.Chassis)))
	}
	if filter.Lot != "" {
		query += ` AND lot_no = ?`
		args = append(args, filter.Lot)
	}
	if filter.Search != "" {
		query += ` AND search_text LIKE ?`
		args = append(args, "%"+extract.FoldSearch(filter.Search)+"%")
	}
	if filter.HasDiscrepancy != nil {
		if *filter.HasDiscrepancy {
			query += ` AND discrepancies IS NOT NULL AND discrepancies != '[]' AND discrepancies != ''`
		} else {
			query += ` AND (discrepancies IS NULL OR discrepancies = '[]' OR discrepancies = '')`
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		var sm model.Summary
		var date sql.NullTime
		if err := rows.Scan(&sm.ID, &sm.Lot, &sm.Venue, &date, &sm.MakeModel,
			&sm.ModelCode, &sm.Chassis, &sm.MileageKM, &sm.ScoreNumeric,
			&sm.PriceYen, &sm.Status, &sm.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan summary")
		}
		if date.Valid {
			d := date.Time
			sm.AuctionDate = &d
		}
		out = append(out, sm)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

// SaveExtraction persists extraction output and leaves processing in one
// guarded update. The status guard makes a lost race visible instead of
// silently overwriting a concurrent failure.
func (s *SQLiteStore) SaveExtraction(ctx context.Context, rec *model.Record, to model.Status) error {
	if !model.CanTransition(rec.Status, to) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", rec.Status, to)
	}
	now := time.Now().UTC()
	from := rec.Status
	rec.Status = to
	rec.UpdatedAt = now
	rec.StatusHistory = append(rec.StatusHistory, model.StatusEvent{
		Status: to, At: now, Actor: model.ActorPipeline,
	})

	enc, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET
			header_fields = ?, sheet_fields = ?, reconciled = ?,
			status = ?, discrepancies = ?, status_history = ?,
			overall_confidence = ?, failure_reason = ?, review_reasons = ?,
			lot_no = ?, auction_venue = ?, auction_date = ?, make_model = ?,
			model_code = ?, chassis_no = ?, mileage_km = ?, score_numeric = ?,
			price_yen = ?, search_text = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		enc.headerFields, enc.sheetFields, enc.reconciled,
		string(to), enc.discrepancies, enc.statusHistory,
		rec.OverallConfidence, rec.FailureReason, enc.reviewReasons,
		rec.Lot, rec.Venue, rec.AuctionDate, rec.MakeModel, rec.ModelCode,
		rec.Chassis, rec.MileageKM, rec.ScoreNumeric, rec.PriceYen,
		searchText(rec), now, rec.ID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save extraction %s", rec.ID)
	}
	return checkTransitioned(res, rec.ID, from, to)
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to model.Status, actor string) error {
	if !model.CanTransition(from, to) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return s.transitionGuarded(ctx, id, from, to, actor, "")
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, reason, actor string) error {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(rec.Status, model.StatusFailed) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", rec.Status, model.StatusFailed)
	}
	return s.transitionGuarded(ctx, id, rec.Status, model.StatusFailed, actor, reason)
}

// transitionGuarded performs the status move inside a transaction so the
// history append stays consistent with the guarded update.
func (s *SQLiteStore) transitionGuarded(ctx context.Context, id string, from, to model.Status, actor, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transition")
	}
	defer tx.Rollback()

	var historyJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT status_history FROM records WHERE id = ?`, id,
	).Scan(&historyJSON)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load history %s", id)
	}

	var history []model.StatusEvent
	if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
		return eris.Wrapf(err, "sqlite: decode history %s", id)
	}
	now := time.Now().UTC()
	history = append(history, model.StatusEvent{Status: to, At: now, Actor: actor})
	newHistory, err := json.Marshal(history)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode history")
	}

	query := `UPDATE records SET status = ?, status_history = ?, updated_at = ?`
	args := []any{string(to), string(newHistory), now}
	if reason != "" {
		query += `, failure_reason = ?`
		args = append(args, reason)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition %s", id)
	}
	if err := checkTransitioned(res, id, from, to); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit transition")
}

// OverrideField corrects one reconciled value on a record awaiting review.
// The update is guarded on needs_review so a concurrent verify wins, and
// the audit entry commits with the correction or not at all.
func (s *SQLiteStore) OverrideField(ctx context.Context, id, field, newValue, reason, actor string) (*model.Record, error) {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusNeedsReview {
		return nil, eris.Wrapf(ErrInvalidTransition, "override %s in %s", id, rec.Status)
	}

	oldValue := rec.Reconciled[field].Value
	applyOverride(rec, field, newValue)
	now := time.Now().UTC()
	rec.UpdatedAt = now

	reconciled, err := json.Marshal(rec.Reconciled)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: encode reconciled")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin override")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE records SET reconciled = ?, lot_no = ?, auction_venue = ?,
			auction_date = ?, make_model = ?, model_code = ?, chassis_no = ?,
			mileage_km = ?, score_numeric = ?, price_yen = ?, search_text = ?,
			updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(reconciled), rec.Lot, rec.Venue, rec.AuctionDate, rec.MakeModel,
		rec.ModelCode, rec.Chassis, rec.MileageKM, rec.ScoreNumeric, rec.PriceYen,
		searchText(rec), now, id, string(model.StatusNeedsReview),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: override %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return nil, eris.Wrapf(ErrInvalidTransition, "record %s left review", id)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO overrides (id, record_id, field, old_value, new_value, reason, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), id, field, oldValue, newValue, reason, actor, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: record override %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit override")
	}
	return rec, nil
}

func (s *SQLiteStore) ListOverrides(ctx context.Context, id string) ([]model.Override, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_id, field, old_value, new_value, reason, actor, created_at
		 FROM overrides WHERE record_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list overrides %s", id)
	}
	defer rows.Close()

	var out []model.Override
	for rows.Next() {
		var ov model.Override
		if err := rows.Scan(&ov.ID, &ov.RecordID, &ov.Field, &ov.OldValue,
			&ov.NewValue, &ov.Reason, &ov.Actor, &ov.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan override")
		}
		out = append(out, ov)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list overrides iterate")
}

func (s *SQLiteStore) SaveSource(ctx context.Context, hash string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sources (hash, data, created_at) VALUES (?, ?, ?)`,
		hash, data, time.Now().UTC())
	return eris.Wrapf(err, "sqlite: save source %s", hash)
}

func (s *SQLiteStore) GetSource(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sources WHERE hash = ?`, hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "source %s", hash)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get source %s", hash)
	}
	return data, nil
}

func (s *SQLiteStore) SweepStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM records WHERE status = ? AND updated_at <= ?`,
		string(model.StatusProcessing), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: find stuck records")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "sqlite: scan stuck id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: iterate stuck ids")
	}

	swept := 0
	for _, id := range ids {
		err := s.transitionGuarded(ctx, id, model.StatusProcessing, model.StatusFailed,
			model.ActorPipeline, "stuck in processing past deadline")
		if err != nil {
			// Lost the race to a finishing pipeline; that record is fine.
			if eris.Is(err, ErrInvalidTransition) || eris.Is(err, ErrNotFound) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	defer rows.Close()

	st := &Stats{ByStatus: make(map[model.Status]int)}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		st.ByStatus[model.Status(status)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats iterate")
	}
	finalize(st)
	return st, nil
}

// helpers

// finalize derives the rates from the raw counts.
func finalize(st *Stats) {
	st.ReviewDepth = st.ByStatus[model.StatusNeedsReview]
	decided := st.ByStatus[model.StatusAutoPass] +
		st.ByStatus[model.StatusNeedsReview] +
		st.ByStatus[model.StatusVerified] +
		st.ByStatus[model.StatusFailed]
	if decided > 0 {
		st.AutoPassRate = float64(st.ByStatus[model.StatusAutoPass]) / float64(decided)
	}
}

func checkTransitioned(res sql.Result, id string, from, to model.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrInvalidTransition, "record %s not in %s (wanted %s -> %s)", id, from, from, to)
	}
	return nil
}

// searchText builds the LIKE haystack over the fields operators search by.
func searchText(rec *model.Record) string {
	return extract.SearchText(rec.Lot, rec.Venue, rec.MakeModel, rec.ModelCode, rec.Chassis)
}

// applyOverride rewrites one reconciled field and whichever summary column
// is derived from it, so lists and exports show the corrected value.
func applyOverride(rec *model.Record, field, value string) {
	if rec.Reconciled == nil {
		rec.Reconciled = make(map[string]model.ReconciledField)
	}
	prior := rec.Reconciled[field]
	rec.Reconciled[field] = model.ReconciledField{
		Value:       value,
		Confidence:  1,
		Source:      model.SourceOverride,
		Discrepancy: prior.Discrepancy,
	}

	switch field {
	case model.FieldLot:
		rec.Lot = value
	case model.FieldVenue:
		rec.Venue = value
	case model.FieldMakeModel:
		rec.MakeModel = value
	case model.FieldModelCode:
		rec.ModelCode = value
	case model.FieldChassis:
		rec.Chassis = strings.ToUpper(extract.Normalize(value))
	case model.FieldAuctionDate:
		if d, ok := extract.ParseAuctionDate(value); ok {
			rec.AuctionDate = &d
		}
	case model.FieldMileage:
		if m, ok := extract.ParseMileageHeader(value); ok {
			rec.MileageKM = m.KM
		}
	case model.FieldScore:
		if sc, ok := extract.ParseScore(value); ok && sc.IsNum {
			rec.ScoreNumeric = sc.Numeric
		}
	case model.FieldFinalBid:
		if yen, ok := extract.ParseYen(value); ok {
			rec.PriceYen = yen
		}
	}
}

type encodedRecord struct {
	headerFields  string
	sheetFields   string
	reconciled    string
	discrepancies string
	statusHistory string
	reviewReasons string
}

func encodeRecord(rec *model.Record) (*encodedRecord, error) {
	enc := &encodedRecord{}
	for _, f := range []struct {
		dst *string
		src any
	}{
		{&enc.headerFields, rec.HeaderFields},
		{&enc.sheetFields, rec.SheetFields},
		{&enc.reconciled, rec.Reconciled},
		{&enc.discrepancies, rec.Discrepancies},
		{&enc.statusHistory, rec.StatusHistory},
		{&enc.reviewReasons, rec.ReviewReasons},
	} {
		b, err := json.Marshal(f.src)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: encode record")
		}
		*f.dst = string(b)
	}
	return enc, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.Record, error) {
	var rec model.Record
	var headerJSON, sheetJSON, reconciledJSON, discJSON, historyJSON, reasonsJSON sql.NullString
	var venueHint, failureReason, lot, venue, makeModel, modelCode, chassis sql.NullString
	var date sql.NullTime

	err := row.Scan(&rec.ID, &rec.Revision, &rec.SourceHash, &venueHint,
		&headerJSON, &sheetJSON, &reconciledJSON, &rec.Status, &discJSON,
		&historyJSON, &rec.OverallConfidence, &failureReason, &reasonsJSON,
		&lot, &venue, &date, &makeModel, &modelCode, &chassis,
		&rec.MileageKM, &rec.ScoreNumeric, &rec.PriceYen,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	rec.VenueHint = venueHint.String
	rec.FailureReason = failureReason.String
	rec.Lot = lot.String
	rec.Venue = venue.String
	rec.MakeModel = makeModel.String
	rec.ModelCode = modelCode.String
	rec.Chassis = chassis.String
	if date.Valid {
		d := date.Time
		rec.AuctionDate = &d
	}

	for _, f := range []struct {
		src sql.NullString
		dst any
	}{
		{headerJSON, &rec.HeaderFields},
		{sheetJSON, &rec.SheetFields},
		{reconciledJSON, &rec.Reconciled},
		{discJSON, &rec.Discrepancies},
		{historyJSON, &rec.StatusHistory},
		{reasonsJSON, &rec.ReviewReasons},
	} {
		if !f.src.Valid || f.src.String == "" || f.src.String == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src.String), f.dst); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode record")
		}
	}
	return &rec, nil
}
