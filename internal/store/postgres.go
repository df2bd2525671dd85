package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ocr/internal/db"
	"github.com/sells-group/auction-ocr/internal/extract"
	"github.com/sells-group/auction-ocr/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id                 TEXT PRIMARY KEY,
	revision           INTEGER NOT NULL DEFAULT 1,
	source_hash        TEXT NOT NULL,
	venue_hint         TEXT,
	header_fields      JSONB,
	sheet_fields       JSONB,
	reconciled         JSONB,
	status             TEXT NOT NULL DEFAULT 'processing',
	discrepancies      JSONB,
	status_history     JSONB NOT NULL DEFAULT '[]',
	overall_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	failure_reason     TEXT,
	review_reasons     JSONB,
	lot_no             TEXT,
	auction_venue      TEXT,
	auction_date       TIMESTAMPTZ,
	make_model         TEXT,
	model_code         TEXT,
	chassis_no         TEXT,
	mileage_km         INTEGER NOT NULL DEFAULT 0,
	score_numeric      DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_yen          BIGINT NOT NULL DEFAULT 0,
	search_text        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sources (
	hash       TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS overrides (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES records(id),
	field      TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT NOT NULL,
	reason     TEXT,
	actor      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_overrides_record ON overrides(record_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_source_rev ON records(source_hash, revision);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_records_venue ON records(auction_venue);
CREATE INDEX IF NOT EXISTS idx_records_chassis ON records(chassis_no);
CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(updated_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *model.Record) error {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (id, revision, source_hash, venue_hint, header_fields,
			sheet_fields, reconciled, status, discrepancies, status_history,
			overall_confidence, failure_reason, review_reasons, lot_no,
			auction_venue, auction_date, make_model, model_code, chassis_no,
			mileage_km, score_numeric, price_yen, search_text, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		rec.ID, rec.Revision, rec.SourceHash, rec.VenueHint,
		[]byte(enc.headerFields), []byte(enc.sheetFields), []byte(enc.reconciled),
		string(rec.Status), []byte(enc.discrepancies), []byte(enc.statusHistory),
		rec.OverallConfidence, rec.FailureReason, []byte(enc.reviewReasons),
		rec.Lot, rec.Venue, rec.AuctionDate, rec.MakeModel, rec.ModelCode,
		rec.Chassis, rec.MileageKM, rec.ScoreNumeric, rec.PriceYen,
		searchText(rec), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if eris.As(err, &pgErr) && pgErr.Code == "23505" {
			return eris.Wrapf(ErrDuplicateSource, "hash %s revision %d", rec.SourceHash, rec.Revision)
		}
		return eris.Wrapf(err, "postgres: insert record %s", rec.ID)
	}
	return nil
}

const pgRecordColumns = `id, revision, source_hash, venue_hint, header_fields, sheet_fields,
	reconciled, status, discrepancies, status_history, overall_confidence,
	failure_reason, review_reasons, lot_no, auction_venue, auction_date,
	make_model, model_code, chassis_no, mileage_km, score_numeric, price_yen,
	created_at, updated_at`

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRecordColumns+` FROM records WHERE id = $1`, id)
	return scanPgRecord(row)
}

func (s *PostgresStore) FindBySourceHash(ctx context.Context, hash string) (*model.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRecordColumns+` FROM records WHERE source_hash = $1
		 ORDER BY revision DESC LIMIT 1`, hash)
	return scanPgRecord(row)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Summary, error) {
	query := `SELECT id, lot_no, auction_venue, auction_date, make_model, model_code,
		chassis_no, mileage_km, score_numeric, price_yen, status, created_at
		FROM records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Venue != "" {
		query += fmt.Sprintf(` AND auction_venue = $%d`, argIdx)
		args = append(args, filter.Venue)
		argIdx++
	}
	if !filter.DateFrom.IsZero() {
		query += fmt.Sprintf(` AND auction_date >= $%d`, argIdx)
		args = append(args, filter.DateFrom)
		argIdx++
	}
	if !filter.DateTo.IsZero() {
		query += fmt.Sprintf(` AND auction_date <= $%d`, argIdx)
		args = append(args, filter.DateTo)
		argIdx++
	}
	if filter.ScoreMin > 0 {
		query += fmt.Sprintf(` AND score_numeric >= $%d`, argIdx)
		args = append(args, filter.ScoreMin)
		argIdx++
	}
	if filter.MileageMax > 0 {
		query += fmt.Sprintf(` AND mileage_km > 0 AND mileage_km <= $%d`, argIdx)
		args = append(args, filter.MileageMax)
		argIdx++
	}
	if filter.Chassis != "" {
		query += fmt.Sprintf(` AND chassis_no = $%d`, argIdx)
		args = append(args, strings.ToUpper(extract.Normalize(filter.Chassis)))
		argIdx++
	}
	if filter.Lot != "" {
		query += fmt.Sprintf(` AND lot_no = $%d`, argIdx)
		args = append(args, filter.Lot)
		argIdx++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(` AND search_text LIKE $%d`, argIdx)
		args = append(args, "%"+extract.FoldSearch(filter.Search)+"%")
		argIdx++
	}
	if filter.HasDiscrepancy != nil {
		if *filter.HasDiscrepancy {
			query += ` AND jsonb_array_length(coalesce(discrepancies, '[]'::jsonb)) > 0`
		} else {
			query += ` AND jsonb_array_length(coalesce(discrepancies, '[]'::jsonb)) = 0`
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		var sm model.Summary
		var lot, venue, makeModel, modelCode, chassis *string
		var date *time.Time
		if err := rows.Scan(&sm.ID, &lot, &venue, &date, &makeModel,
			&modelCode, &chassis, &sm.MileageKM, &sm.ScoreNumeric,
			&sm.PriceYen, &sm.Status, &sm.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		sm.Lot = deref(lot)
		sm.Venue = deref(venue)
		sm.MakeModel = deref(makeModel)
		sm.ModelCode = deref(modelCode)
		sm.Chassis = deref(chassis)
		sm.AuctionDate = date
		out = append(out, sm)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) SaveExtraction(ctx context.Context, rec *model.Record, to model.Status) error {
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

	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET
			header_fields = $1, sheet_fields = $2, reconciled = $3,
			status = $4, discrepancies = $5, status_history = $6,
			overall_confidence = $7, failure_reason = $8, review_reasons = $9,
			lot_no = $10, auction_venue = $11, auction_date = $12,
			make_model = $13, model_code = $14, chassis_no = $15,
			mileage_km = $16, score_numeric = $17, price_yen = $18,
			search_text = $19, updated_at = $20
		 WHERE id = $21 AND status = $22`,
		[]byte(enc.headerFields), []byte(enc.sheetFields), []byte(enc.reconciled),
		string(to), []byte(enc.discrepancies), []byte(enc.statusHistory),
		rec.OverallConfidence, rec.FailureReason, []byte(enc.reviewReasons),
		rec.Lot, rec.Venue, rec.AuctionDate, rec.MakeModel, rec.ModelCode,
		rec.Chassis, rec.MileageKM, rec.ScoreNumeric, rec.PriceYen,
		searchText(rec), now, rec.ID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save extraction %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrInvalidTransition, "record %s not in %s", rec.ID, from)
	}
	return nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to model.Status, actor string) error {
	if !model.CanTransition(from, to) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return s.transitionGuarded(ctx, id, from, to, actor, "")
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, reason, actor string) error {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(rec.Status, model.StatusFailed) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", rec.Status, model.StatusFailed)
	}
	return s.transitionGuarded(ctx, id, rec.Status, model.StatusFailed, actor, reason)
}

// transitionGuarded appends the history entry and flips the status in one
// statement; jsonb concatenation keeps the append atomic under concurrency.
func (s *PostgresStore) transitionGuarded(ctx context.Context, id string, from, to model.Status, actor, reason string) error {
	now := time.Now().UTC()
	event, err := json.Marshal([]model.StatusEvent{{Status: to, At: now, Actor: actor}})
	if err != nil {
		return eris.Wrap(err, "postgres: encode history event")
	}

	query := `UPDATE records SET status = $1,
		status_history = coalesce(status_history, '[]'::jsonb) || $2::jsonb,
		updated_at = $3`
	args := []any{string(to), event, now}
	if reason != "" {
		query += `, failure_reason = $4 WHERE id = $5 AND status = $6`
		args = append(args, reason, id, string(from))
	} else {
		query += ` WHERE id = $4 AND status = $5`
		args = append(args, id, string(from))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrInvalidTransition, "record %s not in %s (wanted %s -> %s)", id, from, from, to)
	}
	return nil
}

// OverrideField mirrors the SQLite behavior inside one transaction: the
// record update is guarded on needs_review and the audit entry commits
// with it.
func (s *PostgresStore) OverrideField(ctx context.Context, id, field, newValue, reason, actor string) (*model.Record, error) {
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
		return nil, eris.Wrap(err, "postgres: encode reconciled")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin override")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE records SET reconciled = $1, lot_no = $2, auction_venue = $3,
			auction_date = $4, make_model = $5, model_code = $6, chassis_no = $7,
			mileage_km = $8, score_numeric = $9, price_yen = $10, search_text = $11,
			updated_at = $12
		 WHERE id = $13 AND status = $14`,
		reconciled, rec.Lot, rec.Venue, rec.AuctionDate, rec.MakeModel,
		rec.ModelCode, rec.Chassis, rec.MileageKM, rec.ScoreNumeric, rec.PriceYen,
		searchText(rec), now, id, string(model.StatusNeedsReview),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: override %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrInvalidTransition, "record %s left review", id)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO overrides (id, record_id, field, old_value, new_value, reason, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), id, field, oldValue, newValue, reason, actor, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: record override %s", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit override")
	}
	return rec, nil
}

func (s *PostgresStore) ListOverrides(ctx context.Context, id string) ([]model.Override, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, record_id, field, old_value, new_value, reason, actor, created_at
		 FROM overrides WHERE record_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list overrides %s", id)
	}
	defer rows.Close()

	var out []model.Override
	for rows.Next() {
		var ov model.Override
		if err := rows.Scan(&ov.ID, &ov.RecordID, &ov.Field, &ov.OldValue,
			&ov.NewValue, &ov.Reason, &ov.Actor, &ov.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan override")
		}
		out = append(out, ov)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list overrides iterate")
}

func (s *PostgresStore) SaveSource(ctx context.Context, hash string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (hash, data, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (hash) DO NOTHING`,
		hash, data, time.Now().UTC())
	return eris.Wrapf(err, "postgres: save source %s", hash)
}

func (s *PostgresStore) GetSource(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM sources WHERE hash = $1`, hash).Scan(&data)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "source %s", hash)
		}
		return nil, eris.Wrapf(err, "postgres: get source %s", hash)
	}
	return data, nil
}

func (s *PostgresStore) SweepStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-maxAge)
	event, err := json.Marshal([]model.StatusEvent{{
		Status: model.StatusFailed, At: now, Actor: model.ActorPipeline,
	}})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: encode sweep event")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET status = $1,
			status_history = coalesce(status_history, '[]'::jsonb) || $2::jsonb,
			failure_reason = $3, updated_at = $4
		 WHERE status = $5 AND updated_at <= $6`,
		string(model.StatusFailed), event, "stuck in processing past deadline",
		now, string(model.StatusProcessing), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep stuck")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	defer rows.Close()

	st := &Stats{ByStatus: make(map[model.Status]int)}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		st.ByStatus[model.Status(status)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats iterate")
	}
	finalize(st)
	return st, nil
}

// recordUpsertColumns is the column list used for bulk imports.
var recordUpsertColumns = []string{
	"id", "revision", "source_hash", "venue_hint", "header_fields",
	"sheet_fields", "reconciled", "status", "discrepancies", "status_history",
	"overall_confidence", "failure_reason", "review_reasons", "lot_no",
	"auction_venue", "auction_date", "make_model", "model_code", "chassis_no",
	"mileage_km", "score_numeric", "price_yen", "search_text",
	"created_at", "updated_at",
}

// BulkImport upserts a batch of records, keyed on id. Used by the store
// migration command to move data between backends.
func (s *PostgresStore) BulkImport(ctx context.Context, recs []model.Record) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		enc, err := encodeRecord(rec)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			rec.ID, rec.Revision, rec.SourceHash, rec.VenueHint,
			[]byte(enc.headerFields), []byte(enc.sheetFields), []byte(enc.reconciled),
			string(rec.Status), []byte(enc.discrepancies), []byte(enc.statusHistory),
			rec.OverallConfidence, rec.FailureReason, []byte(enc.reviewReasons),
			rec.Lot, rec.Venue, rec.AuctionDate, rec.MakeModel, rec.ModelCode,
			rec.Chassis, rec.MileageKM, rec.ScoreNumeric, rec.PriceYen,
			searchText(rec), rec.CreatedAt, rec.UpdatedAt,
		})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "records",
		Columns:      recordUpsertColumns,
		ConflictKeys: []string{"id"},
	}, rows)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scanPgRecord(row pgx.Row) (*model.Record, error) {
	var rec model.Record
	var headerJSON, sheetJSON, reconciledJSON, discJSON, historyJSON, reasonsJSON []byte
	var venueHint, failureReason, lot, venue, makeModel, modelCode, chassis *string
	var date *time.Time

	err := row.Scan(&rec.ID, &rec.Revision, &rec.SourceHash, &venueHint,
		&headerJSON, &sheetJSON, &reconciledJSON, &rec.Status, &discJSON,
		&historyJSON, &rec.OverallConfidence, &failureReason, &reasonsJSON,
		&lot, &venue, &date, &makeModel, &modelCode, &chassis,
		&rec.MileageKM, &rec.ScoreNumeric, &rec.PriceYen,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) || err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: scan record")
	}

	rec.VenueHint = deref(venueHint)
	rec.FailureReason = deref(failureReason)
	rec.Lot = deref(lot)
	rec.Venue = deref(venue)
	rec.MakeModel = deref(makeModel)
	rec.ModelCode = deref(modelCode)
	rec.Chassis = deref(chassis)
	rec.AuctionDate = date

	for _, f := range []struct {
		src []byte
		dst any
	}{
		{headerJSON, &rec.HeaderFields},
		{sheetJSON, &rec.SheetFields},
		{reconciledJSON, &rec.Reconciled},
		{discJSON, &rec.Discrepancies},
		{historyJSON, &rec.StatusHistory},
		{reasonsJSON, &rec.ReviewReasons},
	} {
		if len(f.src) == 0 || string(f.src) == "null" {
			continue
		}
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return nil, eris.Wrap(err, "postgres: decode record")
		}
	}
	return &rec, nil
}
