package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/massfinder/parish-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// connPragmas are per-connection settings. They ride on the DSN so every
// pooled connection gets them, not just the first.
var connPragmas = []string{"busy_timeout(5000)", "foreign_keys(1)", "synchronous(NORMAL)"}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// journal_mode is stored in the database file.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: enable WAL")
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN appends a _pragma parameter for each connection pragma the DSN
// does not already set.
func sqliteDSN(dsn string) string {
	var params []string
	for _, p := range connPragmas {
		name := p[:strings.IndexByte(p, '(')]
		if strings.Contains(dsn, "_pragma="+name) {
			continue
		}
		params = append(params, "_pragma="+p)
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL,
	organization   TEXT NOT NULL,
	region_label   TEXT NOT NULL DEFAULT '',
	country_label  TEXT NOT NULL DEFAULT 'USA',
	street         TEXT,
	city           TEXT,
	state          TEXT,
	postal_code    TEXT,
	address        TEXT,
	phone          TEXT,
	email          TEXT,
	website        TEXT,
	schedule_blob  TEXT,
	latitude       REAL,
	longitude      REAL,
	source_url     TEXT,
	last_refreshed DATETIME,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (name, organization),
	CHECK ((latitude IS NULL) = (longitude IS NULL))
);

CREATE TABLE IF NOT EXISTS run_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	organization  TEXT NOT NULL,
	status        TEXT NOT NULL CHECK (status IN ('success', 'failed')),
	record_count  INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	occurred_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_records_organization ON records(organization);
CREATE INDEX IF NOT EXISTS idx_records_state ON records(state);
CREATE INDEX IF NOT EXISTS idx_run_log_organization ON run_log(organization);
CREATE INDEX IF NOT EXISTS idx_run_log_run_id ON run_log(run_id);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close checkpoints the WAL into the main database file and closes it.
func (s *SQLiteStore) Close() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		zap.L().Debug("sqlite: wal checkpoint failed", zap.Error(err))
	}
	return s.db.Close()
}

func (s *SQLiteStore) Exists(ctx context.Context, name, organization string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE name = ? AND organization = ? LIMIT 1`,
		name, organization,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: exists")
	}
	return true, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *model.Record) (int64, error) {
	if err := prepareInsert(rec); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (`+joinColumns(recordColumns)+`) VALUES (`+placeholders(len(recordColumns))+`)`,
		recordValues(rec)...,
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return 0, &ConstraintError{Key: rec.Key(), Err: err}
		}
		return 0, eris.Wrapf(err, "sqlite: insert %s", rec.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: last insert id")
	}
	rec.ID = id
	return id, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id int64, upd model.RecordUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update")
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+selectRecordColumns+` FROM records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: update %d", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load record %d", id)
	}

	merged, err := mergeUpdate(*cur, upd)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %d", id)
	}
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE records SET region_label = ?, country_label = ?, street = ?, city = ?, state = ?,
			postal_code = ?, address = ?, phone = ?, email = ?, website = ?, schedule_blob = ?,
			latitude = ?, longitude = ?, source_url = ?, last_refreshed = ?
		 WHERE id = ?`,
		merged.RegionLabel, merged.CountryLabel, merged.Street, merged.City, merged.State,
		merged.PostalCode, merged.Address, merged.Phone, merged.Email, merged.Website, merged.Schedule,
		merged.Latitude, merged.Longitude, merged.SourceURL, now,
		id,
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return &ConstraintError{Key: merged.Key(), Err: err}
		}
		return eris.Wrapf(err, "sqlite: update %d", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit update")
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*model.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+selectRecordColumns+` FROM records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get %d", id)
	}
	return rec, eris.Wrapf(err, "sqlite: get %d", id)
}

func (s *SQLiteStore) GetByKey(ctx context.Context, name, organization string) (*model.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+selectRecordColumns+` FROM records WHERE name = ? AND organization = ?`,
		name, organization))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get %s/%s", organization, name)
	}
	return rec, eris.Wrapf(err, "sqlite: get %s/%s", organization, name)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.Record, error) {
	query := `SELECT ` + selectRecordColumns + ` FROM records WHERE 1=1`
	var args []any

	if filter.Organization != "" {
		query += ` AND organization = ?`
		args = append(args, filter.Organization)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State)
	}
	if filter.HasCoordinates {
		query += ` AND latitude IS NOT NULL AND longitude IS NOT NULL`
	}
	query += ` ORDER BY organization, name LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var recs []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COUNT(CASE WHEN latitude IS NOT NULL AND longitude IS NOT NULL THEN 1 END),
			COUNT(DISTINCT organization),
			COUNT(DISTINCT state)
		 FROM records`,
	).Scan(&st.TotalCount, &st.CountWithCoordinates, &st.DistinctOrganizations, &st.DistinctRegions)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	return &st, nil
}

func (s *SQLiteStore) AppendRunLog(ctx context.Context, entry model.RunLedgerEntry) (int64, error) {
	if err := validateEntry(entry); err != nil {
		return 0, err
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (run_id, organization, status, record_count, error_message, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Organization, string(entry.Status), entry.RecordCount, entry.ErrorMessage, entry.OccurredAt,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: append run log for %s", entry.Organization)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: run log id")
}

func (s *SQLiteStore) ListRunLog(ctx context.Context, filter model.RunLogFilter) ([]model.RunLedgerEntry, error) {
	query := `SELECT ` + selectRunLogColumns + ` FROM run_log WHERE 1=1`
	var args []any

	if filter.Organization != "" {
		query += ` AND organization = ?`
		args = append(args, filter.Organization)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run log")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.RunLedgerEntry
	for rows.Next() {
		e, err := scanRunLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run log")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list run log iterate")
}

func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
