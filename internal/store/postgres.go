package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/db"
	"github.com/massfinder/parish-ingest/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 4417001

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
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

	maxConns := int32(4)
	minConns := int32(1)
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded SQL migrations that have not run yet, in
// lexicographic order, under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: release migration lock failed", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())", name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, name, organization string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE name = $1 AND organization = $2)`,
		name, organization,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: exists")
	}
	return exists, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *model.Record) (int64, error) {
	if err := prepareInsert(rec); err != nil {
		return 0, eris.Wrap(err, "postgres: insert")
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO records (`+joinColumns(recordColumns)+`) VALUES (`+pgPlaceholders(len(recordColumns))+`) RETURNING id`,
		recordValues(rec)...,
	).Scan(&id)
	if err != nil {
		if isPgConstraint(err) {
			return 0, &ConstraintError{Key: rec.Key(), Err: err}
		}
		return 0, eris.Wrapf(err, "postgres: insert %s", rec.Name)
	}
	rec.ID = id
	return id, nil
}

// BulkInsert loads recs with COPY in a single transaction.
func (s *PostgresStore) BulkInsert(ctx context.Context, recs []model.Record) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		if err := prepareInsert(&recs[i]); err != nil {
			return 0, eris.Wrapf(err, "postgres: bulk insert %s", recs[i].Name)
		}
		rows = append(rows, recordValues(&recs[i]))
	}

	n, err := db.CopyInTx(ctx, s.pool, "records", recordColumns, rows)
	if err != nil {
		if isPgConstraint(err) {
			return 0, &ConstraintError{Err: err}
		}
		return 0, eris.Wrap(err, "postgres: bulk insert")
	}
	return n, nil
}

func (s *PostgresStore) Update(ctx context.Context, id int64, upd model.RecordUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin update")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cur, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+selectRecordColumns+` FROM records WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: update %d", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: load record %d", id)
	}

	merged, err := mergeUpdate(*cur, upd)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %d", id)
	}

	_, err = tx.Exec(ctx,
		`UPDATE records SET region_label = $1, country_label = $2, street = $3, city = $4, state = $5,
			postal_code = $6, address = $7, phone = $8, email = $9, website = $10, schedule_blob = $11,
			latitude = $12, longitude = $13, source_url = $14, last_refreshed = $15
		 WHERE id = $16`,
		merged.RegionLabel, merged.CountryLabel, merged.Street, merged.City, merged.State,
		merged.PostalCode, merged.Address, merged.Phone, merged.Email, merged.Website, merged.Schedule,
		merged.Latitude, merged.Longitude, merged.SourceURL, time.Now().UTC(),
		id,
	)
	if err != nil {
		if isPgConstraint(err) {
			return &ConstraintError{Key: merged.Key(), Err: err}
		}
		return eris.Wrapf(err, "postgres: update %d", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit update")
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*model.Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+selectRecordColumns+` FROM records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get %d", id)
	}
	return rec, eris.Wrapf(err, "postgres: get %d", id)
}

func (s *PostgresStore) GetByKey(ctx context.Context, name, organization string) (*model.Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+selectRecordColumns+` FROM records WHERE name = $1 AND organization = $2`,
		name, organization))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get %s/%s", organization, name)
	}
	return rec, eris.Wrapf(err, "postgres: get %s/%s", organization, name)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.Record, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Organization != "" {
		where = append(where, "organization = "+arg(filter.Organization))
	}
	if filter.State != "" {
		where = append(where, "state = "+arg(filter.State))
	}
	if filter.HasCoordinates {
		where = append(where, "latitude IS NOT NULL AND longitude IS NOT NULL")
	}

	query := `SELECT ` + selectRecordColumns + ` FROM records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY organization, name LIMIT ` + arg(listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE latitude IS NOT NULL AND longitude IS NOT NULL),
			COUNT(DISTINCT organization),
			COUNT(DISTINCT state)
		 FROM records`,
	).Scan(&st.TotalCount, &st.CountWithCoordinates, &st.DistinctOrganizations, &st.DistinctRegions)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return &st, nil
}

func (s *PostgresStore) AppendRunLog(ctx context.Context, entry model.RunLedgerEntry) (int64, error) {
	if err := validateEntry(entry); err != nil {
		return 0, err
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO run_log (run_id, organization, status, record_count, error_message, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		entry.RunID, entry.Organization, string(entry.Status), entry.RecordCount, entry.ErrorMessage, entry.OccurredAt,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: append run log for %s", entry.Organization)
	}
	return id, nil
}

func (s *PostgresStore) ListRunLog(ctx context.Context, filter model.RunLogFilter) ([]model.RunLedgerEntry, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Organization != "" {
		where = append(where, "organization = "+arg(filter.Organization))
	}
	if filter.RunID != "" {
		where = append(where, "run_id = "+arg(filter.RunID))
	}

	query := `SELECT ` + selectRunLogColumns + ` FROM run_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ` + arg(listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run log")
	}
	defer rows.Close()

	var entries []model.RunLedgerEntry
	for rows.Next() {
		e, err := scanRunLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run log")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list run log iterate")
}

// pgPlaceholders returns "$1, $2, ..." for n parameters.
func pgPlaceholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ph, ", ")
}

// isPgConstraint reports unique (23505) and check (23514) violations.
func isPgConstraint(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "23514"
	}
	return false
}
