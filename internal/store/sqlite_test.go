package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massfinder/parish-ingest/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newRecord(name, org string) *model.Record {
	return &model.Record{
		Name:         name,
		Organization: org,
		RegionLabel:  "KY",
		CountryLabel: "USA",
		Street:       model.StringPtr("214 S Lake Dr"),
		City:         model.StringPtr("Prestonsburg"),
		State:        model.StringPtr("KY"),
		PostalCode:   model.StringPtr("41653"),
		Address:      model.StringPtr("214 S Lake Dr, Prestonsburg, KY 41653"),
	}
}

func TestSQLite_InsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := newRecord("St. Martha", "Diocese of Lexington")
	rec.SetCoordinates(37.66, -82.77)
	id, err := st.Insert(ctx, rec)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, rec.ID)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "St. Martha", got.Name)
	assert.Equal(t, "Diocese of Lexington", got.Organization)
	assert.Equal(t, "41653", model.Deref(got.PostalCode))
	require.True(t, got.HasCoordinates())
	assert.InDelta(t, 37.66, *got.Latitude, 1e-9)
	assert.InDelta(t, -82.77, *got.Longitude, 1e-9)
	assert.NotNil(t, got.LastRefreshed)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.Phone)

	byKey, err := st.GetByKey(ctx, "St. Martha", "Diocese of Lexington")
	require.NoError(t, err)
	assert.Equal(t, id, byKey.ID)
}

func TestSQLite_Exists(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.Exists(ctx, "St. Paul", "Diocese of Lexington")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.Insert(ctx, newRecord("St. Paul", "Diocese of Lexington"))
	require.NoError(t, err)

	ok, err = st.Exists(ctx, "St. Paul", "Diocese of Lexington")
	require.NoError(t, err)
	assert.True(t, ok)

	// Identity is exact: case and whitespace differences are distinct keys.
	ok, err = st.Exists(ctx, "st. paul", "Diocese of Lexington")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = st.Exists(ctx, "St. Paul", "Diocese of Covington")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_DuplicateKeyIsConstraintError(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.Insert(ctx, newRecord("St. Paul", "Diocese of Lexington"))
	require.NoError(t, err)

	_, err = st.Insert(ctx, newRecord("St. Paul", "Diocese of Lexington"))
	require.Error(t, err)
	assert.True(t, IsConstraint(err))

	var ce *ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, model.Key{Name: "St. Paul", Organization: "Diocese of Lexington"}, ce.Key)

	// Same name under another organization is a different record.
	_, err = st.Insert(ctx, newRecord("St. Paul", "Diocese of Covington"))
	require.NoError(t, err)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCount)
}

func TestSQLite_InsertRejectsHalfCoordinate(t *testing.T) {
	st := newTestSQLiteStore(t)
	lat := 38.0
	rec := newRecord("St. Peter", "Diocese of Lexington")
	rec.Latitude = &lat

	_, err := st.Insert(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCoordinatePair)
}

func TestSQLite_CheckConstraintBackstopsPairing(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.db.Exec(`INSERT INTO records (name, organization, latitude) VALUES ('x', 'y', 1.0)`)
	require.Error(t, err)
	assert.True(t, isSQLiteConstraint(err))
}

func TestSQLite_InsertRejectsBlankName(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.Insert(context.Background(), newRecord("  ", "Diocese of Lexington"))
	assert.ErrorIs(t, err, model.ErrMissingName)
}

func TestSQLite_Update(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := newRecord("St. Paul", "Diocese of Lexington")
	old := time.Now().Add(-48 * time.Hour).UTC()
	rec.LastRefreshed = &old
	id, err := st.Insert(ctx, rec)
	require.NoError(t, err)

	lat, lon := 38.05, -84.5
	err = st.Update(ctx, id, model.RecordUpdate{
		Phone:     model.StringPtr("(859) 555-0100"),
		Latitude:  &lat,
		Longitude: &lon,
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "(859) 555-0100", model.Deref(got.Phone))
	assert.Equal(t, "214 S Lake Dr", model.Deref(got.Street), "untouched fields survive")
	require.True(t, got.HasCoordinates())
	assert.InDelta(t, 38.05, *got.Latitude, 1e-9)
	require.NotNil(t, got.LastRefreshed)
	assert.True(t, got.LastRefreshed.After(old))
}

func TestSQLite_UpdateRefreshOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := newRecord("St. Paul", "Diocese of Lexington")
	old := time.Now().Add(-time.Hour).UTC()
	rec.LastRefreshed = &old
	id, err := st.Insert(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, st.Update(ctx, id, model.RecordUpdate{}))
	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.LastRefreshed.After(old))
}

func TestSQLite_UpdateCoordinatePairing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := newRecord("St. Paul", "Diocese of Lexington")
	rec.SetCoordinates(38, -84)
	id, err := st.Insert(ctx, rec)
	require.NoError(t, err)

	lat := 39.0
	err = st.Update(ctx, id, model.RecordUpdate{Latitude: &lat})
	assert.ErrorIs(t, err, model.ErrCoordinatePair)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 38.0, *got.Latitude, 1e-9, "rejected update leaves row unchanged")

	require.NoError(t, st.Update(ctx, id, model.RecordUpdate{ClearCoordinates: true}))
	got, err = st.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.Latitude)
	assert.Nil(t, got.Longitude)
}

func TestSQLite_UpdateUnknownID(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.Update(context.Background(), 999, model.RecordUpdate{Phone: model.StringPtr("1")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_GetNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetByKey(context.Background(), "x", "y")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRecords(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := newRecord("St. Ann", "Diocese of Lexington")
	a.SetCoordinates(38, -84)
	_, err := st.Insert(ctx, a)
	require.NoError(t, err)

	b := newRecord("St. Bede", "Diocese of Lexington")
	_, err = st.Insert(ctx, b)
	require.NoError(t, err)

	c := newRecord("Holy Cross", "Diocese of Memphis")
	c.State = model.StringPtr("TN")
	_, err = st.Insert(ctx, c)
	require.NoError(t, err)

	all, err := st.ListRecords(ctx, model.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "St. Ann", all[0].Name)

	lex, err := st.ListRecords(ctx, model.RecordFilter{Organization: "Diocese of Lexington"})
	require.NoError(t, err)
	assert.Len(t, lex, 2)

	tn, err := st.ListRecords(ctx, model.RecordFilter{State: "TN"})
	require.NoError(t, err)
	require.Len(t, tn, 1)
	assert.Equal(t, "Holy Cross", tn[0].Name)

	geo, err := st.ListRecords(ctx, model.RecordFilter{HasCoordinates: true})
	require.NoError(t, err)
	require.Len(t, geo, 1)
	assert.Equal(t, "St. Ann", geo[0].Name)

	one, err := st.ListRecords(ctx, model.RecordFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSQLite_Stats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	empty, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{}, *empty)

	a := newRecord("St. Ann", "Diocese of Lexington")
	a.SetCoordinates(38, -84)
	_, err = st.Insert(ctx, a)
	require.NoError(t, err)
	_, err = st.Insert(ctx, newRecord("St. Bede", "Diocese of Lexington"))
	require.NoError(t, err)
	c := newRecord("Holy Cross", "Diocese of Memphis")
	c.State = model.StringPtr("TN")
	_, err = st.Insert(ctx, c)
	require.NoError(t, err)
	d := newRecord("No State", "Diocese of Memphis")
	d.State = nil
	_, err = st.Insert(ctx, d)
	require.NoError(t, err)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalCount)
	assert.Equal(t, 1, stats.CountWithCoordinates)
	assert.Equal(t, 2, stats.DistinctOrganizations)
	assert.Equal(t, 2, stats.DistinctRegions)
}

func TestSQLite_RunLogAppendOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entries := []model.RunLedgerEntry{
		{RunID: "run-1", Organization: "Diocese of Lexington", Status: model.RunStatusSuccess, RecordCount: 12, OccurredAt: base},
		{RunID: "run-1", Organization: "Diocese of Covington", Status: model.RunStatusFailed, ErrorMessage: model.StringPtr("No scraper available"), OccurredAt: base.Add(time.Second)},
		{RunID: "run-2", Organization: "Diocese of Lexington", Status: model.RunStatusSuccess, RecordCount: 0, OccurredAt: base.Add(time.Hour)},
	}
	for _, e := range entries {
		id, err := st.AppendRunLog(ctx, e)
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	all, err := st.ListRunLog(ctx, model.RunLogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-2", all[0].RunID, "newest first")
	assert.Equal(t, "No scraper available", model.Deref(all[1].ErrorMessage))
	assert.Equal(t, model.RunStatusFailed, all[1].Status)

	lex, err := st.ListRunLog(ctx, model.RunLogFilter{Organization: "Diocese of Lexington"})
	require.NoError(t, err)
	assert.Len(t, lex, 2)

	run1, err := st.ListRunLog(ctx, model.RunLogFilter{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, run1, 2)

	// Identical entries are appended, never merged.
	_, err = st.AppendRunLog(ctx, entries[0])
	require.NoError(t, err)
	all, err = st.ListRunLog(ctx, model.RunLogFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLite_RunLogRejectsBadStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.AppendRunLog(context.Background(), model.RunLedgerEntry{
		RunID: "r", Organization: "o", Status: "running",
	})
	require.Error(t, err)

	_, err = st.db.Exec(`INSERT INTO run_log (run_id, organization, status) VALUES ('r', 'o', 'running')`)
	require.Error(t, err)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	_, err = st.Insert(ctx, newRecord("St. Paul", "Diocese of Lexington"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st2, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer st2.Close() //nolint:errcheck
	ok, err := st2.Exists(ctx, "St. Paul", "Diocese of Lexington")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWith_ClosesAndMigrates(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "with.db")
	cfg := Config{Driver: DriverSQLite, DatabaseURL: dbPath}

	err := With(context.Background(), OpenerFor(cfg), func(ctx context.Context, st Store) error {
		_, err := st.Insert(ctx, newRecord("St. Paul", "Diocese of Lexington"))
		return err
	})
	require.NoError(t, err)

	boom := eris.New("boom")
	err = With(context.Background(), OpenerFor(cfg), func(ctx context.Context, st Store) error {
		ok, err := st.Exists(ctx, "St. Paul", "Diocese of Lexington")
		require.NoError(t, err)
		assert.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWith_OpenFailure(t *testing.T) {
	err := With(context.Background(), OpenerFor(Config{Driver: "oracle"}), func(context.Context, Store) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestOpen_PostgresRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: DriverPostgres})
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"parishes.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		sqliteDSN("parishes.db"))
	assert.Equal(t,
		"file:p.db?mode=rwc&_pragma=busy_timeout(100)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		sqliteDSN("file:p.db?mode=rwc&_pragma=busy_timeout(100)"))
}

func TestSQLite_PragmasOnEveryConnection(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Hold two connections at once so the pool must open a second one.
	c1, err := st.db.Conn(ctx)
	require.NoError(t, err)
	defer c1.Close() //nolint:errcheck
	c2, err := st.db.Conn(ctx)
	require.NoError(t, err)
	defer c2.Close() //nolint:errcheck

	for i, c := range []*sql.Conn{c1, c2} {
		var timeout, fk int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 5000, timeout, "conn %d", i)
		assert.Equal(t, 1, fk, "conn %d", i)
	}
}
