package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massfinder/parish-ingest/internal/model"
	"github.com/massfinder/parish-ingest/internal/store"
)

func sqliteOpener(path string) store.Opener {
	return store.OpenerFor(store.Config{Driver: store.DriverSQLite, DatabaseURL: path})
}

func seedStore(t *testing.T, open store.Opener, names ...string) {
	t.Helper()
	err := store.With(context.Background(), open, func(ctx context.Context, st store.Store) error {
		for _, n := range names {
			rec := &model.Record{Name: n, Organization: "Diocese of Lexington", RegionLabel: "KY", CountryLabel: "USA"}
			rec.SetCoordinates(38.0, -84.5)
			if _, err := st.Insert(ctx, rec); err != nil {
				return err
			}
		}
		_, err := st.AppendRunLog(ctx, model.RunLedgerEntry{
			RunID: "run-1", Organization: "Diocese of Lexington", Status: model.RunStatusSuccess, RecordCount: len(names),
		})
		return err
	})
	require.NoError(t, err)
}

func TestRunTransfer_SkipsExistingAndCopiesLedger(t *testing.T) {
	dir := t.TempDir()
	src := sqliteOpener(filepath.Join(dir, "src.db"))
	dst := sqliteOpener(filepath.Join(dir, "dst.db"))

	seedStore(t, src, "St. Ann", "St. Bede", "St. Clare")
	err := store.With(context.Background(), dst, func(ctx context.Context, st store.Store) error {
		_, err := st.Insert(ctx, &model.Record{Name: "St. Bede", Organization: "Diocese of Lexington"})
		return err
	})
	require.NoError(t, err)

	res, err := runTransfer(context.Background(), src, dst, true)
	require.NoError(t, err)
	assert.Equal(t, transferResult{Copied: 2, Skipped: 1, Ledger: 1}, res)

	err = store.With(context.Background(), dst, func(ctx context.Context, st store.Store) error {
		stats, err := st.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalCount)
		assert.Equal(t, 2, stats.CountWithCoordinates)

		entries, err := st.ListRunLog(ctx, model.RunLogFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "run-1", entries[0].RunID)
		return nil
	})
	require.NoError(t, err)
}

func TestRunTransfer_WithoutLedger(t *testing.T) {
	dir := t.TempDir()
	src := sqliteOpener(filepath.Join(dir, "src.db"))
	dst := sqliteOpener(filepath.Join(dir, "dst.db"))
	seedStore(t, src, "St. Ann")

	res, err := runTransfer(context.Background(), src, dst, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Copied)
	assert.Zero(t, res.Ledger)

	again, err := runTransfer(context.Background(), src, dst, false)
	require.NoError(t, err)
	assert.Equal(t, transferResult{Skipped: 1}, again)
}

func TestSameDatabase(t *testing.T) {
	c := testConfig(t)
	assert.True(t, sameDatabase(c, c.Store.DatabaseURL))
	assert.False(t, sameDatabase(c, "other.db"))

	c.Store.DatabaseURL = ""
	assert.True(t, sameDatabase(c, store.DefaultDSN))

	c.Store.Driver = store.DriverPostgres
	assert.False(t, sameDatabase(c, store.DefaultDSN))
}

func TestFormatTransfer(t *testing.T) {
	var buf bytes.Buffer
	formatTransfer(&buf, transferResult{Copied: 3, Skipped: 1, Ledger: 2})
	assert.Equal(t, "Copied 3 parishes (1 already present), 2 ledger entries\n", buf.String())
}
