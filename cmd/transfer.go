package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/config"
	"github.com/massfinder/parish-ingest/internal/model"
	"github.com/massfinder/parish-ingest/internal/store"
)

const transferBatchSize = 500

type transferResult struct {
	Copied  int
	Skipped int
	Ledger  int
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Copy parishes from a SQLite file into the configured store",
	Long:  "Copies every record from a SQLite database into the configured store (typically Postgres). Records whose identity already exists in the destination are skipped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("transfer"); err != nil {
			return err
		}
		from, _ := cmd.Flags().GetString("from")
		ledger, _ := cmd.Flags().GetBool("ledger")
		if sameDatabase(cfg, from) {
			return eris.Errorf("transfer: %s is both source and destination", from)
		}

		src := store.OpenerFor(store.Config{Driver: store.DriverSQLite, DatabaseURL: from})
		res, err := runTransfer(cmd.Context(), src, openStore(cfg), ledger)
		if err != nil {
			return err
		}
		formatTransfer(os.Stdout, res)
		return nil
	},
}

func init() {
	transferCmd.Flags().String("from", store.DefaultDSN, "source SQLite database")
	transferCmd.Flags().Bool("ledger", false, "also copy run ledger entries")
	rootCmd.AddCommand(transferCmd)
}

// runTransfer copies records, and optionally the ledger, from src to dst.
func runTransfer(ctx context.Context, src, dst store.Opener, withLedger bool) (transferResult, error) {
	var res transferResult
	err := store.With(ctx, src, func(ctx context.Context, from store.Store) error {
		recs, err := from.ListRecords(ctx, model.RecordFilter{Limit: exportLimit})
		if err != nil {
			return eris.Wrap(err, "transfer: read records")
		}
		var entries []model.RunLedgerEntry
		if withLedger {
			entries, err = from.ListRunLog(ctx, model.RunLogFilter{Limit: exportLimit})
			if err != nil {
				return eris.Wrap(err, "transfer: read run log")
			}
		}

		return store.With(ctx, dst, func(ctx context.Context, to store.Store) error {
			var fresh []model.Record
			for i := range recs {
				ok, err := to.Exists(ctx, recs[i].Name, recs[i].Organization)
				if err != nil {
					return eris.Wrap(err, "transfer: check existing")
				}
				if ok {
					res.Skipped++
					continue
				}
				fresh = append(fresh, recs[i])
			}

			n, err := copyRecords(ctx, to, fresh)
			res.Copied = n
			if err != nil {
				return err
			}

			// ListRunLog is newest first; append oldest first.
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				e.ID = 0
				if _, err := to.AppendRunLog(ctx, e); err != nil {
					return eris.Wrap(err, "transfer: append run log")
				}
				res.Ledger++
			}
			return nil
		})
	})
	return res, err
}

// copyRecords bulk-loads when the destination supports it and falls back
// to row inserts otherwise.
func copyRecords(ctx context.Context, to store.Store, recs []model.Record) (int, error) {
	log := zap.L().With(zap.String("component", "transfer"))
	for i := range recs {
		recs[i].ID = 0
	}

	if bl, ok := to.(store.BulkLoader); ok {
		copied := 0
		for start := 0; start < len(recs); start += transferBatchSize {
			end := min(start+transferBatchSize, len(recs))
			n, err := bl.BulkInsert(ctx, recs[start:end])
			if err != nil {
				return copied, eris.Wrapf(err, "transfer: bulk insert batch at %d", start)
			}
			copied += int(n)
			log.Debug("batch copied", zap.Int("rows", int(n)), zap.Int("total", copied))
		}
		return copied, nil
	}

	copied := 0
	for i := range recs {
		if _, err := to.Insert(ctx, &recs[i]); err != nil {
			if store.IsConstraint(err) {
				log.Warn("record appeared during transfer", zap.String("name", recs[i].Name))
				continue
			}
			return copied, eris.Wrapf(err, "transfer: insert %s", recs[i].Name)
		}
		copied++
	}
	return copied, nil
}

func formatTransfer(out io.Writer, r transferResult) {
	_, _ = fmt.Fprintf(out, "Copied %d parishes (%d already present), %d ledger entries\n", r.Copied, r.Skipped, r.Ledger)
}

// sameDatabase reports whether the configured store is the SQLite file at from.
func sameDatabase(c *config.Config, from string) bool {
	if c.Store.Driver != "" && c.Store.Driver != store.DriverSQLite {
		return false
	}
	dsn := c.Store.DatabaseURL
	if dsn == "" {
		dsn = store.DefaultDSN
	}
	return dsn == from
}
