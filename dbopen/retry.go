package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// The blob store, the event log and the retention sweep share one database
// file, so short BUSY windows are expected even under WAL. A few linear
// backoff attempts ride them out.
const (
	busyRetries = 3
	busyBackoff = 100 * time.Millisecond
)

// IsBusy reports whether err is an SQLite BUSY/locked condition, the only
// error class worth retrying here.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn inside a transaction, retrying the whole transaction on
// BUSY with linear backoff. fn must be safe to re-run; any non-BUSY error
// from fn aborts immediately with a rollback.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = runTxOnce(ctx, db, fn); err == nil {
			return nil
		}
		if !IsBusy(err) {
			return err
		}
		if werr := sleepCtx(ctx, busyBackoff*time.Duration(attempt+1)); werr != nil {
			return fmt.Errorf("dbopen: retry wait: %w", werr)
		}
	}
	return fmt.Errorf("dbopen: still busy after %d attempts: %w", busyRetries, err)
}

func runTxOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec runs a single statement with the same BUSY retry policy as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		var res sql.Result
		if res, err = db.ExecContext(ctx, query, args...); err == nil {
			return res, nil
		}
		if !IsBusy(err) {
			return nil, err
		}
		if werr := sleepCtx(ctx, busyBackoff*time.Duration(attempt+1)); werr != nil {
			return nil, fmt.Errorf("dbopen: retry wait: %w", werr)
		}
	}
	return nil, fmt.Errorf("dbopen: still busy after %d attempts: %w", busyRetries, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
