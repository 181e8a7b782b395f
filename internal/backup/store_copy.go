// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Copier produces a consistent copy of a live datastore at dst.
type Copier interface {
	Copy(ctx context.Context, src, dst string) error
}

// SQLiteCopier copies a live SQLite database with the online backup API, so
// the copy is transactionally consistent even while the host application writes.
type SQLiteCopier struct {
	// RetryInterval is the pause between steps while the source is busy or locked
	RetryInterval time.Duration
}

// NewSQLiteCopier returns a copier with default retry pacing.
func NewSQLiteCopier() *SQLiteCopier {
	return &SQLiteCopier{RetryInterval: 50 * time.Millisecond}
}

// Copy runs a full online backup of src's main database into dst, then fsyncs dst.
// ctx bounds the total time spent waiting on a busy source.
func (c *SQLiteCopier) Copy(ctx context.Context, src, dst string) error {
	srcDB, err := sql.Open(sqliteDriver, readOnlyDSN(src, false))
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcDB.Close()

	dstDB, err := sql.Open(sqliteDriver, dst)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dstDB.Close()

	srcConn, err := srcDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("connect source: %w", err)
	}
	defer srcConn.Close()

	dstConn, err := dstDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("connect destination: %w", err)
	}
	defer dstConn.Close()

	err = dstConn.Raw(func(dstRaw any) error {
		return srcConn.Raw(func(srcRaw any) error {
			dstSQLite, ok := dstRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.New("destination is not a sqlite3 connection")
			}
			srcSQLite, ok := srcRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.New("source is not a sqlite3 connection")
			}
			return c.runBackup(ctx, dstSQLite, srcSQLite)
		})
	})
	if err != nil {
		return err
	}

	// Close the destination before fsync so every page is flushed by SQLite.
	dstConn.Close()
	dstDB.Close()
	return syncFile(dst)
}

func (c *SQLiteCopier) runBackup(ctx context.Context, dst, src *sqlite3.SQLiteConn) error {
	bk, err := dst.Backup("main", src, "main")
	if err != nil {
		return fmt.Errorf("start online backup: %w", err)
	}

	retry := c.RetryInterval
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		// Step returns done=false with no error while the source is busy or locked.
		done, err := bk.Step(-1)
		if err != nil {
			bk.Finish() //nolint:errcheck // step error takes precedence
			return fmt.Errorf("online backup step: %w", err)
		}
		if done {
			break
		}

		select {
		case <-ctx.Done():
			bk.Finish() //nolint:errcheck // context error takes precedence
			return fmt.Errorf("online backup: %w", ctx.Err())
		case <-time.After(retry):
		}
	}

	if err := bk.Finish(); err != nil {
		return fmt.Errorf("finish online backup: %w", err)
	}
	return nil
}

// syncFile fsyncs a regular file.
func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open for sync: %w", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}
