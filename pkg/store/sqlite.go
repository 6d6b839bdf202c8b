// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/yeetrun/nugetfeed/pkg/codecutil"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS blobs (
	key  TEXT PRIMARY KEY,
	data BLOB NOT NULL
)`

// SQLite is a Store backed by a single SQLite table. Blobs are stored zstd
// compressed.
type SQLite struct {
	Locker

	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if necessary) the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM blobs WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query blob: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("query blob: %w", err)
	}
	return codecutil.ZstdDecode(data)
}

func (s *SQLite) Put(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	enc, err := codecutil.ZstdEncode(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blobs (key, data) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data`, key, enc)
	if err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if prefix == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT key FROM blobs ORDER BY key`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT key FROM blobs WHERE instr(key, ?) = 1 ORDER BY key`, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) Move(ctx context.Context, src, dst string) error {
	if err := checkKey(dst); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM blobs WHERE key = ?`, src).Scan(&n); err != nil {
		return fmt.Errorf("query blob: %w", err)
	}
	if n == 0 {
		return ErrNotExist
	}
	if src == dst {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, dst); err != nil {
		return fmt.Errorf("delete %s: %w", dst, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE blobs SET key = ? WHERE key = ?`, dst, src); err != nil {
		return fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}
	return tx.Commit()
}
