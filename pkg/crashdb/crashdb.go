// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package crashdb keeps a sqlite ledger of unique crashes found during the campaign.
package crashdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS crashes (
	sig        TEXT PRIMARY KEY,
	category   TEXT NOT NULL,
	title      TEXT NOT NULL,
	path       TEXT NOT NULL,
	first_seen INTEGER NOT NULL,
	last_seen  INTEGER NOT NULL,
	count      INTEGER NOT NULL
);`

type DB struct {
	mu sync.Mutex
	db *sql.DB
}

type Crash struct {
	Sig       string
	Category  string
	Title     string
	Path      string
	FirstSeen time.Time
	LastSeen  time.Time
	Count     int
}

func Open(filename string) (*DB, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open crash db: %w", err)
	}
	// sqlite does not support concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create crash db schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Record inserts a new crash or bumps count of an existing one.
// It returns true if the crash signature was not seen before.
func (db *DB) Record(ctx context.Context, c Crash) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := time.Now().Unix()
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO crashes (sig, category, title, path, first_seen, last_seen, count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(sig) DO NOTHING`,
		c.Sig, c.Category, c.Title, c.Path, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to record crash: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 0 {
		return true, nil
	}
	if _, err := db.db.ExecContext(ctx,
		`UPDATE crashes SET count = count + 1, last_seen = ? WHERE sig = ?`, now, c.Sig); err != nil {
		return false, fmt.Errorf("failed to update crash: %w", err)
	}
	return false, nil
}

func (db *DB) List(ctx context.Context) ([]Crash, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT sig, category, title, path, first_seen, last_seen, count
		FROM crashes ORDER BY first_seen, sig`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Crash
	for rows.Next() {
		var c Crash
		var first, last int64
		if err := rows.Scan(&c.Sig, &c.Category, &c.Title, &c.Path, &first, &last, &c.Count); err != nil {
			return nil, err
		}
		c.FirstSeen = time.Unix(first, 0)
		c.LastSeen = time.Unix(last, 0)
		res = append(res, c)
	}
	return res, rows.Err()
}

func (db *DB) Close() error {
	return db.db.Close()
}
