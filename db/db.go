// Package db opens the sqlite file backing the identity store
// (mattn/go-sqlite3), with WAL enabled for concurrent access.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens a sqlite database at path and enables WAL mode for better
// concurrency across the many connection goroutines sharing it.
func Open(path string) (*sql.DB, error) {
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := database.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		database.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return database, nil
}
