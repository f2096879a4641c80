//go:build cgo
// +build cgo

package sql

import (
	"database/sql"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/openanchor/anchorsvc/storage"
)

// SQLite3 options for creating the blob-table PageStore backend.
type SQLite3 struct {
	File string `json:"file"`
}

// Open creates a new PageStore backed by SQLite3.
func (s *SQLite3) Open() (storage.PageStore, error) {
	return s.open()
}

func (s *SQLite3) open() (*conn, error) {
	db, err := sql.Open("sqlite3", s.File)
	if err != nil {
		return nil, err
	}

	// Only one connection at a time; any other goroutine attempting
	// concurrent access waits.
	db.SetMaxOpenConns(1)
	errCheck := func(err error) bool {
		sqlErr, ok := err.(sqlite3.Error)
		if !ok {
			return false
		}
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	c := &conn{db, &flavorSQLite3, errCheck}
	if err := c.migrate(); err != nil {
		return nil, fmt.Errorf("failed to perform migrations: %v", err)
	}
	return c, nil
}
