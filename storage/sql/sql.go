// Package sql provides PageStore implementations backed by a single
// blob table, translated across Postgres, MySQL and SQLite flavors.
package sql

import (
	"context"
	"database/sql"
	"regexp"

	"github.com/lib/pq"

	// import third party drivers
	_ "github.com/mattn/go-sqlite3"

	"github.com/openanchor/anchorsvc/storage"
)

var _ storage.PageStore = (*conn)(nil)

// flavor represents a specific SQL implementation, and is used to
// translate query strings between different drivers. Flavors aren't
// meant to translate arbitrary SQL, only the handful of queries the
// blob table needs.
type flavor struct {
	queryReplacers []replacer

	// Optional function to create and finish a transaction.
	executeTx func(db *sql.DB, fn func(*sql.Tx) error) error
}

type replacer struct {
	re   *regexp.Regexp
	with string
}

var bindRegexp = regexp.MustCompile(`\$\d+`)

func matchLiteral(s string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(s) + `\b`)
}

var (
	flavorPostgres = flavor{
		// Be careful not to wrap sql errors in the callback 'fn',
		// otherwise serialization failures will not be detected and
		// retried.
		executeTx: func(db *sql.DB, fn func(sqlTx *sql.Tx) error) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			opts := &sql.TxOptions{Isolation: sql.LevelSerializable}

			for {
				tx, err := db.BeginTx(ctx, opts)
				if err != nil {
					return err
				}

				if err := fn(tx); err != nil {
					tx.Rollback()
					if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "serialization_failure" {
						continue
					}
					return err
				}

				if err := tx.Commit(); err != nil {
					if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "serialization_failure" {
						continue
					}
					return err
				}
				return nil
			}
		},
	}

	flavorMySQL = flavor{
		queryReplacers: []replacer{
			{matchLiteral("bytea"), "blob"},
		},
	}

	flavorSQLite3 = flavor{
		queryReplacers: []replacer{
			{bindRegexp, "?"},
			{matchLiteral("bytea"), "blob"},
		},
	}
)

func (f flavor) translate(query string) string {
	for _, r := range f.queryReplacers {
		query = r.re.ReplaceAllString(query, r.with)
	}
	return query
}

// conn is a PageStore backed by a single "pages" table with columns
// (key bigint/integer primary key, value bytea/blob).
type conn struct {
	db                 *sql.DB
	flavor             *flavor
	alreadyExistsCheck func(err error) bool
}

func (c *conn) Close() error {
	return c.db.Close()
}

func (c *conn) migrate() error {
	_, err := c.db.Exec(c.flavor.translate(
		`CREATE TABLE IF NOT EXISTS pages (
			key bigint PRIMARY KEY,
			value bytea NOT NULL
		)`,
	))
	return err
}

func (c *conn) Get(ctx context.Context, key uint64) ([]byte, bool, error) {
	row := c.db.QueryRowContext(ctx, c.flavor.translate(
		`SELECT value FROM pages WHERE key = $1`,
	), int64(key))

	var value []byte
	switch err := row.Scan(&value); err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (c *conn) Put(ctx context.Context, key uint64, value []byte) error {
	return c.execTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, c.flavor.translate(
			`DELETE FROM pages WHERE key = $1`,
		), int64(key))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, c.flavor.translate(
			`INSERT INTO pages (key, value) VALUES ($1, $2)`,
		), int64(key), value)
		return err
	})
}

// execTx runs fn inside a transaction, retrying on serialization
// failures when the flavor reports them (Postgres under
// SERIALIZABLE isolation).
func (c *conn) execTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if c.flavor.executeTx != nil {
		return c.flavor.executeTx(c.db, fn)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
