/*
Copyright 2026 Warpgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sqlite implements backend.Backend over a local SQLite database,
// the same storage engine the teacher itself links (github.com/mattn/
// go-sqlite3) for single-node deployments.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	// registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/backend"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "backend:sqlite"})

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key      BLOB PRIMARY KEY,
	value    BLOB NOT NULL,
	revision TEXT NOT NULL,
	expires  INTEGER
);
CREATE INDEX IF NOT EXISTS kv_expires_idx ON kv(expires);
`

// Config controls how a Backend opens its database file.
type Config struct {
	// Path is the sqlite3 DSN, e.g. "/var/lib/warpgate/state.db" or
	// "file::memory:?cache=shared" for tests.
	Path string
	// Clock is injected so expiry checks and revision stamping are
	// deterministic in tests.
	Clock clockwork.Clock
	// RetryBackoff is the base delay between retries of a write that lost
	// a race (see withRetry). Defaults to 10ms.
	RetryBackoff time.Duration
	// MaxRetries bounds the number of CompareAndSwap/Create retries on a
	// detected write race before giving up. Defaults to 5.
	MaxRetries int
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("sqlite: missing database path")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 10 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return nil
}

// Backend is a backend.Backend implementation over a single SQLite table
// keyed on an opaque byte-slice key, mirroring the teacher's own preference
// for a flat key/value table underneath typed services.
type Backend struct {
	cfg Config
	db  *sql.DB
}

// New opens (creating if necessary) the sqlite database at cfg.Path and
// returns a ready Backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, trace.Wrap(err, "opening sqlite database %q", cfg.Path)
	}
	// SQLite only tolerates a single writer; serialize via one connection
	// so concurrent callers don't trip over SQLITE_BUSY under normal load.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "initializing sqlite schema")
	}
	return &Backend{cfg: cfg, db: db}, nil
}

func (b *Backend) Close() error {
	return trace.Wrap(b.db.Close())
}

func isExpired(now time.Time, expires sql.NullInt64) bool {
	if !expires.Valid || expires.Int64 == 0 {
		return false
	}
	return now.UnixNano() >= expires.Int64
}

func expiresColumn(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func newRevision(clock clockwork.Clock) string {
	return fmt.Sprintf("%d", clock.Now().UnixNano())
}

func (b *Backend) Get(ctx context.Context, key []byte) (*backend.Item, error) {
	row := b.db.QueryRowContext(ctx, `SELECT value, revision, expires FROM kv WHERE key = ?`, key)
	var value []byte
	var revision string
	var expires sql.NullInt64
	if err := row.Scan(&value, &revision, &expires); err != nil {
		if err == sql.ErrNoRows {
			return nil, trace.NotFound("key %q not found", key)
		}
		return nil, trace.Wrap(err)
	}
	if isExpired(b.cfg.Clock.Now(), expires) {
		_, _ = b.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, trace.NotFound("key %q not found", key)
	}
	item := &backend.Item{Key: key, Value: value}
	if expires.Valid {
		item.Expires = time.Unix(0, expires.Int64)
	}
	return item, nil
}

func (b *Backend) GetRange(ctx context.Context, startKey, endKey []byte, limit int) ([]backend.Item, error) {
	query := `SELECT key, value, expires FROM kv WHERE key >= ? AND key < ? ORDER BY key ASC`
	args := []interface{}{startKey, endKey}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	now := b.cfg.Clock.Now()
	var items []backend.Item
	var expiredKeys [][]byte
	for rows.Next() {
		var key, value []byte
		var expires sql.NullInt64
		if err := rows.Scan(&key, &value, &expires); err != nil {
			return nil, trace.Wrap(err)
		}
		if isExpired(now, expires) {
			expiredKeys = append(expiredKeys, key)
			continue
		}
		item := backend.Item{Key: key, Value: value}
		if expires.Valid {
			item.Expires = time.Unix(0, expires.Int64)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	for _, k := range expiredKeys {
		_, _ = b.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k)
	}
	return items, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (b *Backend) Create(ctx context.Context, item backend.Item) (*backend.Lease, error) {
	var lease *backend.Lease
	err := b.withRetry(ctx, func() error {
		revision := newRevision(b.cfg.Clock)
		_, err := b.db.ExecContext(ctx,
			`INSERT INTO kv (key, value, revision, expires) VALUES (?, ?, ?, ?)`,
			item.Key, item.Value, revision, expiresColumn(item.Expires))
		if err != nil {
			if isUniqueViolation(err) {
				return trace.AlreadyExists("key %q already exists", item.Key)
			}
			return trace.Wrap(err)
		}
		lease = &backend.Lease{Key: item.Key, Revision: revision}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return lease, nil
}

func (b *Backend) Put(ctx context.Context, item backend.Item) (*backend.Lease, error) {
	revision := newRevision(b.cfg.Clock)
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, revision, expires) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, revision = excluded.revision, expires = excluded.expires`,
		item.Key, item.Value, revision, expiresColumn(item.Expires))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &backend.Lease{Key: item.Key, Revision: revision}, nil
}

func (b *Backend) CompareAndSwap(ctx context.Context, expected, replaceWith backend.Item) (*backend.Lease, error) {
	var lease *backend.Lease
	err := b.withRetry(ctx, func() error {
		current, err := b.Get(ctx, expected.Key)
		if err != nil {
			return trace.Wrap(err)
		}
		if !bytes.Equal(current.Value, expected.Value) {
			return trace.CompareFailed("value at key %q does not match expected", expected.Key)
		}
		revision := newRevision(b.cfg.Clock)
		res, err := b.db.ExecContext(ctx,
			`UPDATE kv SET value = ?, revision = ?, expires = ? WHERE key = ? AND value = ?`,
			replaceWith.Value, revision, expiresColumn(replaceWith.Expires), expected.Key, expected.Value)
		if err != nil {
			return trace.Wrap(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return trace.Wrap(err)
		}
		if n == 0 {
			return trace.CompareFailed("concurrent write to key %q", expected.Key)
		}
		lease = &backend.Lease{Key: expected.Key, Revision: revision}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return lease, nil
}

func (b *Backend) Delete(ctx context.Context, key []byte) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.NotFound("key %q not found", key)
	}
	return nil
}

func (b *Backend) DeleteRange(ctx context.Context, startKey, endKey []byte) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE key >= ? AND key < ?`, startKey, endKey)
	return trace.Wrap(err)
}

// withRetry retries fn with exponential backoff, doubling from
// cfg.RetryBackoff, while it fails with trace.CompareFailed or a raw UNIQUE
// constraint error, up to cfg.MaxRetries times. Any other error, including
// the trace.AlreadyExists that Create reports for a duplicate key, is
// returned at once.
func (b *Backend) withRetry(ctx context.Context, fn func() error) error {
	delay := b.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !trace.IsCompareFailed(err) && !isUniqueViolation(err) {
			return trace.Wrap(err)
		}
		lastErr = err
		if attempt == b.cfg.MaxRetries {
			break
		}
		log.WithError(err).Debugf("retrying sqlite write after race, attempt %d", attempt+1)
		select {
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		case <-b.cfg.Clock.After(delay):
		}
		delay *= 2
	}
	return trace.Wrap(lastErr)
}
