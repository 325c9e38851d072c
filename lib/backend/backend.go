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

// Package backend defines the generic key/value storage interface that the
// State Store is built on, following the teacher's own lib/backend
// abstraction: typed services marshal their records to JSON and address
// them by a hierarchical byte-slice key, independent of which concrete
// storage engine sits underneath.
package backend

import (
	"context"
	"time"
)

// Item is one stored record: an opaque key, an opaque value, and an
// optional expiry. Keys are conventionally "/"-joined paths, e.g.
// "/users/alice", so a prefix scan can list a whole collection.
type Item struct {
	Key     []byte
	Value   []byte
	Expires time.Time
}

// Lease is returned by mutating operations and identifies the stored
// revision of an Item, used by CompareAndSwap to detect concurrent writers.
type Lease struct {
	Key      []byte
	Revision string
}

// Backend is the minimal key/value contract the State Store requires.
// Concrete implementations (lib/backend/sqlite) only need to satisfy this.
type Backend interface {
	// Get retrieves a single item by exact key. Returns a trace.NotFound
	// error if no item exists at key or it has expired.
	Get(ctx context.Context, key []byte) (*Item, error)

	// GetRange retrieves every item whose key falls in [startKey, endKey),
	// ordered by key, used to list a whole collection via a prefix pair
	// built with RangeEnd.
	GetRange(ctx context.Context, startKey, endKey []byte, limit int) ([]Item, error)

	// Create inserts an item and fails with trace.AlreadyExists if the key
	// is already present.
	Create(ctx context.Context, item Item) (*Lease, error)

	// Put inserts or overwrites an item unconditionally.
	Put(ctx context.Context, item Item) (*Lease, error)

	// CompareAndSwap replaces an item only if its current stored value
	// equals expected, returning trace.CompareFailed otherwise. Used for
	// optimistic-concurrency updates (e.g. KnownHost first-seen races).
	CompareAndSwap(ctx context.Context, expected, replaceWith Item) (*Lease, error)

	// Delete removes an item by exact key. Returns trace.NotFound if it
	// doesn't exist.
	Delete(ctx context.Context, key []byte) error

	// DeleteRange removes every item in [startKey, endKey), used for log
	// retention sweeps.
	DeleteRange(ctx context.Context, startKey, endKey []byte) error

	// Close releases the backend's underlying resources (DB handle, etc).
	Close() error
}

// RangeEnd computes the exclusive end key for a prefix scan over startKey,
// i.e. the smallest key that is lexicographically greater than every key
// beginning with startKey. Mirrors etcd's well-known "prefix range end"
// trick so GetRange/DeleteRange can express "everything under this prefix".
func RangeEnd(startKey []byte) []byte {
	end := make([]byte, len(startKey))
	copy(end, startKey)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	// startKey was all 0xff bytes, so no key of its length bounds the
	// prefix; append one more 0xff byte. Keys under the prefix that
	// themselves continue with 0xff sort at or after this end key and fall
	// outside the range.
	return append(end, 0xff)
}
