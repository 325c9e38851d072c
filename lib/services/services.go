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

// Package services provides typed, JSON-over-backend.Backend accessors for
// each State Store entity, following the teacher's own lib/services
// layering: backend.Backend only knows about bytes, services knows about
// lib/types structs.
package services

import (
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/backend"
)

// Services aggregates every typed accessor the State Store exposes, the way
// the teacher's services.Services interface composes UsersService, Trust,
// Access, and friends.
type Services interface {
	Users
	Targets
	KnownHosts
	Credentials
	Sessions
	Recordings
	AuthAttempts
	LogLines
}

type services struct {
	Users
	Targets
	KnownHosts
	Credentials
	Sessions
	Recordings
	AuthAttempts
	LogLines
}

// New builds a Services implementation over a single backend.Backend,
// partitioning all entities into the key prefixes declared by each
// accessor file (prefixUsers, prefixTargets, ...).
func New(bk backend.Backend) Services {
	return &services{
		Users:        NewUsers(bk),
		Targets:      NewTargets(bk),
		KnownHosts:   NewKnownHosts(bk),
		Credentials:  NewCredentials(bk),
		Sessions:     NewSessions(bk),
		Recordings:   NewRecordings(bk),
		AuthAttempts: NewAuthAttempts(bk),
		LogLines:     NewLogLines(bk),
	}
}

func marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return b, nil
}

func unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// itemsToList runs unmarshal over a GetRange result, collecting successfully
// decoded values and returning the first decode error encountered, if any.
func itemsToList[T any](items []backend.Item) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := unmarshal(item.Value, &v); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, v)
	}
	return out, nil
}
