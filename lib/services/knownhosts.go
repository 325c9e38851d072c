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

package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/backend"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

const prefixKnownHosts = "/known_hosts/"

// KnownHosts is the typed accessor for types.KnownHost records, keyed by
// target and host:port so a target can be dialed against multiple
// addresses (e.g. a failover pair) without key collisions.
type KnownHosts interface {
	GetKnownHost(ctx context.Context, targetID, host string, port int) (*types.KnownHost, error)
	ListKnownHosts(ctx context.Context, targetID string) ([]types.KnownHost, error)
	// FirstSeenOrVerify implements trust-on-first-use: if no record exists
	// for this target/host/port, kh is stored and returned unchanged, ok is
	// true. If a record exists, it is compared against kh's key; a match
	// returns the stored record with ok true, a mismatch returns the stored
	// record with ok false so the caller can raise a host-key-changed alert
	// per spec.md section 4.2.
	FirstSeenOrVerify(ctx context.Context, kh types.KnownHost) (stored *types.KnownHost, ok bool, err error)
	DeleteKnownHost(ctx context.Context, targetID, host string, port int) error
}

type knownHostsService struct {
	bk backend.Backend
}

func NewKnownHosts(bk backend.Backend) KnownHosts {
	return &knownHostsService{bk: bk}
}

func knownHostKey(targetID, host string, port int) []byte {
	return []byte(fmt.Sprintf("%s%s/%s:%d", prefixKnownHosts, targetID, host, port))
}

func (s *knownHostsService) GetKnownHost(ctx context.Context, targetID, host string, port int) (*types.KnownHost, error) {
	item, err := s.bk.Get(ctx, knownHostKey(targetID, host, port))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var kh types.KnownHost
	if err := unmarshal(item.Value, &kh); err != nil {
		return nil, trace.Wrap(err)
	}
	return &kh, nil
}

func (s *knownHostsService) ListKnownHosts(ctx context.Context, targetID string) ([]types.KnownHost, error) {
	start := []byte(fmt.Sprintf("%s%s/", prefixKnownHosts, targetID))
	items, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return itemsToList[types.KnownHost](items)
}

// FirstSeenOrVerify races safely against another connector goroutine seeing
// the same never-before-seen host at the same instant: the losing Create
// call gets trace.AlreadyExists, re-reads what the winner stored, and
// compares against that instead of failing the connection outright. This is
// the "optimistic KnownHost insert with retry-on-uniqueness-race" behavior
// called for in spec.md sections 4.2/4.5.
func (s *knownHostsService) FirstSeenOrVerify(ctx context.Context, kh types.KnownHost) (*types.KnownHost, bool, error) {
	key := knownHostKey(kh.TargetID, kh.Host, kh.Port)
	value, err := marshal(kh)
	if err != nil {
		return nil, false, trace.Wrap(err)
	}
	_, err = s.bk.Create(ctx, backend.Item{Key: key, Value: value})
	switch {
	case err == nil:
		return &kh, true, nil
	case trace.IsAlreadyExists(err):
		existing, getErr := s.bk.Get(ctx, key)
		if getErr != nil {
			return nil, false, trace.Wrap(getErr)
		}
		var stored types.KnownHost
		if unmarshalErr := unmarshal(existing.Value, &stored); unmarshalErr != nil {
			return nil, false, trace.Wrap(unmarshalErr)
		}
		if stored.KeyType == kh.KeyType && bytes.Equal(stored.KeyBytes, kh.KeyBytes) {
			return &stored, true, nil
		}
		return &stored, false, nil
	default:
		return nil, false, trace.Wrap(err)
	}
}

func (s *knownHostsService) DeleteKnownHost(ctx context.Context, targetID, host string, port int) error {
	return trace.Wrap(s.bk.Delete(ctx, knownHostKey(targetID, host, port)))
}
