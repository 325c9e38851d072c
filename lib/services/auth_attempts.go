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
	"context"
	"fmt"
	"time"

	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/backend"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

const prefixAuthAttempts = "/auth_attempts/"

// AuthAttempts is the typed accessor for types.AuthAttempt records. Unlike
// Sessions, entries expire: an attempt that never completes (abandoned
// OTP challenge, abandoned web approval) is swept automatically by the
// backend once its TTL elapses, so the State Store never accumulates
// unbounded half-finished logins.
type AuthAttempts interface {
	GetAuthAttempt(ctx context.Context, id string) (*types.AuthAttempt, error)
	GetAuthAttemptByIdentificationString(ctx context.Context, identification string) (*types.AuthAttempt, error)
	CreateAuthAttempt(ctx context.Context, a types.AuthAttempt, ttl time.Duration) error
	UpdateAuthAttempt(ctx context.Context, a types.AuthAttempt, ttl time.Duration) error
	DeleteAuthAttempt(ctx context.Context, id string) error
}

type authAttemptsService struct {
	bk backend.Backend
}

func NewAuthAttempts(bk backend.Backend) AuthAttempts {
	return &authAttemptsService{bk: bk}
}

func authAttemptKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAuthAttempts, id))
}

func (s *authAttemptsService) GetAuthAttempt(ctx context.Context, id string) (*types.AuthAttempt, error) {
	item, err := s.bk.Get(ctx, authAttemptKey(id))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var a types.AuthAttempt
	if err := unmarshal(item.Value, &a); err != nil {
		return nil, trace.Wrap(err)
	}
	return &a, nil
}

func (s *authAttemptsService) GetAuthAttemptByIdentificationString(ctx context.Context, identification string) (*types.AuthAttempt, error) {
	start := []byte(prefixAuthAttempts)
	items, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	all, err := itemsToList[types.AuthAttempt](items)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, a := range all {
		if a.IdentificationString == identification {
			return &a, nil
		}
	}
	return nil, trace.NotFound("no auth attempt with identification string %q", identification)
}

func (s *authAttemptsService) CreateAuthAttempt(ctx context.Context, a types.AuthAttempt, ttl time.Duration) error {
	value, err := marshal(a)
	if err != nil {
		return trace.Wrap(err)
	}
	item := backend.Item{Key: authAttemptKey(a.ID), Value: value}
	if ttl > 0 {
		item.Expires = a.StartedAt.Add(ttl)
	}
	_, err = s.bk.Create(ctx, item)
	return trace.Wrap(err)
}

func (s *authAttemptsService) UpdateAuthAttempt(ctx context.Context, a types.AuthAttempt, ttl time.Duration) error {
	value, err := marshal(a)
	if err != nil {
		return trace.Wrap(err)
	}
	item := backend.Item{Key: authAttemptKey(a.ID), Value: value}
	if ttl > 0 {
		item.Expires = a.StartedAt.Add(ttl)
	}
	_, err = s.bk.Put(ctx, item)
	return trace.Wrap(err)
}

func (s *authAttemptsService) DeleteAuthAttempt(ctx context.Context, id string) error {
	return trace.Wrap(s.bk.Delete(ctx, authAttemptKey(id)))
}
