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
	"sort"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/backend"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

const prefixSessions = "/sessions/"

// SessionFilter narrows ListSessions by the fields admins most commonly
// search audit history on.
type SessionFilter struct {
	UserID     string
	TargetID   string
	Protocol   types.Protocol
	Since      time.Time
	Until      time.Time
	ActiveOnly bool
	// TextSearch does a case-insensitive substring match against the
	// session's RemoteAddr, UserID, and TargetID, implementing the "text
	// search" requirement of the State Store using plain string matching
	// rather than a dedicated search index (see DESIGN.md).
	TextSearch string
	Limit      int
}

func (f SessionFilter) matches(s types.Session) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.TargetID != "" && s.TargetID != f.TargetID {
		return false
	}
	if f.Protocol != "" && s.Protocol != f.Protocol {
		return false
	}
	if f.ActiveOnly && !s.Active() {
		return false
	}
	if !f.Since.IsZero() && s.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && s.StartedAt.After(f.Until) {
		return false
	}
	if f.TextSearch != "" {
		needle := strings.ToLower(f.TextSearch)
		haystack := strings.ToLower(s.RemoteAddr + " " + s.UserID + " " + s.TargetID)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

// Sessions is the typed accessor for types.Session records.
type Sessions interface {
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]types.Session, error)
	CreateSession(ctx context.Context, s types.Session) error
	UpdateSession(ctx context.Context, s types.Session) error
	// DeleteSessionsBefore sweeps out sessions started before cutoff,
	// implementing the State Store's log retention policy.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (deleted int, err error)
}

type sessionsService struct {
	bk backend.Backend
}

func NewSessions(bk backend.Backend) Sessions {
	return &sessionsService{bk: bk}
}

func sessionKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixSessions, id))
}

func (s *sessionsService) GetSession(ctx context.Context, id string) (*types.Session, error) {
	item, err := s.bk.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var sess types.Session
	if err := unmarshal(item.Value, &sess); err != nil {
		return nil, trace.Wrap(err)
	}
	return &sess, nil
}

func (s *sessionsService) ListSessions(ctx context.Context, filter SessionFilter) ([]types.Session, error) {
	start := []byte(prefixSessions)
	items, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	all, err := itemsToList[types.Session](items)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.Before(all[j].StartedAt) })

	out := make([]types.Session, 0, len(all))
	for _, sess := range all {
		if filter.matches(sess) {
			out = append(out, sess)
		}
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *sessionsService) CreateSession(ctx context.Context, sess types.Session) error {
	value, err := marshal(sess)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Create(ctx, backend.Item{Key: sessionKey(sess.ID), Value: value})
	return trace.Wrap(err)
}

func (s *sessionsService) UpdateSession(ctx context.Context, sess types.Session) error {
	value, err := marshal(sess)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Put(ctx, backend.Item{Key: sessionKey(sess.ID), Value: value})
	return trace.Wrap(err)
}

func (s *sessionsService) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	sessions, err := s.ListSessions(ctx, SessionFilter{Until: cutoff})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	deleted := 0
	for _, sess := range sessions {
		if sess.StartedAt.After(cutoff) {
			continue
		}
		if err := s.bk.Delete(ctx, sessionKey(sess.ID)); err != nil && !trace.IsNotFound(err) {
			return deleted, trace.Wrap(err)
		}
		deleted++
	}
	return deleted, nil
}
