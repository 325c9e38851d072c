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

const prefixLogLines = "/loglines/"

// LogLineFilter narrows ListLogLines, mirroring SessionFilter's shape for
// the same "paginated listing with text search" contract spec.md section
// 4.5 asks of both session and log records.
type LogLineFilter struct {
	SessionID  string
	TextSearch string
	Since      time.Time
	Until      time.Time
	Limit      int
}

func (f LogLineFilter) matches(l types.LogLine) bool {
	if f.SessionID != "" && l.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && l.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && l.Time.After(f.Until) {
		return false
	}
	if f.TextSearch != "" && !strings.Contains(strings.ToLower(l.Text), strings.ToLower(f.TextSearch)) {
		return false
	}
	return true
}

// LogLines is the typed accessor for types.LogLine records: the State
// Store's append-only audit log, keyed by session id, with retention
// sweeping per spec.md section 4.5.
type LogLines interface {
	AppendLogLine(ctx context.Context, l types.LogLine) error
	ListLogLines(ctx context.Context, filter LogLineFilter) ([]types.LogLine, error)
	// DeleteLogLinesBefore sweeps out log lines timestamped before cutoff,
	// implementing the State Store's log retention policy.
	DeleteLogLinesBefore(ctx context.Context, cutoff time.Time) (deleted int, err error)
}

type logLinesService struct {
	bk backend.Backend
}

func NewLogLines(bk backend.Backend) LogLines {
	return &logLinesService{bk: bk}
}

// logLineKey sorts lexicographically by (session id, time, id): the
// zero-padded nanosecond timestamp keeps lines for one session in
// chronological order under their session's own sub-prefix, so a
// per-session listing is a contiguous range scan rather than a full-table
// filter.
func logLineKey(l types.LogLine) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d-%s", prefixLogLines, l.SessionID, l.Time.UnixNano(), l.ID))
}

func (s *logLinesService) AppendLogLine(ctx context.Context, l types.LogLine) error {
	if l.ID == "" {
		return trace.BadParameter("log line: missing ID")
	}
	if l.SessionID == "" {
		return trace.BadParameter("log line: missing SessionID")
	}
	value, err := marshal(l)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Create(ctx, backend.Item{Key: logLineKey(l), Value: value})
	return trace.Wrap(err)
}

func (s *logLinesService) ListLogLines(ctx context.Context, filter LogLineFilter) ([]types.LogLine, error) {
	start := []byte(prefixLogLines)
	if filter.SessionID != "" {
		start = []byte(fmt.Sprintf("%s%s/", prefixLogLines, filter.SessionID))
	}
	items, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	all, err := itemsToList[types.LogLine](items)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })

	out := make([]types.LogLine, 0, len(all))
	for _, l := range all {
		if filter.matches(l) {
			out = append(out, l)
		}
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *logLinesService) DeleteLogLinesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	lines, err := s.ListLogLines(ctx, LogLineFilter{Until: cutoff})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	deleted := 0
	for _, l := range lines {
		if l.Time.After(cutoff) {
			continue
		}
		if err := s.bk.Delete(ctx, logLineKey(l)); err != nil && !trace.IsNotFound(err) {
			return deleted, trace.Wrap(err)
		}
		deleted++
	}
	return deleted, nil
}
