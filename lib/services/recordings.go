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

	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/backend"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

const prefixRecordings = "/recordings/"

// Recordings is the typed accessor for types.Recording records.
type Recordings interface {
	GetRecording(ctx context.Context, id string) (*types.Recording, error)
	GetRecordingForSession(ctx context.Context, sessionID string) (*types.Recording, error)
	CreateRecording(ctx context.Context, r types.Recording) error
	UpdateRecording(ctx context.Context, r types.Recording) error
}

type recordingsService struct {
	bk backend.Backend
}

func NewRecordings(bk backend.Backend) Recordings {
	return &recordingsService{bk: bk}
}

func recordingKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixRecordings, id))
}

func (s *recordingsService) GetRecording(ctx context.Context, id string) (*types.Recording, error) {
	item, err := s.bk.Get(ctx, recordingKey(id))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var r types.Recording
	if err := unmarshal(item.Value, &r); err != nil {
		return nil, trace.Wrap(err)
	}
	return &r, nil
}

func (s *recordingsService) GetRecordingForSession(ctx context.Context, sessionID string) (*types.Recording, error) {
	start := []byte(prefixRecordings)
	items, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	all, err := itemsToList[types.Recording](items)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, r := range all {
		if r.SessionID == sessionID {
			return &r, nil
		}
	}
	return nil, trace.NotFound("no recording for session %q", sessionID)
}

func (s *recordingsService) CreateRecording(ctx context.Context, r types.Recording) error {
	value, err := marshal(r)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Create(ctx, backend.Item{Key: recordingKey(r.ID), Value: value})
	return trace.Wrap(err)
}

func (s *recordingsService) UpdateRecording(ctx context.Context, r types.Recording) error {
	value, err := marshal(r)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Put(ctx, backend.Item{Key: recordingKey(r.ID), Value: value})
	return trace.Wrap(err)
}
