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

const prefixTargets = "/targets/"

// Targets is the typed accessor for types.Target records.
type Targets interface {
	GetTarget(ctx context.Context, id string) (*types.Target, error)
	ListTargets(ctx context.Context) ([]types.Target, error)
	// ListTargetsForRoles returns only the targets reachable by at least one
	// of the given roles, per the access rule of spec.md section 8.
	ListTargetsForRoles(ctx context.Context, roles []string) ([]types.Target, error)
	CreateTarget(ctx context.Context, t types.Target) error
	UpsertTarget(ctx context.Context, t types.Target) error
	DeleteTarget(ctx context.Context, id string) error
}

type targetsService struct {
	bk backend.Backend
}

func NewTargets(bk backend.Backend) Targets {
	return &targetsService{bk: bk}
}

func targetKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixTargets, id))
}

func (s *targetsService) GetTarget(ctx context.Context, id string) (*types.Target, error) {
	item, err := s.bk.Get(ctx, targetKey(id))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var t types.Target
	if err := unmarshal(item.Value, &t); err != nil {
		return nil, trace.Wrap(err)
	}
	return &t, nil
}

func (s *targetsService) ListTargets(ctx context.Context) ([]types.Target, error) {
	start := []byte(prefixTargets)
	items, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return itemsToList[types.Target](items)
}

func (s *targetsService) ListTargetsForRoles(ctx context.Context, roles []string) ([]types.Target, error) {
	all, err := s.ListTargets(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]types.Target, 0, len(all))
	for _, t := range all {
		if t.Reachable(roles) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *targetsService) CreateTarget(ctx context.Context, t types.Target) error {
	value, err := marshal(t)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Create(ctx, backend.Item{Key: targetKey(t.ID), Value: value})
	return trace.Wrap(err)
}

func (s *targetsService) UpsertTarget(ctx context.Context, t types.Target) error {
	value, err := marshal(t)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Put(ctx, backend.Item{Key: targetKey(t.ID), Value: value})
	return trace.Wrap(err)
}

func (s *targetsService) DeleteTarget(ctx context.Context, id string) error {
	return trace.Wrap(s.bk.Delete(ctx, targetKey(id)))
}
