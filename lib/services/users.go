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

const prefixUsers = "/users/"

// Users is the typed accessor for types.User records.
type Users interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByName(ctx context.Context, name string) (*types.User, error)
	ListUsers(ctx context.Context) ([]types.User, error)
	CreateUser(ctx context.Context, u types.User) error
	UpsertUser(ctx context.Context, u types.User) error
	DeleteUser(ctx context.Context, id string) error
}

type usersService struct {
	bk backend.Backend
}

func NewUsers(bk backend.Backend) Users {
	return &usersService{bk: bk}
}

func userKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixUsers, id))
}

func (s *usersService) GetUser(ctx context.Context, id string) (*types.User, error) {
	item, err := s.bk.Get(ctx, userKey(id))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var u types.User
	if err := unmarshal(item.Value, &u); err != nil {
		return nil, trace.Wrap(err)
	}
	return &u, nil
}

func (s *usersService) GetUserByName(ctx context.Context, name string) (*types.User, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, u := range users {
		if u.Name == name {
			return &u, nil
		}
	}
	return nil, trace.NotFound("user %q not found", name)
}

func (s *usersService) ListUsers(ctx context.Context) ([]types.User, error) {
	start := []byte(prefixUsers)
	items, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return itemsToList[types.User](items)
}

func (s *usersService) CreateUser(ctx context.Context, u types.User) error {
	value, err := marshal(u)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Create(ctx, backend.Item{Key: userKey(u.ID), Value: value})
	return trace.Wrap(err)
}

func (s *usersService) UpsertUser(ctx context.Context, u types.User) error {
	value, err := marshal(u)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Put(ctx, backend.Item{Key: userKey(u.ID), Value: value})
	return trace.Wrap(err)
}

func (s *usersService) DeleteUser(ctx context.Context, id string) error {
	return trace.Wrap(s.bk.Delete(ctx, userKey(id)))
}
