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

const prefixCredentials = "/credentials/"

// Credentials is the typed accessor for types.Credential records, keyed
// under their owning user so a user's full credential set can be listed
// with a single prefix scan.
type Credentials interface {
	GetCredential(ctx context.Context, userID, credentialID string) (*types.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]types.Credential, error)
	// ListCredentialsOfKind narrows ListCredentials to a single kind, used
	// by the Authentication Pipeline to find the password/OTP credentials
	// it needs to verify. It lists the user's whole set and filters it.
	ListCredentialsOfKind(ctx context.Context, userID string, kind types.CredentialKind) ([]types.Credential, error)
	CreateCredential(ctx context.Context, c types.Credential) error
	UpsertCredential(ctx context.Context, c types.Credential) error
	DeleteCredential(ctx context.Context, userID, credentialID string) error
}

type credentialsService struct {
	bk backend.Backend
}

func NewCredentials(bk backend.Backend) Credentials {
	return &credentialsService{bk: bk}
}

func credentialKey(userID, credentialID string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixCredentials, userID, credentialID))
}

func (s *credentialsService) GetCredential(ctx context.Context, userID, credentialID string) (*types.Credential, error) {
	item, err := s.bk.Get(ctx, credentialKey(userID, credentialID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var c types.Credential
	if err := unmarshal(item.Value, &c); err != nil {
		return nil, trace.Wrap(err)
	}
	return &c, nil
}

func (s *credentialsService) ListCredentials(ctx context.Context, userID string) ([]types.Credential, error) {
	start := []byte(fmt.Sprintf("%s%s/", prefixCredentials, userID))
	items, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return itemsToList[types.Credential](items)
}

func (s *credentialsService) ListCredentialsOfKind(ctx context.Context, userID string, kind types.CredentialKind) ([]types.Credential, error) {
	all, err := s.ListCredentials(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]types.Credential, 0, len(all))
	for _, c := range all {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *credentialsService) CreateCredential(ctx context.Context, c types.Credential) error {
	value, err := marshal(c)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Create(ctx, backend.Item{Key: credentialKey(c.UserID, c.ID), Value: value})
	return trace.Wrap(err)
}

func (s *credentialsService) UpsertCredential(ctx context.Context, c types.Credential) error {
	value, err := marshal(c)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.Put(ctx, backend.Item{Key: credentialKey(c.UserID, c.ID), Value: value})
	return trace.Wrap(err)
}

func (s *credentialsService) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	return trace.Wrap(s.bk.Delete(ctx, credentialKey(userID, credentialID)))
}
