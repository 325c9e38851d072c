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

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpgate-bastion/warpgate/lib/types"
)

func TestMatchesReturnDomainExactMatch(t *testing.T) {
	require.True(t, matchesReturnDomain("example.com", "example.com"))
}

func TestMatchesReturnDomainSubdomainMatch(t *testing.T) {
	require.True(t, matchesReturnDomain("sso.example.com", "example.com"))
}

func TestMatchesReturnDomainRejectsLookalikeSuffix(t *testing.T) {
	require.False(t, matchesReturnDomain("notexample.com", "example.com"))
}

func TestMatchesReturnDomainIgnoresCaseAndTrailingDot(t *testing.T) {
	require.True(t, matchesReturnDomain("SSO.Example.com.", "example.com"))
}

func TestValidateReturnHostChecksAllConfiguredDomains(t *testing.T) {
	domains := []string{"internal.example.com", "example.org"}
	require.True(t, ValidateReturnHost("app.example.org", domains))
	require.False(t, ValidateReturnHost("evil.com", domains))
}

func TestVerifySSOMatchesStoredSubject(t *testing.T) {
	ctx := context.Background()
	p, svc, _ := newTestPipeline(t)

	user := types.User{ID: "u1", Name: "alice"}
	require.NoError(t, svc.UpsertUser(ctx, user))
	require.NoError(t, svc.UpsertCredential(ctx, types.Credential{
		ID: "c1", UserID: "u1", Kind: types.CredentialSSO,
		SSOSubject: "https://idp.example.com|subject-123",
	}))

	ok, err := p.verifySSO(ctx, &user, SSOCallback{Issuer: "https://idp.example.com", Subject: "subject-123"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifySSORejectsUnknownSubject(t *testing.T) {
	ctx := context.Background()
	p, svc, _ := newTestPipeline(t)

	user := types.User{ID: "u1", Name: "alice"}
	require.NoError(t, svc.UpsertUser(ctx, user))
	require.NoError(t, svc.UpsertCredential(ctx, types.Credential{
		ID: "c1", UserID: "u1", Kind: types.CredentialSSO,
		SSOSubject: "https://idp.example.com|subject-123",
	}))

	ok, err := p.verifySSO(ctx, &user, SSOCallback{Issuer: "https://idp.example.com", Subject: "someone-else"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifySSONilUserIsFalse(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ok, err := p.verifySSO(context.Background(), nil, SSOCallback{})
	require.NoError(t, err)
	require.False(t, ok)
}
