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

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUserPolicyForDefaultsToPassword(t *testing.T) {
	u := &User{}
	require.Equal(t, []CredentialKind{CredentialPassword}, u.PolicyFor(ProtocolSSH))

	u.CredentialPolicy = map[Protocol][]CredentialKind{
		ProtocolSSH: {CredentialPassword, CredentialOTP},
	}
	require.Equal(t, []CredentialKind{CredentialPassword, CredentialOTP}, u.PolicyFor(ProtocolSSH))
	require.Equal(t, []CredentialKind{CredentialPassword}, u.PolicyFor(ProtocolMySQL))
}

func TestUserHasRoleAndIsAdmin(t *testing.T) {
	u := &User{Roles: []string{"dba", AdminRole}}
	require.True(t, u.HasRole("dba"))
	require.True(t, u.HasRole(AdminRole))
	require.False(t, u.HasRole("nobody"))
	require.True(t, u.IsAdmin())

	u2 := &User{Roles: []string{"dba"}}
	require.False(t, u2.IsAdmin())
}

func TestRoleIntersects(t *testing.T) {
	require.True(t, RoleIntersects([]string{"dba", "sre"}, []string{"sre"}))
	require.False(t, RoleIntersects([]string{"dba"}, []string{"sre"}))
	require.False(t, RoleIntersects([]string{"dba"}, nil))
	require.False(t, RoleIntersects(nil, []string{"dba"}))
}

func TestTargetReachable(t *testing.T) {
	tgt := &Target{AllowedRoles: []string{"sre"}}
	require.True(t, tgt.Reachable([]string{"sre", "dba"}))
	require.False(t, tgt.Reachable([]string{"dba"}))

	disabled := &Target{AllowedRoles: []string{"sre"}, Disabled: true}
	require.False(t, disabled.Reachable([]string{"sre"}))

	var nilTarget *Target
	require.False(t, nilTarget.Reachable([]string{"sre"}))
}

func TestSecretEqualRejectsEmpty(t *testing.T) {
	var empty Secret
	require.False(t, empty.Equal([]byte("anything")))
	require.False(t, empty.Equal(nil))

	s := Secret("correct horse battery staple")
	require.True(t, s.Equal([]byte("correct horse battery staple")))
	require.False(t, s.Equal([]byte("wrong")))
	require.False(t, s.Equal(nil))
}

func TestSecretDestroyZeroizes(t *testing.T) {
	s := Secret([]byte{1, 2, 3, 4})
	s.Destroy()
	for _, b := range s {
		require.Equal(t, byte(0), b)
	}
}

func TestSecretStringNeverLeaks(t *testing.T) {
	require.Equal(t, "<empty>", Secret(nil).String())
	require.Equal(t, "<redacted>", Secret("hunter2").String())
	require.Equal(t, "hunter2", Secret("hunter2").Reveal())
}

func TestCredentialFingerprintNeverIncludesSecret(t *testing.T) {
	pubkey := &Credential{ID: "c1", Kind: CredentialPublicKey, PublicKey: "ssh-ed25519 AAAA..."}
	require.Equal(t, "public-key:ssh-ed25519 AAAA...", pubkey.Fingerprint())

	sso := &Credential{ID: "c2", Kind: CredentialSSO, SSOSubject: "okta|alice"}
	require.Equal(t, "single-sign-on:okta|alice", sso.Fingerprint())

	pw := &Credential{ID: "c3", Kind: CredentialPassword, PasswordHash: "argon2id$..."}
	require.Equal(t, "password:c3", pw.Fingerprint())
	require.NotContains(t, pw.Fingerprint(), "argon2id")
}

func TestAuthAttemptRequiredSatisfied(t *testing.T) {
	a := &AuthAttempt{}
	required := []CredentialKind{CredentialPassword, CredentialOTP}
	require.False(t, a.RequiredSatisfied(required))

	a.MarkSatisfied(CredentialPassword)
	require.False(t, a.RequiredSatisfied(required))

	a.MarkSatisfied(CredentialOTP)
	require.True(t, a.RequiredSatisfied(required))
}

func TestSessionActiveAndDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{StartedAt: start}
	require.True(t, s.Active())

	now := start.Add(5 * time.Minute)
	require.Equal(t, 5*time.Minute, s.Duration(now))

	end := start.Add(2 * time.Minute)
	s.EndedAt = &end
	require.False(t, s.Active())
	require.Equal(t, 2*time.Minute, s.Duration(now))
}
