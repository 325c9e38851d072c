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

package connector

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/warpgate-bastion/warpgate/lib/backend/sqlite"
	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

func newTestKnownHosts(t *testing.T) services.Services {
	t.Helper()
	bk, err := sqlite.New(sqlite.Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bk.Close() })
	return services.New(bk)
}

func newTestPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestHostKeyCallbackAutoRejectDeniesUnknownKey(t *testing.T) {
	svc := newTestKnownHosts(t)
	d := newSSHDialer(svc, NewKeyPool())
	target := &types.Target{ID: "t1", Options: types.TargetOptions{KnownHostPolicy: types.KnownHostAutoReject}}

	cb := d.hostKeyCallback(context.Background(), target, "upstream.example.com", 22)
	err := cb("upstream.example.com:22", &net.TCPAddr{}, newTestPublicKey(t))
	require.Error(t, err)
}

func TestHostKeyCallbackAutoRejectAcceptsPreviouslyPinnedKey(t *testing.T) {
	ctx := context.Background()
	svc := newTestKnownHosts(t)
	d := newSSHDialer(svc, NewKeyPool())
	target := &types.Target{ID: "t1", Options: types.TargetOptions{KnownHostPolicy: types.KnownHostAutoAccept}}
	key := newTestPublicKey(t)

	// first pin it via auto-accept
	cb := d.hostKeyCallback(ctx, target, "upstream.example.com", 22)
	require.NoError(t, cb("upstream.example.com:22", &net.TCPAddr{}, key))

	// now switch the same target to auto-reject and confirm the pinned key is honored
	target.Options.KnownHostPolicy = types.KnownHostAutoReject
	cb2 := d.hostKeyCallback(ctx, target, "upstream.example.com", 22)
	require.NoError(t, cb2("upstream.example.com:22", &net.TCPAddr{}, key))
}

func TestHostKeyCallbackAutoAcceptPinsFirstKeyThenRejectsChange(t *testing.T) {
	ctx := context.Background()
	svc := newTestKnownHosts(t)
	d := newSSHDialer(svc, NewKeyPool())
	target := &types.Target{ID: "t1", Options: types.TargetOptions{KnownHostPolicy: types.KnownHostAutoAccept}}

	cb := d.hostKeyCallback(ctx, target, "upstream.example.com", 22)
	firstKey := newTestPublicKey(t)
	require.NoError(t, cb("upstream.example.com:22", &net.TCPAddr{}, firstKey))

	secondKey := newTestPublicKey(t)
	err := cb("upstream.example.com:22", &net.TCPAddr{}, secondKey)
	require.Error(t, err, "a changed host key must be rejected once one is pinned")
}

func TestHostKeyCallbackUnknownPolicyRejected(t *testing.T) {
	svc := newTestKnownHosts(t)
	d := newSSHDialer(svc, NewKeyPool())
	target := &types.Target{ID: "t1", Options: types.TargetOptions{KnownHostPolicy: types.KnownHostPolicy("bogus")}}

	cb := d.hostKeyCallback(context.Background(), target, "upstream.example.com", 22)
	err := cb("upstream.example.com:22", &net.TCPAddr{}, newTestPublicKey(t))
	require.Error(t, err)
}
