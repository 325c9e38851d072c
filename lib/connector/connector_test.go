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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpgate-bastion/warpgate/lib/backend/sqlite"
	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

func newTestConnector(t *testing.T) *Connector {
	t.Helper()
	bk, err := sqlite.New(sqlite.Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bk.Close() })
	svc := services.New(bk)

	c, err := New(Config{Services: svc, HostKeys: NewKeyPool()})
	require.NoError(t, err)
	return c
}

func TestConnectDeniesUnreachableTarget(t *testing.T) {
	c := newTestConnector(t)
	user := &types.User{ID: "u1", Roles: []string{"dev"}}
	target := &types.Target{ID: "t1", Kind: types.TargetSSH, AllowedRoles: []string{"sre"}}

	_, err := c.Connect(context.Background(), user, target)
	require.Error(t, err)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, FailureNotAuthorized, connErr.Kind)
}

func TestConnectRejectsUnsupportedTargetKind(t *testing.T) {
	c := newTestConnector(t)
	user := &types.User{ID: "u1", Roles: []string{"sre"}}
	target := &types.Target{ID: "t1", Kind: types.TargetKind("carrier-pigeon"), AllowedRoles: []string{"sre"}}

	_, err := c.Connect(context.Background(), user, target)
	require.Error(t, err)
}

func TestHTTPDialerForTargetCachesByTargetID(t *testing.T) {
	bk, err := sqlite.New(sqlite.Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bk.Close() })
	svc := services.New(bk)

	d := newHTTPDialer(svc)
	target := &types.Target{ID: "t1", Options: types.TargetOptions{HTTPBaseURL: "https://upstream.example.com"}}

	first, err := d.forTarget(target)
	require.NoError(t, err)
	second, err := d.forTarget(target)
	require.NoError(t, err)
	require.Same(t, first, second, "forTarget must cache the built upstream by target ID")
}

func TestHTTPDialerForTargetRejectsUnparsableBaseURL(t *testing.T) {
	bk, err := sqlite.New(sqlite.Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bk.Close() })
	svc := services.New(bk)

	d := newHTTPDialer(svc)
	target := &types.Target{ID: "t2", Options: types.TargetOptions{HTTPBaseURL: "http://[::1"}}

	_, err = d.forTarget(target)
	require.Error(t, err)
}
