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

package webproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/warpgate-bastion/warpgate/lib/auth"
	"github.com/warpgate-bastion/warpgate/lib/backend/sqlite"
	"github.com/warpgate-bastion/warpgate/lib/connector"
	"github.com/warpgate-bastion/warpgate/lib/recorder"
	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

func newTestServer(t *testing.T) (*Server, services.Services, clockwork.Clock) {
	t.Helper()
	clock := clockwork.NewFakeClock()

	bk, err := sqlite.New(sqlite.Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bk.Close() })
	svc := services.New(bk)

	pipeline, err := auth.New(auth.Config{Services: svc, Clock: clock})
	require.NoError(t, err)

	conn, err := connector.New(connector.Config{Services: svc, HostKeys: connector.NewKeyPool()})
	require.NoError(t, err)

	rec, err := recorder.New(recorder.Config{Directory: t.TempDir(), Services: svc, Clock: clock})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	s, err := New(Config{
		Listener:         l,
		Services:         svc,
		Auth:             pipeline,
		Connector:        conn,
		Recorder:         rec,
		Clock:            clock,
		CookieSigningKey: []byte("test-signing-key"),
		ProtocolPorts:    map[string]int{"ssh": 2222},
	})
	require.NoError(t, err)
	return s, svc, clock
}

func doRequest(s *Server, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.1.1.1:5555"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.dispatch(w, req)
	return w
}

func TestHandleLoginPasswordOnlySucceeds(t *testing.T) {
	ctx := context.Background()
	s, svc, _ := newTestServer(t)

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, svc.UpsertUser(ctx, types.User{ID: "u1", Name: "alice", Roles: []string{"sre"}}))
	require.NoError(t, svc.UpsertCredential(ctx, types.Credential{ID: "c1", UserID: "u1", Kind: types.CredentialPassword, PasswordHash: hash}))

	w := doRequest(s, http.MethodPost, "/@warpgate/api/auth/login", loginRequest{Username: "alice", Password: "hunter2"})
	require.Equal(t, http.StatusCreated, w.Code)

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie, "a successful login must set the session cookie")
}

func TestHandleLoginWrongPasswordFails(t *testing.T) {
	ctx := context.Background()
	s, svc, _ := newTestServer(t)

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, svc.UpsertUser(ctx, types.User{ID: "u1", Name: "alice"}))
	require.NoError(t, svc.UpsertCredential(ctx, types.Credential{ID: "c1", UserID: "u1", Kind: types.CredentialPassword, PasswordHash: hash}))

	w := doRequest(s, http.MethodPost, "/@warpgate/api/auth/login", loginRequest{Username: "alice", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp authStateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, apiAuthStateFailed, resp.State)
}

func TestHandleLoginNeedsOTPIssuesPendingCookie(t *testing.T) {
	ctx := context.Background()
	s, svc, _ := newTestServer(t)

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, svc.UpsertUser(ctx, types.User{
		ID:   "u1",
		Name: "alice",
		CredentialPolicy: map[types.Protocol][]types.CredentialKind{
			types.ProtocolHTTP: {types.CredentialPassword, types.CredentialOTP},
		},
	}))
	require.NoError(t, svc.UpsertCredential(ctx, types.Credential{ID: "c1", UserID: "u1", Kind: types.CredentialPassword, PasswordHash: hash}))
	require.NoError(t, svc.UpsertCredential(ctx, types.Credential{ID: "c2", UserID: "u1", Kind: types.CredentialOTP, OTPSecret: types.Secret("JBSWY3DPEHPK3PXP")}))

	w := doRequest(s, http.MethodPost, "/@warpgate/api/auth/login", loginRequest{Username: "alice", Password: "hunter2"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp authStateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, apiAuthStateOTPNeeded, resp.State)

	var pendingCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == pendingCookieName {
			pendingCookie = c
		}
	}
	require.NotNil(t, pendingCookie)
}

func TestHandleInfoReportsProtocolPorts(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/@warpgate/api/info", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	ports := body["ports"].(map[string]interface{})
	require.Equal(t, float64(2222), ports["ssh"])
}

func TestHandleListTargetsRequiresSession(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/@warpgate/api/targets", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResolveApprovalRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	s, svc, _ := newTestServer(t)

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, svc.UpsertUser(ctx, types.User{ID: "u1", Name: "alice"}))
	require.NoError(t, svc.UpsertCredential(ctx, types.Credential{ID: "c1", UserID: "u1", Kind: types.CredentialPassword, PasswordHash: hash}))

	login := doRequest(s, http.MethodPost, "/@warpgate/api/auth/login", loginRequest{Username: "alice", Password: "hunter2"})
	require.Equal(t, http.StatusCreated, login.Code)
	var sessionCookie *http.Cookie
	for _, c := range login.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)

	w := doRequest(s, http.MethodPost, "/@warpgate/api/auth/state/some-id/approve", nil, sessionCookie)
	require.Equal(t, http.StatusUnauthorized, w.Code, "a non-admin user must not be able to resolve an approval")
}

func TestResolveHTTPTargetByQueryParam(t *testing.T) {
	ctx := context.Background()
	s, svc, _ := newTestServer(t)

	require.NoError(t, svc.UpsertTarget(ctx, types.Target{
		ID: "t1", Name: "app", Kind: types.TargetHTTP,
		Options: types.TargetOptions{HTTPExternalHostname: "app.bastion.example.com"},
	}))
	require.NoError(t, svc.UpsertTarget(ctx, types.Target{
		ID: "t2", Name: "app-admin", Kind: types.TargetHTTP,
		Options: types.TargetOptions{HTTPExternalHostname: "admin.bastion.example.com"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/panel?warpgate-target=app-admin", nil)
	target, err := s.resolveHTTPTarget(req)
	require.NoError(t, err)
	require.Equal(t, "t2", target.ID)

	req2 := httptest.NewRequest(http.MethodGet, "/other?warpgate-target=app", nil)
	target2, err := s.resolveHTTPTarget(req2)
	require.NoError(t, err)
	require.Equal(t, "t1", target2.ID)
}

func TestResolveHTTPTargetByHostHeader(t *testing.T) {
	ctx := context.Background()
	s, svc, _ := newTestServer(t)

	require.NoError(t, svc.UpsertTarget(ctx, types.Target{
		ID: "t1", Name: "app", Kind: types.TargetHTTP,
		Options: types.TargetOptions{HTTPExternalHostname: "app.bastion.example.com"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "app.bastion.example.com:443"
	target, err := s.resolveHTTPTarget(req)
	require.NoError(t, err)
	require.Equal(t, "t1", target.ID)
}

func TestResolveHTTPTargetQueryParamUnknownNameNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/?warpgate-target=nope", nil)
	_, err := s.resolveHTTPTarget(req)
	require.Error(t, err)
}

func TestResolveHTTPTargetNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	req.Host = "unconfigured.example.com"
	_, err := s.resolveHTTPTarget(req)
	require.Error(t, err)
}
