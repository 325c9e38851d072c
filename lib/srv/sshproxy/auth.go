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

package sshproxy

import (
	"context"
	"strings"
	"sync"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/warpgate-bastion/warpgate/lib/auth"
	"github.com/warpgate-bastion/warpgate/lib/authz"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

// connAuthState tracks one inbound SSH connection's progress through the
// Authentication Pipeline across however many of PasswordCallback,
// PublicKeyCallback, and KeyboardInteractiveCallback the client's SSH
// library chooses to try — x/crypto/ssh invokes each independently with no
// shared state of its own, so the proxy core supplies it here, keyed by
// connection rather than by attempt id until an attempt exists.
type connAuthState struct {
	server   *Server
	ctx      context.Context
	clientIP string
	protocol types.Protocol

	serverConfig *ssh.ServerConfig

	mu             sync.Mutex
	begun          bool
	attempt        *types.AuthAttempt
	user           *types.User
	targetName     string
	isTicket       bool
	ticketSecret   string
	ticketTargetID string

	// target is resolved once the attempt succeeds and a target name or
	// ticket-bound target id is known; handleConn reads this after the
	// handshake completes.
	target *types.Target
}

// parseUsername implements spec.md section 4.3.1's target-selection rule:
// the client's username is a bare target name (direct), "user@target" (the
// spec's own wording) or "user#target" (the form spec.md section 8's
// end-to-end scenario actually uses), or a ticket of the form
// "ticket-<secret>". Both separators are accepted since the spec is
// internally inconsistent about which one the wire format uses.
func parseUsername(raw string) (userPart, targetPart string, isTicket bool, ticketSecret string) {
	if strings.HasPrefix(raw, "ticket-") {
		return "", "", true, strings.TrimPrefix(raw, "ticket-")
	}
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i], raw[i+1:], false, ""
	}
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		return raw[:i], raw[i+1:], false, ""
	}
	return raw, raw, false, ""
}

// ensureBegun parses conn.User() and opens an AuthAttempt on the first
// callback invocation for this connection; later invocations reuse it so
// multiple credential kinds accumulate against the same attempt.
func (st *connAuthState) ensureBegun(conn ssh.ConnMetadata) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.begun {
		return nil
	}
	st.begun = true

	userPart, targetPart, isTicket, ticketSecret := parseUsername(conn.User())
	st.targetName = targetPart
	st.isTicket = isTicket
	st.ticketSecret = ticketSecret

	result, err := st.server.cfg.Auth.Begin(st.ctx, userPart, st.protocol, st.clientIP)
	if err != nil {
		return trace.Wrap(err)
	}
	st.attempt = result.Attempt
	return nil
}

// finish turns a pipeline Result into the ssh callback return shape:
// success grants the connection, a non-empty NeedMore asks the client to
// try another configured auth method via PartialSuccessError, anything
// else rejects.
func (st *connAuthState) finish(result *auth.Result, resultErr error) (*ssh.Permissions, error) {
	if resultErr != nil {
		return nil, trace.Wrap(resultErr)
	}
	if result.Success {
		st.mu.Lock()
		st.user = result.User
		st.mu.Unlock()
		return &ssh.Permissions{}, nil
	}
	if len(result.NeedMore) > 0 {
		return nil, &ssh.PartialSuccessError{Next: *st.serverConfig}
	}
	return nil, trace.AccessDenied("authentication failed")
}

func (st *connAuthState) passwordCallback(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	if err := st.ensureBegun(conn); err != nil {
		return nil, trace.Wrap(err)
	}

	st.mu.Lock()
	isTicket, ticketSecret, attempt := st.isTicket, st.ticketSecret, st.attempt
	st.mu.Unlock()

	if isTicket {
		result, ticketTargetID, err := st.server.cfg.Auth.SubmitTicket(st.ctx, attempt, ticketSecret)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if result.Success {
			st.mu.Lock()
			st.user = result.User
			st.ticketTargetID = ticketTargetID
			st.mu.Unlock()
			return &ssh.Permissions{}, nil
		}
		return nil, trace.AccessDenied("authentication failed")
	}

	result, err := st.server.cfg.Auth.SubmitPassword(st.ctx, attempt, string(password))
	return st.finish(result, err)
}

func (st *connAuthState) publicKeyCallback(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	if err := st.ensureBegun(conn); err != nil {
		return nil, trace.Wrap(err)
	}
	st.mu.Lock()
	attempt := st.attempt
	st.mu.Unlock()

	keyLine := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
	result, err := st.server.cfg.Auth.SubmitPublicKey(st.ctx, attempt, keyLine)
	return st.finish(result, err)
}

// keyboardInteractiveCallback drives the OTP factor: once password and/or
// public-key have satisfied their kinds, a policy still requiring OTP
// leaves the client to retry with "keyboard-interactive", which this
// prompts for a single "one-time password:" question.
func (st *connAuthState) keyboardInteractiveCallback(conn ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	if err := st.ensureBegun(conn); err != nil {
		return nil, trace.Wrap(err)
	}
	st.mu.Lock()
	attempt := st.attempt
	st.mu.Unlock()

	answers, err := challenge("", "", []string{"one-time password: "}, []bool{false})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(answers) != 1 {
		return nil, trace.BadParameter("sshproxy: expected one OTP answer, got %d", len(answers))
	}

	result, err := st.server.cfg.Auth.SubmitOTP(st.ctx, attempt, answers[0])
	return st.finish(result, err)
}

// resolveSessionTarget is called by handleConn once the connection has
// authenticated, turning the parsed username or ticket binding into a
// concrete, access-checked Target.
func (st *connAuthState) resolveSessionTarget() (*types.Target, error) {
	if st.ticketTargetID != "" {
		target, err := st.server.cfg.Services.GetTarget(st.ctx, st.ticketTargetID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := authz.CheckAccess(st.user, target); err != nil {
			return nil, trace.Wrap(err)
		}
		return target, nil
	}
	if st.targetName == "" {
		return nil, trace.AccessDenied("access denied")
	}
	return resolveTarget(st.ctx, st.server.cfg.Services, st.user, st.targetName)
}
