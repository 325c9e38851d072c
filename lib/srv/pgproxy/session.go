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

package pgproxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgproto3/v2"
	"github.com/jonboulle/clockwork"

	"github.com/warpgate-bastion/warpgate/lib/limiter"
	"github.com/warpgate-bastion/warpgate/lib/recorder"
	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

// logSessionEvent appends a human-readable audit line for a session to the
// State Store's log-line log, per spec.md section 4.5. A failure to append
// is logged but never fails the session itself, the same tolerance the
// surrounding CreateSession/UpdateSession calls already apply to State
// Store writes that are not on the session's critical path.
func logSessionEvent(ctx context.Context, svc services.Services, clock clockwork.Clock, sessionID, text string) {
	line := types.LogLine{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Time:      clock.Now(),
		Text:      text,
	}
	if err := svc.AppendLogLine(ctx, line); err != nil {
		log.WithError(err).WithField("session", sessionID).Warn("failed to append session log line")
	}
}

// pgSession carries the per-connection state the Postgres Core's
// "connected" and idle-reauthentication handling need.
type pgSession struct {
	server *Server
	ctx    context.Context

	conn   net.Conn
	backend *pgproto3.Backend
	user   *types.User
	target *types.Target

	sessionID string
	rec       recorder.Writer

	writeMu      sync.Mutex
	lastActivity int64 // unix nanos, atomic

	reauthPending int32 // atomic bool
}

func (s *pgSession) touch() {
	atomic.StoreInt64(&s.lastActivity, s.server.cfg.Clock.Now().UnixNano())
}

func (s *pgSession) idleFor() time.Duration {
	last := atomic.LoadInt64(&s.lastActivity)
	return s.server.cfg.Clock.Now().Sub(time.Unix(0, last))
}

// handleConn runs the full Postgres Core state machine of spec.md section
// 4.3.3 for one accepted connection.
func (s *Server) handleConn(ctx context.Context, rawConn net.Conn) {
	defer rawConn.Close()

	clientIP, _, err := net.SplitHostPort(rawConn.RemoteAddr().String())
	if err != nil {
		clientIP = rawConn.RemoteAddr().String()
	}

	var release func()
	if s.cfg.Limiter != nil {
		release, err = s.cfg.Limiter.RegisterRequestAndConnection(clientIP)
		if err != nil {
			log.WithError(err).WithField("remote", clientIP).Debug("connection limit exceeded")
			return
		}
		defer release()
	}

	conn, backend, startup, err := s.handleStartup(rawConn)
	if err != nil {
		log.WithError(err).WithField("remote", clientIP).Debug("postgres startup handshake failed")
		return
	}

	username := startup.Parameters["user"]
	database := startup.Parameters["database"]

	user, ticketTargetID, err := s.authenticate(ctx, backend, username, clientIP)
	if err != nil {
		backend.Send(&pgproto3.ErrorResponse{Severity: "FATAL", Code: "28P01", Message: err.Error()})
		return
	}

	var target *types.Target
	if ticketTargetID != "" {
		target, err = s.cfg.Services.GetTarget(ctx, ticketTargetID)
	} else {
		target, err = resolveTarget(ctx, s.cfg.Services, user, database)
	}
	if err != nil {
		backend.Send(&pgproto3.ErrorResponse{Severity: "FATAL", Code: "3D000", Message: err.Error()})
		return
	}

	upstream, err := s.cfg.Connector.Connect(ctx, user, target)
	if err != nil {
		log.WithError(err).WithField("target", target.Name).Debug("upstream connect failed")
		backend.Send(&pgproto3.ErrorResponse{Severity: "FATAL", Code: "08006", Message: err.Error()})
		return
	}
	defer upstream.Close()

	backend.Send(&pgproto3.AuthenticationOk{})
	backend.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "14.0"})
	backend.Send(&pgproto3.BackendKeyData{ProcessID: 0, SecretKey: 0})
	if err := backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'}); err != nil {
		return
	}

	sessionID := uuid.NewString()
	session := types.Session{
		ID:         sessionID,
		Protocol:   types.ProtocolPostgres,
		UserID:     user.ID,
		TargetID:   target.ID,
		RemoteAddr: clientIP,
		StartedAt:  s.cfg.Clock.Now(),
	}
	if err := s.cfg.Services.CreateSession(ctx, session); err != nil {
		log.WithError(err).Warn("failed to create session record")
	}
	logSessionEvent(ctx, s.cfg.Services, s.cfg.Clock, sessionID, fmt.Sprintf("session started: user=%s target=%s remote=%s", user.Name, target.Name, clientIP))

	var rec recorder.Writer
	if w, err := s.cfg.Recorder.Open(ctx, &session, types.RecordingTraffic); err == nil {
		rec = w
	} else {
		log.WithError(err).WithField("session", sessionID).Warn("failed to open traffic recording")
	}
	defer func() {
		if rec != nil {
			rec.Close()
		}
	}()

	sess := &pgSession{
		server:    s,
		ctx:       ctx,
		conn:      conn,
		backend:   backend,
		user:      user,
		target:    target,
		sessionID: sessionID,
		rec:       rec,
	}
	sess.touch()

	idleTimeout := target.Options.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = s.cfg.IdleTimeout
	}

	var upReader io.Reader = upstream
	var upWriter io.Writer = upstream
	if bps := target.Options.BytesPerSecond; bps > 0 {
		upReader = limiter.NewRateLimitedReader(ctx, upstream, limiter.NewByteRateLimiter(bps))
	}

	copyDone := make(chan struct{}, 2)
	go func() {
		sess.copyToClient(upReader)
		copyDone <- struct{}{}
	}()
	go func() {
		sess.copyFromClient(upWriter, idleTimeout)
		copyDone <- struct{}{}
	}()
	<-copyDone
	<-copyDone

	now := s.cfg.Clock.Now()
	session.EndedAt = &now
	session.Termination = types.TerminationClientClosed
	if err := s.cfg.Services.UpdateSession(ctx, session); err != nil {
		log.WithError(err).WithField("session", sessionID).Warn("failed to finalize session record")
	}
	logSessionEvent(ctx, s.cfg.Services, s.cfg.Clock, sessionID, fmt.Sprintf("session ended: termination=%s", session.Termination))
}

// authenticate challenges the client for a cleartext password and drives
// the Authentication Pipeline. A username starting with "ticket-" selects
// the ticket path instead: the password the client sends is submitted as
// the ticket secret, and the rest of the username is not used.
func (s *Server) authenticate(ctx context.Context, backend *pgproto3.Backend, username, clientIP string) (*types.User, string, error) {
	if strings.HasPrefix(username, "ticket-") {
		begun, err := s.cfg.Auth.Begin(ctx, "", types.ProtocolPostgres, clientIP)
		if err != nil {
			return nil, "", trace.Wrap(err)
		}
		if err := backend.Send(&pgproto3.AuthenticationCleartextPassword{}); err != nil {
			return nil, "", trace.Wrap(err)
		}
		msg, err := backend.Receive()
		if err != nil {
			return nil, "", trace.Wrap(err)
		}
		pw, ok := msg.(*pgproto3.PasswordMessage)
		if !ok {
			return nil, "", trace.BadParameter("pgproxy: expected PasswordMessage")
		}
		result, targetID, err := s.cfg.Auth.SubmitTicket(ctx, begun.Attempt, pw.Password)
		if err != nil {
			return nil, "", trace.Wrap(err)
		}
		if !result.Success {
			return nil, "", trace.AccessDenied("authentication failed")
		}
		return result.User, targetID, nil
	}

	begun, err := s.cfg.Auth.Begin(ctx, username, types.ProtocolPostgres, clientIP)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	if err := backend.Send(&pgproto3.AuthenticationCleartextPassword{}); err != nil {
		return nil, "", trace.Wrap(err)
	}
	msg, err := backend.Receive()
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	pw, ok := msg.(*pgproto3.PasswordMessage)
	if !ok {
		return nil, "", trace.BadParameter("pgproxy: expected PasswordMessage")
	}
	result, err := s.cfg.Auth.SubmitPassword(ctx, begun.Attempt, pw.Password)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	if !result.Success {
		return nil, "", trace.AccessDenied("authentication failed")
	}
	return result.User, "", nil
}

// copyToClient relays upstream bytes to the client under writeMu so an
// in-flight idle reauthentication challenge never interleaves with normal
// traffic on the wire.
func (s *pgSession) copyToClient(src io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			s.touch()
			if s.rec != nil {
				s.rec.WriteFrame(buf[:n])
			}
			s.writeMu.Lock()
			_, werr := s.conn.Write(buf[:n])
			s.writeMu.Unlock()
			if werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// copyFromClient relays client bytes upstream. When the idle watcher has
// armed reauthPending and a blocking Read times out because of it, this
// performs the cleartext-password challenge inline (spec.md section
// 4.3.3's "requires re-authentication... without tearing the backend
// connection down") before resuming the splice.
func (s *pgSession) copyFromClient(dst io.Writer, idleTimeout time.Duration) {
	var idleDone chan struct{}
	if idleTimeout > 0 {
		idleDone = make(chan struct{})
		go s.watchIdle(idleTimeout, idleDone)
		defer close(idleDone)
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.touch()
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if atomic.CompareAndSwapInt32(&s.reauthPending, 1, 0) && isTimeout(err) {
				s.conn.SetReadDeadline(time.Time{})
				if reauthErr := s.reauthenticate(); reauthErr != nil {
					log.WithError(reauthErr).WithField("session", s.sessionID).Info("idle reauthentication failed, closing session")
					return
				}
				s.touch()
				continue
			}
			return
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// watchIdle arms a read deadline on the client connection once the session
// has carried no traffic for timeout, interrupting copyFromClient's blocked
// Read so it can run the reauthentication challenge.
func (s *pgSession) watchIdle(timeout time.Duration, done <-chan struct{}) {
	ticker := s.server.cfg.Clock.NewTicker(timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			if atomic.LoadInt32(&s.reauthPending) == 1 {
				continue
			}
			if s.idleFor() >= timeout {
				atomic.StoreInt32(&s.reauthPending, 1)
				s.conn.SetReadDeadline(s.server.cfg.Clock.Now().Add(-time.Millisecond))
			}
		}
	}
}

// reauthenticate sends a fresh AuthenticationCleartextPassword challenge
// and validates the reply against the Authentication Pipeline, reusing the
// already-resolved user's name to open a new attempt.
func (s *pgSession) reauthenticate() error {
	s.writeMu.Lock()
	err := s.backend.Send(&pgproto3.AuthenticationCleartextPassword{})
	s.writeMu.Unlock()
	if err != nil {
		return trace.Wrap(err)
	}

	msg, err := s.backend.Receive()
	if err != nil {
		return trace.Wrap(err)
	}
	pw, ok := msg.(*pgproto3.PasswordMessage)
	if !ok {
		return trace.BadParameter("pgproxy: expected PasswordMessage")
	}

	begun, err := s.server.cfg.Auth.Begin(s.ctx, s.user.Name, types.ProtocolPostgres, "")
	if err != nil {
		return trace.Wrap(err)
	}
	result, err := s.server.cfg.Auth.SubmitPassword(s.ctx, begun.Attempt, pw.Password)
	if err != nil {
		return trace.Wrap(err)
	}
	if !result.Success {
		return trace.AccessDenied("re-authentication failed")
	}

	s.writeMu.Lock()
	err = s.backend.Send(&pgproto3.AuthenticationOk{})
	s.writeMu.Unlock()
	return trace.Wrap(err)
}
