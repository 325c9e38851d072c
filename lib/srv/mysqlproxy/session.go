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

package mysqlproxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"

	"github.com/go-mysql-org/go-mysql/packet"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
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

var connectionCounter uint32

// handleConn runs the full MySQL Core state machine of spec.md section
// 4.3.2 for one accepted connection: await-client-handshake, await-
// credentials, authenticating, await-upstream-handshake, connected,
// closing.
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

	pc := packet.NewConn(rawConn)
	connID := atomic.AddUint32(&connectionCounter, 1)

	authData, err := writeInitialHandshake(pc, s.cfg.ServerVersion, connID)
	if err != nil {
		log.WithError(err).WithField("remote", clientIP).Debug("failed to send initial handshake")
		return
	}
	_ = authData // the clear-password plugin ignores the scramble; kept for protocol shape only

	data, err := pc.ReadPacket()
	if err != nil {
		log.WithError(err).WithField("remote", clientIP).Debug("failed to read handshake response")
		return
	}
	resp, err := readHandshakeResponse(data)
	if err != nil {
		writeErrPacket(pc, err)
		return
	}

	user, ticketTargetID, err := s.authenticate(ctx, resp, clientIP)
	if err != nil {
		writeErrPacket(pc, err)
		return
	}

	var target *types.Target
	if ticketTargetID != "" {
		target, err = s.cfg.Services.GetTarget(ctx, ticketTargetID)
	} else {
		target, err = resolveTarget(ctx, s.cfg.Services, user, resp.database)
	}
	if err != nil {
		writeErrPacket(pc, err)
		return
	}

	upstream, err := s.cfg.Connector.Connect(ctx, user, target)
	if err != nil {
		log.WithError(err).WithField("target", target.Name).Debug("upstream connect failed")
		writeErrPacket(pc, err)
		return
	}
	defer upstream.Close()

	if err := pc.WritePacket(okPacket()); err != nil {
		return
	}

	sessionID := uuid.NewString()
	session := types.Session{
		ID:         sessionID,
		Protocol:   types.ProtocolMySQL,
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

	var upReader io.Reader = upstream
	var downReader io.Reader = rawConn
	if bps := target.Options.BytesPerSecond; bps > 0 {
		upReader = limiter.NewRateLimitedReader(ctx, upstream, limiter.NewByteRateLimiter(bps))
		downReader = limiter.NewRateLimitedReader(ctx, rawConn, limiter.NewByteRateLimiter(bps))
	}

	copyDone := make(chan struct{}, 2)
	go func() {
		copyAndRecord(rawConn, upReader, rec)
		copyDone <- struct{}{}
	}()
	go func() {
		io.Copy(upstream, downReader)
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

// authenticate drives the Authentication Pipeline with whatever the
// handshake response carried: a "ticket-<secret>" username bypasses
// password auth entirely, per spec.md section 4.3.2's "no interactive MFA"
// rule for the database cores.
func (s *Server) authenticate(ctx context.Context, resp *handshakeResponse, clientIP string) (*types.User, string, error) {
	if strings.HasPrefix(resp.username, "ticket-") {
		begun, err := s.cfg.Auth.Begin(ctx, "", types.ProtocolMySQL, clientIP)
		if err != nil {
			return nil, "", trace.Wrap(err)
		}
		result, targetID, err := s.cfg.Auth.SubmitTicket(ctx, begun.Attempt, strings.TrimPrefix(resp.username, "ticket-"))
		if err != nil {
			return nil, "", trace.Wrap(err)
		}
		if !result.Success {
			return nil, "", trace.AccessDenied("authentication failed")
		}
		return result.User, targetID, nil
	}

	begun, err := s.cfg.Auth.Begin(ctx, resp.username, types.ProtocolMySQL, clientIP)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	result, err := s.cfg.Auth.SubmitPassword(ctx, begun.Attempt, resp.password)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	if !result.Success {
		return nil, "", trace.AccessDenied("authentication failed")
	}
	return result.User, "", nil
}

// copyAndRecord relays upstream->client packet bytes while mirroring each
// chunk into the traffic recording, mirroring the SSH core's own
// copyAndRecord.
func copyAndRecord(dst io.Writer, src io.Reader, rec recorder.Writer) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if rec != nil {
				rec.WriteFrame(buf[:n])
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
