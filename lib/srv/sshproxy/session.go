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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/warpgate-bastion/warpgate/lib/connector"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

// sshSession is the await-target-select/connected/closing portion of
// spec.md section 4.3.1's state machine: one authenticated client
// connection bound to one target, splicing zero or more channels against
// the single upstream *ssh.Client the Target Connector handed back.
type sshSession struct {
	server   *Server
	ctx      context.Context
	conn     *ssh.ServerConn
	user     *types.User
	target   *types.Target
	clientIP string

	sessionID string
	upstream  *connector.UpstreamConnection

	lastActivity int64 // unix nanos, atomic
}

func (s *sshSession) touch() {
	atomic.StoreInt64(&s.lastActivity, s.server.cfg.Clock.Now().UnixNano())
}

func (s *sshSession) idleFor() time.Duration {
	last := atomic.LoadInt64(&s.lastActivity)
	return s.server.cfg.Clock.Now().Sub(time.Unix(0, last))
}

// run dials the upstream, records the Session, services channel requests
// until the client disconnects, and finalizes the Session record.
func (s *sshSession) run(chans <-chan ssh.NewChannel) error {
	s.sessionID = uuid.NewString()
	s.touch()

	upstream, err := s.server.cfg.Connector.Connect(s.ctx, s.user, s.target)
	if err != nil {
		log.WithError(err).WithField("target", s.target.Name).Debug("upstream connect failed")
		return trace.Wrap(err)
	}
	s.upstream = upstream
	defer upstream.SSHClient.Close()

	session := types.Session{
		ID:         s.sessionID,
		Protocol:   types.ProtocolSSH,
		UserID:     s.user.ID,
		TargetID:   s.target.ID,
		RemoteAddr: s.clientIP,
		StartedAt:  s.server.cfg.Clock.Now(),
	}
	if err := s.server.cfg.Services.CreateSession(s.ctx, session); err != nil {
		return trace.Wrap(err)
	}
	s.logEvent(fmt.Sprintf("session started: user=%s target=%s remote=%s", s.user.Name, s.target.Name, s.clientIP))

	idleTimeout := s.target.Options.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = s.server.cfg.IdleTimeout
	}
	var idleDone chan struct{}
	if idleTimeout > 0 {
		idleDone = make(chan struct{})
		go s.watchIdle(idleTimeout, idleDone)
		defer close(idleDone)
	}

	reason := types.TerminationClientClosed
	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			go s.handleSessionChannel(newChannel)
		case "direct-tcpip":
			go s.handleDirectTCPIP(newChannel)
		default:
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}

	now := s.server.cfg.Clock.Now()
	session.EndedAt = &now
	session.Termination = reason
	if err := s.server.cfg.Services.UpdateSession(s.ctx, session); err != nil {
		log.WithError(err).WithField("session", s.sessionID).Warn("failed to finalize session record")
	}
	s.logEvent(fmt.Sprintf("session ended: termination=%s", reason))
	return nil
}

// logEvent appends a human-readable audit line for this session to the
// State Store's log-line log, per spec.md section 4.5. A failure to append
// is logged but never fails the session itself, the same tolerance the
// surrounding CreateSession/UpdateSession calls already apply to State
// Store writes that are not on the session's critical path.
func (s *sshSession) logEvent(text string) {
	line := types.LogLine{
		ID:        uuid.NewString(),
		SessionID: s.sessionID,
		Time:      s.server.cfg.Clock.Now(),
		Text:      text,
	}
	if err := s.server.cfg.Services.AppendLogLine(s.ctx, line); err != nil {
		log.WithError(err).WithField("session", s.sessionID).Warn("failed to append session log line")
	}
}

func (s *sshSession) watchIdle(timeout time.Duration, done <-chan struct{}) {
	ticker := s.server.cfg.Clock.NewTicker(timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			if s.idleFor() >= timeout {
				log.WithField("session", s.sessionID).Info("closing idle SSH session")
				s.conn.Close()
				return
			}
		}
	}
}
