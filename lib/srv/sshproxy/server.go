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

// Package sshproxy implements the SSH Protocol Proxy Core: it terminates
// the client side of the SSH transport, drives the Authentication Pipeline
// through password/keyboard-interactive/public-key methods, resolves the
// requested target from the client's username, opens the upstream
// connection through the Target Connector, and splices channels while
// recording interactive sessions. Its shape (a net.Listener accept loop
// handing each raw conn off to ssh.NewServerConn, then a range over the
// resulting <-chan ssh.NewChannel) is grounded on the proxy pattern in
// other_examples' adobe-aquarium-fish ssh-proxy.go, generalized to the
// teacher's own connection/logging/error idiom.
package sshproxy

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/warpgate-bastion/warpgate/lib/auth"
	"github.com/warpgate-bastion/warpgate/lib/authz"
	"github.com/warpgate-bastion/warpgate/lib/connector"
	"github.com/warpgate-bastion/warpgate/lib/limiter"
	"github.com/warpgate-bastion/warpgate/lib/recorder"
	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "sshproxy"})

// Config wires a Server's dependencies and tunables.
type Config struct {
	Listener  net.Listener
	HostKey   ssh.Signer
	Services  services.Services
	Auth      *auth.Pipeline
	Connector *connector.Connector
	Recorder  *recorder.Pipeline
	Limiter   *limiter.ConnectionsLimiter
	Clock     clockwork.Clock

	// IdleTimeout closes a session whose spliced streams have carried no
	// data for this long, absent a per-target override.
	IdleTimeout time.Duration
	// ServerVersion is the SSH identification string Warpgate advertises;
	// x/crypto/ssh prefixes it with "SSH-2.0-" if missing that prefix.
	ServerVersion string
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Listener == nil {
		return trace.BadParameter("sshproxy: missing Listener")
	}
	if c.HostKey == nil {
		return trace.BadParameter("sshproxy: missing HostKey")
	}
	if c.Services == nil {
		return trace.BadParameter("sshproxy: missing Services")
	}
	if c.Auth == nil {
		return trace.BadParameter("sshproxy: missing Auth")
	}
	if c.Connector == nil {
		return trace.BadParameter("sshproxy: missing Connector")
	}
	if c.Recorder == nil {
		return trace.BadParameter("sshproxy: missing Recorder")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ServerVersion == "" {
		c.ServerVersion = "SSH-2.0-Warpgate"
	}
	return nil
}

// Server accepts SSH client connections on a single listener and runs each
// through the SSH Protocol Proxy Core's state machine.
type Server struct {
	cfg Config

	mu       sync.Mutex
	attempts map[string]*connAuthState
}

// New builds a ready Server. The caller starts it with Serve.
func New(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Server{cfg: cfg, attempts: make(map[string]*connAuthState)}, nil
}

// Serve runs the accept loop until the listener closes or ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.cfg.Listener.Close()
	}()
	for {
		conn, err := s.cfg.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return trace.Wrap(net.ErrClosed, "sshproxy: listener is closed")
			default:
			}
			return trace.Wrap(err)
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn runs the await-version/kex/await-auth/authenticating portion
// of the state machine (delegated to x/crypto/ssh's handshake) and, on
// success, hands off to runSession for await-target-select/connected.
func (s *Server) handleConn(ctx context.Context, rawConn net.Conn) {
	clientIP, _, err := net.SplitHostPort(rawConn.RemoteAddr().String())
	if err != nil {
		clientIP = rawConn.RemoteAddr().String()
	}

	var release func()
	if s.cfg.Limiter != nil {
		release, err = s.cfg.Limiter.RegisterRequestAndConnection(clientIP)
		if err != nil {
			log.WithError(err).WithField("remote", clientIP).Debug("connection limit exceeded")
			rawConn.Close()
			return
		}
		defer release()
	}

	connKey := rawConn.RemoteAddr().String()
	state := &connAuthState{
		server:     s,
		ctx:        ctx,
		clientIP:   clientIP,
		protocol:   types.ProtocolSSH,
	}
	s.mu.Lock()
	s.attempts[connKey] = state
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.attempts, connKey)
		s.mu.Unlock()
	}()

	serverConfig := &ssh.ServerConfig{
		ServerVersion:               s.cfg.ServerVersion,
		PasswordCallback:            state.passwordCallback,
		PublicKeyCallback:           state.publicKeyCallback,
		KeyboardInteractiveCallback: state.keyboardInteractiveCallback,
	}
	serverConfig.AddHostKey(s.cfg.HostKey)
	state.serverConfig = serverConfig

	sshConn, chans, reqs, err := ssh.NewServerConn(rawConn, serverConfig)
	if err != nil {
		log.WithError(err).WithField("remote", clientIP).Debug("SSH handshake failed")
		rawConn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	if state.user == nil {
		log.WithField("remote", clientIP).Warn("SSH connection authenticated without a resolved user")
		return
	}
	target, err := state.resolveSessionTarget()
	if err != nil {
		log.WithError(err).WithField("remote", clientIP).Debug("target resolution failed after authentication")
		return
	}
	state.target = target

	sess := &sshSession{
		server:   s,
		ctx:      ctx,
		conn:     sshConn,
		user:     state.user,
		target:   state.target,
		clientIP: clientIP,
	}
	if err := sess.run(chans); err != nil {
		log.WithError(err).WithField("session", sess.sessionID).Debug("SSH session ended with error")
	}
}

// resolveTarget implements the SSH core's target-selection rule (spec.md
// section 4.3.1): the client's username is a bare target name, a
// "user@target" pair, or a ticket of the form "ticket-<secret>".
func resolveTarget(ctx context.Context, svc services.Services, user *types.User, targetName string) (*types.Target, error) {
	return authz.ResolveTarget(ctx, svc, user, targetName)
}
