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

// Package pgproxy implements the Postgres Protocol Proxy Core: it answers
// the client's SSLRequest/GSSEncRequest/StartupMessage exchange itself,
// drives the Authentication Pipeline with the password the client returns
// to a cleartext-password challenge (no MD5 or SASL challenge is offered),
// resolves and dials the target through the Target Connector,
// and splices raw bytes both ways once connected. Its startup handshake is
// a direct generalization of the teacher's own inbound Postgres proxy
// (lib/srv/db/postgres/proxy.go), built on the same pgproto3 wire-protocol
// library.
package pgproxy

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/warpgate-bastion/warpgate/lib/auth"
	"github.com/warpgate-bastion/warpgate/lib/authz"
	"github.com/warpgate-bastion/warpgate/lib/connector"
	"github.com/warpgate-bastion/warpgate/lib/limiter"
	"github.com/warpgate-bastion/warpgate/lib/recorder"
	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "pgproxy"})

// Config wires a Server's dependencies and tunables.
type Config struct {
	Listener  net.Listener
	Services  services.Services
	Auth      *auth.Pipeline
	Connector *connector.Connector
	Recorder  *recorder.Pipeline
	Limiter   *limiter.ConnectionsLimiter
	Clock     clockwork.Clock

	// TLSConfig, if set, is offered to clients that send an SSLRequest.
	// A nil TLSConfig makes the core decline TLS (reply 'N') the same way
	// the teacher's proxy does when it has none configured.
	TLSConfig *tls.Config

	// IdleTimeout, absent a per-target override, is how long a connected
	// session may carry no traffic before the core challenges the client
	// with a fresh cleartext-password request rather than closing the
	// backend connection outright (spec.md section 4.3.3).
	IdleTimeout time.Duration
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Listener == nil {
		return trace.BadParameter("pgproxy: missing Listener")
	}
	if c.Services == nil {
		return trace.BadParameter("pgproxy: missing Services")
	}
	if c.Auth == nil {
		return trace.BadParameter("pgproxy: missing Auth")
	}
	if c.Connector == nil {
		return trace.BadParameter("pgproxy: missing Connector")
	}
	if c.Recorder == nil {
		return trace.BadParameter("pgproxy: missing Recorder")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Server accepts Postgres client connections on a single listener and runs
// each through the Postgres Protocol Proxy Core's state machine.
type Server struct {
	cfg Config
}

// New builds a ready Server. The caller starts it with Serve.
func New(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Server{cfg: cfg}, nil
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
				return trace.Wrap(net.ErrClosed, "pgproxy: listener is closed")
			default:
			}
			return trace.Wrap(err)
		}
		go s.handleConn(ctx, conn)
	}
}

// resolveTarget implements the Postgres core's target-selection rule,
// mirroring the MySQL core: the startup message's "database" parameter
// names the target.
func resolveTarget(ctx context.Context, svc services.Services, user *types.User, targetName string) (*types.Target, error) {
	return authz.ResolveTarget(ctx, svc, user, targetName)
}
