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

// Package connector implements the Target Connector: dialing outward to a
// Target's upstream endpoint with stored credentials and returning a
// bidirectional byte stream the calling protocol core can splice against
// the client connection.
package connector

import (
	"context"
	"io"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "connector"})

// FailureKind classifies why Connect failed, per spec.md section 4.2's
// contract: "connect(user, target) -> UpstreamConnection | fail(kind)".
type FailureKind string

const (
	FailureUnknownHostKey    FailureKind = "unknown-host-key"
	FailureHostKeyMismatch   FailureKind = "host-key-mismatch"
	FailureDialError         FailureKind = "dial-error"
	FailureUpstreamAuthError FailureKind = "upstream-auth-error"
	FailureNotAuthorized     FailureKind = "not-authorized"
	FailureTLSError          FailureKind = "tls-error"
)

// ConnectError wraps a FailureKind alongside the underlying cause.
type ConnectError struct {
	Kind FailureKind
	Err  error
}

func (e *ConnectError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

func newConnectError(kind FailureKind, err error) error {
	return trace.Wrap(&ConnectError{Kind: kind, Err: err})
}

// UpstreamConnection is what a successful Connect returns: a bidirectional
// stream plus whatever protocol-specific capability hooks the caller needs
// (e.g. the SSH core asking whether a channel type is permitted).
type UpstreamConnection struct {
	io.ReadWriteCloser
	// Target is the resolved target this connection was dialed against.
	Target *types.Target
	// SSHClient is populated only for TargetSSH connections, giving the SSH
	// proxy core access to channel-opening beyond the plain byte stream.
	SSHClient SSHUpstream
	// http is populated only for TargetHTTP connections: HTTP has no single
	// byte stream to splice, so the HTTP proxy core drives requests through
	// this Forwarder instead of ReadWriteCloser.
	http *HTTPUpstream
}

// HTTP returns the Forwarder/base-URL pair for a TargetHTTP connection, or
// nil if conn was not dialed against an HTTP target.
func (c *UpstreamConnection) HTTP() *HTTPUpstream {
	return c.http
}

// Connector dials every target kind Warpgate supports. One Connector
// instance is shared across all protocol cores.
type Connector struct {
	services services.Services
	ssh      *sshDialer
	mysql    *mysqlDialer
	postgres *postgresDialer
	http     *httpDialer
}

// Config wires a Connector's dependencies.
type Config struct {
	Services services.Services
	HostKeys HostKeySource
}

// HostKeySource supplies Warpgate's own identity keypair for upstream SSH
// authentication (lib/connector/sshkeys.go).
type HostKeySource interface {
	Signer() (Signer, error)
}

func New(cfg Config) (*Connector, error) {
	if cfg.Services == nil {
		return nil, trace.BadParameter("connector: missing Services")
	}
	return &Connector{
		services: cfg.Services,
		ssh:      newSSHDialer(cfg.Services, cfg.HostKeys),
		mysql:    newMySQLDialer(cfg.Services),
		postgres: newPostgresDialer(cfg.Services),
		http:     newHTTPDialer(cfg.Services),
	}, nil
}

// Connect dials target's upstream using the dial logic appropriate to its
// kind, checking role access first so an unauthorized user never reaches
// the dial step.
func (c *Connector) Connect(ctx context.Context, user *types.User, target *types.Target) (*UpstreamConnection, error) {
	if !target.Reachable(user.Roles) {
		return nil, newConnectError(FailureNotAuthorized, trace.AccessDenied("access denied"))
	}

	var (
		conn *UpstreamConnection
		err  error
	)
	switch target.Kind {
	case types.TargetSSH:
		conn, err = c.ssh.connect(ctx, target)
	case types.TargetMySQL:
		conn, err = c.mysql.connect(ctx, target)
	case types.TargetPostgres:
		conn, err = c.postgres.connect(ctx, target)
	case types.TargetHTTP:
		conn, err = c.http.connect(ctx, target)
	default:
		return nil, trace.BadParameter("unsupported target kind %q", target.Kind)
	}
	if err != nil {
		log.WithError(err).WithField("target", target.Name).Debug("dial to target failed")
		return nil, err
	}
	return conn, nil
}
