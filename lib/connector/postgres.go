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
	"crypto/md5"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"net"

	"github.com/gravitational/trace"
	"github.com/jackc/pgproto3/v2"

	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

// postgresSSLRequestCode is the magic value Postgres clients send as the
// startup-packet "protocol version" to ask the server whether it will
// upgrade to TLS, per the wire protocol's SSLRequest message.
const postgresSSLRequestCode = 80877103

// postgresDialer dials a Target's Postgres upstream, performing the startup
// and authentication handshake itself (rather than handing it to a
// query-oriented driver) so the resulting net.Conn can be handed back to the
// Postgres proxy core as a raw, post-auth byte stream to splice against the
// client, the same "Frontend acts as a client for the wire protocol" pattern
// the teacher's db/postgres/proxy.go uses on the inbound side.
type postgresDialer struct {
	credentials services.Credentials
}

func newPostgresDialer(svc services.Services) *postgresDialer {
	return &postgresDialer{credentials: svc}
}

func (d *postgresDialer) connect(ctx context.Context, target *types.Target) (*UpstreamConnection, error) {
	cred, err := d.credentials.GetCredential(ctx, types.StoredSecretOwner, target.Options.StoredCredentialID)
	if err != nil {
		return nil, newConnectError(FailureDialError, trace.Wrap(err))
	}
	password := cred.StoredSecret.Reveal()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", target.Address)
	if err != nil {
		return nil, newConnectError(FailureDialError, trace.Wrap(err))
	}

	if target.Options.TLSMode != types.TLSDisable && target.Options.TLSMode != "" {
		upgraded, err := negotiatePostgresTLS(conn, target)
		if err != nil {
			conn.Close()
			return nil, newConnectError(FailureTLSError, trace.Wrap(err))
		}
		if upgraded != nil {
			conn = upgraded
		} else if target.Options.TLSMode == types.TLSRequire || target.Options.TLSMode == types.TLSVerifyFull {
			conn.Close()
			return nil, newConnectError(FailureTLSError, trace.BadParameter("target requires TLS but upstream declined"))
		}
	}

	frontend := pgproto3.NewFrontend(pgproto3.NewChunkReader(conn), conn)
	startup := &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters: map[string]string{
			"user": target.Options.StoredUsername,
		},
	}
	if target.Options.DatabaseName != "" {
		startup.Parameters["database"] = target.Options.DatabaseName
	}
	if err := frontend.Send(startup); err != nil {
		conn.Close()
		return nil, newConnectError(FailureDialError, trace.Wrap(err))
	}

	if err := postgresAuthenticate(frontend, target.Options.StoredUsername, password); err != nil {
		conn.Close()
		return nil, newConnectError(FailureUpstreamAuthError, trace.Wrap(err))
	}

	return &UpstreamConnection{
		ReadWriteCloser: conn,
		Target:          target,
	}, nil
}

// negotiatePostgresTLS sends an SSLRequest and, if the upstream agrees
// ('S'), wraps conn in a TLS client connection. It returns nil, nil if the
// upstream declined ('N'), leaving the plaintext conn in place for the
// caller to decide whether that's acceptable under the target's TLSMode.
func negotiatePostgresTLS(conn net.Conn, target *types.Target) (net.Conn, error) {
	req := make([]byte, 8)
	binary.BigEndian.PutUint32(req[0:4], 8)
	binary.BigEndian.PutUint32(req[4:8], postgresSSLRequestCode)
	if _, err := conn.Write(req); err != nil {
		return nil, trace.Wrap(err)
	}
	resp := make([]byte, 1)
	if _, err := conn.Read(resp); err != nil {
		return nil, trace.Wrap(err)
	}
	if resp[0] != 'S' {
		return nil, nil
	}
	cfg := &tls.Config{}
	if target.Options.TLSMode == types.TLSVerifyFull {
		host, _, err := splitAddr(target.Address)
		if err == nil {
			cfg.ServerName = host
		}
	} else {
		cfg.InsecureSkipVerify = true
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, trace.Wrap(err)
	}
	return tlsConn, nil
}

// postgresAuthenticate drives the startup authentication exchange,
// answering cleartext and MD5 password requests, then drains messages up
// to ReadyForQuery so the returned connection is handed back idle and ready
// for the proxy core to splice raw bytes across. Other authentication
// requests, SASL included, get no reply.
func postgresAuthenticate(frontend *pgproto3.Frontend, user, password string) error {
	for {
		msg, err := frontend.Receive()
		if err != nil {
			return trace.Wrap(err)
		}
		switch m := msg.(type) {
		case *pgproto3.AuthenticationOk:
			// fall through to drain loop below
		case *pgproto3.AuthenticationCleartextPassword:
			if err := frontend.Send(&pgproto3.PasswordMessage{Password: password}); err != nil {
				return trace.Wrap(err)
			}
			continue
		case *pgproto3.AuthenticationMD5Password:
			hashed := postgresMD5Password(user, password, m.Salt)
			if err := frontend.Send(&pgproto3.PasswordMessage{Password: hashed}); err != nil {
				return trace.Wrap(err)
			}
			continue
		case *pgproto3.ErrorResponse:
			return trace.AccessDenied("postgres upstream rejected authentication: %s", m.Message)
		case *pgproto3.ReadyForQuery:
			return nil
		case *pgproto3.BackendKeyData, *pgproto3.ParameterStatus:
			continue
		default:
			continue
		}
	}
}

// postgresMD5Password implements Postgres's md5 password hashing:
// "md5" + md5(md5(password + user) + salt), hex-encoded.
func postgresMD5Password(user, password string, salt [4]byte) string {
	inner := md5.Sum([]byte(password + user))
	outerInput := append([]byte(hex.EncodeToString(inner[:])), salt[:]...)
	outer := md5.Sum(outerInput)
	return "md5" + hex.EncodeToString(outer[:])
}
