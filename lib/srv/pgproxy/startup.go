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
	"crypto/tls"
	"net"

	"github.com/gravitational/trace"
	"github.com/jackc/pgproto3/v2"
)

// handleStartup answers the client's SSLRequest/GSSEncRequest/StartupMessage
// exchange, upgrading to TLS when offered and configured, the same loop
// shape as the teacher's own Postgres proxy. It returns the negotiated
// connection (possibly now a *tls.Conn) along with a Backend framed over it
// and the client's StartupMessage.
func (s *Server) handleStartup(clientConn net.Conn) (net.Conn, *pgproto3.Backend, *pgproto3.StartupMessage, error) {
	receivedSSLRequest := false
	receivedGSSEncRequest := false
	for {
		backend := pgproto3.NewBackend(pgproto3.NewChunkReader(clientConn), clientConn)
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return nil, nil, nil, trace.Wrap(err)
		}

		switch m := msg.(type) {
		case *pgproto3.SSLRequest:
			if receivedSSLRequest {
				return nil, nil, nil, trace.BadParameter("pgproxy: received more than one SSLRequest")
			}
			receivedSSLRequest = true
			if s.cfg.TLSConfig == nil {
				if _, err := clientConn.Write([]byte("N")); err != nil {
					return nil, nil, nil, trace.Wrap(err)
				}
			} else {
				if _, err := clientConn.Write([]byte("S")); err != nil {
					return nil, nil, nil, trace.Wrap(err)
				}
				clientConn = tls.Server(clientConn, s.cfg.TLSConfig)
			}
			continue
		case *pgproto3.GSSEncRequest:
			if receivedGSSEncRequest {
				return nil, nil, nil, trace.BadParameter("pgproxy: received more than one GSSEncRequest")
			}
			receivedGSSEncRequest = true
			if _, err := clientConn.Write([]byte("N")); err != nil {
				return nil, nil, nil, trace.Wrap(err)
			}
			continue
		case *pgproto3.StartupMessage:
			return clientConn, backend, m, nil
		default:
			return nil, nil, nil, trace.BadParameter("pgproxy: unsupported startup message: %#v", msg)
		}
	}
}
