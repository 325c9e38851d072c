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
	"crypto/tls"
	"net"

	"github.com/go-mysql-org/go-mysql/client"
	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

func splitAddr(addr string) (host, port string, err error) {
	return net.SplitHostPort(addr)
}

// mysqlDialer dials a Target's MySQL upstream with the credential recorded
// in the target's options, grounded on the wire-level connect sequence of
// go-mysql-org/go-mysql's client package (the maintained fork of
// siddontang/go-mysql the teacher's own MySQL engine code dials against).
type mysqlDialer struct {
	credentials services.Credentials
}

func newMySQLDialer(svc services.Services) *mysqlDialer {
	return &mysqlDialer{credentials: svc}
}

func (d *mysqlDialer) connect(ctx context.Context, target *types.Target) (*UpstreamConnection, error) {
	cred, err := d.credentials.GetCredential(ctx, types.StoredSecretOwner, target.Options.StoredCredentialID)
	if err != nil {
		return nil, newConnectError(FailureDialError, trace.Wrap(err))
	}
	password := cred.StoredSecret.Reveal()

	dbName := target.Options.DatabaseName

	var opts []client.Option
	switch target.Options.TLSMode {
	case types.TLSDisable, "":
		// no TLS
	case types.TLSPrefer, types.TLSRequire:
		opts = append(opts, func(c *client.Conn) {
			c.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
		})
	case types.TLSVerifyFull:
		host, _, splitErr := splitAddr(target.Address)
		if splitErr != nil {
			host = target.Address
		}
		opts = append(opts, func(c *client.Conn) {
			c.SetTLSConfig(&tls.Config{ServerName: host})
		})
	}

	conn, err := client.Connect(target.Address, target.Options.StoredUsername, password, dbName, opts...)
	if err != nil {
		return nil, newConnectError(FailureUpstreamAuthError, trace.Wrap(err))
	}

	return &UpstreamConnection{
		// conn.Conn is go-mysql's packet.Conn, whose embedded net.Conn field
		// is itself named Conn; this gives the MySQL proxy core the raw
		// byte stream to read/write wire packets against directly rather
		// than going back through client.Conn's query-oriented API.
		ReadWriteCloser: conn.Conn.Conn,
		Target:          target,
	}, nil
}
