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
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

const sshDialTimeout = 15 * time.Second

// SSHUpstream is the subset of *ssh.Client the SSH proxy core needs to open
// further channels (sessions, direct-tcpip) once a connection is
// established, kept narrow so the proxy core doesn't depend on the whole
// x/crypto/ssh surface.
type SSHUpstream interface {
	OpenChannel(name string, data []byte) (ssh.Channel, <-chan *ssh.Request, error)
	Close() error
}

type sshDialer struct {
	knownHosts services.KnownHosts
	hostKeys   HostKeySource
}

func newSSHDialer(svc services.Services, hostKeys HostKeySource) *sshDialer {
	return &sshDialer{knownHosts: svc, hostKeys: hostKeys}
}

// connect dials target's SSH endpoint as target.Options.StoredUsername,
// authenticating with the public key d.hostKeys.Signer returns and
// verifying the upstream host key against the known_hosts store per
// target.Options.KnownHostPolicy. The credential named by
// target.Options.StoredCredentialID is not used for SSH targets.
func (d *sshDialer) connect(ctx context.Context, target *types.Target) (*UpstreamConnection, error) {
	signer, err := d.hostKeys.Signer()
	if err != nil {
		return nil, newConnectError(FailureDialError, err)
	}

	host, portStr, err := net.SplitHostPort(target.Address)
	if err != nil {
		return nil, newConnectError(FailureDialError, trace.Wrap(err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, newConnectError(FailureDialError, trace.Wrap(err))
	}

	clientConfig := &ssh.ClientConfig{
		User:            target.Options.StoredUsername,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: d.hostKeyCallback(ctx, target, host, port),
		Timeout:         sshDialTimeout,
	}

	conn, err := net.DialTimeout("tcp", target.Address, sshDialTimeout)
	if err != nil {
		return nil, newConnectError(FailureDialError, trace.Wrap(err))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target.Address, clientConfig)
	if err != nil {
		conn.Close()
		var tagged *connectErrorTag
		if errors.As(err, &tagged) {
			return nil, tagged.err
		}
		return nil, newConnectError(FailureUpstreamAuthError, trace.Wrap(err))
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	// An SSH UpstreamConnection has no single byte stream to splice: the
	// SSH proxy core opens one or more channels against SSHClient itself
	// (a session channel, direct-tcpip for port forwarding if permitted).
	// ReadWriteCloser is left nil; callers for TargetSSH must use SSHClient.
	return &UpstreamConnection{
		Target:    target,
		SSHClient: client,
	}, nil
}

// connectErrorTag lets hostKeyCallback report a precise FailureKind through
// x/crypto/ssh's plain-error HostKeyCallback signature.
type connectErrorTag struct{ err error }

func (e *connectErrorTag) Error() string { return e.err.Error() }

// hostKeyCallback implements spec.md section 4.2's three known-host
// policies: auto-accept pins the first key seen and verifies every later
// key against it; prompt and auto-reject accept only a key matching an
// existing KnownHost record and fail an unrecorded key with
// unknown-host-key. A changed key fails with host-key-mismatch under every
// policy.
func (d *sshDialer) hostKeyCallback(ctx context.Context, target *types.Target, host string, port int) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		candidate := &types.KnownHost{
			TargetID: target.ID,
			Host:     host,
			Port:     port,
			KeyType:  key.Type(),
			KeyBytes: key.Marshal(),
		}

		switch target.Options.KnownHostPolicy {
		case types.KnownHostAutoReject, types.KnownHostPrompt:
			existing, err := d.knownHosts.GetKnownHost(ctx, target.ID, host, port)
			if err != nil {
				if trace.IsNotFound(err) {
					return &connectErrorTag{newConnectError(FailureUnknownHostKey, trace.AccessDenied("host key not previously known"))}
				}
				return &connectErrorTag{newConnectError(FailureDialError, trace.Wrap(err))}
			}
			if existing.KeyType != candidate.KeyType || string(existing.KeyBytes) != string(candidate.KeyBytes) {
				return &connectErrorTag{newConnectError(FailureHostKeyMismatch, trace.AccessDenied("host key changed"))}
			}
			return nil
		case types.KnownHostAutoAccept:
			// Trust-on-first-use: FirstSeenOrVerify pins an unseen key and
			// reports whether a previously pinned one matches.
			pinned, ok, err := d.knownHosts.FirstSeenOrVerify(ctx, *candidate)
			if err != nil {
				return &connectErrorTag{newConnectError(FailureDialError, trace.Wrap(err))}
			}
			if !ok {
				return &connectErrorTag{newConnectError(FailureHostKeyMismatch, trace.AccessDenied("host key changed"))}
			}
			if pinned.KeyType != candidate.KeyType || string(pinned.KeyBytes) != string(candidate.KeyBytes) {
				return &connectErrorTag{newConnectError(FailureHostKeyMismatch, trace.AccessDenied("host key changed"))}
			}
			return nil
		default:
			return &connectErrorTag{newConnectError(FailureUnknownHostKey, trace.BadParameter("unknown host key policy %q", target.Options.KnownHostPolicy))}
		}
	}
}
