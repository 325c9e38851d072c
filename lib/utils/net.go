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

// Package utils holds small, dependency-free helpers shared by the
// multiplexer, connector, and protocol proxy cores.
package utils

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/gravitational/trace"
)

// IsOKNetworkError returns true for errors produced by routine connection
// teardown (closed listener, closed connection, EOF) that callers should
// log at debug level rather than treat as failures.
func IsOKNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return IsUseOfClosedNetworkError(err)
}

// IsUseOfClosedNetworkError detects the unexported net package sentinel
// string that net.Conn/net.Listener operations return after Close.
func IsUseOfClosedNetworkError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

// ClientIPFromConn extracts the remote IP (without port) from a net.Conn,
// used for IP-scoped auth backoff and byte-rate limiting.
func ClientIPFromConn(conn net.Conn) (string, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return "", trace.Wrap(err)
	}
	return host, nil
}

// ProxyConn bidirectionally splices a and b until either side closes or ctx
// is canceled, returning the first error observed. Each direction runs in
// its own goroutine, preserving in-order delivery within that direction as
// required by the session ordering guarantees.
func ProxyConn(ctx context.Context, a, b io.ReadWriteCloser) error {
	errCh := make(chan error, 2)
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			a.Close()
			b.Close()
		})
	}

	copyFn := func(dst io.Writer, src io.Reader) {
		_, err := io.Copy(dst, src)
		errCh <- err
	}

	go copyFn(a, b)
	go copyFn(b, a)

	defer closeBoth()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// SplitHostPort is a thin wrapper over net.SplitHostPort that returns a
// BadParameter trace error instead of the stdlib's unadorned *AddrError,
// matching the error style used throughout the proxy cores.
func SplitHostPort(hostport string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(hostport)
	if err != nil {
		return "", "", trace.BadParameter("invalid host:port %q: %v", hostport, err)
	}
	return host, port, nil
}
