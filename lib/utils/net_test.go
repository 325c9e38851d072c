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

package utils

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestIsOKNetworkErrorNil(t *testing.T) {
	require.False(t, IsOKNetworkError(nil))
}

func TestIsOKNetworkErrorEOF(t *testing.T) {
	require.True(t, IsOKNetworkError(io.EOF))
}

func TestIsOKNetworkErrorOther(t *testing.T) {
	require.False(t, IsOKNetworkError(errors.New("boom")))
}

func TestClientIPFromConnStripsPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			acceptedCh <- c
		}
	}()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	server := <-acceptedCh
	defer server.Close()

	ip, err := ClientIPFromConn(server)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", ip)
}

type pipeReadWriteCloser struct {
	io.Reader
	io.Writer
	closed chan struct{}
}

func (p *pipeReadWriteCloser) Close() error {
	close(p.closed)
	return nil
}

func TestProxyConnCopiesBothDirectionsAndClosesOnEOF(t *testing.T) {
	aIn, aOut := io.Pipe()
	bIn, bOut := io.Pipe()
	cIn, cOut := io.Pipe()

	// a yields what the test writes to aOut, and what ProxyConn writes to b
	// is read back from bIn; the b->a direction reads cIn and discards.
	a := &pipeReadWriteCloser{Reader: aIn, Writer: io.Discard, closed: make(chan struct{})}
	b := &pipeReadWriteCloser{Reader: cIn, Writer: bOut, closed: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		done <- ProxyConn(context.Background(), a, b)
	}()

	go func() {
		_, _ = aOut.Write([]byte("hello"))
		_ = aOut.Close()
	}()

	buf := make([]byte, 5)
	n, err := io.ReadFull(bIn, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	_ = cOut.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProxyConn did not return after both pipes closed")
	}
}

func TestProxyConnReturnsOnContextCancel(t *testing.T) {
	aIn, aOut := io.Pipe()
	bIn, bOut := io.Pipe()
	defer aOut.Close()
	defer bOut.Close()
	a := &pipeReadWriteCloser{Reader: aIn, Writer: io.Discard, closed: make(chan struct{})}
	b := &pipeReadWriteCloser{Reader: bIn, Writer: io.Discard, closed: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ProxyConn(ctx, a, b)
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ProxyConn did not return after context cancellation")
	}
}

func TestSplitHostPortValid(t *testing.T) {
	host, port, err := SplitHostPort("example.com:443")
	require.NoError(t, err)
	require.Equal(t, "example.com", host)
	require.Equal(t, "443", port)
}

func TestSplitHostPortInvalidIsBadParameter(t *testing.T) {
	_, _, err := SplitHostPort("not-a-hostport")
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}
