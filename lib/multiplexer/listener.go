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

package multiplexer

import (
	"context"
	"net"
	"sync"

	"github.com/gravitational/trace"
)

// chanListenerQueueDepth bounds how many handshaked connections may be
// queued for an HTTP server's Accept loop before detectAndForward blocks.
const chanListenerQueueDepth = 256

// chanListener is a net.Listener whose connections arrive over a channel
// rather than from a real socket, letting TLSListener hand off already
//-handshaked connections to a stdlib http.Server by negotiated ALPN
// protocol. The teacher's own TLSListener relies on an equivalent internal
// listener type that was not present in the retrieved sources, so this is
// rebuilt from the standard "channel-backed net.Listener" shape its
// Accept()/Close()/Addr() call sites imply.
type chanListener struct {
	addr net.Addr
	conn chan net.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func newChanListener(ctx context.Context, addr net.Addr) *chanListener {
	l := &chanListener{
		addr:   addr,
		conn:   make(chan net.Conn, chanListenerQueueDepth),
		closed: make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	return l
}

// handleConnection queues conn for a subsequent Accept call. It never
// blocks indefinitely: if the listener is closed or ctx is canceled before
// there is room, conn is closed instead.
func (l *chanListener) handleConnection(ctx context.Context, conn net.Conn) {
	select {
	case l.conn <- conn:
	case <-l.closed:
		conn.Close()
	case <-ctx.Done():
		conn.Close()
	}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conn:
		return conn, nil
	case <-l.closed:
		return nil, trace.Wrap(net.ErrClosed, "multiplexer: listener is closed")
	}
}

func (l *chanListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *chanListener) Addr() net.Addr {
	return l.addr
}
