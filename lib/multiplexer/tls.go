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

// Package multiplexer terminates TLS on the HTTP(S) listener (spec.md
// section 6's single `[::]:8888` endpoint), picks the serving certificate
// by SNI, and forwards the handshaked connection to an HTTP/1.1 or HTTP/2
// net.Listener by negotiated ALPN protocol — generalizing the teacher's
// TLSListener, which does the identical detect-and-forward dance for its
// own proxy service port.
package multiplexer

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "multiplexer"})

const defaultHandshakeReadDeadline = 5 * time.Second

// TLSListenerConfig configures a TLSListener.
type TLSListenerConfig struct {
	// Listener accepts raw TCP connections before TLS is applied.
	Listener net.Listener
	// GetCertificate selects the serving certificate by SNI, implementing
	// spec.md section 6's "optional SNI-to-certificate map".
	GetCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)
	// ReadDeadline bounds how long the TLS handshake is allowed to take.
	ReadDeadline time.Duration
	Clock        clockwork.Clock
}

func (c *TLSListenerConfig) CheckAndSetDefaults() error {
	if c.Listener == nil {
		return trace.BadParameter("multiplexer: missing Listener")
	}
	if c.GetCertificate == nil {
		return trace.BadParameter("multiplexer: missing GetCertificate")
	}
	if c.ReadDeadline == 0 {
		c.ReadDeadline = defaultHandshakeReadDeadline
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewTLSListener wraps cfg.Listener with TLS, splitting handshaked
// connections across an HTTP/1.1 listener and an HTTP/2 listener by
// negotiated ALPN protocol.
func NewTLSListener(cfg TLSListenerConfig) (*TLSListener, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	tlsConfig := &tls.Config{
		GetCertificate: cfg.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
	}
	return &TLSListener{
		cfg:           cfg,
		tlsConfig:     tlsConfig,
		http2Listener: newChanListener(ctx, cfg.Listener.Addr()),
		httpListener:  newChanListener(ctx, cfg.Listener.Addr()),
		cancel:        cancel,
		ctx:           ctx,
	}, nil
}

// TLSListener wraps a raw net.Listener, terminates TLS, and forwards each
// handshaked connection to whichever of HTTP2()/HTTP() matches the
// negotiated ALPN protocol.
type TLSListener struct {
	cfg           TLSListenerConfig
	tlsConfig     *tls.Config
	http2Listener *chanListener
	httpListener  *chanListener
	cancel        context.CancelFunc
	ctx           context.Context
}

// HTTP2 returns the net.Listener an HTTP/2 server should Serve on.
func (l *TLSListener) HTTP2() net.Listener { return l.http2Listener }

// HTTP returns the net.Listener an HTTP/1.1 server should Serve on.
func (l *TLSListener) HTTP() net.Listener { return l.httpListener }

// Serve accepts raw connections from cfg.Listener, handshakes each as TLS,
// and forwards it to the right protocol listener. It blocks until the
// underlying listener closes.
func (l *TLSListener) Serve() error {
	for {
		conn, err := l.cfg.Listener.Accept()
		if err != nil {
			select {
			case <-l.ctx.Done():
				return trace.Wrap(net.ErrClosed, "multiplexer: listener is closed")
			default:
			}
			return trace.Wrap(err)
		}
		go l.detectAndForward(tls.Server(conn, l.tlsConfig))
	}
}

func (l *TLSListener) detectAndForward(conn *tls.Conn) {
	if err := conn.SetReadDeadline(l.cfg.Clock.Now().Add(l.cfg.ReadDeadline)); err != nil {
		conn.Close()
		return
	}

	if err := conn.HandshakeContext(l.ctx); err != nil {
		if trace.Unwrap(err) != io.EOF {
			log.WithError(err).Debug("TLS handshake failed")
		}
		conn.Close()
		return
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return
	}

	switch conn.ConnectionState().NegotiatedProtocol {
	case "h2":
		l.http2Listener.handleConnection(l.ctx, conn)
	case "http/1.1", "":
		l.httpListener.handleConnection(l.ctx, conn)
	default:
		conn.Close()
		log.Warnf("unsupported negotiated protocol %q", conn.ConnectionState().NegotiatedProtocol)
	}
}

// Close closes the underlying listener. Blocked Accept calls on either
// protocol listener return net.ErrClosed.
func (l *TLSListener) Close() error {
	defer l.cancel()
	return l.cfg.Listener.Close()
}

// Addr returns the underlying listener's network address.
func (l *TLSListener) Addr() net.Addr {
	return l.cfg.Listener.Addr()
}
