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

// Package webproxy implements the HTTP Protocol Proxy Core: it terminates
// TLS, serves the gateway's own `/@warpgate/...` endpoints (login, OTP,
// logout, target listing, web-approval), and reverse-proxies everything
// else to whichever target the request selects, including transparent
// WebSocket upgrades. The reverse-proxy leg is grounded on the teacher's
// own application-access transport (lib/srv/app/transport.go and
// aws/handler.go), which forwards through gravitational/oxy's forward
// package rather than net/http/httputil.
package webproxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/warpgate-bastion/warpgate/lib/auth"
	"github.com/warpgate-bastion/warpgate/lib/connector"
	"github.com/warpgate-bastion/warpgate/lib/recorder"
	"github.com/warpgate-bastion/warpgate/lib/services"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "webproxy"})

// gatewayPrefix is the reserved path prefix spec.md section 4.3.4 carves
// out for the bastion's own endpoints.
const gatewayPrefix = "/@warpgate"

// Config wires a Server's dependencies and tunables.
type Config struct {
	Listener  net.Listener
	Services  services.Services
	Auth      *auth.Pipeline
	Connector *connector.Connector
	Recorder  *recorder.Pipeline
	Clock     clockwork.Clock

	// CookieSigningKey signs the session and pending-attempt cookies.
	CookieSigningKey []byte
	// CookieMaxAge is how long an issued session cookie is valid for.
	CookieMaxAge time.Duration
	// ProtocolPorts is reported verbatim by GET /@warpgate/api/info.
	ProtocolPorts map[string]int
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Listener == nil {
		return trace.BadParameter("webproxy: missing Listener")
	}
	if c.Services == nil {
		return trace.BadParameter("webproxy: missing Services")
	}
	if c.Auth == nil {
		return trace.BadParameter("webproxy: missing Auth")
	}
	if c.Connector == nil {
		return trace.BadParameter("webproxy: missing Connector")
	}
	if c.Recorder == nil {
		return trace.BadParameter("webproxy: missing Recorder")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if len(c.CookieSigningKey) == 0 {
		return trace.BadParameter("webproxy: missing CookieSigningKey")
	}
	if c.CookieMaxAge <= 0 {
		c.CookieMaxAge = 12 * time.Hour
	}
	return nil
}

// Server terminates HTTPS, serves the gateway API, and reverse-proxies
// everything else to the selected Target.
type Server struct {
	cfg    Config
	router *httprouter.Router
	http   *http.Server
}

// New builds a ready Server. The caller starts it with Serve.
func New(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &Server{
		cfg:    cfg,
		router: httprouter.New(),
	}
	s.registerGatewayRoutes()
	s.http = &http.Server{Handler: http.HandlerFunc(s.dispatch)}
	return s, nil
}

// Serve runs the HTTPS server until the listener closes or ctx is
// canceled. The caller is expected to have already wrapped Config.Listener
// with TLS (spec.md section 6 places TLS termination ahead of the proxy
// cores, same as the multiplexer's own pattern for the HTTPS endpoint).
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.http.Close()
	}()
	err := s.http.Serve(s.cfg.Listener)
	if err != nil && err != http.ErrServerClosed {
		return trace.Wrap(err)
	}
	return nil
}

// dispatch implements spec.md section 4.3.4's three-tier routing: gateway
// endpoints under the reserved prefix, then target selection, then proxy.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Path) >= len(gatewayPrefix) && r.URL.Path[:len(gatewayPrefix)] == gatewayPrefix {
		s.router.ServeHTTP(w, r)
		return
	}
	s.serveTargetProxy(w, r)
}

func clientIPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func errorStatus(err error) int {
	switch {
	case trace.IsAccessDenied(err):
		return http.StatusUnauthorized
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
