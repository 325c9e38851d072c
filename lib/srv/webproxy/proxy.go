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

package webproxy

import (
	"net/http"
	"strings"

	"github.com/warpgate-bastion/warpgate/lib/types"
)

// ticketQueryParam lets a one-shot URL carry its own authentication,
// mirroring the other cores' "ticket-<secret>" username convention without
// requiring a username field in an HTTP request.
const ticketQueryParam = "warpgate-ticket"

// targetQueryParam selects a target by name directly, the query-parameter
// half of spec.md section 4.3.4 rule 2's selection contract.
const targetQueryParam = "warpgate-target"

// resolveHTTPTarget picks the Target a request selects per spec.md section
// 4.3.4 rule 2: a `warpgate-target=<name>` query parameter takes precedence,
// falling back to a Host header match against a target's configured
// external hostname.
func (s *Server) resolveHTTPTarget(r *http.Request) (*types.Target, error) {
	targets, err := s.cfg.Services.ListTargets(r.Context())
	if err != nil {
		return nil, err
	}

	if name := r.URL.Query().Get(targetQueryParam); name != "" {
		for i := range targets {
			t := &targets[i]
			if t.Kind == types.TargetHTTP && !t.Disabled && t.Name == name {
				return t, nil
			}
		}
		return nil, httpTargetNotFound{}
	}

	host := requestHostname(r)
	for i := range targets {
		t := &targets[i]
		if t.Kind != types.TargetHTTP || t.Disabled {
			continue
		}
		if t.Options.HTTPExternalHostname != "" && strings.EqualFold(t.Options.HTTPExternalHostname, host) {
			return t, nil
		}
	}
	return nil, httpTargetNotFound{}
}

// requestHostname strips any port suffix from the inbound Host header,
// since a target's configured external hostname never carries one.
func requestHostname(r *http.Request) string {
	host := r.Host
	if i := strings.LastIndexByte(host, ':'); i != -1 {
		host = host[:i]
	}
	return host
}

type httpTargetNotFound struct{}

func (httpTargetNotFound) Error() string { return "no target claims this path" }

// serveTargetProxy implements spec.md section 4.3.4's request path: resolve
// the target from the URL, authenticate the caller (session cookie, or a
// one-shot ticket query parameter), check role access, and reverse-proxy
// through the Target Connector's cached oxy Forwarder.
func (s *Server) serveTargetProxy(w http.ResponseWriter, r *http.Request) {
	target, err := s.resolveHTTPTarget(r)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	user, err := s.authenticateProxyRequest(w, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !target.Reachable(user.Roles) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upstream, err := s.cfg.Connector.Connect(r.Context(), user, target)
	if err != nil {
		log.WithError(err).WithField("target", target.Name).Debug("http upstream connect failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	forwarder := upstream.HTTP()
	if forwarder == nil || forwarder.Forwarder == nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	r.URL.Scheme = forwarder.BaseURL.Scheme
	r.URL.Host = forwarder.BaseURL.Host
	r.Host = forwarder.BaseURL.Host
	forwarder.Forwarder.ServeHTTP(w, r)
}

// authenticateProxyRequest accepts either an established session cookie or
// a one-shot ticket query parameter, draining the ticket through the
// Authentication Pipeline the same way the other protocol cores' ticket
// path does.
func (s *Server) authenticateProxyRequest(w http.ResponseWriter, r *http.Request) (*types.User, error) {
	if userID, err := s.verifySessionCookie(r); err == nil {
		return s.cfg.Services.GetUser(r.Context(), userID)
	}

	ticket := r.URL.Query().Get(ticketQueryParam)
	if ticket == "" {
		return nil, httpTargetNotFound{}
	}
	clientIP := clientIPFromRequest(r)
	begun, err := s.cfg.Auth.Begin(r.Context(), "", types.ProtocolHTTP, clientIP)
	if err != nil {
		return nil, err
	}
	result, _, err := s.cfg.Auth.SubmitTicket(r.Context(), begun.Attempt, ticket)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, httpTargetNotFound{}
	}
	s.issueSessionCookie(w, result.User.ID)
	return result.User, nil
}
