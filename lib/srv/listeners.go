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

// Package srv holds the four Protocol Proxy Cores (sshproxy, mysqlproxy,
// pgproxy, webproxy) as subpackages, plus the listener registry shared by
// cmd/warpgate to bind and track each one, generalizing the teacher's own
// lib/service/listeners.go ListenerType/registeredListenerAddr pattern from
// Teleport's service mesh down to Warpgate's four protocols.
package srv

import (
	"net"
	"sync"

	"github.com/gravitational/trace"
)

// ListenerType identifies one of the bastion's independently enable-able
// listeners, per spec.md section 6.
type ListenerType string

const (
	ListenerSSH      ListenerType = "ssh"
	ListenerMySQL    ListenerType = "mysql"
	ListenerPostgres ListenerType = "postgres"
	ListenerHTTPS    ListenerType = "https"
)

// Listeners tracks every listener cmd/warpgate has bound, so the process
// supervisor can report addresses (e.g. for GET /api/info's protocol port
// map) and close them all on shutdown.
type Listeners struct {
	mu        sync.Mutex
	listeners map[ListenerType]net.Listener
}

// NewListeners returns an empty registry.
func NewListeners() *Listeners {
	return &Listeners{listeners: make(map[ListenerType]net.Listener)}
}

// Register records l as the bound listener for typ. Registering the same
// type twice is a programmer error.
func (r *Listeners) Register(typ ListenerType, l net.Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[typ]; ok {
		return trace.BadParameter("srv: listener %q already registered", typ)
	}
	r.listeners[typ] = l
	return nil
}

// Addr returns the bound address for typ, or nil if that listener was
// never registered (i.e. disabled in configuration).
func (r *Listeners) Addr(typ ListenerType) net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listeners[typ]
	if !ok {
		return nil
	}
	return l.Addr()
}

// Ports returns every registered listener's TCP port, keyed by the
// protocol name string GET /api/info reports.
func (r *Listeners) Ports() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ports := make(map[string]int, len(r.listeners))
	for typ, l := range r.listeners {
		if tcpAddr, ok := l.Addr().(*net.TCPAddr); ok {
			ports[string(typ)] = tcpAddr.Port
		}
	}
	return ports
}

// CloseAll closes every registered listener, collecting (not stopping on)
// individual close errors.
func (r *Listeners) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, l := range r.listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return trace.NewAggregate(errs...)
}
