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

// Package limiter bounds resource consumption per client IP and per target,
// the way the teacher's own lib/limiter.ConnectionsLimiter is constructed
// (limiter.NewConnectionsLimiter(limiter.Config{MaxConnections: ...})) and
// consumed (Limiter.RegisterRequestAndConnection(clientIP)) across its
// protocol proxy cores (lib/srv/db/postgres/proxy.go, lib/auth/auth.go).
package limiter

import (
	"sync"

	"github.com/gravitational/trace"
)

// Config configures a ConnectionsLimiter.
type Config struct {
	// MaxConnections is the maximum number of concurrent connections
	// tracked per remote IP; 0 disables the limit.
	MaxConnections int64
}

func (c *Config) CheckAndSetDefaults() error {
	if c.MaxConnections < 0 {
		return trace.BadParameter("limiter: MaxConnections must be >= 0")
	}
	return nil
}

// ConnectionsLimiter caps the number of concurrent connections from a
// single remote IP, independent of any per-target byte-rate ceiling
// (bytelimiter.go).
type ConnectionsLimiter struct {
	cfg Config

	mu   sync.Mutex
	byIP map[string]int64
}

func NewConnectionsLimiter(cfg Config) (*ConnectionsLimiter, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &ConnectionsLimiter{cfg: cfg, byIP: make(map[string]int64)}, nil
}

// RegisterRequestAndConnection increments clientIP's connection count,
// returning a release function the caller must call exactly once when the
// connection ends, and an error if the limit is already reached.
func (l *ConnectionsLimiter) RegisterRequestAndConnection(clientIP string) (release func(), err error) {
	if l.cfg.MaxConnections == 0 {
		return func() {}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.byIP[clientIP] >= l.cfg.MaxConnections {
		return nil, trace.LimitExceeded("too many connections from %s", clientIP)
	}
	l.byIP[clientIP]++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.byIP[clientIP]--
			if l.byIP[clientIP] <= 0 {
				delete(l.byIP, clientIP)
			}
		})
	}, nil
}

// Count returns the current tracked connection count for clientIP, for
// tests and admin introspection.
func (l *ConnectionsLimiter) Count(clientIP string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byIP[clientIP]
}
