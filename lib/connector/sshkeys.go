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
	"crypto/ed25519"
	"crypto/rand"
	"sync"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
)

// Signer is the subset of ssh.Signer the connector needs, aliased so
// callers outside golang.org/x/crypto/ssh don't need that import just to
// hold a reference.
type Signer = ssh.Signer

// precomputeDepth is how many spare keypairs KeyPool keeps generated ahead
// of demand.
const precomputeDepth = 4

// KeyPool generates the keypair Warpgate authenticates to upstream SSH
// targets with, keeping a small precomputed pool so request-path dialing
// never blocks on key generation. This narrows the teacher's own
// certificate-authority keypair pool (lib/auth/native/native.go, which
// additionally signs CA certificates Warpgate has no use for) down to the
// precompute-pool idea alone.
type KeyPool struct {
	mu   sync.Mutex
	pool []Signer
}

func NewKeyPool() *KeyPool {
	p := &KeyPool{}
	for i := 0; i < precomputeDepth; i++ {
		if s, err := generateSigner(); err == nil {
			p.pool = append(p.pool, s)
		}
	}
	return p
}

// Signer returns a ready signer, generating one on demand if the pool is
// currently empty, and tops the pool back up in the background.
func (p *KeyPool) Signer() (Signer, error) {
	p.mu.Lock()
	if len(p.pool) > 0 {
		s := p.pool[len(p.pool)-1]
		p.pool = p.pool[:len(p.pool)-1]
		p.mu.Unlock()
		go p.replenish()
		return s, nil
	}
	p.mu.Unlock()
	return generateSigner()
}

func (p *KeyPool) replenish() {
	s, err := generateSigner()
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pool) < precomputeDepth {
		p.pool = append(p.pool, s)
	}
}

func generateSigner() (Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return signer, nil
}
