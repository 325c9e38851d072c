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

package auth

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
)

// ApprovalDecision is the well-typed command enum an out-of-band approver
// may issue for a parked attempt, per spec.md section 9 ("Approvers mutate
// only through a well-typed command enum routed via the registry").
type ApprovalDecision int

const (
	ApprovalPending ApprovalDecision = iota
	ApprovalApproved
	ApprovalRejected
)

// approvalWaiter is the channel an awaiting core blocks on until an
// approver (or a timeout elsewhere) resolves the attempt.
type approvalWaiter chan ApprovalDecision

// ApprovalRegistry decouples a parked AuthAttempt's state from the core
// that originated it, per spec.md section 9's "Out-of-band approval"
// design note: "decouple the AuthState from its originator using a shared
// registry keyed by attempt id; the originating core awaits a completion
// signal." Access is serialized by a single mutex rather than a queue of
// goroutines, since the registry only ever does O(1) map operations.
type ApprovalRegistry struct {
	mu      sync.Mutex
	waiters map[string]approvalWaiter
}

func NewApprovalRegistry() *ApprovalRegistry {
	return &ApprovalRegistry{waiters: make(map[string]approvalWaiter)}
}

// Await registers attemptID as awaiting approval and blocks until Resolve
// is called for it or ctx is canceled.
func (r *ApprovalRegistry) Await(ctx context.Context, attemptID string) (ApprovalDecision, error) {
	r.mu.Lock()
	w, exists := r.waiters[attemptID]
	if !exists {
		w = make(approvalWaiter, 1)
		r.waiters[attemptID] = w
	}
	r.mu.Unlock()

	select {
	case decision := <-w:
		r.mu.Lock()
		delete(r.waiters, attemptID)
		r.mu.Unlock()
		return decision, nil
	case <-ctx.Done():
		return ApprovalPending, trace.Wrap(ctx.Err())
	}
}

// Resolve delivers an approver's decision for attemptID. If nothing is
// awaiting the attempt yet, the decision is buffered and handed to the next
// Await for it. Returns trace.AlreadyExists if a decision is already
// buffered for that attempt.
func (r *ApprovalRegistry) Resolve(attemptID string, decision ApprovalDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, exists := r.waiters[attemptID]
	if !exists {
		w = make(approvalWaiter, 1)
		r.waiters[attemptID] = w
	}
	select {
	case w <- decision:
	default:
		return trace.AlreadyExists("attempt %q already has a pending decision", attemptID)
	}
	return nil
}
