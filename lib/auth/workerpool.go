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

	"github.com/gravitational/trace"
	"golang.org/x/sync/semaphore"
)

// hashWorkerPool bounds the number of concurrent slow credential-hash
// comparisons (argon2id, which is intentionally memory- and CPU-heavy) so a
// burst of login attempts cannot starve the connection-accepting goroutines
// of CPU, realizing spec.md section 5's "dispatched to a blocking worker so
// it cannot stall the reactor". golang.org/x/sync/semaphore is a direct
// dependency of the teacher's own go.mod.
type hashWorkerPool struct {
	sem *semaphore.Weighted
}

// newHashWorkerPool builds a pool that admits at most concurrency
// comparisons at once.
func newHashWorkerPool(concurrency int64) *hashWorkerPool {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &hashWorkerPool{sem: semaphore.NewWeighted(concurrency)}
}

// Do runs fn with a worker slot reserved, blocking until one is free or ctx
// is canceled.
func (p *hashWorkerPool) Do(ctx context.Context, fn func() (bool, error)) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, trace.Wrap(err)
	}
	defer p.sem.Release(1)
	return fn()
}
