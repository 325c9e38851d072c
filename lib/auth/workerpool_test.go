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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashWorkerPoolRunsFunctionAndReturnsResult(t *testing.T) {
	pool := newHashWorkerPool(2)
	ok, err := pool.Do(context.Background(), func() (bool, error) { return true, nil })
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHashWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := newHashWorkerPool(1)

	var inFlight int32
	var maxObserved int32
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		_, _ = pool.Do(context.Background(), func() (bool, error) {
			n := atomic.AddInt32(&inFlight, 1)
			if n > atomic.LoadInt32(&maxObserved) {
				atomic.StoreInt32(&maxObserved, n)
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			return true, nil
		})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)

	secondDone := make(chan struct{})
	go func() {
		_, _ = pool.Do(context.Background(), func() (bool, error) {
			n := atomic.AddInt32(&inFlight, 1)
			if n > atomic.LoadInt32(&maxObserved) {
				atomic.StoreInt32(&maxObserved, n)
			}
			atomic.AddInt32(&inFlight, -1)
			return true, nil
		})
		close(secondDone)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&maxObserved), "concurrency 1 pool must never admit two callers at once")

	close(release)
	<-done
	<-secondDone
}

func TestHashWorkerPoolRespectsContextCancellation(t *testing.T) {
	pool := newHashWorkerPool(1)
	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = pool.Do(context.Background(), func() (bool, error) {
			close(started)
			<-block
			return true, nil
		})
	}()
	<-started
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pool.Do(ctx, func() (bool, error) { return true, nil })
	require.Error(t, err)
}

func TestNewHashWorkerPoolDefaultsNonPositiveConcurrency(t *testing.T) {
	pool := newHashWorkerPool(0)
	ok, err := pool.Do(context.Background(), func() (bool, error) { return true, nil })
	require.NoError(t, err)
	require.True(t, ok)
}
