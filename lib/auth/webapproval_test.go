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
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestApprovalRegistryResolveThenAwaitDelivers(t *testing.T) {
	r := NewApprovalRegistry()
	require.NoError(t, r.Resolve("a1", ApprovalApproved))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	decision, err := r.Await(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, ApprovalApproved, decision)
}

func TestApprovalRegistryAwaitThenResolveDelivers(t *testing.T) {
	r := NewApprovalRegistry()

	resultCh := make(chan ApprovalDecision, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		decision, err := r.Await(ctx, "a2")
		require.NoError(t, err)
		resultCh <- decision
	}()

	// give Await a chance to register its waiter before Resolve runs.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Resolve("a2", ApprovalRejected))

	select {
	case decision := <-resultCh:
		require.Equal(t, ApprovalRejected, decision)
	case <-time.After(2 * time.Second):
		t.Fatal("Await never received the resolved decision")
	}
}

func TestApprovalRegistryResolveTwiceFails(t *testing.T) {
	r := NewApprovalRegistry()
	require.NoError(t, r.Resolve("a3", ApprovalApproved))
	err := r.Resolve("a3", ApprovalApproved)
	require.True(t, trace.IsAlreadyExists(err))
}

func TestApprovalRegistryAwaitTimesOutOnContextCancel(t *testing.T) {
	r := NewApprovalRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Await(ctx, "a4")
	require.Error(t, err)
}
