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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPoolSignerReturnsDistinctUsableKeys(t *testing.T) {
	pool := NewKeyPool()

	seen := make(map[string]bool)
	for i := 0; i < precomputeDepth+2; i++ {
		signer, err := pool.Signer()
		require.NoError(t, err)
		require.NotNil(t, signer.PublicKey())
		fp := string(signer.PublicKey().Marshal())
		require.False(t, seen[fp], "KeyPool must not hand out the same key twice")
		seen[fp] = true
	}
}

func TestKeyPoolConcurrentSignerCallsAreSafe(t *testing.T) {
	pool := NewKeyPool()
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Signer()
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
