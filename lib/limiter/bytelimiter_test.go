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

package limiter

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewByteRateLimiterUnlimitedWhenZero(t *testing.T) {
	lim := NewByteRateLimiter(0)
	require.True(t, lim.Allow())
	require.Equal(t, 0, lim.Burst())
}

func TestRateLimitedReaderPassesThroughData(t *testing.T) {
	data := []byte("hello, warpgate")
	lim := NewByteRateLimiter(0)
	r := NewRateLimitedReader(context.Background(), bytes.NewReader(data), lim)

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestRateLimitedReaderThrottles(t *testing.T) {
	// bytesPerSecond=100 gives a 200-byte burst; reading 400 bytes spends
	// the burst instantly and then waits for the remaining 200 bytes at
	// 100/sec, a ~2 second floor comfortably clear of scheduling noise.
	data := bytes.Repeat([]byte("x"), 400)
	lim := NewByteRateLimiter(100)
	r := NewRateLimitedReader(context.Background(), bytes.NewReader(data), lim)

	start := time.Now()
	out, err := io.ReadAll(r)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, data, out)
	require.Greater(t, elapsed, time.Second)
}

func TestRateLimitedReaderRespectsContextCancellation(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)
	lim := NewByteRateLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRateLimitedReader(ctx, bytes.NewReader(data), lim)

	_, err := r.Read(make([]byte, len(data)))
	require.Error(t, err)
}
