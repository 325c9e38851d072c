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
	"context"
	"io"

	"golang.org/x/time/rate"
)

// rateLimitBurstFactor bounds how far a byte-rate limiter lets a single
// read/write chunk exceed the steady-state ceiling before blocking,
// expressed as a multiple of the per-second rate.
const rateLimitBurstFactor = 2

// NewByteRateLimiter returns a token-bucket limiter sized for a target's
// optional bytes/second ceiling (spec.md section 5, "each target carries
// an optional bytes/second ceiling"). bytesPerSecond <= 0 means unlimited.
func NewByteRateLimiter(bytesPerSecond int) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond*rateLimitBurstFactor)
}

// RateLimitedReader wraps r so that Read blocks until lim admits the bytes
// about to be returned, throttling the upstream->client or client->upstream
// half of a spliced connection independently.
type RateLimitedReader struct {
	r   io.Reader
	lim *rate.Limiter
	ctx context.Context
}

func NewRateLimitedReader(ctx context.Context, r io.Reader, lim *rate.Limiter) *RateLimitedReader {
	return &RateLimitedReader{r: r, lim: lim, ctx: ctx}
}

func (rl *RateLimitedReader) Read(p []byte) (int, error) {
	n, err := rl.r.Read(p)
	if n > 0 {
		if waitErr := waitN(rl.ctx, rl.lim, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// waitN admits n bytes against lim, clamping the request to the limiter's
// burst size (rate.Limiter.WaitN rejects a request larger than its burst)
// by waiting in burst-sized slices.
func waitN(ctx context.Context, lim *rate.Limiter, n int) error {
	burst := lim.Burst()
	if burst <= 0 {
		return lim.WaitN(ctx, n)
	}
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
