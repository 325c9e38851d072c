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

package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeEndIncrementsLastByte(t *testing.T) {
	require.Equal(t, []byte("/users0"), RangeEnd([]byte("/users/")))
}

func TestRangeEndHandlesAllFFBytes(t *testing.T) {
	start := []byte{0xff, 0xff}
	end := RangeEnd(start)
	require.Equal(t, []byte{0xff, 0xff, 0xff}, end)
}

func TestRangeEndProducesExclusiveUpperBoundForPrefix(t *testing.T) {
	start := []byte("/targets/")
	end := RangeEnd(start)
	require.True(t, string(start) < string(end))
	require.True(t, string(start)+"z" < string(end), "any key under the prefix must sort before the range end")
}
