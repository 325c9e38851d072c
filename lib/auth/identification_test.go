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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentificationStringIsStablePerAttempt(t *testing.T) {
	a := identificationString("attempt-1")
	b := identificationString("attempt-1")
	require.Equal(t, a, b)
}

func TestIdentificationStringDiffersAcrossAttempts(t *testing.T) {
	a := identificationString("attempt-1")
	b := identificationString("attempt-2")
	require.NotEqual(t, a, b)
}

func TestIdentificationStringHasExpectedLength(t *testing.T) {
	s := identificationString("some-attempt-id")
	require.Len(t, s, identificationStringLength)
}

func TestIdentificationStringAvoidsAmbiguousCharacters(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := identificationString(string(rune('a' + i)))
		require.NotContains(t, s, "0")
		require.NotContains(t, s, "O")
		require.NotContains(t, s, "1")
		require.NotContains(t, s, "I")
	}
}
