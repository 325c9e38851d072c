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
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestConnectionsLimiterEnforcesMax(t *testing.T) {
	l, err := NewConnectionsLimiter(Config{MaxConnections: 2})
	require.NoError(t, err)

	release1, err := l.RegisterRequestAndConnection("1.2.3.4")
	require.NoError(t, err)
	release2, err := l.RegisterRequestAndConnection("1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, int64(2), l.Count("1.2.3.4"))

	_, err = l.RegisterRequestAndConnection("1.2.3.4")
	require.Error(t, err)
	require.True(t, trace.IsLimitExceeded(err))

	release1()
	require.Equal(t, int64(1), l.Count("1.2.3.4"))

	// a different address is tracked independently
	release3, err := l.RegisterRequestAndConnection("5.6.7.8")
	require.NoError(t, err)

	release2()
	release3()
	require.Equal(t, int64(0), l.Count("1.2.3.4"))
	require.Equal(t, int64(0), l.Count("5.6.7.8"))
}

func TestConnectionsLimiterZeroMeansUnlimited(t *testing.T) {
	l, err := NewConnectionsLimiter(Config{})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err := l.RegisterRequestAndConnection("1.2.3.4")
		require.NoError(t, err)
	}
}

func TestConnectionsLimiterReleaseIsIdempotent(t *testing.T) {
	l, err := NewConnectionsLimiter(Config{MaxConnections: 1})
	require.NoError(t, err)

	release, err := l.RegisterRequestAndConnection("1.2.3.4")
	require.NoError(t, err)
	release()
	release()
	require.Equal(t, int64(0), l.Count("1.2.3.4"))
}

func TestConfigRejectsNegativeMaxConnections(t *testing.T) {
	_, err := NewConnectionsLimiter(Config{MaxConnections: -1})
	require.Error(t, err)
}
