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

package multiplexer

import (
	"crypto/tls"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestCertificateMapExactMatch(t *testing.T) {
	example := &tls.Certificate{}
	wildcard := &tls.Certificate{}
	m := &CertificateMap{
		ByServer: map[string]*tls.Certificate{
			"app.example.com": example,
			"*.wild.example.com": wildcard,
		},
	}

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "app.example.com"})
	require.NoError(t, err)
	require.Same(t, example, cert)
}

func TestCertificateMapWildcardMatch(t *testing.T) {
	wildcard := &tls.Certificate{}
	m := &CertificateMap{ByServer: map[string]*tls.Certificate{"*.wild.example.com": wildcard}}

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "host1.wild.example.com"})
	require.NoError(t, err)
	require.Same(t, wildcard, cert)
}

func TestCertificateMapFallsBackToDefault(t *testing.T) {
	def := &tls.Certificate{}
	m := &CertificateMap{Default: def}

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	require.NoError(t, err)
	require.Same(t, def, cert)
}

func TestCertificateMapNotFoundWithoutDefault(t *testing.T) {
	m := &CertificateMap{}
	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))
}

func TestCertificateMapIsCaseInsensitiveAndTrimsTrailingDot(t *testing.T) {
	example := &tls.Certificate{}
	m := &CertificateMap{ByServer: map[string]*tls.Certificate{"app.example.com": example}}

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "APP.example.com."})
	require.NoError(t, err)
	require.Same(t, example, cert)
}
