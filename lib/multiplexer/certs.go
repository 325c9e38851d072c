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
	"strings"

	"github.com/gravitational/trace"
)

// CertificateMap implements spec.md section 6's "optional SNI-to-certificate
// map" for the HTTP(S) listener: a default certificate plus overrides keyed
// by server name, matched case-insensitively with suffix wildcard support
// ("*.example.com").
type CertificateMap struct {
	Default  *tls.Certificate
	ByServer map[string]*tls.Certificate
}

// GetCertificate implements tls.Config.GetCertificate.
func (m *CertificateMap) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := strings.ToLower(strings.TrimSuffix(hello.ServerName, "."))

	if cert, ok := m.ByServer[name]; ok {
		return cert, nil
	}

	if i := strings.IndexByte(name, '.'); i >= 0 {
		if cert, ok := m.ByServer["*"+name[i:]]; ok {
			return cert, nil
		}
	}

	if m.Default != nil {
		return m.Default, nil
	}

	return nil, trace.NotFound("multiplexer: no certificate configured for server name %q", hello.ServerName)
}
