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
	"strings"

	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/types"
)

// SSOCallback is the provider redirect's payload once the external
// exchange (authorization code → ID token) has already happened; the SSO
// provider's own protocol flow is an external collaborator per spec.md
// section 1's Non-goals, so this pipeline only checks the resulting claims.
type SSOCallback struct {
	Issuer     string
	Subject    string
	ReturnHost string
}

// matchesReturnDomain implements the resolved Open Question of spec.md
// section 9: a configured allowed return domain is matched as an exact
// suffix with a leading dot, meaning "this domain or any subdomain of it".
// "example.com" as configured therefore only matches host "example.com"
// exactly or any host ending in ".example.com", never
// "notexample.com".
func matchesReturnDomain(host, allowedDomain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	allowedDomain = strings.ToLower(strings.TrimSuffix(allowedDomain, "."))
	if host == allowedDomain {
		return true
	}
	return strings.HasSuffix(host, "."+allowedDomain)
}

// ValidateReturnHost reports whether host is covered by any of the
// configured allowed return domains.
func ValidateReturnHost(host string, allowedDomains []string) bool {
	for _, d := range allowedDomains {
		if matchesReturnDomain(host, d) {
			return true
		}
	}
	return false
}

// verifySSO checks a callback's issuer|subject pair against the user's
// stored SSO credentials, per spec.md section 4.1: "on callback with a
// valid authorization code and ID token whose subject matches a stored SSO
// credential of the user, the kind is satisfied."
func (p *Pipeline) verifySSO(ctx context.Context, user *types.User, cb SSOCallback) (bool, error) {
	if user == nil {
		return false, nil
	}
	creds, err := p.services.ListCredentialsOfKind(ctx, user.ID, types.CredentialSSO)
	if err != nil {
		return false, trace.Wrap(err)
	}
	want := cb.Issuer + "|" + cb.Subject
	for _, c := range creds {
		if c.SSOSubject == want {
			return true, nil
		}
	}
	return false, nil
}
