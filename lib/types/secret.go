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

package types

import "crypto/subtle"

// Secret is an opaque byte payload — a raw OTP seed, or a stored upstream
// password or token — that must never be logged and must compare in constant time.
// Destroy zeroizes the backing array once the secret is no longer needed,
// following spec.md section 9's "secrets are opaque byte arrays with
// zeroization on drop".
type Secret []byte

// Equal compares two secrets in constant time. A nil or empty secret never
// equals anything, including another empty secret, so a missing credential
// can't accidentally validate against a missing proof.
func (s Secret) Equal(other []byte) bool {
	if len(s) == 0 || len(other) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(s, other) == 1
}

// Destroy overwrites the secret's backing bytes with zeroes.
func (s Secret) Destroy() {
	for i := range s {
		s[i] = 0
	}
}

// Reveal returns the secret's plaintext bytes as a string. It exists only
// for the narrow set of callers that must present the raw material
// onward (e.g. the Target Connector authenticating to an upstream with a
// stored password) rather than merely compare it.
func (s Secret) Reveal() string {
	return string(s)
}

// String never reveals the payload; it exists so Secret can appear in
// structs without accidentally leaking into %v/%+v log lines.
func (s Secret) String() string {
	if len(s) == 0 {
		return "<empty>"
	}
	return "<redacted>"
}
