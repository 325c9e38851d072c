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
	"encoding/base32"

	"github.com/cespare/xxhash/v2"
)

// identificationEncoding's alphabet drops visually ambiguous characters (0/O, 1/I) so
// an approver reading the code off a terminal or a web page doesn't
// transpose it.
var identificationEncoding = base32.NewEncoding("ABCDEFGHJKLMNPQRSTUVWXYZ23456789").WithPadding(base32.NoPadding)

// identificationStringLength is the number of characters shown to
// approvers; short enough to read aloud, long enough that two concurrent
// attempts are very unlikely to collide.
const identificationStringLength = 8

// identificationString computes a stable, non-reversible short code from an
// authentication attempt id, per spec.md section 3/4.1/9: "a deterministic
// short code derived from the attempt id (stable per attempt) shown at both
// endpoints so the approver can cross-check."
func identificationString(attemptID string) string {
	sum := xxhash.Sum64String(attemptID)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (8 * i))
	}
	encoded := identificationEncoding.EncodeToString(buf[:])
	if len(encoded) > identificationStringLength {
		encoded = encoded[:identificationStringLength]
	}
	return encoded
}
