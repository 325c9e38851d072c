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

// User is a stable bastion identity with a per-protocol credential policy
// and zero or more assigned roles. See spec.md section 3.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Roles       []string `json:"roles"`

	// CredentialPolicy maps a protocol to the set of credential kinds that
	// must each have at least one verified credential before an
	// authentication attempt for that protocol succeeds. A protocol with no
	// entry falls back to the single-password-factor default of spec.md
	// section 4.1.
	CredentialPolicy map[Protocol][]CredentialKind `json:"credential_policy"`

	Disabled bool `json:"disabled"`
}

// PolicyFor returns the required credential kinds for a protocol, applying
// the "empty policy means password" default from spec.md section 4.1.
func (u *User) PolicyFor(protocol Protocol) []CredentialKind {
	if u == nil {
		return []CredentialKind{CredentialPassword}
	}
	kinds := u.CredentialPolicy[protocol]
	if len(kinds) == 0 {
		return []CredentialKind{CredentialPassword}
	}
	return kinds
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user holds the well-known admin role used to
// gate web-approval and admin REST endpoints.
func (u *User) IsAdmin() bool {
	return u.HasRole(AdminRole)
}

// Role is a named capability. Users hold a set of roles; targets expose
// themselves to a set of roles.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoleIntersects reports whether any of userRoles also appears in
// targetRoles, implementing the access rule of spec.md section 8: "a user
// can reach a target iff their role set intersects the target's allowed
// roles."
func RoleIntersects(userRoles, targetRoles []string) bool {
	if len(targetRoles) == 0 {
		return false
	}
	allowed := make(map[string]struct{}, len(targetRoles))
	for _, r := range targetRoles {
		allowed[r] = struct{}{}
	}
	for _, r := range userRoles {
		if _, ok := allowed[r]; ok {
			return true
		}
	}
	return false
}
