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

// Protocol identifies which client-facing listener a session or credential
// policy applies to.
type Protocol string

const (
	ProtocolSSH      Protocol = "ssh"
	ProtocolMySQL    Protocol = "mysql"
	ProtocolPostgres Protocol = "postgres"
	ProtocolHTTP     Protocol = "http"
)

// TargetKind identifies the upstream protocol a Target speaks.
type TargetKind string

const (
	TargetSSH      TargetKind = "ssh"
	TargetMySQL    TargetKind = "mysql"
	TargetPostgres TargetKind = "postgres"
	TargetHTTP     TargetKind = "http"
	TargetWebAdmin TargetKind = "web_admin"
)

// CredentialKind enumerates the factor kinds a user's policy can require,
// per spec.md section 3 (User.credential policy).
type CredentialKind string

const (
	CredentialPassword    CredentialKind = "password"
	CredentialPublicKey   CredentialKind = "public-key"
	CredentialOTP         CredentialKind = "one-time-password"
	CredentialSSO         CredentialKind = "single-sign-on"
	CredentialWebApproval CredentialKind = "web-approval"
	CredentialAPIToken    CredentialKind = "api-token"
	// CredentialStoredSecret holds an outward-facing secret the Target
	// Connector presents to an upstream target, as opposed to every other
	// kind above which proves an inbound user's identity to Warpgate
	// itself. Stored under StoredSecretOwner rather than a real user.
	CredentialStoredSecret CredentialKind = "stored-secret"
)

// AdminRole is the well-known role name that grants access to web-approval
// and admin REST endpoints.
const AdminRole = "warpgate:admin"

// StoredSecretOwner is the reserved credential-store owner id under which
// Target Connector outward secrets (CredentialStoredSecret) live, keeping
// them addressable through the same Credentials accessor as user
// credentials without conflating the two namespaces.
const StoredSecretOwner = "_target"
