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

import "time"

// KnownHostPolicy controls how a Target Connector reacts to an upstream host
// key it has not recorded before, per spec.md section 4.2.
type KnownHostPolicy string

const (
	// KnownHostPrompt fails a connection whose host key has no KnownHost
	// record with unknown-host-key, the same as KnownHostAutoReject; only a
	// recorded, matching key is accepted.
	KnownHostPrompt KnownHostPolicy = "prompt"
	// KnownHostAutoAccept records the first key seen and proceeds,
	// classic trust-on-first-use.
	KnownHostAutoAccept KnownHostPolicy = "auto-accept"
	// KnownHostAutoReject refuses to connect to any host without a
	// pre-provisioned KnownHost record.
	KnownHostAutoReject KnownHostPolicy = "auto-reject"
)

// TLSMode controls how a Target Connector treats transport security when
// dialing a Postgres, MySQL, or HTTP upstream.
type TLSMode string

const (
	TLSDisable    TLSMode = "disable"
	TLSPrefer     TLSMode = "prefer"
	TLSRequire    TLSMode = "require"
	TLSVerifyFull TLSMode = "verify-full"
)

// TargetOptions carries the protocol-specific dial parameters for a Target.
// Only the fields relevant to Kind are populated; the rest stay at zero
// value, mirroring the "one struct, several optional facets" style the
// teacher uses for its connection specs.
type TargetOptions struct {
	KnownHostPolicy KnownHostPolicy `json:"known_host_policy,omitempty"`
	TLSMode         TLSMode         `json:"tls_mode,omitempty"`

	// StoredUsername/StoredCredentialID select the outward-facing identity
	// the connector authenticates to the target as, distinct from the
	// inbound user's own Warpgate identity.
	StoredUsername     string `json:"stored_username,omitempty"`
	StoredCredentialID string `json:"stored_credential_id,omitempty"`

	// HTTPBaseURL is the upstream origin for a TargetHTTP target; requests
	// arriving under the target's routing prefix are reverse-proxied here.
	HTTPBaseURL string `json:"http_base_url,omitempty"`

	// HTTPExternalHostname is the Host header value this target claims at
	// the HTTP proxy core, e.g. "app1.bastion.example.com". A request whose
	// Host matches selects this target without needing the
	// warpgate-target query parameter.
	HTTPExternalHostname string `json:"http_external_hostname,omitempty"`

	// DatabaseName restricts a MySQL/Postgres target to a single logical
	// database, if set.
	DatabaseName string `json:"database_name,omitempty"`

	// AllowInsecureAlgorithms permits legacy SSH key exchange and cipher
	// algorithms when dialing an SSH upstream that cannot be upgraded,
	// per spec.md section 3's "optional allow-insecure-algorithms flag for
	// SSH".
	AllowInsecureAlgorithms bool `json:"allow_insecure_algorithms,omitempty"`

	// AllowPortForwarding grants direct-tcpip/tcpip-forward channel
	// requests on this target's SSH sessions; denied by default per
	// spec.md section 4.3.1.
	AllowPortForwarding bool `json:"allow_port_forwarding,omitempty"`

	// IdleTimeout closes a session that has exchanged no data for this
	// long. Zero means no idle timeout.
	IdleTimeout time.Duration `json:"idle_timeout,omitempty"`

	// BytesPerSecond caps the spliced stream's throughput in each
	// direction independently, per spec.md section 5. Zero means
	// unlimited.
	BytesPerSecond int `json:"bytes_per_second,omitempty"`
}

// Target is an upstream endpoint reachable through the bastion, gated by
// role membership, per spec.md sections 3 and 8.
type Target struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Kind         TargetKind    `json:"kind"`
	Address      string        `json:"address"`
	AllowedRoles []string      `json:"allowed_roles"`
	Options      TargetOptions `json:"options"`
	Disabled     bool          `json:"disabled"`
}

// Reachable reports whether a user holding userRoles may connect to this
// target, per the role-intersection rule of spec.md section 8.
func (t *Target) Reachable(userRoles []string) bool {
	if t == nil || t.Disabled {
		return false
	}
	return RoleIntersects(userRoles, t.AllowedRoles)
}

// KnownHost records a previously observed upstream host key, used to detect
// key rotation/spoofing on subsequent connections per spec.md section 4.2.
type KnownHost struct {
	ID       string `json:"id"`
	TargetID string `json:"target_id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	KeyType  string `json:"key_type"`
	KeyBytes []byte `json:"key_bytes"`
}
