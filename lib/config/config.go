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

// Package config loads and validates the YAML file cmd/warpgate starts
// from. spec.md section 1 places configuration-file parsing out of the
// core's scope; this package is the "external collaborator" that turns a
// file on disk into the Config structs each lib/ package's own
// CheckAndSetDefaults already expects, the same division of labor the
// teacher draws between lib/config and each service's own Config type.
package config

import (
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/warpgate-bastion/warpgate/lib/types"
)

// ListenConfig is the bind address for one protocol listener. An empty
// Addr is replaced by the protocol's default address in
// Config.CheckAndSetDefaults, so every listener is bound; there is no
// setting that disables one.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// TLSConfig names a certificate/key pair on disk, either the HTTP(S)
// listener's default identity or one entry of its SNI map.
type TLSConfig struct {
	ServerName string `yaml:"server_name,omitempty"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
}

// BootstrapCredential declares one credential to attach to a bootstrap
// user. Password is plaintext here (config-file-only, never round-tripped
// back out) and hashed before it reaches the State Store.
type BootstrapCredential struct {
	Kind     types.CredentialKind `yaml:"kind"`
	Password string               `yaml:"password,omitempty"`
	PublicKey string              `yaml:"public_key,omitempty"`
	OTPSecret string              `yaml:"otp_secret,omitempty"`
}

// BootstrapUser declares a User record to upsert at startup. Real user and
// target administration happens through the REST CRUD surface spec.md
// marks out of scope; this is the minimal seed needed to stand the bastion
// up at all.
type BootstrapUser struct {
	Name        string                         `yaml:"name"`
	DisplayName string                         `yaml:"display_name,omitempty"`
	Roles       []string                       `yaml:"roles,omitempty"`
	Credentials []BootstrapCredential          `yaml:"credentials,omitempty"`
	Policy      map[types.Protocol][]types.CredentialKind `yaml:"credential_policy,omitempty"`
}

// BootstrapTarget declares a Target record to upsert at startup.
type BootstrapTarget struct {
	Name         string              `yaml:"name"`
	Kind         types.TargetKind    `yaml:"kind"`
	Address      string              `yaml:"address,omitempty"`
	AllowedRoles []string            `yaml:"allowed_roles,omitempty"`
	Options      types.TargetOptions `yaml:"options,omitempty"`
}

// Config is the root of the YAML configuration file.
type Config struct {
	// DataDir holds the SQLite state database and the generated SSH host
	// key, analogous to the teacher's own --data-dir.
	DataDir string `yaml:"data_dir"`
	// RecordingsDir is where the Recording Pipeline writes session
	// artifacts (spec.md section 4.4).
	RecordingsDir string `yaml:"recordings_dir"`

	SSH      ListenConfig `yaml:"ssh"`
	MySQL    ListenConfig `yaml:"mysql"`
	Postgres ListenConfig `yaml:"postgres"`
	HTTPS    ListenConfig `yaml:"https"`

	TLS       TLSConfig   `yaml:"tls"`
	TLSSNIMap []TLSConfig `yaml:"tls_sni_map,omitempty"`

	// CookieSigningKey signs webproxy session cookies. In production this
	// should come from the environment, not the file; it is accepted here
	// for the single-process, single-file "zero to aha" deployment shape.
	CookieSigningKey string `yaml:"cookie_signing_key"`

	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`

	BootstrapUsers   []BootstrapUser   `yaml:"users,omitempty"`
	BootstrapTargets []BootstrapTarget `yaml:"targets,omitempty"`
}

func (c *Config) CheckAndSetDefaults() error {
	if c.DataDir == "" {
		c.DataDir = "/var/lib/warpgate"
	}
	if c.RecordingsDir == "" {
		c.RecordingsDir = c.DataDir + "/recordings"
	}
	if c.SSH.Addr == "" {
		c.SSH.Addr = "[::]:2222"
	}
	if c.MySQL.Addr == "" {
		c.MySQL.Addr = "[::]:33306"
	}
	if c.Postgres.Addr == "" {
		c.Postgres.Addr = "[::]:55432"
	}
	if c.HTTPS.Addr == "" {
		c.HTTPS.Addr = "[::]:8888"
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.CookieSigningKey == "" {
		return trace.BadParameter("config: cookie_signing_key is required")
	}
	return nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, trace.Wrap(err, "config: parsing %q", path)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}
