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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestCheckAndSetDefaults(t *testing.T) {
	cfg := &Config{CookieSigningKey: "x"}
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, "/var/lib/warpgate", cfg.DataDir)
	require.Equal(t, "/var/lib/warpgate/recordings", cfg.RecordingsDir)
	require.Equal(t, "[::]:2222", cfg.SSH.Addr)
	require.Equal(t, "[::]:33306", cfg.MySQL.Addr)
	require.Equal(t, "[::]:55432", cfg.Postgres.Addr)
	require.Equal(t, "[::]:8888", cfg.HTTPS.Addr)
	require.Equal(t, 15*time.Minute, cfg.IdleTimeout)
}

func TestCheckAndSetDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		CookieSigningKey: "x",
		DataDir:          "/srv/warpgate",
		SSH:              ListenConfig{Addr: "127.0.0.1:2200"},
		IdleTimeout:      time.Hour,
	}
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, "/srv/warpgate", cfg.DataDir)
	require.Equal(t, "/srv/warpgate/recordings", cfg.RecordingsDir)
	require.Equal(t, "127.0.0.1:2200", cfg.SSH.Addr)
	require.Equal(t, time.Hour, cfg.IdleTimeout)
}

func TestCheckAndSetDefaultsRequiresCookieSigningKey(t *testing.T) {
	cfg := &Config{}
	err := cfg.CheckAndSetDefaults()
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestLoadParsesYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warpgate.yaml")
	contents := `
data_dir: /srv/warpgate
cookie_signing_key: supersecret
ssh:
  addr: "[::]:2200"
users:
  - name: alice
    roles: [warpgate:admin]
    credentials:
      - kind: password
        password: hunter2
targets:
  - name: prod-db
    kind: postgres
    address: db.internal:5432
    allowed_roles: [warpgate:admin]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/warpgate", cfg.DataDir)
	require.Equal(t, "[::]:2200", cfg.SSH.Addr)
	require.Equal(t, "[::]:33306", cfg.MySQL.Addr)
	require.Len(t, cfg.BootstrapUsers, 1)
	require.Equal(t, "alice", cfg.BootstrapUsers[0].Name)
	require.Len(t, cfg.BootstrapTargets, 1)
	require.Equal(t, "prod-db", cfg.BootstrapTargets[0].Name)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMissingCookieSigningKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warpgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /srv/warpgate\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
