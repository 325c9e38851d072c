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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateHostKeyGeneratesOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")

	signer, err := loadOrCreateHostKey(path)
	require.NoError(t, err)
	require.NotNil(t, signer.PublicKey())
}

func TestLoadOrCreateHostKeyIsStableAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")

	first, err := loadOrCreateHostKey(path)
	require.NoError(t, err)

	second, err := loadOrCreateHostKey(path)
	require.NoError(t, err)

	require.Equal(t, first.PublicKey().Marshal(), second.PublicKey().Marshal(), "a second load must return the same persisted key")
}

func TestLoadOrCreateHostKeyRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	require.NoError(t, os.WriteFile(path, []byte("not a pem file"), 0o600))

	_, err := loadOrCreateHostKey(path)
	require.Error(t, err)
}
