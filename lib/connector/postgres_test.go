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

package connector

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostgresMD5PasswordMatchesReferenceComputation(t *testing.T) {
	user, password := "alice", "hunter2"
	salt := [4]byte{0x01, 0x02, 0x03, 0x04}

	inner := md5.Sum([]byte(password + user))
	outer := md5.Sum(append([]byte(hex.EncodeToString(inner[:])), salt[:]...))
	want := "md5" + hex.EncodeToString(outer[:])

	require.Equal(t, want, postgresMD5Password(user, password, salt))
}

func TestPostgresMD5PasswordChangesWithSalt(t *testing.T) {
	a := postgresMD5Password("alice", "hunter2", [4]byte{0, 0, 0, 0})
	b := postgresMD5Password("alice", "hunter2", [4]byte{1, 0, 0, 0})
	require.NotEqual(t, a, b)
}

func TestPostgresMD5PasswordChangesWithUser(t *testing.T) {
	salt := [4]byte{9, 9, 9, 9}
	a := postgresMD5Password("alice", "hunter2", salt)
	b := postgresMD5Password("bob", "hunter2", salt)
	require.NotEqual(t, a, b)
}
