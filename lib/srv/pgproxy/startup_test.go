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

package pgproxy

import (
	"net"
	"testing"
	"time"

	"github.com/jackc/pgproto3/v2"
	"github.com/stretchr/testify/require"
)

func TestHandleStartupPlainStartupMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := &Server{}

	resultCh := make(chan error, 1)
	var gotUser string
	go func() {
		_, _, msg, err := s.handleStartup(server)
		if err == nil {
			gotUser = msg.Parameters["user"]
		}
		resultCh <- err
	}()

	frontend := pgproto3.NewFrontend(pgproto3.NewChunkReader(client), client)
	require.NoError(t, frontend.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "alice"},
	}))

	select {
	case err := <-resultCh:
		require.NoError(t, err)
		require.Equal(t, "alice", gotUser)
	case <-time.After(2 * time.Second):
		t.Fatal("handleStartup did not return")
	}
}

func TestHandleStartupDeclinesSSLWithoutTLSConfig(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := &Server{}

	resultCh := make(chan error, 1)
	go func() {
		_, _, _, err := s.handleStartup(server)
		resultCh <- err
	}()

	frontend := pgproto3.NewFrontend(pgproto3.NewChunkReader(client), client)
	require.NoError(t, frontend.Send(&pgproto3.SSLRequest{}))

	reply := make([]byte, 1)
	_, err := client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, byte('N'), reply[0], "without a TLSConfig the server must decline SSLRequest")

	require.NoError(t, frontend.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "alice"},
	}))

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handleStartup did not return after startup message")
	}
}

func TestHandleStartupRejectsDuplicateSSLRequest(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := &Server{}

	resultCh := make(chan error, 1)
	go func() {
		_, _, _, err := s.handleStartup(server)
		resultCh <- err
	}()

	frontend := pgproto3.NewFrontend(pgproto3.NewChunkReader(client), client)
	require.NoError(t, frontend.Send(&pgproto3.SSLRequest{}))
	reply := make([]byte, 1)
	_, err := client.Read(reply)
	require.NoError(t, err)

	require.NoError(t, frontend.Send(&pgproto3.SSLRequest{}))

	select {
	case err := <-resultCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handleStartup did not return an error for a duplicate SSLRequest")
	}
}
