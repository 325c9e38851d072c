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

package srv

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenersRegisterAndAddr(t *testing.T) {
	r := NewListeners()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, r.Register(ListenerSSH, l))
	require.Equal(t, l.Addr(), r.Addr(ListenerSSH))
	require.Nil(t, r.Addr(ListenerMySQL))
}

func TestListenersRegisterDuplicateFails(t *testing.T) {
	r := NewListeners()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, r.Register(ListenerHTTPS, l))
	err = r.Register(ListenerHTTPS, l)
	require.Error(t, err)
}

func TestListenersPorts(t *testing.T) {
	r := NewListeners()

	sshL, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer sshL.Close()
	mysqlL, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer mysqlL.Close()

	require.NoError(t, r.Register(ListenerSSH, sshL))
	require.NoError(t, r.Register(ListenerMySQL, mysqlL))

	ports := r.Ports()
	require.Len(t, ports, 2)
	require.Equal(t, sshL.Addr().(*net.TCPAddr).Port, ports[string(ListenerSSH)])
	require.Equal(t, mysqlL.Addr().(*net.TCPAddr).Port, ports[string(ListenerMySQL)])
}

func TestListenersCloseAll(t *testing.T) {
	r := NewListeners()

	l1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	l2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, r.Register(ListenerSSH, l1))
	require.NoError(t, r.Register(ListenerPostgres, l2))

	require.NoError(t, r.CloseAll())

	_, err = l1.Accept()
	require.Error(t, err)
	_, err = l2.Accept()
	require.Error(t, err)
}
