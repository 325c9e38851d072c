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

package mysqlproxy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"

	"github.com/go-mysql-org/go-mysql/packet"
	"github.com/gravitational/trace"
)

// The proxy core advertises CLIENT_LONG_PASSWORD, CLIENT_PROTOCOL_41,
// CLIENT_CONNECT_WITH_DB, CLIENT_SECURE_CONNECTION and CLIENT_PLUGIN_AUTH;
// it never negotiates compression, SSL (the bastion
// terminates TLS itself, ahead of this package, per spec.md section 4.3.2's
// "tls-maybe" state happening at the listener), or multi-statements.
const (
	clientLongPassword     = 0x00000001
	clientProtocol41       = 0x00000200
	clientConnectWithDB    = 0x00000008
	clientPluginAuth       = 0x00080000
	clientSecureConnection = 0x00008000

	serverCapabilities = clientLongPassword | clientProtocol41 | clientConnectWithDB |
		clientPluginAuth | clientSecureConnection

	authPluginClearPassword = "mysql_clear_password"
)

// writeInitialHandshake sends the server greeting packet (protocol version
// 10), advertising the clear-password auth plugin: the proxy needs the
// client's literal password to drive the Authentication Pipeline, not a
// challenge-response hash it can't reverse, and the listener's own TLS
// termination (spec.md section 4.3.2's "tls-maybe" state) keeps that
// password off the wire in front of it.
func writeInitialHandshake(pc *packet.Conn, serverVersion string, connectionID uint32) ([]byte, error) {
	authData := make([]byte, 20)
	if _, err := rand.Read(authData); err != nil {
		return nil, trace.Wrap(err)
	}

	var buf bytes.Buffer
	buf.WriteByte(10) // protocol version
	buf.WriteString(serverVersion)
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, connectionID)
	buf.Write(authData[:8])
	buf.WriteByte(0) // filler
	binary.Write(&buf, binary.LittleEndian, uint16(serverCapabilities&0xffff))
	buf.WriteByte(33) // utf8_general_ci
	binary.Write(&buf, binary.LittleEndian, uint16(0x0002))
	binary.Write(&buf, binary.LittleEndian, uint16(serverCapabilities>>16))
	buf.WriteByte(byte(len(authData) + 1))
	buf.Write(make([]byte, 10)) // reserved
	buf.Write(authData[8:])
	buf.WriteByte(0)
	buf.WriteString(authPluginClearPassword)
	buf.WriteByte(0)

	if err := pc.WritePacket(buf.Bytes()); err != nil {
		return nil, trace.Wrap(err)
	}
	return authData, nil
}

// handshakeResponse is what readHandshakeResponse extracts from the
// client's reply to the initial handshake.
type handshakeResponse struct {
	username string
	database string
	password string
}

// readHandshakeResponse decodes a HandshakeResponse41 packet per the MySQL
// client/server protocol: capability flags, max packet size, charset, a
// 23-byte filler, a null-terminated username, a length-prefixed auth
// response, and (if CLIENT_CONNECT_WITH_DB was set) a null-terminated
// database name.
func readHandshakeResponse(data []byte) (*handshakeResponse, error) {
	if len(data) < 32 {
		return nil, trace.BadParameter("mysqlproxy: handshake response too short")
	}
	capabilities := binary.LittleEndian.Uint32(data[0:4])
	pos := 32

	nameEnd := bytes.IndexByte(data[pos:], 0)
	if nameEnd < 0 {
		return nil, trace.BadParameter("mysqlproxy: malformed username in handshake response")
	}
	username := string(data[pos : pos+nameEnd])
	pos += nameEnd + 1

	if pos >= len(data) {
		return nil, trace.BadParameter("mysqlproxy: truncated handshake response")
	}
	authLen := int(data[pos])
	pos++
	if pos+authLen > len(data) {
		return nil, trace.BadParameter("mysqlproxy: truncated auth response")
	}
	password := string(data[pos : pos+authLen])
	pos += authLen

	var database string
	if capabilities&clientConnectWithDB != 0 && pos < len(data) {
		dbEnd := bytes.IndexByte(data[pos:], 0)
		if dbEnd >= 0 {
			database = string(data[pos : pos+dbEnd])
		}
	}

	return &handshakeResponse{username: username, database: database, password: password}, nil
}

// okPacket builds a minimal OK packet (header 0x00, zero affected rows and
// insert id, no warnings) acknowledging a successful handshake.
func okPacket() []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x00)
	buf.WriteByte(0x00) // affected rows, length-encoded 0
	buf.WriteByte(0x00) // last insert id, length-encoded 0
	binary.Write(&buf, binary.LittleEndian, uint16(0x0002)) // status flags: autocommit
	binary.Write(&buf, binary.LittleEndian, uint16(0))      // warnings
	return buf.Bytes()
}

// errPacket builds an ERR packet (header 0xff) with a generic access-denied
// SQL state, since the proxy core's own rejection reasons (spec.md section
// 7) don't map onto real MySQL error codes.
func errPacket(message string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0xff)
	binary.Write(&buf, binary.LittleEndian, uint16(1045)) // ER_ACCESS_DENIED_ERROR
	buf.WriteByte('#')
	buf.WriteString("28000")
	buf.WriteString(message)
	return buf.Bytes()
}

func writeErrPacket(pc *packet.Conn, err error) {
	pc.WritePacket(errPacket(err.Error()))
}
