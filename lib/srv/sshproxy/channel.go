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

package sshproxy

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/warpgate-bastion/warpgate/lib/limiter"
	"github.com/warpgate-bastion/warpgate/lib/recorder"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

// filteredRequestTypes are session-channel requests spec.md section 4.3.1
// says to deny outright: "X11 forwarding, agent forwarding, and
// environment variables are filtered identically" to denied port
// forwarding.
var filteredRequestTypes = map[string]bool{
	"x11-req":                   true,
	"auth-agent-req@openssh.com": true,
	"env":                       true,
}

// handleSessionChannel proxies one "session" channel (shell/exec/
// subsystem), forwarding requests in both directions except the filtered
// set, and opening a terminal recording once a pty is allocated.
func (s *sshSession) handleSessionChannel(newChannel ssh.NewChannel) {
	remoteChannel, remoteReqs, err := s.upstream.SSHClient.OpenChannel(newChannel.ChannelType(), newChannel.ExtraData())
	if err != nil {
		newChannel.Reject(ssh.ConnectionFailed, "upstream channel open failed")
		return
	}
	localChannel, localReqs, err := newChannel.Accept()
	if err != nil {
		remoteChannel.Close()
		return
	}
	defer localChannel.Close()
	defer remoteChannel.Close()

	var rec recorder.Writer
	defer func() {
		if rec != nil {
			rec.Close()
		}
	}()

	requestsDone := make(chan struct{})
	go func() {
		defer close(requestsDone)
		for {
			var req *ssh.Request
			var target ssh.Channel
			var fromClient bool
			select {
			case req = <-localReqs:
				target, fromClient = remoteChannel, true
			case req = <-remoteReqs:
				target, fromClient = localChannel, false
			}
			if req == nil {
				return
			}

			if fromClient && filteredRequestTypes[req.Type] {
				if req.WantReply {
					req.Reply(false, nil)
				}
				continue
			}

			if fromClient && req.Type == "pty-req" {
				if cols, rows, ok := parsePtyRequest(req.Payload); ok {
					rec = s.openTerminalRecording(cols, rows)
				}
			}
			if fromClient && req.Type == "window-change" {
				if cols, rows, ok := parseWindowChange(req.Payload); ok && rec != nil {
					rec.Resize(cols, rows)
				}
			}

			ok, sendErr := target.SendRequest(req.Type, req.WantReply, req.Payload)
			if sendErr != nil {
				return
			}
			if req.WantReply {
				req.Reply(ok, nil)
			}
			if req.Type == "exit-status" {
				return
			}
		}
	}()

	var upReader io.Reader = remoteChannel
	var downReader io.Reader = localChannel
	if bps := s.target.Options.BytesPerSecond; bps > 0 {
		upReader = limiter.NewRateLimitedReader(s.ctx, remoteChannel, limiter.NewByteRateLimiter(bps))
		downReader = limiter.NewRateLimitedReader(s.ctx, localChannel, limiter.NewByteRateLimiter(bps))
	}

	copyDone := make(chan struct{}, 2)
	go func() {
		s.copyAndRecord(localChannel, upReader, rec)
		copyDone <- struct{}{}
	}()
	go func() {
		io.Copy(remoteChannel, &activityReader{r: downReader, session: s})
		copyDone <- struct{}{}
	}()

	<-copyDone
	<-copyDone
	<-requestsDone
}

// copyAndRecord copies upstream->client bytes while mirroring each chunk
// into the terminal recording, per spec.md section 4.3.1: "every upstream
// data frame is stamped and written."
func (s *sshSession) copyAndRecord(dst io.Writer, src io.Reader, rec recorder.Writer) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			s.touch()
			if rec != nil {
				rec.WriteFrame(buf[:n])
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// activityReader marks session activity on every Read, used for the
// client->upstream half which doesn't otherwise touch the recorder.
type activityReader struct {
	r       io.Reader
	session *sshSession
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.session.touch()
	}
	return n, err
}

func (s *sshSession) openTerminalRecording(cols, rows int) recorder.Writer {
	session := types.Session{ID: s.sessionID}
	w, err := s.server.cfg.Recorder.Open(s.ctx, &session, types.RecordingTerminal)
	if err != nil {
		log.WithError(err).WithField("session", s.sessionID).Warn("failed to open terminal recording")
		return nil
	}
	w.Resize(cols, rows)
	return w
}

// handleDirectTCPIP implements the port-forwarding policy check of spec.md
// section 4.3.1: "port-forwarding (direct-tcpip, tcpip-forward) is
// rejected unless target options allow it."
func (s *sshSession) handleDirectTCPIP(newChannel ssh.NewChannel) {
	if !s.target.Options.AllowPortForwarding {
		newChannel.Reject(ssh.Prohibited, "port forwarding is not permitted for this target")
		return
	}

	remoteChannel, remoteReqs, err := s.upstream.SSHClient.OpenChannel(newChannel.ChannelType(), newChannel.ExtraData())
	if err != nil {
		newChannel.Reject(ssh.ConnectionFailed, "upstream channel open failed")
		return
	}
	localChannel, localReqs, err := newChannel.Accept()
	if err != nil {
		remoteChannel.Close()
		return
	}
	defer localChannel.Close()
	defer remoteChannel.Close()

	go ssh.DiscardRequests(localReqs)
	go ssh.DiscardRequests(remoteReqs)

	var rec recorder.Writer
	if s.server.cfg.Recorder != nil {
		session := types.Session{ID: s.sessionID}
		if w, err := s.server.cfg.Recorder.Open(s.ctx, &session, types.RecordingTraffic); err == nil {
			rec = w
		}
	}
	defer func() {
		if rec != nil {
			rec.Close()
		}
	}()

	copyDone := make(chan struct{}, 2)
	go func() {
		s.copyAndRecord(localChannel, remoteChannel, rec)
		copyDone <- struct{}{}
	}()
	go func() {
		io.Copy(remoteChannel, &activityReader{r: localChannel, session: s})
		copyDone <- struct{}{}
	}()
	<-copyDone
	<-copyDone
}

// parsePtyRequest decodes the leading TERM string and following cols/rows
// uint32 fields of an RFC 4254 "pty-req" payload, ignoring the rest.
func parsePtyRequest(payload []byte) (cols, rows int, ok bool) {
	if len(payload) < 4 {
		return 0, 0, false
	}
	termLen := binary.BigEndian.Uint32(payload[0:4])
	offset := 4 + int(termLen)
	if len(payload) < offset+8 {
		return 0, 0, false
	}
	cols = int(binary.BigEndian.Uint32(payload[offset : offset+4]))
	rows = int(binary.BigEndian.Uint32(payload[offset+4 : offset+8]))
	return cols, rows, true
}

// parseWindowChange decodes an RFC 4254 "window-change" payload's cols/rows
// fields.
func parseWindowChange(payload []byte) (cols, rows int, ok bool) {
	if len(payload) < 8 {
		return 0, 0, false
	}
	cols = int(binary.BigEndian.Uint32(payload[0:4]))
	rows = int(binary.BigEndian.Uint32(payload[4:8]))
	return cols, rows, true
}
