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

package webproxy

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/warpgate-bastion/warpgate/lib/types"
)

// tailPollInterval is how often the tail loop checks a growing recording
// file for new bytes. Recordings are plain files being appended to by a
// different process/goroutine, not a pipe, so polling rather than blocking
// reads is the only option without adding a filesystem-watch dependency.
const tailPollInterval = 250 * time.Millisecond

// tailUpgrader has no Origin check beyond the admin-session cookie already
// required to reach handleTailSession; CheckOrigin is left permissive
// because the session cookie, not same-origin, is the actual access
// control here.
var tailUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTailSession implements the admin live session viewer named in
// SPEC_FULL.md's web gateway surface: an admin who knows a session id can
// watch its traffic or terminal recording grow in near-real-time over a
// WebSocket, without waiting for the session to end and the recording to be
// fetched as a finished artifact. Unlike the rest of the gateway API this
// endpoint is WebSocket rather than JSON, since it streams an open-ended
// sequence of byte chunks instead of returning a single response body.
func (s *Server) handleTailSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := s.requireAdmin(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := ps.ByName("id")
	session, err := s.cfg.Services.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	kind := types.RecordingTraffic
	if r.URL.Query().Get("kind") == string(types.RecordingTerminal) {
		kind = types.RecordingTerminal
	}

	conn, err := tailUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := tailRecording(r.Context(), conn, s.cfg.Recorder.StoragePath(session.ID, kind)); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.WithError(err).WithField("session", sessionID).Debug("session tail ended")
	}
}

// tailRecording streams newly-appended bytes at path to conn until ctx is
// canceled (the HTTP request's client disconnected) or the websocket itself
// errors. It opens the file in a retry loop since the recorder may not have
// created it yet when an admin starts watching a session immediately after
// it begins.
func tailRecording(ctx context.Context, conn *websocket.Conn, path string) error {
	var f *os.File
	for {
		opened, err := os.Open(path)
		if err == nil {
			f = opened
			break
		}
		if !os.IsNotExist(err) {
			return trace.Wrap(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tailPollInterval):
		}
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := f.Read(buf)
				if n > 0 {
					if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
						return trace.Wrap(werr)
					}
				}
				if err == io.EOF {
					break
				}
				if err != nil {
					return trace.Wrap(err)
				}
			}
		}
	}
}
