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

// TerminationReason classifies why a Session ended, surfaced in the State
// Store for audit queries per spec.md section 7.
type TerminationReason string

const (
	TerminationClientClosed   TerminationReason = "client-closed"
	TerminationTargetClosed   TerminationReason = "target-closed"
	TerminationIdleTimeout    TerminationReason = "idle-timeout"
	TerminationAdminKilled    TerminationReason = "admin-killed"
	TerminationPolicyRejected TerminationReason = "policy-rejected"
	TerminationError          TerminationReason = "error"
)

// Session is one end-to-end spliced connection between an authenticated
// client and a target, spanning the full lifetime from accepted connection
// to stream teardown, per spec.md section 3.
type Session struct {
	ID         string    `json:"id"`
	Protocol   Protocol  `json:"protocol"`
	UserID     string    `json:"user_id"`
	TargetID   string    `json:"target_id"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`

	EndedAt     *time.Time         `json:"ended_at,omitempty"`
	Termination TerminationReason  `json:"termination,omitempty"`

	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
}

// Active reports whether the session has not yet been closed out.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Duration returns the elapsed session time, using now for still-active
// sessions. Callers pass a clockwork.Clock's Now() so tests can control it.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// RecordingKind distinguishes the shape of a Recording's captured stream.
type RecordingKind string

const (
	// RecordingTerminal captures a sequence of timestamped terminal frames
	// (SSH PTY sessions).
	RecordingTerminal RecordingKind = "terminal"
	// RecordingTraffic captures raw, directional byte chunks (MySQL and
	// Postgres sessions, and SSH direct-tcpip channels; an SSH session
	// channel without a pty is not recorded).
	RecordingTraffic RecordingKind = "traffic"
)

// Recording is the durable record of a Session's captured stream, per
// spec.md section 6.
type Recording struct {
	ID              string        `json:"id"`
	SessionID       string        `json:"session_id"`
	Kind            RecordingKind `json:"kind"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	StorageLocation string        `json:"storage_location"`
	SizeBytes       uint64        `json:"size_bytes"`
	FramesDropped   uint64        `json:"frames_dropped"`
}

// LogLine is one State Store audit log entry appended under a session,
// per spec.md section 4.5's "append of log lines keyed by session id with
// retention sweeping older than a configured horizon." Distinct from a
// Recording, which captures a session's raw protocol bytes: a LogLine is a
// short, human-readable event (the proxy cores record a "session started"
// and a "session ended" line for each session), the kind of line an admin
// scans without replaying a recording.
type LogLine struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`
	Text      string    `json:"text"`
}
