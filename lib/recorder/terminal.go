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

package recorder

import (
	"encoding/json"

	"github.com/gravitational/trace"
)

// terminalProtocolVersion identifies the on-disk frame format, carried in
// the recording's header line so a future format change doesn't corrupt
// replay of existing recordings.
const terminalProtocolVersion = 1

// terminalHeader is the first line of a terminal recording, per spec.md
// section 4.4's "an initial header line carries the protocol version and
// the initial geometry."
type terminalHeader struct {
	Version int `json:"version"`
	Cols    int `json:"cols"`
	Rows    int `json:"rows"`
}

// terminalFrame is either a data frame ({time, data}), a resize event
// ({time, cols, rows}), or a periodic snapshot ({time, data, snapshot:
// true}); exactly one of Data or Cols/Rows is populated. Snapshot is set
// only on the self-contained snapshot frames spec.md section 4.4 expects
// a replayer to scan for, distinguishing them from an ordinary data frame
// that happens to carry the same shape — without it, a snapshot frame is
// byte-for-byte indistinguishable from a WriteFrame data frame, and a
// reader has no way to seek into the middle of a recording.
type terminalFrame struct {
	TimeMillis int64  `json:"time"`
	Data       string `json:"data,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Rows       int    `json:"rows,omitempty"`
	Lossy      bool   `json:"lossy,omitempty"`
	Snapshot   bool   `json:"snapshot,omitempty"`
}

// terminalWriter implements Writer for PTY-backed SSH sessions. Frames are
// newline-delimited JSON objects; periodic snapshot frames let a replayer
// seek without replaying from byte zero, per spec.md section 4.4.
//
// No terminal-emulator library is present anywhere in the retrieval pack,
// so a snapshot's payload here is the last SnapshotInterval bytes of raw
// output rather than a true rendered terminal-emulator state string — see
// DESIGN.md for this gap.
type terminalWriter struct {
	base             *baseWriter
	snapshotInterval int

	sinceSnapshot int
	tail          []byte
	headerWritten bool
	cols, rows    int
}

func newTerminalWriter(base *baseWriter, snapshotInterval int) *terminalWriter {
	return &terminalWriter{base: base, snapshotInterval: snapshotInterval}
}

func (w *terminalWriter) writeHeader() {
	if w.headerWritten {
		return
	}
	w.headerWritten = true
	line, err := json.Marshal(terminalHeader{Version: terminalProtocolVersion, Cols: w.cols, Rows: w.rows})
	if err != nil {
		return
	}
	w.base.enqueue(append(line, '\n'), w.lossyMarker)
}

func (w *terminalWriter) lossyMarker() []byte {
	line, _ := json.Marshal(terminalFrame{TimeMillis: w.base.elapsed().Milliseconds(), Lossy: true})
	return append(line, '\n')
}

// WriteFrame records one chunk of upstream->client terminal output,
// inserting a self-contained snapshot frame whenever SnapshotInterval bytes
// have accumulated since the last one.
func (w *terminalWriter) WriteFrame(data []byte) error {
	w.writeHeader()

	frame := terminalFrame{TimeMillis: w.base.elapsed().Milliseconds(), Data: string(data)}
	line, err := json.Marshal(frame)
	if err != nil {
		return trace.Wrap(err)
	}
	w.base.enqueue(append(line, '\n'), w.lossyMarker)

	w.tail = append(w.tail, data...)
	if len(w.tail) > w.snapshotInterval {
		w.tail = w.tail[len(w.tail)-w.snapshotInterval:]
	}
	w.sinceSnapshot += len(data)
	if w.sinceSnapshot >= w.snapshotInterval {
		w.writeSnapshot()
		w.sinceSnapshot = 0
	}
	return nil
}

func (w *terminalWriter) writeSnapshot() {
	snapshot := terminalFrame{TimeMillis: w.base.elapsed().Milliseconds(), Data: string(w.tail), Snapshot: true}
	line, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	w.base.enqueue(append(line, '\n'), w.lossyMarker)
}

// Resize writes the header with the new geometry if no header has been
// written yet; afterwards it emits a {time, cols, rows} frame followed by a
// fresh snapshot frame.
func (w *terminalWriter) Resize(cols, rows int) error {
	w.cols, w.rows = cols, rows
	if !w.headerWritten {
		w.writeHeader()
		return nil
	}
	frame := terminalFrame{TimeMillis: w.base.elapsed().Milliseconds(), Cols: cols, Rows: rows}
	line, err := json.Marshal(frame)
	if err != nil {
		return trace.Wrap(err)
	}
	w.base.enqueue(append(line, '\n'), w.lossyMarker)
	w.sinceSnapshot = w.snapshotInterval // force a fresh snapshot after a resize
	w.writeSnapshot()
	w.sinceSnapshot = 0
	return nil
}

func (w *terminalWriter) Close() error {
	return w.base.Close()
}
