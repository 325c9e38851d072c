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
	"encoding/binary"

	"github.com/gravitational/trace"
)

// trafficFrameFlagLossy marks a synthetic marker frame standing in for data
// dropped because the recording queue was full, per spec.md section 5.
const trafficFrameFlagLossy = 0x01

// trafficWriter implements Writer for MySQL, Postgres, and non-interactive
// SSH sessions: raw directional byte chunks rather than terminal frames.
// No packet-capture library (e.g. gopacket/pcapgo) appears anywhere in the
// retrieval pack, so frames use a minimal self-describing binary layout
// instead of a real pcap container — see DESIGN.md for this gap. Each frame
// is:
//
//	8 bytes  time offset in milliseconds since recording start (big-endian)
//	1 byte   flags (bit 0: lossy marker)
//	4 bytes  payload length (big-endian)
//	N bytes  payload
type trafficWriter struct {
	base *baseWriter
}

func newTrafficWriter(base *baseWriter) *trafficWriter {
	return &trafficWriter{base: base}
}

func (w *trafficWriter) encodeFrame(flags byte, payload []byte) []byte {
	frame := make([]byte, 8+1+4+len(payload))
	binary.BigEndian.PutUint64(frame[0:8], uint64(w.base.elapsed().Milliseconds()))
	frame[8] = flags
	binary.BigEndian.PutUint32(frame[9:13], uint32(len(payload)))
	copy(frame[13:], payload)
	return frame
}

func (w *trafficWriter) lossyMarker() []byte {
	return w.encodeFrame(trafficFrameFlagLossy, nil)
}

func (w *trafficWriter) WriteFrame(data []byte) error {
	w.base.enqueue(w.encodeFrame(0, data), w.lossyMarker)
	return nil
}

// Resize is not meaningful for a raw traffic capture.
func (w *trafficWriter) Resize(cols, rows int) error {
	return trace.BadParameter("recorder: Resize is not supported for traffic recordings")
}

func (w *trafficWriter) Close() error {
	return w.base.Close()
}
