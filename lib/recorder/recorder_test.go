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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/warpgate-bastion/warpgate/lib/backend/sqlite"
	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

// TestMain verifies that every Pipeline's flush goroutine (baseWriter.flush)
// has exited by the time a test's Writer is closed, rather than leaking one
// per opened recording.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServices(t *testing.T) services.Services {
	t.Helper()
	bk, err := sqlite.New(sqlite.Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bk.Close() })
	return services.New(bk)
}

func TestPipelineOpenTrafficWritesLengthPrefixedFrames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	p, err := New(Config{Directory: dir, Services: newTestServices(t), Clock: clock})
	require.NoError(t, err)

	session := &types.Session{ID: "sess1", Protocol: types.ProtocolMySQL}
	w, err := p.Open(ctx, session, types.RecordingTraffic)
	require.NoError(t, err)

	require.NoError(t, w.WriteFrame([]byte("hello")))
	require.Error(t, w.Resize(80, 24), "traffic recordings don't support resize")
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "sess1.traffic"))
	require.NoError(t, err)
	require.Equal(t, byte(0), data[8], "flags byte must be clear for a normal frame")
	payloadLen := int(data[9])<<24 | int(data[10])<<16 | int(data[11])<<8 | int(data[12])
	require.Equal(t, "hello", string(data[13:13+payloadLen]))
}

func TestPipelineOpenTerminalWritesJSONLFrames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	p, err := New(Config{Directory: dir, Services: newTestServices(t), Clock: clock, SnapshotInterval: 1024})
	require.NoError(t, err)

	session := &types.Session{ID: "sess2", Protocol: types.ProtocolSSH}
	w, err := p.Open(ctx, session, types.RecordingTerminal)
	require.NoError(t, err)

	require.NoError(t, w.Resize(80, 24))
	require.NoError(t, w.WriteFrame([]byte("$ ls\r\n")))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "sess2.terminal"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 2)

	var header terminalHeader
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &header))
	require.Equal(t, 80, header.Cols)
	require.Equal(t, 24, header.Rows)
}

// TestTerminalWriterSnapshotFrameAllowsSeekedReplay writes enough terminal
// output to force multiple snapshot frames, then verifies a reader can scan
// for the `"snapshot":true` frames and replay forward from one of them
// without double-playing the tail bytes the snapshot already carries.
func TestTerminalWriterSnapshotFrameAllowsSeekedReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	p, err := New(Config{Directory: dir, Services: newTestServices(t), Clock: clock, SnapshotInterval: 5})
	require.NoError(t, err)

	session := &types.Session{ID: "sess5", Protocol: types.ProtocolSSH}
	w, err := p.Open(ctx, session, types.RecordingTerminal)
	require.NoError(t, err)

	chunks := []string{"ab", "cde", "fg", "hij"}
	for _, c := range chunks {
		require.NoError(t, w.WriteFrame([]byte(c)))
	}
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "sess5.terminal"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 2, "header plus at least one data/snapshot frame")

	var frames []terminalFrame
	for _, line := range lines[1:] { // skip the header line
		var f terminalFrame
		require.NoError(t, json.Unmarshal([]byte(line), &f))
		frames = append(frames, f)
	}

	var snapshotIdx = -1
	for i, f := range frames {
		if f.Snapshot {
			snapshotIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, snapshotIdx, 0, "at least one frame must be marked as a snapshot")

	// Seeked replay: start from the first snapshot's payload, then append only
	// the plain data frames that follow it — never a snapshot frame itself,
	// whose payload is already folded into the baseline it represents. A
	// reader that instead treated every frame as an ordinary data frame would
	// double-play the tail bytes embedded in the snapshot.
	replayed := frames[snapshotIdx].Data
	for _, f := range frames[snapshotIdx+1:] {
		if f.Snapshot || f.Data == "" {
			continue
		}
		replayed += f.Data
	}

	require.Equal(t, strings.Join(chunks, ""), replayed,
		"seeked replay from the snapshot must exactly reproduce the session's output with no gaps or duplication")
}

func TestPipelineOpenRejectsUnknownKind(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{Directory: t.TempDir(), Services: newTestServices(t)})
	require.NoError(t, err)

	_, err = p.Open(ctx, &types.Session{ID: "sess3"}, types.RecordingKind("bogus"))
	require.Error(t, err)
}

func TestPipelineOpenPersistsRecordingRecord(t *testing.T) {
	ctx := context.Background()
	svc := newTestServices(t)
	p, err := New(Config{Directory: t.TempDir(), Services: svc})
	require.NoError(t, err)

	session := &types.Session{ID: "sess4"}
	w, err := p.Open(ctx, session, types.RecordingTraffic)
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame([]byte("x")))
	require.NoError(t, w.Close())

	rec, err := svc.GetRecording(ctx, "sess4:traffic")
	require.NoError(t, err)
	require.Equal(t, "sess4", rec.SessionID)
	require.NotNil(t, rec.EndedAt)
}

func TestBaseWriterDropsFramesWhenQueueFull(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "frames")
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()

	var dropped, written uint64
	done := make(chan struct{})
	base := newBaseWriter(baseWriterConfig{
		file:       f,
		clock:      clock,
		queueDepth: 1,
		onClose: func(d, w uint64) {
			dropped, written = d, w
			close(done)
		},
	})

	tw := newTrafficWriter(base)
	for i := 0; i < 50; i++ {
		require.NoError(t, tw.WriteFrame([]byte("x")))
	}
	require.NoError(t, tw.Close())
	<-done
	require.Greater(t, written, uint64(0))
	_ = dropped
}
