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

// Package recorder implements the Recording Pipeline: a sink that accepts
// timestamped frames from a protocol proxy core and persists them as
// replayable, append-only artifacts on disk, following the file-per-session
// layout the teacher's lib/events/filesessions handler uses for uploaded
// session archives.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "recorder"})

const sharedDirMode = 0o750

// Writer is the handle a protocol proxy core holds for the lifetime of one
// recording, per spec.md section 4.4's contract: "open(session, kind) ->
// RecordingWriter returning a writer with write_frame(bytes), resize(cols,
// rows) (terminal only), close()".
type Writer interface {
	WriteFrame(data []byte) error
	Resize(cols, rows int) error
	Close() error
}

// Config wires a Pipeline's dependencies.
type Config struct {
	// Directory is where recording artifacts are stored, one file per
	// recording named by session id and kind (spec.md section 4.5).
	Directory string
	Services  services.Services
	Clock     clockwork.Clock
	// QueueDepth bounds the per-recording frame queue before a recording is
	// marked lossy, per spec.md section 5's backpressure rule.
	QueueDepth int
	// SnapshotInterval is how many bytes of terminal output accumulate
	// between self-contained snapshot frames, letting a replayer seek
	// without replaying from byte zero.
	SnapshotInterval int
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Directory == "" {
		return trace.BadParameter("recorder: missing Directory")
	}
	if c.Services == nil {
		return trace.BadParameter("recorder: missing Services")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 1024
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 64 * 1024
	}
	return nil
}

// Pipeline opens and tracks recordings for every live session.
type Pipeline struct {
	cfg Config
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.MkdirAll(cfg.Directory, sharedDirMode); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &Pipeline{cfg: cfg}, nil
}

// storagePath names a recording artifact by session id and kind, mirroring
// filesessions.Handler.path's "one file per session id" convention.
func (p *Pipeline) storagePath(sessionID string, kind types.RecordingKind) string {
	return filepath.Join(p.cfg.Directory, fmt.Sprintf("%s.%s", sessionID, kind))
}

// StoragePath exposes storagePath to callers outside the package (the
// webproxy gateway's live session tail endpoint) that need to read a
// recording's bytes as they're written rather than going through Open,
// which always starts a fresh recording.
func (p *Pipeline) StoragePath(sessionID string, kind types.RecordingKind) string {
	return p.storagePath(sessionID, kind)
}

// Open creates the Recording record in the State Store and returns a Writer
// appropriate to kind: terminal recordings get JSON frame/snapshot
// semantics (terminalWriter), traffic recordings get a minimal
// length-prefixed binary framing (trafficWriter). Both share the same
// lossy-queue/flusher goroutine machinery (baseWriter).
func (p *Pipeline) Open(ctx context.Context, session *types.Session, kind types.RecordingKind) (Writer, error) {
	path := p.storagePath(session.ID, kind)
	f, err := os.Create(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}

	rec := types.Recording{
		ID:              session.ID + ":" + string(kind),
		SessionID:       session.ID,
		Kind:            kind,
		StartedAt:       p.cfg.Clock.Now(),
		StorageLocation: path,
	}
	if err := p.cfg.Services.CreateRecording(ctx, rec); err != nil {
		f.Close()
		return nil, trace.Wrap(err)
	}

	base := newBaseWriter(baseWriterConfig{
		file:       f,
		clock:      p.cfg.Clock,
		queueDepth: p.cfg.QueueDepth,
		onClose: func(framesDropped uint64, sizeBytes uint64) {
			now := p.cfg.Clock.Now()
			rec.EndedAt = &now
			rec.FramesDropped = framesDropped
			rec.SizeBytes = sizeBytes
			if err := p.cfg.Services.UpdateRecording(ctx, rec); err != nil {
				log.WithError(err).WithField("session", session.ID).Warn("failed to finalize recording record")
			}
		},
	})

	switch kind {
	case types.RecordingTerminal:
		return newTerminalWriter(base, p.cfg.SnapshotInterval), nil
	case types.RecordingTraffic:
		return newTrafficWriter(base), nil
	default:
		base.Close()
		return nil, trace.BadParameter("recorder: unknown recording kind %q", kind)
	}
}

// baseWriterConfig configures the shared queue/flusher machinery.
type baseWriterConfig struct {
	file       *os.File
	clock      clockwork.Clock
	queueDepth int
	onClose    func(framesDropped, sizeBytes uint64)
}

// baseWriter runs the bounded, non-blocking frame queue and single flusher
// goroutine shared by both recording kinds, implementing spec.md section
// 5's "recording writes are bounded by a per-session queue; if the queue
// fills the recording is marked lossy and a marker frame is inserted
// rather than blocking the proxy."
type baseWriter struct {
	cfg    baseWriterConfig
	frames chan []byte
	done   chan struct{}

	mu      sync.Mutex
	dropped uint64
	written uint64
	closed  bool
	start   time.Time

	// markerPending is set once a frame has been dropped and cleared when
	// the lossy marker standing in for it has been queued.
	markerPending bool
}

func newBaseWriter(cfg baseWriterConfig) *baseWriter {
	w := &baseWriter{
		cfg:    cfg,
		frames: make(chan []byte, cfg.queueDepth),
		done:   make(chan struct{}),
		start:  cfg.clock.Now(),
	}
	go w.flush()
	return w
}

func (w *baseWriter) elapsed() time.Duration {
	return w.cfg.clock.Now().Sub(w.start)
}

// enqueue attempts a non-blocking send; on a full queue it drops the frame
// and substitutes a single lossy marker (supplied by the caller, since the
// marker's shape differs between terminal JSON frames and traffic binary
// frames) the next time the queue has room.
func (w *baseWriter) enqueue(frame []byte, lossyMarker func() []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.markerPending {
		select {
		case w.frames <- lossyMarker():
			w.markerPending = false
		default:
			w.dropped++
			return
		}
	}
	select {
	case w.frames <- frame:
	default:
		w.dropped++
		w.markerPending = true
	}
}

func (w *baseWriter) flush() {
	defer close(w.done)
	for frame := range w.frames {
		n, err := w.cfg.file.Write(frame)
		if err != nil {
			log.WithError(err).Warn("recording write failed")
			continue
		}
		w.mu.Lock()
		w.written += uint64(n)
		w.mu.Unlock()
	}
}

func (w *baseWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.frames)
	<-w.done

	w.mu.Lock()
	dropped, written := w.dropped, w.written
	w.mu.Unlock()

	err := w.cfg.file.Close()
	if w.cfg.onClose != nil {
		w.cfg.onClose(dropped, written)
	}
	return trace.Wrap(err)
}
