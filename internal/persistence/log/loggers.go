package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"frostanchor.ai/internal/sim/anchors"
)

// JSONLZstdWriter appends JSON lines to hourly zstd-compressed files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines through the encoder without closing the frame.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// MutationLog is the durable audit trail of engine mutations. Record only queues; a
// background goroutine owns the file. When the queue is full the entry is dropped and
// counted.
type MutationLog struct {
	w   *JSONLZstdWriter
	log *slog.Logger

	ch      chan anchors.Mutation
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

func NewMutationLog(dataDir string, logger *slog.Logger) *MutationLog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &MutationLog{
		w:    NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "mutations"),
		log:  logger,
		ch:   make(chan anchors.Mutation, 8192),
		done: make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *MutationLog) Record(m anchors.Mutation) {
	if l.closed.Load() {
		return
	}
	select {
	case l.ch <- m:
	default:
		l.dropped.Add(1)
	}
}

// Dropped reports how many mutations were lost to a full queue.
func (l *MutationLog) Dropped() uint64 { return l.dropped.Load() }

func (l *MutationLog) loop() {
	defer close(l.done)
	flush := time.NewTicker(time.Second)
	defer flush.Stop()
	for {
		select {
		case m, ok := <-l.ch:
			if !ok {
				return
			}
			if err := l.w.Write(m); err != nil {
				l.log.Warn("audit write failed", "err", err)
			}
		case <-flush.C:
			if err := l.w.Flush(); err != nil {
				l.log.Warn("audit flush failed", "err", err)
			}
		}
	}
}

// Close drains the queue and closes the current file.
func (l *MutationLog) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		<-l.done
		err = l.w.Close()
	})
	return err
}
