// Package log writes the village's machine-readable history: one
// zstd-compressed JSONL file per hour for ticks and another for audit
// lines. It is an observability trail; nothing reloads state from it.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"elderwood.ai/internal/sim/apply"
	"elderwood.ai/internal/sim/orchestrator"
)

const (
	hourLayout = "2006-01-02-15"
	fileSuffix = ".jsonl.zst"
)

// segmentName is <prefix>-YYYY-MM-DD-HH.jsonl.zst for the hour holding t.
func segmentName(prefix string, t time.Time) string {
	return prefix + "-" + t.UTC().Format(hourLayout) + fileSuffix
}

// SegmentHour parses the hour out of a segment file name written for
// prefix.
func SegmentHour(prefix, path string) (time.Time, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"-"), fileSuffix)
	t, err := time.ParseInLocation(hourLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// segment is one open hourly file. A reopened hour gets a new zstd frame
// appended; the reader handles concatenated frames.
type segment struct {
	hour time.Time
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func openSegment(dir, prefix string, hour time.Time) (*segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, segmentName(prefix, hour)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{hour: hour, f: f, enc: enc, buf: bufio.NewWriterSize(enc, 128*1024)}, nil
}

// appendLine writes one JSON line and pushes it through the encoder.
func (s *segment) appendLine(b []byte) error {
	if _, err := s.buf.Write(b); err != nil {
		return err
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return err
	}
	return s.buf.Flush()
}

func (s *segment) close() error {
	return errors.Join(s.buf.Flush(), s.enc.Close(), s.f.Close())
}

// JSONLZstdWriter appends JSON values as lines to hourly segments under
// dir. It is safe for concurrent use.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	seg *segment
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

// WithClock replaces the rotation clock.
func (w *JSONLZstdWriter) WithClock(now func() time.Time) *JSONLZstdWriter {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
	return w
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", w.prefix, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Truncate(time.Hour)
	if w.seg == nil || !w.seg.hour.Equal(hour) {
		if err := w.closeLocked(); err != nil {
			return fmt.Errorf("close %s segment: %w", w.prefix, err)
		}
		seg, err := openSegment(w.dir, w.prefix, hour)
		if err != nil {
			return fmt.Errorf("open %s segment: %w", w.prefix, err)
		}
		w.seg = seg
	}
	return w.seg.appendLine(b)
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) closeLocked() error {
	if w.seg == nil {
		return nil
	}
	err := w.seg.close()
	w.seg = nil
	return err
}

// Files lists the segments of prefix under dir, oldest hour first. Files
// whose names do not parse are skipped.
func Files(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type dated struct {
		path string
		hour time.Time
	}
	var found []dated
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if h, ok := SegmentHour(prefix, e.Name()); ok {
			found = append(found, dated{path: filepath.Join(dir, e.Name()), hour: h})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].hour.Before(found[j].hour) })
	out := make([]string, 0, len(found))
	for _, d := range found {
		out = append(out, d.path)
	}
	return out, nil
}

// ReadJSONL calls fn with the raw JSON of every line in one segment. Only
// fully closed frames are guaranteed readable.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer dec.Close()
	if err := scanLines(dec, fn); err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadAll replays every segment of prefix under dir in hour order.
func ReadAll(dir, prefix string, fn func(line []byte) error) error {
	files, err := Files(dir, prefix)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ReadJSONL(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func scanLines(r io.Reader, fn func([]byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// TickLogger writes one entry per village tick under <dataDir>/events.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(dataDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events")}
}

func (l *TickLogger) WriteTick(v orchestrator.TickLogEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                                { return l.w.Close() }

// AuditLogger writes audit lines under <dataDir>/audit.
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v apply.AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                        { return l.w.Close() }
