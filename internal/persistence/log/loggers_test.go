package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"elderwood.ai/internal/sim/apply"
	"elderwood.ai/internal/sim/orchestrator"
)

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 59, 0, 0, time.UTC)
	w := NewJSONLZstdWriter(dir, "events").WithClock(func() time.Time { return now })

	if err := w.Write(map[string]int{"tick": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"tick": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir, "events")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	want := []string{
		filepath.Join(dir, "events-2026-03-01-12.jsonl.zst"),
		filepath.Join(dir, "events-2026-03-01-13.jsonl.zst"),
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files=%v want %v", files, want)
	}
}

func TestReopenAppendsFrame(t *testing.T) {
	dir := t.TempDir()
	clock := func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	for i := 1; i <= 2; i++ {
		w := NewJSONLZstdWriter(dir, "audit").WithClock(clock)
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	var got []int
	err := ReadJSONL(filepath.Join(dir, "audit-2026-03-01-08.jsonl.zst"), func(line []byte) error {
		var v struct{ N int }
		if err := json.Unmarshal(line, &v); err != nil {
			return err
		}
		got = append(got, v.N)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v want [1 2]", got)
	}
}

func TestTickAndAuditLoggers(t *testing.T) {
	dir := t.TempDir()
	tl := NewTickLogger(dir)
	al := NewAuditLogger(dir)

	if err := tl.WriteTick(orchestrator.TickLogEntry{Tick: 7, Trigger: orchestrator.TriggerTimer}); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := al.WriteAudit(apply.AuditEntry{Tick: 7, Actor: apply.Actor, Action: "STONE_PROMOTE", Target: "ST1"}); err != nil {
		t.Fatalf("audit: %v", err)
	}
	_ = tl.Close()
	_ = al.Close()

	ticks, _ := Files(filepath.Join(dir, "events"), "events")
	audits, _ := Files(filepath.Join(dir, "audit"), "audit")
	if len(ticks) != 1 || len(audits) != 1 {
		t.Fatalf("ticks=%v audits=%v", ticks, audits)
	}
	var e orchestrator.TickLogEntry
	if err := ReadJSONL(ticks[0], func(line []byte) error { return json.Unmarshal(line, &e) }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.Tick != 7 || e.Trigger != "TIMER" {
		t.Fatalf("entry=%+v", e)
	}
}

func TestReadAllReplaysHoursInOrder(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	w := NewJSONLZstdWriter(dir, "events").WithClock(func() time.Time { return now })
	for i := 1; i <= 3; i++ {
		if err := w.Write(map[string]int{"tick": i}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		now = now.Add(time.Hour)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "events-latest.jsonl.zst"), []byte("x"), 0o644); err != nil {
		t.Fatalf("stray file: %v", err)
	}

	var got []int
	err := ReadAll(dir, "events", func(line []byte) error {
		var v struct{ Tick int }
		if err := json.Unmarshal(line, &v); err != nil {
			return err
		}
		got = append(got, v.Tick)
		return nil
	})
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got %v want [1 2 3]", got)
	}

	h, ok := SegmentHour("events", "events-2026-03-02-01.jsonl.zst")
	if !ok || !h.Equal(time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("hour=%v ok=%v", h, ok)
	}
	if _, ok := SegmentHour("events", "audit-2026-03-02-01.jsonl.zst"); ok {
		t.Fatalf("other prefix must not parse")
	}
}
