package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"elderwood.ai/internal/sim/apply"
	"elderwood.ai/internal/sim/orchestrator"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: orchestrator.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(orchestrator.TickLogEntry{Tick: 2})
	_ = s.WriteAudit(apply.AuditEntry{Tick: 2})

	st := s.Stats()
	if st.DropTickTotal != 1 {
		t.Fatalf("DropTickTotal=%d want=1", st.DropTickTotal)
	}
	if st.DropAuditTotal != 1 {
		t.Fatalf("DropAuditTotal=%d want=1", st.DropAuditTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_TicksAndAudits(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "village.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for tick := uint64(1); tick <= 3; tick++ {
		e := orchestrator.TickLogEntry{
			Tick:             tick,
			Trigger:          orchestrator.TriggerTimer,
			DecisionStrategy: "DETERMINISTIC",
			Summary:          apply.Summary{Tick: tick, StoneCount: int(tick), QuestPercent: 25},
		}
		if tick == 3 {
			e.Elder = "The Elder nods. Next: gather cedar."
		}
		_ = s.WriteTick(e)
	}
	_ = s.WriteAudit(apply.AuditEntry{Tick: 3, Actor: apply.Actor, Action: "STONE_PROMOTE", Target: "ST1"})
	_ = s.WriteAudit(apply.AuditEntry{Tick: 3, Actor: apply.Actor, Action: "STONE_EVICT", Target: "ST0", Reason: "cap"})

	ctx := context.Background()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	rows, err := s.RecentTicks(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 || rows[0].Tick != 3 || rows[1].Tick != 2 {
		t.Fatalf("rows=%+v", rows)
	}
	if rows[0].Elder == "" || rows[0].Stones != 3 || rows[1].Elder != "" {
		t.Fatalf("row contents=%+v", rows)
	}

	actions, err := s.AuditActions(ctx, 3)
	if err != nil {
		t.Fatalf("audits: %v", err)
	}
	if len(actions) != 2 || actions[0] != "STONE_PROMOTE" || actions[1] != "STONE_EVICT" {
		t.Fatalf("actions=%v", actions)
	}
}

func TestSQLiteIndex_NilAndClosedAreNoops(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteTick(orchestrator.TickLogEntry{Tick: 1}); err != nil {
		t.Fatalf("nil write: %v", err)
	}
	if st := s.Stats(); st.QueueCapacity != 0 {
		t.Fatalf("nil stats=%+v", st)
	}

	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "v.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := idx.WriteAudit(apply.AuditEntry{Tick: 1}); err != nil {
		t.Fatalf("closed write: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error")
	}
}
