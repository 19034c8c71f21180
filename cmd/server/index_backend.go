package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"elderwood.ai/internal/persistence/indexdb"
	"elderwood.ai/internal/sim/apply"
	"elderwood.ai/internal/sim/orchestrator"
)

type runtimeIndex interface {
	orchestrator.TickLogger
	orchestrator.AuditLogger
	Stats() indexdb.Stats
	Close() error
}

// openRuntimeIndex opens the optional read-model index selected by
// ELDERWOOD_INDEX_BACKEND (sqlite by default). A nil index means disabled.
func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ELDERWOOD_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "village.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported ELDERWOOD_INDEX_BACKEND: %s", backend)
	}
}

type multiTickLogger struct {
	a orchestrator.TickLogger
	b orchestrator.TickLogger
}

func (m multiTickLogger) WriteTick(entry orchestrator.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a orchestrator.AuditLogger
	b orchestrator.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry apply.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
