package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"elderwood.ai/internal/sim/orchestrator"
)

// PasscodeHeader authorizes POST /v1/tick.
const PasscodeHeader = "X-Elderwood-Passcode"

type village interface {
	Metrics() orchestrator.Metrics
	TickNow() chan<- chan orchestrator.TickLogEntry
}

type httpDeps struct {
	village   village
	index     runtimeIndex
	wsHandler http.Handler
	passcode  string
	logger    *log.Logger
}

func newMux(d httpDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeVillageMetrics(rw, d.village.Metrics())
		if d.index != nil {
			writeIndexMetrics(rw, d.index)
		}
	})
	mux.HandleFunc("/v1/tick", tickHandler(d))
	if d.wsHandler != nil {
		mux.Handle("/v1/ws", d.wsHandler)
	}
	return mux
}

func tickHandler(d httpDeps) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Allow", http.MethodPost)
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if d.passcode != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(PasscodeHeader)), []byte(d.passcode)) != 1 {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		resp := make(chan orchestrator.TickLogEntry, 1)
		select {
		case d.village.TickNow() <- resp:
		case <-ctx.Done():
			http.Error(rw, "village busy", http.StatusServiceUnavailable)
			return
		}
		select {
		case entry := <-resp:
			if d.logger != nil {
				d.logger.Printf("manual tick %d from %s", entry.Tick, r.RemoteAddr)
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(entry)
		case <-ctx.Done():
			http.Error(rw, "tick timed out", http.StatusGatewayTimeout)
		}
	}
}

func writeVillageMetrics(rw http.ResponseWriter, m orchestrator.Metrics) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s %v\n", name, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s counter\n", name)
		fmt.Fprintf(rw, "%s %d\n", name, v)
	}
	open := 0
	if m.OpenVote {
		open = 1
	}

	gauge("elderwood_village_tick", "Current village tick.", m.Tick)
	gauge("elderwood_village_players", "Registered players.", m.Players)
	gauge("elderwood_village_clients", "Connected clients.", m.Connected)
	gauge("elderwood_village_stones", "Memory stones on the ring.", m.Stones)
	gauge("elderwood_village_open_offers", "Open offers on the trading board.", m.OpenOffers)
	gauge("elderwood_village_pending_journals", "Journals awaiting promotion.", m.Journals)
	gauge("elderwood_village_vote_open", "1 while a vote is open.", open)
	gauge("elderwood_village_quest_percent", "Active quest progress.", m.QuestPct)

	counter("elderwood_ticks_total", "Ticks run.", m.Ticks)
	counter("elderwood_messages_total", "Chat messages accepted.", m.Messages)
	fmt.Fprintf(rw, "# HELP elderwood_actions_total Player actions by outcome.\n")
	fmt.Fprintf(rw, "# TYPE elderwood_actions_total counter\n")
	fmt.Fprintf(rw, "elderwood_actions_total{result=%q} %d\n", "ok", m.ActionsOK)
	fmt.Fprintf(rw, "elderwood_actions_total{result=%q} %d\n", "rejected", m.ActionsRejected)
	fmt.Fprintf(rw, "# HELP elderwood_trades_total Trades by outcome.\n")
	fmt.Fprintf(rw, "# TYPE elderwood_trades_total counter\n")
	fmt.Fprintf(rw, "elderwood_trades_total{result=%q} %d\n", "ok", m.TradesOK)
	fmt.Fprintf(rw, "elderwood_trades_total{result=%q} %d\n", "failed", m.TradesFailed)
	counter("elderwood_patch_warnings_total", "Patch items skipped with a warning.", m.Warnings)
	counter("elderwood_elder_speech_total", "Times the Elder spoke.", m.ElderSpoke)
	fmt.Fprintf(rw, "# HELP elderwood_remote_errors_total External call failures.\n")
	fmt.Fprintf(rw, "# TYPE elderwood_remote_errors_total counter\n")
	fmt.Fprintf(rw, "elderwood_remote_errors_total{service=%q} %d\n", "decision", m.DecisionErrors)
	fmt.Fprintf(rw, "elderwood_remote_errors_total{service=%q} %d\n", "narrator", m.NarratorErrors)
}

func writeIndexMetrics(rw http.ResponseWriter, idx runtimeIndex) {
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP elderwood_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(rw, "# TYPE elderwood_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "elderwood_index_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(rw, "# HELP elderwood_index_dropped_total Entries dropped on a full index queue.\n")
	fmt.Fprintf(rw, "# TYPE elderwood_index_dropped_total counter\n")
	fmt.Fprintf(rw, "elderwood_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "elderwood_index_dropped_total{kind=%q} %d\n", "audit", s.DropAuditTotal)
}
