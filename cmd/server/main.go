package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	vlog "elderwood.ai/internal/persistence/log"
	"elderwood.ai/internal/platform/otel"
	"elderwood.ai/internal/sim/decision"
	"elderwood.ai/internal/sim/narrator"
	"elderwood.ai/internal/sim/orchestrator"
	"elderwood.ai/internal/sim/remote"
	"elderwood.ai/internal/sim/tuning"
	"elderwood.ai/internal/transport/ws"
)

var version = "dev"

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (missing file => defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory (tick/audit logs, index)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite tick/audit index")
		passcode   = flag.String("passcode", "", "shared player passcode (overrides tuning)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(strings.TrimSpace(*tuningPath))
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if p := strings.TrimSpace(*passcode); p != "" {
		tune.Passcode = p
	}

	ctx, cancel := signalContext()
	defer cancel()

	shutdownTracing, err := otel.Setup(ctx, "elderwood-server", version)
	if err != nil {
		logger.Fatalf("otel: %v", err)
	}
	defer func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = shutdownTracing(ctx2)
	}()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	tickLog := vlog.NewTickLogger(*dataDir)
	defer tickLog.Close()
	auditLog := vlog.NewAuditLogger(*dataDir)
	defer auditLog.Close()

	// Optional read-model index; the JSONL logs stay authoritative.
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	var tickSink orchestrator.TickLogger = tickLog
	var auditSink orchestrator.AuditLogger = auditLog
	if idx != nil {
		defer idx.Close()
		tickSink = multiTickLogger{a: tickLog, b: idx}
		auditSink = multiAuditLogger{a: auditLog, b: idx}
		logger.Printf("index: %s", filepath.Join(*dataDir, "index", "village.sqlite"))
	}

	dec := decision.Resolver{}
	if c := remote.New(tune.DecisionURL, tune.ServiceToken, tune.DecisionTimeout()); c.Configured() {
		dec.Live = decision.Live{Client: c}
	}
	nar := narrator.Resolver{}
	if c := remote.New(tune.NarratorURL, tune.ServiceToken, tune.NarratorTimeout()); c.Configured() {
		nar.Live = narrator.Live{Client: c}
	}
	logger.Printf("decision=%s narrator=%s tick=%s", dec.Strategy(), nar.Strategy(), tune.TickInterval())

	loop := orchestrator.New(orchestrator.Config{
		Tuning:      tune,
		Decision:    dec,
		Narrator:    nar,
		Logger:      log.New(os.Stdout, "[village] ", log.LstdFlags|log.Lmicroseconds),
		TickLogger:  tickSink,
		AuditLogger: auditSink,
	})
	go func() {
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("village stopped: %v", err)
		}
	}()

	wsLogger := log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds)
	mux := newMux(httpDeps{
		village:   loop,
		index:     idx,
		wsHandler: ws.NewServer(loop, tune.Passcode, wsLogger).Handler(),
		passcode:  tune.Passcode,
		logger:    logger,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
