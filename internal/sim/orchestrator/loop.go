// Package orchestrator owns the village state and drives it from a single
// goroutine: player actions, timer ticks and on-demand ticks all arrive on
// channels and are handled one at a time.
package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"elderwood.ai/internal/protocol"
	"elderwood.ai/internal/sim/apply"
	"elderwood.ai/internal/sim/cadence"
	"elderwood.ai/internal/sim/decision"
	"elderwood.ai/internal/sim/narrator"
	"elderwood.ai/internal/sim/tuning"
	"elderwood.ai/internal/sim/village"
)

const tracerName = "elderwood.ai/internal/sim/orchestrator"

const (
	MaxChatLen    = 280
	MaxJournalLen = 2000
)

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry apply.AuditEntry) error
}

type Config struct {
	Tuning tuning.Tuning

	Decision decision.Resolver
	Narrator narrator.Resolver

	Logger      *log.Logger
	TickLogger  TickLogger
	AuditLogger AuditLogger

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Clock defaults to time.Now.
	Clock func() time.Time
}

type JoinRequest struct {
	Name string
	// PlayerID resumes an existing player when it is known.
	PlayerID string
	Out      chan []byte
	// Resp must be buffered; the loop does not wait on it.
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type ActionEnvelope struct {
	PlayerID string
	Act      protocol.ActMsg
}

type LeaveRequest struct {
	PlayerID string
	Out      chan []byte
}

type client struct {
	Out chan []byte
}

type Loop struct {
	cfg    Config
	tune   tuning.Tuning
	now    func() time.Time
	logger *log.Logger
	tracer trace.Tracer

	st      *village.State
	cad     *cadence.Engine
	builder narrator.Builder

	clients map[string]*client

	// quietUntil suppresses non-CALL_RESPONSE speech.
	quietUntil  time.Time
	lastElder   string
	questCursor int

	join    chan JoinRequest
	inbox   chan ActionEnvelope
	leave   chan LeaveRequest
	tickNow chan chan TickLogEntry
	stop    chan struct{}

	tick    atomic.Uint64
	metrics atomic.Value
	totals  Metrics
}

func New(cfg Config) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	tune := cfg.Tuning
	tune.Normalize()

	l := &Loop{
		cfg:    cfg,
		tune:   tune,
		now:    cfg.Clock,
		logger: cfg.Logger,
		tracer: cfg.TracerProvider.Tracer(tracerName),

		clients: map[string]*client{},

		join:    make(chan JoinRequest, 64),
		inbox:   make(chan ActionEnvelope, 1024),
		leave:   make(chan LeaveRequest, 64),
		tickNow: make(chan chan TickLogEntry, 4),
		stop:    make(chan struct{}),
	}
	l.st = village.New(village.Config{
		Resources:      tune.Resources,
		StarterItems:   tune.StarterItems,
		VoteDuration:   time.Duration(tune.Votes.DurationSeconds) * time.Second,
		QuorumFraction: tune.Votes.QuorumFraction,
		RateLimit: village.RateLimitConfig{
			Window:   time.Duration(tune.RateLimits.WindowSeconds) * time.Second,
			Soft:     tune.RateLimits.Soft,
			Hard:     tune.RateLimits.Hard,
			Cooldown: time.Duration(tune.RateLimits.CooldownSeconds) * time.Second,
		},
		Clock: cfg.Clock,
	})
	l.cad = cadence.New(cadence.Config{
		PulseMessages: tune.Cadence.PulseMessages,
		PulseInterval: time.Duration(tune.Cadence.PulseSeconds) * time.Second,
		VoteWarning:   time.Duration(tune.Cadence.VoteWarningSeconds) * time.Second,
		History:       tune.Cadence.HistoryMessages,
	}, l.now())
	l.builder = narrator.Builder{Resources: tune.ElderStockpile}
	l.rotateQuest()
	l.publishMetrics()
	return l
}

func (l *Loop) Join() chan<- JoinRequest     { return l.join }
func (l *Loop) Inbox() chan<- ActionEnvelope { return l.inbox }
func (l *Loop) Leave() chan<- LeaveRequest   { return l.leave }

// TickNow requests an immediate tick; the entry is delivered on resp.
func (l *Loop) TickNow() chan<- chan TickLogEntry { return l.tickNow }

func (l *Loop) CurrentTick() uint64 { return l.tick.Load() }

func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tune.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case req := <-l.join:
			resp := l.handleJoin(req)
			if req.Resp != nil {
				req.Resp <- resp
			}
			l.publishMetrics()
		case req := <-l.leave:
			l.handleLeave(req)
			l.publishMetrics()
		case env := <-l.inbox:
			l.handleAct(ctx, env)
		case resp := <-l.tickNow:
			resp <- l.runTick(ctx, nil)
		case <-ticker.C:
			l.runTick(ctx, nil)
		}
	}
}

func (l *Loop) Stop() { close(l.stop) }

// NewPlayerID returns a UUIDv7, falling back to v4.
func NewPlayerID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (l *Loop) handleJoin(req JoinRequest) JoinResponse {
	id := req.PlayerID
	if id == "" || l.st.Player(id) == nil {
		id = NewPlayerID()
	}
	p := l.st.AddPlayer(id, req.Name)
	if req.Out != nil {
		l.clients[id] = &client{Out: req.Out}
	}
	l.st.RecordAction(p.Name + " arrived in the village")
	l.printf("join: %s (%s)", p.Name, p.ID)

	inv := make(map[string]int, len(p.Inventory))
	for k, v := range p.Inventory {
		inv[k] = v
	}
	return JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        p.ID,
		Name:            p.Name,
		Resources:       l.st.Resources(),
		Inventory:       inv,
		Tick:            l.st.Tick(),
	}}
}

func (l *Loop) handleLeave(req LeaveRequest) {
	c := l.clients[req.PlayerID]
	// A resumed session may already own the slot.
	if c == nil || (req.Out != nil && c.Out != req.Out) {
		return
	}
	delete(l.clients, req.PlayerID)
	l.printf("leave: %s", req.PlayerID)
}

func (l *Loop) send(playerID string, v any) {
	c := l.clients[playerID]
	if c == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.Out <- b:
	default:
	}
}

// broadcast drops messages for clients whose queue is full.
func (l *Loop) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	for _, c := range l.clients {
		select {
		case c.Out <- b:
		default:
		}
	}
}

func (l *Loop) printf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

// rotateQuest starts the next quest template once the current quest is
// missing or completed. A completed quest stays until the cadence engine
// has announced its last threshold.
func (l *Loop) rotateQuest() bool {
	if q := l.st.Quest(); q != nil {
		if q.Status == village.QuestActive {
			return false
		}
		if _, pending := q.NextThreshold(); pending {
			return false
		}
	}
	if len(l.tune.Quests) == 0 {
		return false
	}
	tpl := l.tune.Quests[l.questCursor%len(l.tune.Quests)]
	l.questCursor++
	q := l.st.StartQuest(tpl.Name, tpl.Recipe)
	l.st.RecordAction("a new quest began: " + q.Name)
	return true
}
