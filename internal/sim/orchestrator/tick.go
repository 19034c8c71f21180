package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"elderwood.ai/internal/protocol"
	"elderwood.ai/internal/sim/apply"
	"elderwood.ai/internal/sim/cadence"
	"elderwood.ai/internal/sim/decision"
	"elderwood.ai/internal/sim/narrator"
	"elderwood.ai/internal/sim/patch"
)

// TickLogEntry is the per-tick record written to the tick log and index.
type TickLogEntry struct {
	Tick       uint64 `json:"tick"`
	At         int64  `json:"at"`
	DurationMs int64  `json:"duration_ms"`
	Trigger    string `json:"trigger"`

	Cadence          cadence.Mode `json:"cadence_mode,omitempty"`
	CadenceReason    string       `json:"cadence_reason,omitempty"`
	DecisionStrategy string       `json:"decision_strategy"`
	DecisionError    string       `json:"decision_error,omitempty"`
	NarratorStrategy string       `json:"narrator_strategy,omitempty"`
	NarratorError    string       `json:"narrator_error,omitempty"`
	Elder            string       `json:"elder,omitempty"`

	ExpiredOffers []string       `json:"expired_offers,omitempty"`
	QuestStarted  string         `json:"quest_started,omitempty"`
	Players       int            `json:"players"`
	Stockpile     map[string]int `json:"stockpile"`

	Summary apply.Summary `json:"summary"`
}

const (
	TriggerTimer   = "TIMER"
	TriggerMessage = "MESSAGE"
)

// runTick runs one full cycle: housekeeping, decision call, normalize,
// apply, optional narration, logs and broadcast. pre carries the cadence
// decision when the tick was triggered by a chat message.
func (l *Loop) runTick(ctx context.Context, pre *cadence.Decision) TickLogEntry {
	start := l.now()
	tick := l.st.NextTick()
	l.tick.Store(tick)

	ctx, span := l.tracer.Start(ctx, "village.tick", trace.WithAttributes(
		attribute.Int64("village.tick", int64(tick)),
		attribute.Int("village.players", l.st.PlayerCount()),
	))
	defer span.End()

	entry := TickLogEntry{Tick: tick, At: start.UnixMilli(), Trigger: TriggerTimer}
	if pre != nil {
		entry.Trigger = TriggerMessage
	}

	// Housekeeping that does not depend on the decision service.
	stale := time.Duration(l.tune.StaleOfferSeconds) * time.Second
	for _, o := range l.st.ExpireStaleOffers(stale) {
		entry.ExpiredOffers = append(entry.ExpiredOffers, o.ID)
		l.st.RecordAction(fmt.Sprintf("an offer from %s went stale", l.st.NameOf(o.From)))
		l.audit(VillageActor, "OFFER_EXPIRE", o.ID, "stale", nil)
	}
	l.settle(&entry)

	var dec cadence.Decision
	if pre != nil {
		dec = *pre
	} else {
		dec = l.cad.Evaluate(l.st, nil, start)
	}
	entry.Cadence = dec.Mode
	entry.CadenceReason = dec.Reason

	p, strat, err := l.decide(ctx, dec)
	entry.DecisionStrategy = strat
	if err != nil {
		entry.DecisionError = err.Error()
		l.totals.DecisionErrors++
		l.printf("tick %d: decision: %v", tick, err)
	}

	sum := apply.Apply(l.st, p, l.logger)
	entry.Summary = sum
	l.totals.TradesOK += uint64(sum.TradesResolved)
	l.totals.TradesFailed += uint64(sum.TradesFailed)
	l.totals.Warnings += uint64(len(sum.Warnings))
	if sum.VoteClosed {
		if v := l.st.Vote(); v != nil {
			l.st.RecordAction(v.Decision)
		}
	}
	l.settle(&entry)

	l.narrate(ctx, dec, p.Cadence, &entry)

	entry.Players = l.st.PlayerCount()
	entry.Stockpile = l.st.Stockpile()
	entry.DurationMs = l.now().Sub(start).Milliseconds()

	if l.cfg.AuditLogger != nil {
		for _, a := range sum.Audit {
			_ = l.cfg.AuditLogger.WriteAudit(a)
		}
	}
	if l.cfg.TickLogger != nil {
		if err := l.cfg.TickLogger.WriteTick(entry); err != nil {
			l.printf("tick %d: tick log: %v", tick, err)
		}
	}

	span.SetAttributes(
		attribute.Int("village.trades_resolved", sum.TradesResolved),
		attribute.Int("village.warnings", len(sum.Warnings)),
		attribute.Int("village.stones", sum.StoneCount),
		attribute.Int("village.quest_percent", sum.QuestPercent),
	)

	l.broadcast(l.stateMsg())
	l.totals.Ticks++
	l.publishMetrics()
	return entry
}

// settle closes a due vote and rotates to the next quest.
func (l *Loop) settle(entry *TickLogEntry) {
	if reason, closed := l.st.EvaluateVote(); closed {
		l.voteClosed(reason)
	}
	if l.rotateQuest() {
		entry.QuestStarted = l.st.Quest().Name
	}
}

func (l *Loop) decide(ctx context.Context, dec cadence.Decision) (patch.Patch, string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.tune.DecisionTimeout())
	defer cancel()
	ctx, span := l.tracer.Start(ctx, "decision.call")
	defer span.End()

	req := decision.NewRequest(l.st, dec, decision.Limits{
		Soft:            l.tune.RateLimits.Soft,
		Hard:            l.tune.RateLimits.Hard,
		CooldownSeconds: l.tune.RateLimits.CooldownSeconds,
	})
	raw, strat, err := l.cfg.Decision.Decide(ctx, req)
	span.SetAttributes(attribute.String("decision.strategy", string(strat)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return patch.Skeleton(), string(strat), err
	}
	p := patch.Normalize(raw, patch.TickContext{Question: dec.Question, Journals: l.st.JournalTexts()})
	return p, string(strat), nil
}

// narrate asks the Elder to speak when the cadence or the patch calls for
// it. Nobody hears the Elder in an empty village, so that case is skipped.
func (l *Loop) narrate(ctx context.Context, dec cadence.Decision, pc patch.Cadence, entry *TickLogEntry) {
	now := l.now()
	speak := dec.Speak || pc.ShouldElderSpeak
	if dec.Mode == cadence.ModeNone && pc.Mode != "" {
		dec.Mode = cadence.Mode(pc.Mode)
		if dec.Reason == "" {
			dec.Reason = pc.Reason
		}
		if dec.Mode == cadence.ModeCallResponse && pc.Question != nil {
			dec.Question = *pc.Question
		}
	}
	if speak && dec.Mode != cadence.ModeCallResponse && now.Before(l.quietUntil) {
		speak = false
	}
	if pc.CooldownSeconds > 0 {
		l.quietUntil = now.Add(patch.CooldownDuration(pc.CooldownSeconds))
	}
	if !speak || len(l.clients) == 0 {
		return
	}

	in := l.builder.Build(l.st, dec, narrator.Summaries{
		Actions:  l.st.RecentActions(),
		Messages: l.st.RecentMessages(),
	})

	ctx, cancel := context.WithTimeout(ctx, l.tune.NarratorTimeout())
	defer cancel()
	ctx, span := l.tracer.Start(ctx, "narrator.call", trace.WithAttributes(
		attribute.String("narrator.mode", string(dec.Mode)),
	))
	defer span.End()

	sp, strat, err := l.cfg.Narrator.Speak(ctx, in)
	entry.NarratorStrategy = string(strat)
	if err != nil {
		entry.NarratorError = err.Error()
		l.totals.NarratorErrors++
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.printf("tick %d: narrator: %v", entry.Tick, err)
		return
	}

	l.cad.Spoke(l.now())
	text := sp.Text()
	l.lastElder = text
	entry.Elder = text
	l.st.RecordMessage("Elder: " + sp.Message)
	l.totals.ElderSpoke++
	l.broadcast(protocol.ElderMsg{
		Type:            protocol.TypeElder,
		ProtocolVersion: protocol.Version,
		Tick:            entry.Tick,
		Mode:            string(dec.Mode),
		Message:         sp.Message,
		Nudge:           sp.Nudge,
	})
}

func (l *Loop) stateMsg() protocol.StateMsg {
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            l.st.Tick(),
		Stockpile:       l.st.Stockpile(),
		Players:         []protocol.PlayerState{},
		Offers:          []protocol.OfferState{},
		Stones:          []protocol.StoneState{},
		LastElder:       l.lastElder,
	}
	for _, p := range l.st.Players() {
		ps := protocol.PlayerState{ID: p.ID, Name: p.Name, Inventory: map[string]int{}}
		for k, v := range p.Inventory {
			ps.Inventory[k] = v
		}
		if !p.CooldownUntil.IsZero() && p.CooldownUntil.After(l.now()) {
			ps.Cooldown = p.CooldownUntil.Unix()
		}
		msg.Players = append(msg.Players, ps)
	}
	if q := l.st.Quest(); q != nil {
		qs := &protocol.QuestState{Name: q.Name, Recipe: map[string]int{}, Percent: q.Percent, Status: string(q.Status)}
		for k, v := range q.Recipe {
			qs.Recipe[k] = v
		}
		msg.Quest = qs
	}
	if v := l.st.Vote(); v != nil {
		msg.Vote = &protocol.VoteState{
			ID:       v.ID,
			Topic:    v.Topic,
			Options:  append([]string{}, v.Options...),
			Counts:   v.Counts(),
			Status:   string(v.Status),
			ClosesAt: v.ClosesAt.Unix(),
			Winner:   v.Winner,
			Decision: v.Decision,
		}
	}
	for _, o := range l.st.OpenOffers() {
		msg.Offers = append(msg.Offers, protocol.OfferState{
			ID:   o.ID,
			From: o.From,
			Give: protocol.ItemQty{Resource: o.Give.Resource, Quantity: o.Give.Quantity},
			Want: protocol.ItemQty{Resource: o.Want.Resource, Quantity: o.Want.Quantity},
		})
	}
	for _, s := range l.st.Stones() {
		msg.Stones = append(msg.Stones, protocol.StoneState{
			ID:    s.ID,
			Title: s.Title,
			Text:  s.Text,
			Tags:  append([]string{}, s.Tags...),
		})
	}
	return msg
}
