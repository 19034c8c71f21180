package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"elderwood.ai/internal/protocol"
	"elderwood.ai/internal/sim/apply"
	"elderwood.ai/internal/sim/cadence"
	"elderwood.ai/internal/sim/logic/rates"
	"elderwood.ai/internal/sim/village"
)

// Actors for audit lines not produced by the apply engine.
const (
	PlayerActor  = "PLAYER"
	VillageActor = "VILLAGE"
)

// actionError is returned by action handlers; Code is a protocol error code.
type actionError struct {
	Code    string
	Message string
}

func fail(code, format string, args ...any) *actionError {
	return &actionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// outcome is what a successful handler reports back to the player.
type outcome struct {
	Ref     string
	Message string
}

func (l *Loop) handleAct(ctx context.Context, env ActionEnvelope) {
	act := env.Act
	res := protocol.ActionResultMsg{
		Type:            protocol.TypeActionResult,
		ProtocolVersion: protocol.Version,
		ActID:           act.ActID,
		Action:          act.Action,
	}
	out, aerr := l.dispatch(ctx, env)
	if aerr != nil {
		res.Code = aerr.Code
		res.Message = aerr.Message
		l.totals.ActionsRejected++
	} else {
		res.OK = true
		res.Ref = out.Ref
		res.Message = out.Message
		l.totals.ActionsOK++
	}
	l.send(env.PlayerID, res)
	l.publishMetrics()
}

func (l *Loop) dispatch(ctx context.Context, env ActionEnvelope) (outcome, *actionError) {
	pid := env.PlayerID
	p := l.st.Player(pid)
	if p == nil {
		return outcome{}, fail(protocol.ErrNoPermission, "unknown player")
	}
	act := env.Act
	if !protocol.IsKnownAction(act.Action) {
		return outcome{}, fail(protocol.ErrBadRequest, "unknown action %q", act.Action)
	}
	now := l.now()
	if p.OnCooldown(now) {
		left := p.CooldownUntil.Sub(now).Round(time.Second)
		return outcome{}, fail(protocol.ErrCooldown, "cooling down for %s", left)
	}
	p.LastSeen = now

	switch act.Action {
	case protocol.ActSay:
		return l.actSay(ctx, p, act)
	case protocol.ActGather:
		return l.actGather(p, act, now)
	case protocol.ActGift:
		return l.actGift(p, act)
	case protocol.ActDonate:
		return l.actDonate(p, act)
	case protocol.ActOffer:
		return l.actOffer(p, act)
	case protocol.ActAccept:
		return l.actAccept(p, act)
	case protocol.ActCancel:
		return l.actCancel(p, act)
	case protocol.ActVote:
		return l.actVote(p, act)
	case protocol.ActVoteOpen:
		return l.actVoteOpen(p, act)
	case protocol.ActJournal:
		return l.actJournal(p, act)
	}
	return outcome{}, fail(protocol.ErrBadRequest, "unhandled action %q", act.Action)
}

func (l *Loop) actSay(ctx context.Context, p *village.Player, act protocol.ActMsg) (outcome, *actionError) {
	text := strings.TrimSpace(act.Text)
	if text == "" {
		return outcome{}, fail(protocol.ErrBadRequest, "empty message")
	}
	if len(text) > MaxChatLen {
		text = text[:MaxChatLen]
	}
	var out outcome
	switch l.st.NoteMessage(p.ID) {
	case rates.Hard:
		l.audit(PlayerActor, "RATE_LIMIT", p.ID, "hard limit", nil)
		return outcome{}, fail(protocol.ErrRateLimit, "too many messages; cooling down")
	case rates.Soft:
		out.Message = "slow down, the Elder is listening"
	}

	now := l.now()
	l.st.RecordMessage(p.Name + ": " + text)
	l.broadcast(protocol.ChatMsg{
		Type:            protocol.TypeChat,
		ProtocolVersion: protocol.Version,
		PlayerID:        p.ID,
		Name:            p.Name,
		Text:            text,
		At:              now.UnixMilli(),
	})
	msg := cadence.Message{PlayerID: p.ID, Name: p.Name, Text: text, At: now}
	l.cad.Observe(msg)
	l.totals.Messages++

	if d := l.cad.Evaluate(l.st, &msg, now); d.Speak {
		l.runTick(ctx, &d)
	}
	return out, nil
}

func (l *Loop) resource(name string) (string, *actionError) {
	r, ok := l.st.IsResource(name)
	if !ok {
		return "", fail(protocol.ErrBadRequest, "unknown resource %q", name)
	}
	return r, nil
}

func quantity(q int) int {
	if q <= 0 {
		return 1
	}
	return q
}

func (l *Loop) actGather(p *village.Player, act protocol.ActMsg, now time.Time) (outcome, *actionError) {
	r, aerr := l.resource(act.Resource)
	if aerr != nil {
		return outcome{}, aerr
	}
	cd := time.Duration(l.tune.GatherCooldownSeconds) * time.Second
	if cd > 0 && !p.LastGatherAt.IsZero() && now.Sub(p.LastGatherAt) < cd {
		return outcome{}, fail(protocol.ErrCooldown, "still gathering")
	}
	l.st.Gather(p.ID, r, 1)
	l.st.RecordAction(fmt.Sprintf("%s gathered 1 %s", p.Name, r))
	return outcome{}, nil
}

func (l *Loop) actGift(p *village.Player, act protocol.ActMsg) (outcome, *actionError) {
	r, aerr := l.resource(act.Resource)
	if aerr != nil {
		return outcome{}, aerr
	}
	qty := quantity(act.Quantity)
	switch {
	case act.To == p.ID:
		return outcome{}, fail(protocol.ErrInvalidTarget, "cannot gift to yourself")
	case l.st.Player(act.To) == nil:
		return outcome{}, fail(protocol.ErrInvalidTarget, "unknown player %q", act.To)
	case !l.st.Has(p.ID, r, qty):
		return outcome{}, fail(protocol.ErrNoResource, "need %d %s", qty, r)
	}
	l.st.Gift(p.ID, act.To, r, qty)
	l.st.RecordAction(fmt.Sprintf("%s gave %d %s to %s", p.Name, qty, r, l.st.NameOf(act.To)))
	return outcome{}, nil
}

func (l *Loop) actDonate(p *village.Player, act protocol.ActMsg) (outcome, *actionError) {
	r, aerr := l.resource(act.Resource)
	if aerr != nil {
		return outcome{}, aerr
	}
	qty := quantity(act.Quantity)
	if !l.st.Has(p.ID, r, qty) {
		return outcome{}, fail(protocol.ErrNoResource, "need %d %s", qty, r)
	}
	l.st.Donate(p.ID, r, qty)
	l.st.RecordAction(fmt.Sprintf("%s donated %d %s", p.Name, qty, r))
	if q := l.st.Quest(); q != nil && q.Status == village.QuestCompleted {
		l.st.RecordAction("the village completed " + q.Name)
	}
	return outcome{}, nil
}

func (l *Loop) actOffer(p *village.Player, act protocol.ActMsg) (outcome, *actionError) {
	if act.Give == nil || act.Want == nil {
		return outcome{}, fail(protocol.ErrBadRequest, "offer needs give and want")
	}
	give := village.ItemQty{Resource: act.Give.Resource, Quantity: act.Give.Quantity}
	want := village.ItemQty{Resource: act.Want.Resource, Quantity: act.Want.Quantity}
	if _, aerr := l.resource(give.Resource); aerr != nil {
		return outcome{}, aerr
	}
	if _, aerr := l.resource(want.Resource); aerr != nil {
		return outcome{}, aerr
	}
	if give.Quantity <= 0 || want.Quantity <= 0 {
		return outcome{}, fail(protocol.ErrBadRequest, "quantities must be positive")
	}
	o, ok := l.st.CreateOffer(p.ID, give, want)
	if !ok {
		return outcome{}, fail(protocol.ErrNoResource, "need %d %s", give.Quantity, give.Resource)
	}
	l.st.RecordAction(fmt.Sprintf("%s offered %d %s for %d %s",
		p.Name, o.Give.Quantity, o.Give.Resource, o.Want.Quantity, o.Want.Resource))
	return outcome{Ref: o.ID}, nil
}

func (l *Loop) actAccept(p *village.Player, act protocol.ActMsg) (outcome, *actionError) {
	o := l.st.Offer(act.OfferID)
	switch {
	case o == nil:
		return outcome{}, fail(protocol.ErrInvalidTarget, "offer not found")
	case o.Status != village.OfferOpen:
		return outcome{}, fail(protocol.ErrConflict, "offer is %s", o.Status)
	case o.From == p.ID:
		return outcome{}, fail(protocol.ErrInvalidTarget, "cannot accept your own offer")
	case !l.st.Has(p.ID, o.Want.Resource, o.Want.Quantity):
		return outcome{}, fail(protocol.ErrNoResource, "need %d %s", o.Want.Quantity, o.Want.Resource)
	}
	if !l.st.AcceptOffer(o.ID, p.ID) {
		return outcome{}, fail(protocol.ErrConflict, "%s can no longer cover the offer", l.st.NameOf(o.From))
	}
	l.st.RecordAction(fmt.Sprintf("%s traded %d %s to %s for %d %s",
		l.st.NameOf(o.From), o.Give.Quantity, o.Give.Resource, p.Name, o.Want.Quantity, o.Want.Resource))
	l.totals.TradesOK++
	return outcome{Ref: o.ID}, nil
}

func (l *Loop) actCancel(p *village.Player, act protocol.ActMsg) (outcome, *actionError) {
	o := l.st.Offer(act.OfferID)
	switch {
	case o == nil:
		return outcome{}, fail(protocol.ErrInvalidTarget, "offer not found")
	case o.From != p.ID:
		return outcome{}, fail(protocol.ErrNoPermission, "only the offerer can cancel")
	case !l.st.CancelOffer(o.ID, p.ID):
		return outcome{}, fail(protocol.ErrConflict, "offer is %s", o.Status)
	}
	l.st.RecordAction(fmt.Sprintf("%s withdrew an offer", p.Name))
	return outcome{Ref: o.ID}, nil
}

func (l *Loop) actVote(p *village.Player, act protocol.ActMsg) (outcome, *actionError) {
	v := l.st.Vote()
	switch {
	case v == nil || v.Status != village.VoteOpen:
		return outcome{}, fail(protocol.ErrConflict, "no open vote")
	case !v.CanVote:
		return outcome{}, fail(protocol.ErrNoPermission, "voting is paused")
	}
	if _, ok := v.Option(act.Option); !ok {
		return outcome{}, fail(protocol.ErrBadRequest, "unknown option %q", act.Option)
	}
	if !l.st.CastVote(p.ID, act.Option) {
		return outcome{}, fail(protocol.ErrConflict, "already voted")
	}
	l.st.RecordAction(fmt.Sprintf("%s voted on %s", p.Name, v.Topic))
	if reason, closed := l.st.EvaluateVote(); closed {
		l.voteClosed(reason)
	}
	return outcome{Ref: v.ID}, nil
}

func (l *Loop) actVoteOpen(p *village.Player, act protocol.ActMsg) (outcome, *actionError) {
	if v := l.st.Vote(); v != nil && v.Status == village.VoteOpen {
		return outcome{}, fail(protocol.ErrConflict, "a vote is already open")
	}
	v, ok := l.st.OpenVote(act.Topic, act.Options)
	if !ok {
		return outcome{}, fail(protocol.ErrBadRequest, "vote needs a topic and two options")
	}
	l.st.RecordAction(fmt.Sprintf("%s called a vote: %s", p.Name, v.Topic))
	l.audit(PlayerActor, "VOTE_OPEN", v.ID, v.Topic, map[string]any{"options": v.Options, "by": p.ID})
	return outcome{Ref: v.ID}, nil
}

func (l *Loop) actJournal(p *village.Player, act protocol.ActMsg) (outcome, *actionError) {
	text := strings.TrimSpace(act.Text)
	if len(text) > MaxJournalLen {
		text = text[:MaxJournalLen]
	}
	j, ok := l.st.SubmitJournal(p.ID, text)
	if !ok {
		return outcome{}, fail(protocol.ErrBadRequest, "empty journal")
	}
	l.st.RecordAction(fmt.Sprintf("%s wrote in the journal", p.Name))
	return outcome{Ref: j.ID}, nil
}

func (l *Loop) voteClosed(reason village.CloseReason) {
	v := l.st.Vote()
	if v == nil {
		return
	}
	l.st.RecordAction(v.Decision)
	l.audit(VillageActor, "VOTE_CLOSE", v.ID, string(reason), map[string]any{"winner": v.Winner, "counts": v.Counts()})
	l.printf("vote %s closed by %s: winner=%q", v.ID, reason, v.Winner)
}

func (l *Loop) audit(actor, action, target, reason string, details map[string]any) {
	if l.cfg.AuditLogger == nil {
		return
	}
	_ = l.cfg.AuditLogger.WriteAudit(apply.AuditEntry{
		Tick:    l.st.Tick(),
		Actor:   actor,
		Action:  action,
		Target:  target,
		Reason:  reason,
		Details: details,
	})
}
