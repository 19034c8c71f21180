// Package decision is the boundary to the external decision service that
// proposes a patch each tick. Responses are returned raw; only
// internal/sim/patch inspects them.
package decision

import (
	"context"
	"fmt"

	"elderwood.ai/internal/sim/cadence"
	"elderwood.ai/internal/sim/remote"
	"elderwood.ai/internal/sim/village"
)

type CadenceView struct {
	Speak    bool         `json:"speak"`
	Mode     cadence.Mode `json:"mode"`
	Reason   string       `json:"reason"`
	Question string       `json:"question,omitempty"`
}

type Limits struct {
	Soft int `json:"soft"`
	Hard int `json:"hard"`
	// CooldownSeconds is applied to players over the hard limit.
	CooldownSeconds int `json:"cooldown_seconds"`
}

type Request struct {
	Tick     uint64           `json:"tick"`
	Snapshot village.Snapshot `json:"snapshot"`
	Cadence  CadenceView      `json:"cadence"`
	Limits   Limits           `json:"limits"`
}

func NewRequest(st *village.State, d cadence.Decision, lim Limits) Request {
	return Request{
		Tick:     st.Tick(),
		Snapshot: st.Snapshot(),
		Cadence: CadenceView{
			Speak:    d.Speak,
			Mode:     d.Mode,
			Reason:   d.Reason,
			Question: d.Question,
		},
		Limits: lim,
	}
}

// Decider returns an untyped response: a string that may embed JSON, or a
// structured value.
type Decider interface {
	Decide(ctx context.Context, req Request) (any, error)
}

// Resolver picks Live when configured, Deterministic otherwise.
type Resolver struct {
	Live Decider
}

func (r Resolver) Strategy() remote.Strategy { return remote.Choose(r.Live != nil) }

func (r Resolver) Decide(ctx context.Context, req Request) (any, remote.Strategy, error) {
	s := r.Strategy()
	if s == remote.Deterministic {
		return Propose(req), s, nil
	}
	raw, err := r.Live.Decide(ctx, req)
	return raw, s, err
}

// Live posts the request to the decision service and returns the body as
// text, prose and all.
type Live struct {
	Client *remote.Client
}

func (l Live) Decide(ctx context.Context, req Request) (any, error) {
	b, err := l.Client.PostJSON(ctx, req)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Propose is the deterministic decision service. It promotes the oldest
// pending journal, flags chatty players, cools down players over the hard
// limit that are not already cooling down, and echoes the cadence
// decision.
func Propose(req Request) map[string]any {
	snap := req.Snapshot
	out := map[string]any{}

	cad := map[string]any{"should_elder_speak": req.Cadence.Speak, "reason": req.Cadence.Reason}
	if req.Cadence.Speak && req.Cadence.Mode != cadence.ModeNone {
		cad["mode"] = string(req.Cadence.Mode)
	}
	out["cadence"] = cad

	if q := snap.Quest; q != nil {
		needs := map[string]int{}
		for _, n := range q.Needs {
			needs[n.Resource] = n.Quantity
		}
		out["resources"] = map[string]any{"quest_percent": q.Percent, "needs": needs}
	}

	if v := snap.Vote; v != nil && v.Status == village.VoteOpen {
		out["vote"] = map[string]any{"status": "OPEN"}
	}

	if len(snap.Journals) > 0 {
		j := snap.Journals[0]
		out["archive"] = map[string]any{"promote_ids": []string{j.ID}}
	}

	var flags []string
	var limits []map[string]any
	for _, p := range snap.Players {
		if req.Limits.Soft > 0 && p.Recent > req.Limits.Soft {
			flags = append(flags, fmt.Sprintf("%s is flooding the chat", p.Name))
		}
		if req.Limits.Hard > 0 && p.Recent > req.Limits.Hard && p.Cooldown <= snap.Now && req.Limits.CooldownSeconds > 0 {
			limits = append(limits, map[string]any{"player_id": p.ID, "cooldown_seconds": req.Limits.CooldownSeconds})
		}
	}
	if len(flags) > 0 || len(limits) > 0 {
		out["safety"] = map[string]any{"flags": flags, "rate_limits": limits}
	}
	return out
}
