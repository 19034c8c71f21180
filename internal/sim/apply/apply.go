// Package apply folds a normalized patch into the village state. Phases run
// in a fixed order: trades, vote, resources, archive, safety. Every
// validation failure is a local skip with a warning; nothing aborts the
// pass.
package apply

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"elderwood.ai/internal/sim/patch"
	"elderwood.ai/internal/sim/village"
)

// Actor names the source of patch-driven audit lines.
const Actor = "DECISION"

type AuditEntry struct {
	Tick    uint64         `json:"tick"`
	Actor   string         `json:"actor"`
	Action  string         `json:"action"`
	Target  string         `json:"target,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type Summary struct {
	Tick uint64 `json:"tick"`

	TradesResolved int `json:"trades_resolved"`
	TradesFailed   int `json:"trades_failed"`

	VoteStatus  string `json:"vote_status"`
	VoteClosed  bool   `json:"vote_closed"`
	TallyVoters int    `json:"tally_voters"`

	QuestPercent int  `json:"quest_percent"`
	QuestDelta   int  `json:"quest_delta"`
	PercentHint  bool `json:"percent_hint"`

	StonesAdded   int `json:"stones_added"`
	StonesPruned  int `json:"stones_pruned"`
	StonesMerged  int `json:"stones_merged"`
	StonesEvicted int `json:"stones_evicted"`
	StoneCount    int `json:"stone_count"`

	CooldownsSet int `json:"cooldowns_set"`

	Warnings []string     `json:"warnings"`
	Audit    []AuditEntry `json:"audit"`
}

// Line is the compact one-line form logged once per tick.
func (s Summary) Line() string {
	return fmt.Sprintf("tick=%d trades=%d/%d vote=%s quest=%d%% stones=%d warnings=%d",
		s.Tick, s.TradesResolved, s.TradesFailed, s.VoteStatus, s.QuestPercent, s.StoneCount, len(s.Warnings))
}

type run struct {
	st     *village.State
	logger *log.Logger
	now    time.Time
	sum    Summary
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.sum.Warnings = append(r.sum.Warnings, msg)
	if r.logger != nil {
		r.logger.Printf("warn: %s", msg)
	}
}

func (r *run) audit(action, target, reason string, details map[string]any) {
	r.sum.Audit = append(r.sum.Audit, AuditEntry{
		Tick:    r.sum.Tick,
		Actor:   Actor,
		Action:  action,
		Target:  target,
		Reason:  reason,
		Details: details,
	})
}

// Apply mutates st according to p and reports what happened. logger may be
// nil. Apply is deterministic for a given state, patch and clock.
func Apply(st *village.State, p patch.Patch, logger *log.Logger) Summary {
	r := &run{
		st:     st,
		logger: logger,
		now:    st.Now(),
		sum: Summary{
			Tick:     st.Tick(),
			Warnings: []string{},
			Audit:    []AuditEntry{},
		},
	}
	r.trades(p.Trades)
	r.vote(p.Vote)
	r.resources(p.Resources)
	r.archive(p.Archive)
	r.safety(p.Safety)
	if loc := strings.TrimSpace(p.Elder.Location); loc != "" && loc != st.ElderLocation() {
		st.SetElderLocation(loc)
		r.audit("ELDER_MOVE", loc, "", nil)
	}

	// Bookkeeping for the next tick.
	prior := st.PriorPercent()
	if q := st.Quest(); q != nil {
		r.sum.QuestPercent = q.Percent
	}
	r.sum.QuestDelta = r.sum.QuestPercent - prior
	st.SetPriorPercent(r.sum.QuestPercent)
	st.TruncateRings()
	r.sum.StoneCount = st.StoneCount()

	if logger != nil {
		logger.Printf("%s", r.sum.Line())
	}
	return r.sum
}

func (r *run) trades(t patch.Trades) {
	for _, d := range t.Resolve {
		if d.Kind != patch.KindResolve {
			continue
		}
		if reason := r.validateTrade(d); reason != "" {
			r.sum.TradesFailed++
			r.warn("trade %s: %s", d.OfferID, reason)
			r.audit("TRADE_RESOLVE", d.OfferID, reason, nil)
			continue
		}
		o := r.st.Offer(d.OfferID)
		if !r.st.AcceptOffer(d.OfferID, d.To) {
			r.sum.TradesFailed++
			r.warn("trade %s: exchange rejected", d.OfferID)
			continue
		}
		r.sum.TradesResolved++
		r.st.RecordAction(fmt.Sprintf("%s traded %d %s to %s for %d %s",
			r.st.NameOf(o.From), o.Give.Quantity, o.Give.Resource,
			r.st.NameOf(d.To), o.Want.Quantity, o.Want.Resource))
		r.audit("TRADE_RESOLVE", o.ID, "", map[string]any{"from": o.From, "to": d.To})
	}
}

// validateTrade returns the first failing check, or "".
func (r *run) validateTrade(d patch.TradeDirective) string {
	o := r.st.Offer(d.OfferID)
	switch {
	case o == nil:
		return "offer not found"
	case o.Status != village.OfferOpen:
		return fmt.Sprintf("offer is %s", o.Status)
	case d.From != o.From:
		return fmt.Sprintf("from %q does not match offer origin %q", d.From, o.From)
	case d.From == d.To:
		return "cannot trade with self"
	case r.st.Player(d.From) == nil:
		return fmt.Sprintf("unknown player %q", d.From)
	case r.st.Player(d.To) == nil:
		return fmt.Sprintf("unknown player %q", d.To)
	case !r.st.Has(d.From, o.Give.Resource, o.Give.Quantity):
		return fmt.Sprintf("%s lacks %d %s", d.From, o.Give.Quantity, o.Give.Resource)
	case !r.st.Has(d.To, o.Want.Resource, o.Want.Quantity):
		return fmt.Sprintf("%s lacks %d %s", d.To, o.Want.Quantity, o.Want.Resource)
	}
	return ""
}

func (r *run) vote(pv patch.Vote) {
	v := r.st.Vote()
	defer func() {
		r.sum.VoteStatus = "NONE"
		if v := r.st.Vote(); v != nil {
			r.sum.VoteStatus = string(v.Status)
		}
	}()
	if v == nil {
		if pv.HasTally || pv.Status != "" {
			r.warn("vote: no active vote")
		}
		return
	}

	if pv.HasTally {
		switch {
		case v.Status != village.VoteOpen:
			r.warn("vote %s: tally ignored, vote is %s", v.ID, v.Status)
		case len(pv.Tally) == 0 && len(pv.TallyCounts) > 0:
			r.warn("vote %s: count-only tally ignored", v.ID)
		default:
			n := r.st.ReplaceTally(pv.Tally)
			r.sum.TallyVoters = n
			if dropped := len(pv.Tally) - n; dropped > 0 {
				r.warn("vote %s: %d tally entries named unknown options", v.ID, dropped)
			}
			if len(pv.TallyCounts) > 0 {
				r.warn("vote %s: count entries ignored", v.ID)
			}
			r.audit("VOTE_TALLY", v.ID, "", map[string]any{"voters": n})
		}
	}

	switch pv.Status {
	case string(village.VoteClosed):
		if v.Status != village.VoteOpen {
			return
		}
		reason := village.CloseTimer
		if pv.CloseReason != nil {
			reason = *pv.CloseReason
		}
		counts := r.st.CloseVote(reason, pv.Winner, pv.Decision)
		r.sum.VoteClosed = true
		r.audit("VOTE_CLOSE", v.ID, string(reason), map[string]any{"winner": v.Winner, "counts": counts})
	case string(village.VoteOpen):
		if v.Status != village.VoteOpen {
			r.warn("vote %s: cannot reopen a closed vote", v.ID)
			return
		}
		v.CanVote = true
	}
}

func (r *run) resources(pr patch.Resources) {
	q := r.st.Quest()
	local := r.st.RecomputeQuestProgress()

	if pr.HasPercent {
		proposed := clampPercent(pr.QuestPercent)
		if q == nil {
			r.warn("resources: quest percent %d with no active quest", proposed)
		} else {
			q.ProposedPercent = proposed
			q.HasProposal = true
			r.sum.PercentHint = true
			if proposed != local {
				r.warn("quest %s: proposed percent %d disagrees with local %d", q.ID, proposed, local)
			}
		}
	}

	if len(pr.Needs) == 0 && !pr.ThresholdCrossed && pr.CrossedAt == nil {
		return
	}
	hint := village.QuestHint{
		Needs:            []village.Need{},
		ThresholdCrossed: pr.ThresholdCrossed,
		CrossedAt:        pr.CrossedAt,
		UpdatedAt:        r.now,
	}
	for _, n := range pr.Needs {
		name, ok := r.st.IsResource(n.Resource)
		if !ok {
			r.warn("resources: unknown need %q", n.Resource)
			continue
		}
		hint.Needs = append(hint.Needs, village.Need{Resource: name, Quantity: n.Quantity})
	}
	if q != nil && q.Status == village.QuestActive {
		q.Hint = hint
		return
	}
	r.st.SetFloatingHint(hint)
}

func clampPercent(f float64) int {
	n := int(math.Floor(f))
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func (r *run) archive(a patch.Archive) {
	for _, ns := range a.Promote {
		var j *village.Journal
		if ns.JournalID != "" {
			j = r.st.Journal(ns.JournalID)
			if j != nil && j.Promoted {
				r.warn("archive: journal %s already promoted", ns.JournalID)
				continue
			}
		}
		st := r.st.InsertStone(&village.MemoryStone{
			Title:     ns.Title,
			Text:      ns.Text,
			Tags:      append([]string{}, ns.Tags...),
			JournalID: ns.JournalID,
		})
		if j != nil {
			r.st.MarkJournalPromoted(j.ID, st.ID)
		}
		r.sum.StonesAdded++
		r.audit("STONE_PROMOTE", st.ID, "", map[string]any{"journal_id": ns.JournalID})
	}

	for _, id := range a.PruneIDs {
		if _, ok := r.st.RemoveStone(id); !ok {
			r.warn("archive: prune %s: no such stone", id)
			continue
		}
		r.sum.StonesPruned++
		r.audit("STONE_PRUNE", id, "", nil)
	}

	for _, m := range a.Merge {
		first, second := r.st.Stone(m.First), r.st.Stone(m.Second)
		if first == nil || second == nil {
			r.warn("archive: merge %s+%s: stone missing", m.First, m.Second)
			continue
		}
		r.st.RemoveStone(first.ID)
		r.st.RemoveStone(second.ID)
		merged := r.st.InsertStone(mergeStones(first, second, m))
		r.sum.StonesMerged++
		r.audit("STONE_MERGE", merged.ID, "", map[string]any{"first": first.ID, "second": second.ID})
	}

	// The cap is enforced every tick.
	for _, ev := range r.st.EnforceStoneCap() {
		r.sum.StonesEvicted++
		r.audit("STONE_EVICT", ev.ID, "cap", nil)
	}
}

func mergeStones(a, b *village.MemoryStone, m patch.MergePair) *village.MemoryStone {
	title := m.Title
	if title == "" {
		title = a.Title + " & " + b.Title
	}
	text := m.Text
	if text == "" {
		text = strings.TrimSpace(a.Text + " " + b.Text)
	}
	var tags []string
	seen := map[string]bool{}
	for _, group := range [][]string{a.Tags, b.Tags, m.Tags, {"merged"}} {
		for _, t := range group {
			if t != "" && !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	return &village.MemoryStone{Title: title, Text: text, Tags: tags}
}

func (r *run) safety(s patch.Safety) {
	r.st.SetSafetyFlags(s.Flags)
	for _, rl := range s.RateLimits {
		until := r.now.Add(patch.CooldownDuration(rl.CooldownSeconds))
		if !r.st.SetCooldown(rl.PlayerID, until) {
			r.warn("safety: cooldown for unknown player %q", rl.PlayerID)
			continue
		}
		r.sum.CooldownsSet++
		r.audit("COOLDOWN_SET", rl.PlayerID, "", map[string]any{"seconds": rl.CooldownSeconds})
	}
	r.st.SetElderNotes(s.Notes)
}
