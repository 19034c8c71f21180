// Package patch defines the normalized, fully-defaulted description of the
// world mutations proposed by the decision service for one tick, and the
// normalizer that produces it from untrusted input.
package patch

import (
	"math"
	"time"

	"elderwood.ai/internal/sim/village"
)

const (
	ModeCallResponse = "CALL_RESPONSE"
	ModeEvent        = "EVENT"
	ModePulse        = "PULSE"

	KindResolve = "RESOLVE"

	// Placeholder text for promoted journals that cannot be found.
	MissingText = "…"

	// MaxCooldownSeconds bounds every cooldown a patch can request.
	MaxCooldownSeconds = 24 * 60 * 60
)

// clampCooldown maps secs into [0, MaxCooldownSeconds]; NaN and
// non-positive values become 0.
func clampCooldown(secs float64) float64 {
	switch {
	case math.IsNaN(secs) || secs <= 0:
		return 0
	case secs > MaxCooldownSeconds:
		return MaxCooldownSeconds
	}
	return secs
}

// CooldownDuration converts a cooldown in seconds with the same bound
// Normalize applies, so a hand-built patch cannot overflow either.
func CooldownDuration(secs float64) time.Duration {
	return time.Duration(clampCooldown(secs) * float64(time.Second))
}

// Patch always carries every section; a zero-valued section is a no-op.
type Patch struct {
	Cadence   Cadence   `json:"cadence"`
	Vote      Vote      `json:"vote"`
	Resources Resources `json:"resources"`
	Trades    Trades    `json:"trades"`
	Archive   Archive   `json:"archive"`
	Safety    Safety    `json:"safety"`
	Elder     Elder     `json:"elder"`
}

type Cadence struct {
	ShouldElderSpeak bool    `json:"should_elder_speak"`
	Mode             string  `json:"mode"`
	Reason           string  `json:"reason"`
	CooldownSeconds  float64 `json:"cooldown_seconds"`
	Question         *string `json:"question"`
}

type Vote struct {
	// Status is "", OPEN or CLOSED.
	Status string `json:"status"`

	// HasTally is set when the payload carried a tally in any shape.
	HasTally bool `json:"has_tally"`
	// Tally is voter -> option.
	Tally map[string]string `json:"tally"`
	// TallyCounts is option -> count, kept only for auditing.
	TallyCounts map[string]int `json:"tally_counts"`

	CloseReason *village.CloseReason `json:"close_reason"`
	Winner      string               `json:"winner"`
	Decision    string               `json:"decision"`
}

type Resources struct {
	HasPercent   bool    `json:"has_percent"`
	QuestPercent float64 `json:"quest_percent"`

	Needs            []village.Need `json:"needs"`
	ThresholdCrossed bool           `json:"threshold_crossed"`
	CrossedAt        *int64         `json:"crossed_at"`
}

type Trades struct {
	Resolve []TradeDirective `json:"resolve"`
}

type TradeDirective struct {
	Kind    string `json:"kind"`
	OfferID string `json:"offer_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type Archive struct {
	Promote  []NewStone  `json:"promote"`
	PruneIDs []string    `json:"prune_ids"`
	Merge    []MergePair `json:"merge"`
}

type NewStone struct {
	JournalID string   `json:"journal_id"`
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags"`
}

type MergePair struct {
	First  string   `json:"first"`
	Second string   `json:"second"`
	Title  string   `json:"title"`
	Text   string   `json:"text"`
	Tags   []string `json:"tags"`
}

type Safety struct {
	Flags      []string    `json:"flags"`
	RateLimits []RateLimit `json:"rate_limits"`
	Notes      *string     `json:"notes"`
}

type RateLimit struct {
	PlayerID        string  `json:"player_id"`
	CooldownSeconds float64 `json:"cooldown_seconds"`
}

type Elder struct {
	Location string `json:"location"`
	Mood     string `json:"mood"`
}

// TickContext is caller-supplied data the normalizer may consult.
type TickContext struct {
	// Question is the pending player question, used in CALL_RESPONSE mode.
	Question string
	// Journals maps journal id -> text for back-filling promotions.
	Journals map[string]string
}

// Skeleton returns the all-defaults patch. Every list and map is non-nil.
func Skeleton() Patch {
	return Patch{
		Vote: Vote{
			Tally:       map[string]string{},
			TallyCounts: map[string]int{},
		},
		Resources: Resources{Needs: []village.Need{}},
		Trades:    Trades{Resolve: []TradeDirective{}},
		Archive: Archive{
			Promote:  []NewStone{},
			PruneIDs: []string{},
			Merge:    []MergePair{},
		},
		Safety: Safety{
			Flags:      []string{},
			RateLimits: []RateLimit{},
		},
	}
}

// IsEmpty reports whether p requests no mutation at all.
func (p Patch) IsEmpty() bool {
	return !p.Cadence.ShouldElderSpeak &&
		p.Vote.Status == "" && !p.Vote.HasTally &&
		!p.Resources.HasPercent && len(p.Resources.Needs) == 0 && !p.Resources.ThresholdCrossed &&
		len(p.Trades.Resolve) == 0 &&
		len(p.Archive.Promote) == 0 && len(p.Archive.PruneIDs) == 0 && len(p.Archive.Merge) == 0 &&
		len(p.Safety.Flags) == 0 && len(p.Safety.RateLimits) == 0 && p.Safety.Notes == nil &&
		p.Elder.Location == ""
}
