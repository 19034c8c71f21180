// Package village holds the authoritative in-memory world state: players,
// the shared stockpile, the active quest and vote, the trading board, the
// memory-stone archive, journals and the recent-activity rings.
//
// A State is not safe for concurrent use. All mutation must happen on a
// single goroutine (see internal/sim/orchestrator).
package village

import (
	"math"
	"sort"
	"strings"
	"time"

	"elderwood.ai/internal/sim/logic/rates"
)

const (
	// MaxStones is the hard cap on the memory-stone archive.
	MaxStones = 12

	RecentActionsCap     = 10
	RecentActionsExposed = 5
	RecentMessagesCap    = 8
)

type Config struct {
	Resources      []string
	StarterItems   map[string]int
	VoteDuration   time.Duration
	QuorumFraction float64
	RateLimit      RateLimitConfig

	// Clock defaults to time.Now.
	Clock func() time.Time
}

type RateLimitConfig struct {
	Window   time.Duration
	Soft     int
	Hard     int
	Cooldown time.Duration
}

type State struct {
	cfg       Config
	resources []string
	known     map[string]bool

	players     map[string]*Player
	playerOrder []string

	stockpile map[string]int

	quest     *Quest
	lastQuest *Quest
	questHint QuestHint
	questsRun int

	vote *Vote

	offers map[string]*Offer

	// Oldest first.
	stones []*MemoryStone

	journals     map[string]*Journal
	journalOrder []string

	recentActions  *Ring
	recentMessages *Ring

	safetyFlags   []string
	elderNotes    *string
	elderLocation string
	priorPercent  int

	tick uint64

	nextOffer   uint64
	nextVote    uint64
	nextQuest   uint64
	nextJournal uint64
}

func New(cfg Config) *State {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.VoteDuration <= 0 {
		cfg.VoteDuration = 5 * time.Minute
	}
	if cfg.QuorumFraction <= 0 || cfg.QuorumFraction > 1 {
		cfg.QuorumFraction = 0.5
	}
	s := &State{
		cfg:            cfg,
		known:          map[string]bool{},
		players:        map[string]*Player{},
		stockpile:      map[string]int{},
		offers:         map[string]*Offer{},
		journals:       map[string]*Journal{},
		recentActions:  NewRing(RecentActionsCap),
		recentMessages: NewRing(RecentMessagesCap),
		safetyFlags:    []string{},
	}
	for _, r := range cfg.Resources {
		r = canonicalResource(r)
		if r == "" || s.known[r] {
			continue
		}
		s.known[r] = true
		s.resources = append(s.resources, r)
		s.stockpile[r] = 0
	}
	return s
}

func (s *State) Now() time.Time { return s.cfg.Clock() }

// Tick is the number of the current (or last) orchestration tick.
func (s *State) Tick() uint64 { return s.tick }

// NextTick advances and returns the tick counter.
func (s *State) NextTick() uint64 {
	s.tick++
	return s.tick
}

// Resources returns the fixed resource set in configured order.
func (s *State) Resources() []string { return append([]string(nil), s.resources...) }

// IsResource reports whether r (case-insensitive) is a known resource and
// returns its canonical name.
func (s *State) IsResource(r string) (string, bool) {
	r = canonicalResource(r)
	return r, s.known[r]
}

func canonicalResource(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}

// Stockpile returns a copy of the shared stockpile.
func (s *State) Stockpile() map[string]int {
	out := make(map[string]int, len(s.stockpile))
	for k, v := range s.stockpile {
		out[k] = v
	}
	return out
}

func (s *State) StockpileCount(resource string) int {
	return s.stockpile[canonicalResource(resource)]
}

// AdjustStockpile adds delta to the stockpile, clamping at zero.
func (s *State) AdjustStockpile(resource string, delta int) bool {
	r, ok := s.IsResource(resource)
	if !ok {
		return false
	}
	s.stockpile[r] = clampAdd(s.stockpile[r], delta)
	return true
}

func clampAdd(have, delta int) int {
	n := have + delta
	if n < 0 {
		return 0
	}
	return n
}

// Rings.

func (s *State) RecordAction(summary string) { s.recentActions.Push(summary) }

func (s *State) RecordMessage(summary string) { s.recentMessages.Push(summary) }

func (s *State) RecentActions() []string { return s.recentActions.Items() }

func (s *State) RecentMessages() []string { return s.recentMessages.Items() }

// TruncateRings trims both rings to their caps.
func (s *State) TruncateRings() {
	s.recentActions.Truncate(RecentActionsCap)
	s.recentMessages.Truncate(RecentMessagesCap)
}

// Safety and narrator-facing bookkeeping.

func (s *State) SetSafetyFlags(flags []string) {
	s.safetyFlags = append([]string{}, flags...)
}

func (s *State) SafetyFlags() []string { return append([]string{}, s.safetyFlags...) }

// SetElderNotes stores notes for the narrator; nil or blank clears them.
func (s *State) SetElderNotes(notes *string) {
	if notes == nil || strings.TrimSpace(*notes) == "" {
		s.elderNotes = nil
		return
	}
	n := strings.TrimSpace(*notes)
	s.elderNotes = &n
}

func (s *State) ElderNotes() *string {
	if s.elderNotes == nil {
		return nil
	}
	n := *s.elderNotes
	return &n
}

func (s *State) SetElderLocation(loc string) { s.elderLocation = strings.TrimSpace(loc) }

func (s *State) ElderLocation() string { return s.elderLocation }

func (s *State) PriorPercent() int { return s.priorPercent }

func (s *State) SetPriorPercent(p int) { s.priorPercent = p }

// NoteMessage counts one chat message from playerID against the rate window.
// A hard verdict puts the player on cooldown.
func (s *State) NoteMessage(playerID string) rates.Verdict {
	p := s.players[playerID]
	if p == nil {
		return rates.Allowed
	}
	now := s.Now()
	lim := s.cfg.RateLimit
	var v rates.Verdict
	p.msgWindow, v = rates.Allow(now, p.msgWindow, lim.Window, lim.Soft, lim.Hard)
	p.TotalMessages++
	p.LastSeen = now
	if v == rates.Hard && lim.Cooldown > 0 {
		p.CooldownUntil = now.Add(lim.Cooldown)
	}
	return v
}

// QuorumNeeded is ceil(players * fraction), at least one.
func (s *State) QuorumNeeded() int {
	n := int(math.Ceil(float64(len(s.players)) * s.cfg.QuorumFraction))
	if n < 1 {
		return 1
	}
	return n
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
