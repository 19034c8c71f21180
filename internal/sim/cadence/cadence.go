// Package cadence decides when the Elder should speak. Triggers are
// checked in order CALL_RESPONSE, EVENT, PULSE; the lowest priority number
// wins and ties go to the earlier check.
package cadence

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"elderwood.ai/internal/sim/village"
)

type Mode string

const (
	ModeNone         Mode = ""
	ModeCallResponse Mode = "CALL_RESPONSE"
	ModeEvent        Mode = "EVENT"
	ModePulse        Mode = "PULSE"
)

// Priority of each trigger; lower wins.
func (m Mode) Priority() int {
	switch m {
	case ModeCallResponse, ModeEvent:
		return 1
	case ModePulse:
		return 2
	}
	return 0
}

type Config struct {
	PulseMessages int
	PulseInterval time.Duration
	VoteWarning   time.Duration
	History       int
}

func (c *Config) defaults() {
	if c.PulseMessages <= 0 {
		c.PulseMessages = 5
	}
	if c.PulseInterval <= 0 {
		c.PulseInterval = 30 * time.Second
	}
	if c.VoteWarning <= 0 {
		c.VoteWarning = 60 * time.Second
	}
	if c.History <= 0 {
		c.History = 20
	}
}

type Message struct {
	PlayerID string
	Name     string
	Text     string
	At       time.Time
}

type Decision struct {
	Speak    bool
	Mode     Mode
	Reason   string
	Priority int
	// Question is the triggering text in CALL_RESPONSE mode.
	Question string
	// Threshold is the quest threshold announced by an EVENT, or 0.
	Threshold int
	// VoteDeadline marks an EVENT fired by an approaching vote deadline.
	VoteDeadline bool
}

// Engine keeps the bounded message history and pulse counters. Like
// village.State it must be driven from a single goroutine.
type Engine struct {
	cfg Config

	history    []Message
	sinceSpoke int
	lastSpoke  time.Time
}

func New(cfg Config, now time.Time) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg, lastSpoke: now}
}

// Observe records an inbound chat message.
func (e *Engine) Observe(m Message) {
	e.history = append(e.history, m)
	if over := len(e.history) - e.cfg.History; over > 0 {
		e.history = append([]Message(nil), e.history[over:]...)
	}
	e.sinceSpoke++
}

// History returns observed messages, oldest first.
func (e *Engine) History() []Message { return append([]Message(nil), e.history...) }

// SinceSpoke counts messages observed since the Elder last spoke.
func (e *Engine) SinceSpoke() int { return e.sinceSpoke }

func (e *Engine) LastSpoke() time.Time { return e.lastSpoke }

// Spoke resets the pulse counters after a narrator call, whatever the
// trigger was.
func (e *Engine) Spoke(now time.Time) {
	e.sinceSpoke = 0
	e.lastSpoke = now
}

// Evaluate picks the trigger for this moment. m is the message being
// handled, or nil on a timer tick. One-shot EVENT flags on st are consumed
// only when EVENT is the chosen trigger.
func (e *Engine) Evaluate(st *village.State, m *Message, now time.Time) Decision {
	var candidates []Decision

	if m != nil && IsCallResponse(m.Text) {
		candidates = append(candidates, Decision{
			Mode:     ModeCallResponse,
			Reason:   fmt.Sprintf("%s asked the Elder", displayName(m)),
			Question: strings.TrimSpace(m.Text),
		})
	}
	if d, ok := e.event(st, now); ok {
		candidates = append(candidates, d)
	}
	if d, ok := e.pulse(now); ok {
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return Decision{}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Mode.Priority() < best.Mode.Priority() {
			best = c
		}
	}
	best.Speak = true
	best.Priority = best.Mode.Priority()

	if best.Mode == ModeEvent {
		commitEvent(st, best)
	}
	return best
}

func (e *Engine) event(st *village.State, now time.Time) (Decision, bool) {
	if st == nil {
		return Decision{}, false
	}
	if v := st.Vote(); v != nil && v.Status == village.VoteOpen && !v.DeadlineWarned && !v.ClosesAt.IsZero() {
		if left := v.ClosesAt.Sub(now); left > 0 && left <= e.cfg.VoteWarning {
			return Decision{
				Mode:         ModeEvent,
				Reason:       fmt.Sprintf("vote %q closes in %ds", v.Topic, int(left.Seconds())),
				VoteDeadline: true,
			}, true
		}
	}
	if q := st.Quest(); q != nil {
		if t, ok := q.NextThreshold(); ok {
			return Decision{
				Mode:      ModeEvent,
				Reason:    fmt.Sprintf("quest %q reached %d%%", q.Name, t),
				Threshold: t,
			}, true
		}
	}
	return Decision{}, false
}

func commitEvent(st *village.State, d Decision) {
	if d.VoteDeadline {
		if v := st.Vote(); v != nil {
			v.DeadlineWarned = true
		}
	}
	if d.Threshold > 0 {
		if q := st.Quest(); q != nil {
			q.MarkFired(d.Threshold)
		}
	}
}

func (e *Engine) pulse(now time.Time) (Decision, bool) {
	switch {
	case e.sinceSpoke >= e.cfg.PulseMessages:
		return Decision{Mode: ModePulse, Reason: fmt.Sprintf("%d messages since the Elder spoke", e.sinceSpoke)}, true
	case now.Sub(e.lastSpoke) >= e.cfg.PulseInterval:
		return Decision{Mode: ModePulse, Reason: fmt.Sprintf("%ds of silence", int(now.Sub(e.lastSpoke).Seconds()))}, true
	}
	return Decision{}, false
}

func displayName(m *Message) string {
	if m.Name != "" {
		return m.Name
	}
	if m.PlayerID != "" {
		return m.PlayerID
	}
	return "someone"
}

var (
	mentionRe = regexp.MustCompile(`(?i)(^|[^\w@])@(elder|narrator)\b`)
	addressRe = regexp.MustCompile(`(?i)\b(elder|narrator|wise one|old one)\b`)
	opinionRe = regexp.MustCompile(`(?i)\b(what do you think|what would you do|any advice|your opinion|what do you advise|should we\b[^?]*\?)`)
)

// IsCallResponse reports whether text addresses the Elder directly: an
// @mention, a question naming the Elder, or opinion-seeking phrasing.
func IsCallResponse(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if mentionRe.MatchString(text) {
		return true
	}
	if strings.Contains(text, "?") && addressRe.MatchString(text) {
		return true
	}
	return opinionRe.MatchString(text)
}
