package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every env override (ELDERWOOD_PASSCODE, ...).
const EnvPrefix = "ELDERWOOD_"

type Tuning struct {
	Passcode string `yaml:"passcode" env:"PASSCODE"`

	TickIntervalMs    int `yaml:"tick_interval_ms" env:"TICK_INTERVAL_MS"`
	DecisionTimeoutMs int `yaml:"decision_timeout_ms" env:"DECISION_TIMEOUT_MS"`
	NarratorTimeoutMs int `yaml:"narrator_timeout_ms" env:"NARRATOR_TIMEOUT_MS"`

	// Empty URLs select the deterministic strategies.
	DecisionURL  string `yaml:"decision_url" env:"DECISION_URL"`
	NarratorURL  string `yaml:"narrator_url" env:"NARRATOR_URL"`
	ServiceToken string `yaml:"-" env:"SERVICE_TOKEN"`

	Cadence    Cadence    `yaml:"cadence" envPrefix:"CADENCE_"`
	RateLimits RateLimits `yaml:"rate_limits" envPrefix:"RATE_"`
	Votes      Votes      `yaml:"votes" envPrefix:"VOTE_"`

	StaleOfferSeconds     int `yaml:"stale_offer_seconds" env:"STALE_OFFER_SECONDS"`
	GatherCooldownSeconds int `yaml:"gather_cooldown_seconds" env:"GATHER_COOLDOWN_SECONDS"`

	Resources      []string       `yaml:"resources" env:"RESOURCES" envSeparator:","`
	ElderStockpile []string       `yaml:"elder_stockpile" env:"ELDER_STOCKPILE" envSeparator:","`
	StarterItems   map[string]int `yaml:"starter_items"`
	Quests         []Quest        `yaml:"quests"`
}

type Cadence struct {
	PulseMessages      int `yaml:"pulse_messages" env:"PULSE_MESSAGES"`
	PulseSeconds       int `yaml:"pulse_seconds" env:"PULSE_SECONDS"`
	VoteWarningSeconds int `yaml:"vote_warning_seconds" env:"VOTE_WARNING_SECONDS"`
	HistoryMessages    int `yaml:"history_messages" env:"HISTORY_MESSAGES"`
}

type RateLimits struct {
	WindowSeconds   int `yaml:"window_seconds" env:"WINDOW_SECONDS"`
	Soft            int `yaml:"soft" env:"SOFT"`
	Hard            int `yaml:"hard" env:"HARD"`
	CooldownSeconds int `yaml:"cooldown_seconds" env:"COOLDOWN_SECONDS"`
}

type Votes struct {
	DurationSeconds int     `yaml:"duration_seconds" env:"DURATION_SECONDS"`
	QuorumFraction  float64 `yaml:"quorum_fraction" env:"QUORUM_FRACTION"`
}

type Quest struct {
	Name   string         `yaml:"name"`
	Recipe map[string]int `yaml:"recipe"`
}

func Defaults() Tuning {
	return Tuning{
		Passcode:          "hearth",
		TickIntervalMs:    15000,
		DecisionTimeoutMs: 8000,
		NarratorTimeoutMs: 8000,
		Cadence: Cadence{
			PulseMessages:      5,
			PulseSeconds:       30,
			VoteWarningSeconds: 60,
			HistoryMessages:    20,
		},
		RateLimits: RateLimits{
			WindowSeconds:   10,
			Soft:            4,
			Hard:            8,
			CooldownSeconds: 30,
		},
		Votes: Votes{
			DurationSeconds: 300,
			QuorumFraction:  0.5,
		},
		StaleOfferSeconds:     900,
		GatherCooldownSeconds: 3,
		Resources:             []string{"cedar", "resin", "flint", "reed", "honey"},
		ElderStockpile:        []string{"cedar", "resin", "flint"},
		StarterItems:          map[string]int{"cedar": 2, "reed": 2},
		Quests: []Quest{
			{Name: "Raise the Longhouse", Recipe: map[string]int{"cedar": 6, "resin": 3}},
			{Name: "Light the Beacon", Recipe: map[string]int{"flint": 4, "reed": 5, "resin": 1}},
			{Name: "Feast of First Frost", Recipe: map[string]int{"honey": 4, "reed": 2}},
		},
	}
}

// Load reads path over Defaults, applies env overrides and normalizes. A
// missing file is not an error.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &t); err != nil {
				return t, fmt.Errorf("tuning.yaml: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return t, fmt.Errorf("read tuning: %w", err)
		}
	}
	// Quests and starter items are file-only; keep them out of the env walk.
	quests, starter := t.Quests, t.StarterItems
	t.Quests, t.StarterItems = nil, nil
	err := env.ParseWithOptions(&t, env.Options{Prefix: EnvPrefix})
	t.Quests, t.StarterItems = quests, starter
	if err != nil {
		return t, fmt.Errorf("parse env: %w", err)
	}
	t.Normalize()
	return t, nil
}

// Normalize replaces out-of-range values with defaults and canonicalizes
// resource names to lower case.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	positive := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	positive(&t.TickIntervalMs, d.TickIntervalMs)
	positive(&t.DecisionTimeoutMs, d.DecisionTimeoutMs)
	positive(&t.NarratorTimeoutMs, d.NarratorTimeoutMs)
	positive(&t.Cadence.PulseMessages, d.Cadence.PulseMessages)
	positive(&t.Cadence.PulseSeconds, d.Cadence.PulseSeconds)
	positive(&t.Cadence.VoteWarningSeconds, d.Cadence.VoteWarningSeconds)
	positive(&t.Cadence.HistoryMessages, d.Cadence.HistoryMessages)
	positive(&t.RateLimits.WindowSeconds, d.RateLimits.WindowSeconds)
	positive(&t.RateLimits.Soft, d.RateLimits.Soft)
	positive(&t.RateLimits.Hard, d.RateLimits.Hard)
	positive(&t.RateLimits.CooldownSeconds, d.RateLimits.CooldownSeconds)
	if t.RateLimits.Hard < t.RateLimits.Soft {
		t.RateLimits.Hard = t.RateLimits.Soft
	}
	positive(&t.Votes.DurationSeconds, d.Votes.DurationSeconds)
	if t.Votes.QuorumFraction <= 0 || t.Votes.QuorumFraction > 1 {
		t.Votes.QuorumFraction = d.Votes.QuorumFraction
	}
	positive(&t.StaleOfferSeconds, d.StaleOfferSeconds)
	if t.GatherCooldownSeconds < 0 {
		t.GatherCooldownSeconds = 0
	}

	t.Resources = canonicalNames(t.Resources)
	if len(t.Resources) == 0 {
		t.Resources = d.Resources
	}
	known := map[string]bool{}
	for _, r := range t.Resources {
		known[r] = true
	}
	subset := canonicalNames(t.ElderStockpile)
	t.ElderStockpile = t.ElderStockpile[:0]
	for _, r := range subset {
		if known[r] {
			t.ElderStockpile = append(t.ElderStockpile, r)
		}
	}
	if len(t.ElderStockpile) == 0 {
		t.ElderStockpile = append([]string(nil), t.Resources...)
	}

	starter := map[string]int{}
	for r, n := range t.StarterItems {
		r = strings.ToLower(strings.TrimSpace(r))
		if known[r] && n > 0 {
			starter[r] = n
		}
	}
	t.StarterItems = starter

	quests := t.Quests[:0]
	for _, q := range t.Quests {
		recipe := map[string]int{}
		for r, n := range q.Recipe {
			r = strings.ToLower(strings.TrimSpace(r))
			if known[r] && n > 0 {
				recipe[r] = n
			}
		}
		if strings.TrimSpace(q.Name) == "" || len(recipe) == 0 {
			continue
		}
		quests = append(quests, Quest{Name: strings.TrimSpace(q.Name), Recipe: recipe})
	}
	t.Quests = quests
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

func (t Tuning) DecisionTimeout() time.Duration {
	return time.Duration(t.DecisionTimeoutMs) * time.Millisecond
}

func (t Tuning) NarratorTimeout() time.Duration {
	return time.Duration(t.NarratorTimeoutMs) * time.Millisecond
}

func canonicalNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
