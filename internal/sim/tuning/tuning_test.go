package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	tune, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.Cadence.PulseMessages != 5 || tune.Cadence.PulseSeconds != 30 {
		t.Fatalf("pulse defaults = %d/%d", tune.Cadence.PulseMessages, tune.Cadence.PulseSeconds)
	}
	if len(tune.Quests) == 0 {
		t.Fatalf("expected default quests")
	}
}

func TestLoadRepoConfig(t *testing.T) {
	tune, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.Passcode != "hearth" {
		t.Fatalf("passcode=%q", tune.Passcode)
	}
	if got := strings.Join(tune.ElderStockpile, ","); got != "cedar,resin,flint" {
		t.Fatalf("elder stockpile=%s", got)
	}
	if tune.Quests[0].Recipe["cedar"] != 6 {
		t.Fatalf("first quest recipe=%v", tune.Quests[0].Recipe)
	}
}

func TestLoadNormalizesAndEnvOverrides(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := `
resources: [Cedar, " resin ", cedar]
elder_stockpile: [resin, unknown]
rate_limits: {soft: 6, hard: 2}
votes: {quorum_fraction: 3}
quests:
  - name: Empty
    recipe: {gold: 3}
  - name: Cedar Run
    recipe: {CEDAR: 2}
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ELDERWOOD_CADENCE_PULSE_MESSAGES", "9")
	t.Setenv("ELDERWOOD_PASSCODE", "ember")

	tune, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := strings.Join(tune.Resources, ","); got != "cedar,resin" {
		t.Fatalf("resources=%s", got)
	}
	if got := strings.Join(tune.ElderStockpile, ","); got != "resin" {
		t.Fatalf("elder stockpile=%s", got)
	}
	if tune.RateLimits.Hard != 6 {
		t.Fatalf("hard limit should be raised to soft, got %d", tune.RateLimits.Hard)
	}
	if tune.Votes.QuorumFraction != 0.5 {
		t.Fatalf("quorum fraction=%v", tune.Votes.QuorumFraction)
	}
	if len(tune.Quests) != 1 || tune.Quests[0].Name != "Cedar Run" || tune.Quests[0].Recipe["cedar"] != 2 {
		t.Fatalf("quests=%+v", tune.Quests)
	}
	if tune.Cadence.PulseMessages != 9 || tune.Passcode != "ember" {
		t.Fatalf("env overrides not applied: pulse=%d passcode=%q", tune.Cadence.PulseMessages, tune.Passcode)
	}
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("ELDERWOOD_TICK_INTERVAL_MS", "soon")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}
