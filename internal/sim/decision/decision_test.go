package decision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"elderwood.ai/internal/sim/cadence"
	"elderwood.ai/internal/sim/patch"
	"elderwood.ai/internal/sim/remote"
	"elderwood.ai/internal/sim/village"
)

func newState(t *testing.T) *village.State {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	st := village.New(village.Config{
		Resources: []string{"cedar", "resin"},
		RateLimit: village.RateLimitConfig{Window: time.Minute, Soft: 2, Hard: 100},
		Clock:     func() time.Time { return now },
	})
	st.AddPlayer("a", "Ash")
	st.AddPlayer("b", "Birch")
	return st
}

func TestPropose_NormalizesToExpectedPatch(t *testing.T) {
	st := newState(t)
	st.StartQuest("Longhouse", map[string]int{"cedar": 2})
	j1, _ := st.SubmitJournal("a", "First light over the ridge.")
	st.SubmitJournal("b", "Second entry.")
	for i := 0; i < 3; i++ {
		st.NoteMessage("a")
	}
	d := cadence.Decision{Speak: true, Mode: cadence.ModePulse, Reason: "quiet"}
	raw := Propose(NewRequest(st, d, Limits{Soft: 2, Hard: 2, CooldownSeconds: 15}))

	p := patch.Normalize(raw, patch.TickContext{Journals: st.JournalTexts()})
	if !p.Cadence.ShouldElderSpeak || p.Cadence.Mode != patch.ModePulse {
		t.Fatalf("cadence=%+v", p.Cadence)
	}
	if len(p.Archive.Promote) != 1 || p.Archive.Promote[0].JournalID != j1.ID || p.Archive.Promote[0].Text != j1.Text {
		t.Fatalf("archive=%+v", p.Archive)
	}
	if len(p.Safety.Flags) != 1 || len(p.Safety.RateLimits) != 1 || p.Safety.RateLimits[0].PlayerID != "a" {
		t.Fatalf("safety=%+v", p.Safety)
	}
	if !p.Resources.HasPercent || p.Resources.QuestPercent != 0 || len(p.Resources.Needs) != 1 {
		t.Fatalf("resources=%+v", p.Resources)
	}
}

func TestPropose_QuietVillageSaysLittle(t *testing.T) {
	st := newState(t)
	raw := Propose(NewRequest(st, cadence.Decision{}, Limits{}))
	p := patch.Normalize(raw, patch.TickContext{})
	if !p.IsEmpty() {
		t.Fatalf("expected empty patch, got %+v", p)
	}
}

func TestResolver_LiveReturnsRawText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`Here you go: {"cadence":{"mode":"EVENT"}}`))
	}))
	defer srv.Close()

	r := Resolver{Live: Live{Client: remote.New(srv.URL, "", time.Second)}}
	raw, s, err := r.Decide(context.Background(), NewRequest(newState(t), cadence.Decision{}, Limits{}))
	if err != nil || s != remote.Live {
		t.Fatalf("decide: %s %v", s, err)
	}
	if p := patch.Normalize(raw, patch.TickContext{}); p.Cadence.Mode != patch.ModeEvent {
		t.Fatalf("patch=%+v", p.Cadence)
	}
}

func TestResolver_LiveTimeoutIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := Resolver{Live: Live{Client: remote.New(srv.URL, "", 5*time.Second)}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := r.Decide(ctx, NewRequest(newState(t), cadence.Decision{}, Limits{})); err == nil {
		t.Fatalf("expected timeout error")
	}
}
