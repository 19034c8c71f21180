package cadence

import (
	"testing"
	"time"

	"elderwood.ai/internal/sim/village"
)

var t0 = time.Unix(1_700_000_000, 0)

func newState(now *time.Time) *village.State {
	return village.New(village.Config{
		Resources:    []string{"cedar", "resin"},
		VoteDuration: 5 * time.Minute,
		Clock:        func() time.Time { return *now },
	})
}

func TestIsCallResponse(t *testing.T) {
	cases := map[string]bool{
		"@elder where should we build?":   true,
		"hey @Narrator":                   true,
		"Elder, is the river safe?":       true,
		"what do you think about cedar":   true,
		"any advice for the new folks":    true,
		"should we trade resin for reed?": true,
		"email me at bob@elder.org":       false,
		"the elder tree is tall":          false,
		"is anyone around?":               false,
		"":                                false,
	}
	for in, want := range cases {
		if got := IsCallResponse(in); got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
}

func TestEvaluate_CallResponseBeatsPulse(t *testing.T) {
	now := t0
	st := newState(&now)
	e := New(Config{PulseMessages: 2, PulseInterval: time.Hour}, now)
	for i := 0; i < 2; i++ {
		e.Observe(Message{PlayerID: "a", Text: "hi"})
	}
	m := &Message{PlayerID: "a", Name: "Ash", Text: "@elder what now?"}
	e.Observe(*m)
	d := e.Evaluate(st, m, now)
	if !d.Speak || d.Mode != ModeCallResponse || d.Priority != 1 {
		t.Fatalf("decision=%+v", d)
	}
	if d.Question != "@elder what now?" {
		t.Fatalf("question=%q", d.Question)
	}

	d = e.Evaluate(st, nil, now)
	if d.Mode != ModePulse || d.Priority != 2 {
		t.Fatalf("expected pulse without a question, got %+v", d)
	}
}

func TestEvaluate_PulseThresholds(t *testing.T) {
	now := t0
	st := newState(&now)
	e := New(Config{PulseMessages: 5, PulseInterval: 30 * time.Second}, now)
	for i := 0; i < 4; i++ {
		e.Observe(Message{Text: "chatter"})
	}
	if d := e.Evaluate(st, nil, now); d.Speak {
		t.Fatalf("spoke early: %+v", d)
	}
	e.Observe(Message{Text: "chatter"})
	if d := e.Evaluate(st, nil, now); d.Mode != ModePulse {
		t.Fatalf("message pulse missing: %+v", d)
	}
	e.Spoke(now)
	if e.SinceSpoke() != 0 {
		t.Fatalf("counter not reset")
	}
	now = now.Add(29 * time.Second)
	if d := e.Evaluate(st, nil, now); d.Speak {
		t.Fatalf("spoke before interval: %+v", d)
	}
	now = now.Add(time.Second)
	if d := e.Evaluate(st, nil, now); d.Mode != ModePulse {
		t.Fatalf("time pulse missing: %+v", d)
	}
}

func TestEvaluate_QuestThresholdFiresOnce(t *testing.T) {
	now := t0
	st := newState(&now)
	e := New(Config{PulseInterval: time.Hour}, now)
	st.StartQuest("Longhouse", map[string]int{"cedar": 4})
	st.AdjustStockpile("cedar", 2)
	st.RecomputeQuestProgress()

	d := e.Evaluate(st, nil, now)
	if d.Mode != ModeEvent || d.Threshold != 50 {
		t.Fatalf("decision=%+v", d)
	}
	if d := e.Evaluate(st, nil, now); d.Speak {
		t.Fatalf("threshold re-fired: %+v", d)
	}
	if !st.Quest().Fired[25] {
		t.Fatalf("lower thresholds must be consumed too")
	}
}

func TestEvaluate_EventNotConsumedWhenCallResponseWins(t *testing.T) {
	now := t0
	st := newState(&now)
	e := New(Config{PulseInterval: time.Hour}, now)
	st.StartQuest("Longhouse", map[string]int{"cedar": 4})
	st.AdjustStockpile("cedar", 1)
	st.RecomputeQuestProgress()

	m := &Message{Text: "@elder hello"}
	if d := e.Evaluate(st, m, now); d.Mode != ModeCallResponse {
		t.Fatalf("decision=%+v", d)
	}
	if d := e.Evaluate(st, nil, now); d.Mode != ModeEvent || d.Threshold != 25 {
		t.Fatalf("pending event lost: %+v", d)
	}
}

func TestEvaluate_VoteDeadlineWarning(t *testing.T) {
	now := t0
	st := newState(&now)
	e := New(Config{PulseInterval: time.Hour, VoteWarning: time.Minute}, now)
	st.OpenVote("Path", []string{"north", "south"})

	now = now.Add(3 * time.Minute)
	if d := e.Evaluate(st, nil, now); d.Speak {
		t.Fatalf("warned too early: %+v", d)
	}
	now = now.Add(90 * time.Second)
	d := e.Evaluate(st, nil, now)
	if d.Mode != ModeEvent || !d.VoteDeadline {
		t.Fatalf("decision=%+v", d)
	}
	if d := e.Evaluate(st, nil, now.Add(time.Second)); d.Speak {
		t.Fatalf("deadline warning re-fired: %+v", d)
	}
}

func TestObserve_HistoryBounded(t *testing.T) {
	e := New(Config{History: 3}, t0)
	for _, s := range []string{"a", "b", "c", "d"} {
		e.Observe(Message{Text: s})
	}
	h := e.History()
	if len(h) != 3 || h[0].Text != "b" || h[2].Text != "d" {
		t.Fatalf("history=%v", h)
	}
}
