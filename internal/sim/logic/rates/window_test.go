package rates

import (
	"testing"
	"time"
)

func TestAllowSoftThenHard(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var w Window
	var got []Verdict
	for i := 0; i < 5; i++ {
		var v Verdict
		w, v = Allow(base.Add(time.Duration(i)*time.Second), w, 10*time.Second, 2, 3)
		got = append(got, v)
	}
	want := []Verdict{Allowed, Allowed, Soft, Hard, Hard}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s want %s (all=%v)", i, got[i], want[i], got)
		}
	}
}

func TestAllowWindowResets(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w, _ := Allow(base, Window{}, 5*time.Second, 1, 1)
	w, v := Allow(base.Add(time.Second), w, 5*time.Second, 1, 1)
	if v != Hard {
		t.Fatalf("second event in window: got %s", v)
	}
	w, v = Allow(base.Add(6*time.Second), w, 5*time.Second, 1, 1)
	if v != Allowed || w.Count != 1 {
		t.Fatalf("after reset: verdict=%s count=%d", v, w.Count)
	}
	if left := Remaining(base.Add(7*time.Second), w, 5*time.Second); left != 4*time.Second {
		t.Fatalf("remaining=%v", left)
	}
}

func TestAllowDisabled(t *testing.T) {
	now := time.Now()
	var w Window
	for i := 0; i < 100; i++ {
		var v Verdict
		w, v = Allow(now, w, 0, 1, 1)
		if v != Allowed {
			t.Fatalf("disabled window limited event %d", i)
		}
	}
}
