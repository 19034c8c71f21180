package rates

import "time"

// Verdict is the outcome of counting one more event against a window.
type Verdict int

const (
	Allowed Verdict = iota
	// Soft means the event is accepted but the sender should be warned.
	Soft
	// Hard means the event is rejected and the sender should be cooled down.
	Hard
)

func (v Verdict) String() string {
	switch v {
	case Soft:
		return "SOFT"
	case Hard:
		return "HARD"
	default:
		return "OK"
	}
}

// Window is a fixed window counter: the window restarts on the first event
// at or after Start+length.
type Window struct {
	Start time.Time
	Count int
}

// Allow counts one event at now. A window length <= 0 disables limiting; a
// soft or hard limit <= 0 disables that level.
func Allow(now time.Time, w Window, length time.Duration, soft, hard int) (Window, Verdict) {
	if length <= 0 {
		return w, Allowed
	}
	if w.Start.IsZero() || now.Sub(w.Start) >= length || now.Before(w.Start) {
		w.Start = now
		w.Count = 0
	}
	w.Count++
	switch {
	case hard > 0 && w.Count > hard:
		return w, Hard
	case soft > 0 && w.Count > soft:
		return w, Soft
	default:
		return w, Allowed
	}
}

// Remaining reports how long until the window resets.
func Remaining(now time.Time, w Window, length time.Duration) time.Duration {
	if w.Start.IsZero() || length <= 0 {
		return 0
	}
	left := w.Start.Add(length).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
