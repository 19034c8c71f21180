package orchestrator

import "elderwood.ai/internal/sim/village"

// Metrics is a point-in-time view published after every action and tick.
// Counters are cumulative since start; the rest are gauges.
type Metrics struct {
	Tick       uint64
	Players    int
	Connected  int
	Stones     int
	OpenOffers int
	OpenVote   bool
	Journals   int
	QuestPct   int

	Ticks           uint64
	Messages        uint64
	ActionsOK       uint64
	ActionsRejected uint64
	TradesOK        uint64
	TradesFailed    uint64
	Warnings        uint64
	ElderSpoke      uint64
	DecisionErrors  uint64
	NarratorErrors  uint64
}

// Metrics returns the latest published snapshot; safe from any goroutine.
func (l *Loop) Metrics() Metrics {
	m, _ := l.metrics.Load().(Metrics)
	return m
}

func (l *Loop) publishMetrics() {
	m := l.totals
	m.Tick = l.st.Tick()
	m.Players = l.st.PlayerCount()
	m.Connected = len(l.clients)
	m.Stones = l.st.StoneCount()
	m.OpenOffers = len(l.st.OpenOffers())
	m.Journals = len(l.st.PendingJournals())
	if v := l.st.Vote(); v != nil && v.Status == village.VoteOpen {
		m.OpenVote = true
	}
	if q := l.st.Quest(); q != nil {
		m.QuestPct = q.Percent
	}
	l.metrics.Store(m)
}
