package village

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type VoteStatus string

const (
	VoteOpen   VoteStatus = "OPEN"
	VoteClosed VoteStatus = "CLOSED"
)

type CloseReason string

const (
	CloseTimer  CloseReason = "TIMER"
	CloseQuorum CloseReason = "QUORUM"
)

type Vote struct {
	ID      string
	Topic   string
	Options []string
	// Tally maps voter id -> chosen option.
	Tally  map[string]string
	Status VoteStatus

	OpenedAt time.Time
	ClosesAt time.Time

	ClosedAt    time.Time
	CloseReason CloseReason
	Winner      string
	Decision    string

	CanVote        bool
	DeadlineWarned bool
}

// Option returns the declared option matching o case-insensitively.
func (v *Vote) Option(o string) (string, bool) {
	o = strings.TrimSpace(o)
	for _, opt := range v.Options {
		if strings.EqualFold(opt, o) {
			return opt, true
		}
	}
	return "", false
}

// Counts derives option -> votes from the tally; every option is present.
func (v *Vote) Counts() map[string]int {
	out := make(map[string]int, len(v.Options))
	for _, o := range v.Options {
		out[o] = 0
	}
	for _, o := range v.Tally {
		if _, ok := out[o]; ok {
			out[o]++
		}
	}
	return out
}

// Voters returns the ids that have voted, sorted.
func (v *Vote) Voters() []string {
	out := make([]string, 0, len(v.Tally))
	for id := range v.Tally {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Leader picks the option with most votes; ties go to the earlier declared
// option. ok is false when nobody voted.
func (v *Vote) Leader() (string, bool) {
	counts := v.Counts()
	best, bestN := "", 0
	for _, o := range v.Options {
		if counts[o] > bestN {
			best, bestN = o, counts[o]
		}
	}
	return best, bestN > 0
}

// OpenVote starts a vote on topic. It fails while another vote is open or
// when fewer than two distinct options are given.
func (s *State) OpenVote(topic string, options []string) (*Vote, bool) {
	if v := s.vote; v != nil && v.Status == VoteOpen {
		return nil, false
	}
	topic = strings.TrimSpace(topic)
	var opts []string
	seen := map[string]bool{}
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o == "" || seen[strings.ToLower(o)] {
			continue
		}
		seen[strings.ToLower(o)] = true
		opts = append(opts, o)
	}
	if topic == "" || len(opts) < 2 {
		return nil, false
	}
	s.nextVote++
	v := &Vote{
		ID:      fmt.Sprintf("VT%06d", s.nextVote),
		Topic:   topic,
		Options: opts,
	}
	s.SetActiveVote(v)
	return v, true
}

// SetActiveVote installs v as the active vote with an empty tally.
func (s *State) SetActiveVote(v *Vote) {
	if v == nil {
		s.vote = nil
		return
	}
	now := s.Now()
	v.Tally = map[string]string{}
	v.Status = VoteOpen
	v.CanVote = true
	v.DeadlineWarned = false
	v.OpenedAt = now
	if v.ClosesAt.IsZero() {
		v.ClosesAt = now.Add(s.cfg.VoteDuration)
	}
	v.ClosedAt = time.Time{}
	v.CloseReason = ""
	v.Winner = ""
	v.Decision = ""
	s.vote = v
}

func (s *State) Vote() *Vote { return s.vote }

// CastVote records one vote per registered player on the open vote.
func (s *State) CastVote(playerID, option string) bool {
	v := s.vote
	if v == nil || v.Status != VoteOpen || s.players[playerID] == nil {
		return false
	}
	opt, ok := v.Option(option)
	if !ok {
		return false
	}
	if _, voted := v.Tally[playerID]; voted {
		return false
	}
	v.Tally[playerID] = opt
	return true
}

// ReplaceTally overwrites the open vote's tally with voter -> option pairs.
// Entries naming an unknown option are dropped; the accepted count is
// returned.
func (s *State) ReplaceTally(tally map[string]string) int {
	v := s.vote
	if v == nil || v.Status != VoteOpen {
		return 0
	}
	next := map[string]string{}
	for voter, o := range tally {
		voter = strings.TrimSpace(voter)
		opt, ok := v.Option(o)
		if voter == "" || !ok {
			continue
		}
		next[voter] = opt
	}
	v.Tally = next
	return len(next)
}

// CloseVote closes the active vote and returns the per-option counts. An
// empty winner is derived from the tally.
func (s *State) CloseVote(reason CloseReason, winner, decision string) map[string]int {
	v := s.vote
	if v == nil {
		return map[string]int{}
	}
	counts := v.Counts()
	if v.Status == VoteClosed {
		return counts
	}
	if w, ok := v.Option(winner); ok {
		v.Winner = w
	} else if w, ok := v.Leader(); ok {
		v.Winner = w
	}
	if reason != CloseTimer && reason != CloseQuorum {
		reason = CloseTimer
	}
	v.Status = VoteClosed
	v.CanVote = false
	v.CloseReason = reason
	v.ClosedAt = s.Now()
	v.Decision = strings.TrimSpace(decision)
	if v.Decision == "" {
		v.Decision = decisionCard(v, counts)
	}
	return counts
}

func decisionCard(v *Vote, counts map[string]int) string {
	if v.Winner == "" {
		return fmt.Sprintf("The vote on %q closed without a single voice.", v.Topic)
	}
	how := "when time ran out"
	if v.CloseReason == CloseQuorum {
		how = "once enough villagers had spoken"
	}
	return fmt.Sprintf("The village chose %q on %q with %d of %d votes, %s.",
		v.Winner, v.Topic, counts[v.Winner], len(v.Tally), how)
}

// EvaluateVote closes the open vote by TIMER once the deadline passed or by
// QUORUM once enough distinct players voted.
func (s *State) EvaluateVote() (CloseReason, bool) {
	v := s.vote
	if v == nil || v.Status != VoteOpen {
		return "", false
	}
	voters := 0
	for id := range v.Tally {
		if s.players[id] != nil {
			voters++
		}
	}
	switch {
	case voters > 0 && voters >= s.QuorumNeeded():
		s.CloseVote(CloseQuorum, "", "")
		return CloseQuorum, true
	case !v.ClosesAt.IsZero() && !s.Now().Before(v.ClosesAt):
		s.CloseVote(CloseTimer, "", "")
		return CloseTimer, true
	}
	return "", false
}
