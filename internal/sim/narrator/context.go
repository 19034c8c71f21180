// Package narrator builds the bounded context bundle for the Elder and
// resolves how the Elder's speech is produced.
package narrator

import (
	"strings"
	"time"

	"elderwood.ai/internal/sim/cadence"
	"elderwood.ai/internal/sim/village"
)

const (
	MaxActions  = village.RecentActionsExposed
	MaxMessages = village.RecentMessagesCap
)

type StoneDigest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Gist  string `json:"gist"`
}

type QuestDigest struct {
	Name    string   `json:"name"`
	Percent int      `json:"percent"`
	Status  string   `json:"status"`
	Needs   []string `json:"needs"`
}

type VoteDigest struct {
	Topic   string         `json:"topic"`
	Options []string       `json:"options"`
	Counts  map[string]int `json:"counts"`
	Status  string         `json:"status"`
	// Leading is nil on a tie for the lead or when nobody voted.
	Leading  *string `json:"leading"`
	ClosesIn int     `json:"closes_in_seconds"`
	Winner   string  `json:"winner,omitempty"`
	Decision string  `json:"decision,omitempty"`
}

// Input is everything the narrator service sees for one call.
type Input struct {
	Mode     cadence.Mode `json:"mode"`
	Reason   string       `json:"reason"`
	Question *string      `json:"question"`

	Stones    []StoneDigest  `json:"stones"`
	Quest     *QuestDigest   `json:"quest"`
	Vote      *VoteDigest    `json:"vote"`
	Stockpile map[string]int `json:"stockpile"`

	Actions  []string `json:"recent_actions"`
	Messages []string `json:"recent_messages"`

	Notes    *string `json:"notes"`
	Location string  `json:"location,omitempty"`
}

type Summaries struct {
	Actions  []string
	Messages []string
}

// Builder assembles Input. Resources restricts the stockpile snapshot; an
// empty list means every resource.
type Builder struct {
	Resources []string
}

func (b Builder) Build(st *village.State, d cadence.Decision, sum Summaries) Input {
	in := Input{
		Mode:      d.Mode,
		Reason:    d.Reason,
		Stones:    []StoneDigest{},
		Stockpile: map[string]int{},
		Actions:   village.Digest(sum.Actions, MaxActions),
		Messages:  village.Digest(sum.Messages, MaxMessages),
		Notes:     st.ElderNotes(),
		Location:  st.ElderLocation(),
	}
	if d.Mode == cadence.ModeCallResponse {
		if q := strings.TrimSpace(d.Question); q != "" {
			in.Question = &q
		}
	}

	for _, s := range st.Stones() {
		in.Stones = append(in.Stones, StoneDigest{ID: s.ID, Title: s.Title, Gist: FirstSentence(s.Text)})
	}

	if q := st.Quest(); q != nil {
		qd := &QuestDigest{Name: q.Name, Percent: q.Percent, Status: string(q.Status), Needs: []string{}}
		for _, n := range q.Needs {
			qd.Needs = append(qd.Needs, n.Resource)
		}
		in.Quest = qd
	}

	if v := st.Vote(); v != nil {
		vd := &VoteDigest{
			Topic:    v.Topic,
			Options:  append([]string{}, v.Options...),
			Counts:   v.Counts(),
			Status:   string(v.Status),
			Winner:   v.Winner,
			Decision: v.Decision,
		}
		vd.Leading = Leading(v.Options, vd.Counts)
		if v.Status == village.VoteOpen {
			if left := v.ClosesAt.Sub(st.Now()); left > 0 {
				vd.ClosesIn = int(left / time.Second)
			}
		}
		in.Vote = vd
	}

	resources := b.Resources
	if len(resources) == 0 {
		resources = st.Resources()
	}
	for _, r := range resources {
		if name, ok := st.IsResource(r); ok {
			in.Stockpile[name] = st.StockpileCount(name)
		}
	}
	return in
}

// Leading returns the option with the strictly highest count, or nil on a
// tie or when every count is zero.
func Leading(options []string, counts map[string]int) *string {
	best, bestN, tied := "", 0, false
	for _, o := range options {
		switch n := counts[o]; {
		case n > bestN:
			best, bestN, tied = o, n, false
		case n == bestN && n > 0:
			tied = true
		}
	}
	if bestN == 0 || tied {
		return nil
	}
	return &best
}

// FirstSentence returns text up to and including the first sentence end.
func FirstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
			return text[:i+1]
		}
	}
	return text
}
