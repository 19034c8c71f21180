package village

import "time"

// Snapshot is the trimmed, json-serializable view of the village handed to
// the decision service. It never aliases live state.
type Snapshot struct {
	Tick      uint64         `json:"tick"`
	Now       int64          `json:"now"`
	Resources []string       `json:"resources"`
	Players   []PlayerView   `json:"players"`
	Stockpile map[string]int `json:"stockpile"`
	Quest     *QuestView     `json:"quest"`
	Vote      *VoteView      `json:"vote"`
	Offers    []OfferView    `json:"offers"`
	Stones    []StoneView    `json:"stones"`
	Journals  []JournalView  `json:"journals"`
	Actions   []string       `json:"recent_actions"`
	Messages  []string       `json:"recent_messages"`
	Flags     []string       `json:"safety_flags"`
}

type PlayerView struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Inventory map[string]int `json:"inventory"`
	// Cooldown is unix seconds, or 0.
	Cooldown int64 `json:"cooldown_until"`
	// Recent is the message count inside the current rate window.
	Recent int `json:"recent_messages"`
}

type QuestView struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Recipe  map[string]int `json:"recipe"`
	Percent int            `json:"percent"`
	Needs   []Need         `json:"needs"`
	Status  QuestStatus    `json:"status"`
}

type VoteView struct {
	ID       string            `json:"id"`
	Topic    string            `json:"topic"`
	Options  []string          `json:"options"`
	Tally    map[string]string `json:"tally"`
	Counts   map[string]int    `json:"counts"`
	Status   VoteStatus        `json:"status"`
	ClosesAt int64             `json:"closes_at"`
	Winner   string            `json:"winner,omitempty"`
	Decision string            `json:"decision,omitempty"`
	Quorum   int               `json:"quorum"`
}

type OfferView struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	Give      ItemQty `json:"give"`
	Want      ItemQty `json:"want"`
	CreatedAt int64   `json:"created_at"`
}

type StoneView struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags"`
}

type JournalView struct {
	ID       string `json:"id"`
	PlayerID string `json:"player_id"`
	Text     string `json:"text"`
}

// Snapshot builds a detached view of the current state.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Tick:      s.tick,
		Now:       s.Now().Unix(),
		Resources: s.Resources(),
		Players:   []PlayerView{},
		Stockpile: s.Stockpile(),
		Offers:    []OfferView{},
		Stones:    []StoneView{},
		Journals:  []JournalView{},
		Actions:   Digest(s.RecentActions(), RecentActionsExposed),
		Messages:  Digest(s.RecentMessages(), RecentMessagesCap),
		Flags:     s.SafetyFlags(),
	}
	for _, p := range s.Players() {
		inv := make(map[string]int, len(p.Inventory))
		for k, v := range p.Inventory {
			inv[k] = v
		}
		snap.Players = append(snap.Players, PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			Inventory: inv,
			Cooldown:  unixOrZero(p.CooldownUntil),
			Recent:    p.MessagesInWindow(),
		})
	}
	if q := s.quest; q != nil {
		recipe := make(map[string]int, len(q.Recipe))
		for k, v := range q.Recipe {
			recipe[k] = v
		}
		snap.Quest = &QuestView{
			ID:      q.ID,
			Name:    q.Name,
			Recipe:  recipe,
			Percent: q.Percent,
			Needs:   append([]Need{}, q.Needs...),
			Status:  q.Status,
		}
	}
	if v := s.vote; v != nil {
		tally := make(map[string]string, len(v.Tally))
		for k, o := range v.Tally {
			tally[k] = o
		}
		snap.Vote = &VoteView{
			ID:       v.ID,
			Topic:    v.Topic,
			Options:  append([]string{}, v.Options...),
			Tally:    tally,
			Counts:   v.Counts(),
			Status:   v.Status,
			ClosesAt: unixOrZero(v.ClosesAt),
			Winner:   v.Winner,
			Decision: v.Decision,
			Quorum:   s.QuorumNeeded(),
		}
	}
	for _, o := range s.OpenOffers() {
		snap.Offers = append(snap.Offers, OfferView{
			ID: o.ID, From: o.From, Give: o.Give, Want: o.Want, CreatedAt: o.CreatedAt.Unix(),
		})
	}
	for _, st := range s.stones {
		snap.Stones = append(snap.Stones, StoneView{
			ID: st.ID, Title: st.Title, Text: st.Text, Tags: append([]string{}, st.Tags...),
		})
	}
	for _, j := range s.PendingJournals() {
		snap.Journals = append(snap.Journals, JournalView{ID: j.ID, PlayerID: j.PlayerID, Text: j.Text})
	}
	return snap
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
