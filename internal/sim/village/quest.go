package village

import (
	"fmt"
	"math"
	"time"
)

type QuestStatus string

const (
	QuestActive    QuestStatus = "ACTIVE"
	QuestCompleted QuestStatus = "COMPLETED"
)

// Thresholds are the progress marks announced once per quest.
var Thresholds = []int{25, 50, 75, 100}

type Need struct {
	Resource string `json:"resource"`
	Quantity int    `json:"quantity"`
}

// QuestHint carries narrator-supplied needs and threshold data. It is
// advisory; Percent and Needs on the quest are always computed locally.
type QuestHint struct {
	Needs            []Need
	ThresholdCrossed bool
	CrossedAt        *int64
	UpdatedAt        time.Time
}

type Quest struct {
	ID      string
	Name    string
	Recipe  map[string]int
	Percent int
	Needs   []Need
	Status  QuestStatus

	// One-shot flags: threshold -> already announced.
	Fired map[int]bool

	StartedAt   time.Time
	CompletedAt time.Time

	ProposedPercent int
	HasProposal     bool

	Hint QuestHint
}

// NextThreshold returns the highest threshold at or below Percent that has
// not fired yet.
func (q *Quest) NextThreshold() (int, bool) {
	best, ok := 0, false
	for _, t := range Thresholds {
		if q.Percent >= t && !q.Fired[t] {
			best, ok = t, true
		}
	}
	return best, ok
}

// MarkFired flags every threshold up to and including t.
func (q *Quest) MarkFired(t int) {
	if q.Fired == nil {
		q.Fired = map[int]bool{}
	}
	for _, th := range Thresholds {
		if th <= t {
			q.Fired[th] = true
		}
	}
}

// BottleneckPercent is floor(100 * min over recipe of min(have, need)/need).
// Entries with need <= 0 are ignored; an empty recipe yields 0.
func BottleneckPercent(recipe map[string]int, have map[string]int) int {
	ratio := math.Inf(1)
	for r, need := range recipe {
		if need <= 0 {
			continue
		}
		h := have[r]
		if h > need {
			h = need
		}
		if h < 0 {
			h = 0
		}
		if x := float64(h) / float64(need); x < ratio {
			ratio = x
		}
	}
	if math.IsInf(ratio, 1) {
		return 0
	}
	return int(math.Floor(100 * ratio))
}

// Shortfalls lists recipe resources the stockpile is still missing, sorted
// by resource name.
func Shortfalls(recipe map[string]int, have map[string]int) []Need {
	out := []Need{}
	for _, r := range sortedKeys(recipe) {
		if missing := recipe[r] - have[r]; missing > 0 {
			out = append(out, Need{Resource: r, Quantity: missing})
		}
	}
	return out
}

// StartQuest creates a quest from name and recipe and makes it active.
func (s *State) StartQuest(name string, recipe map[string]int) *Quest {
	clean := map[string]int{}
	for r, n := range recipe {
		if rr, ok := s.IsResource(r); ok && n > 0 {
			clean[rr] = n
		}
	}
	s.nextQuest++
	q := &Quest{
		ID:     fmt.Sprintf("QS%06d", s.nextQuest),
		Name:   name,
		Recipe: clean,
	}
	s.SetActiveQuest(q)
	return q
}

// SetActiveQuest replaces the current quest. The previous quest completes
// (debiting the stockpile) only if it reached 100 percent; otherwise it is
// discarded.
func (s *State) SetActiveQuest(q *Quest) {
	if prev := s.quest; prev != nil && prev.Status == QuestActive {
		s.RecomputeQuestProgress()
	}
	s.lastQuest = s.quest
	if q == nil {
		s.quest = nil
		return
	}
	if q.Recipe == nil {
		q.Recipe = map[string]int{}
	}
	q.Status = QuestActive
	q.Fired = map[int]bool{}
	q.StartedAt = s.Now()
	q.CompletedAt = time.Time{}
	s.quest = q
	s.questsRun++
	s.RecomputeQuestProgress()
}

func (s *State) Quest() *Quest { return s.quest }

// QuestsStarted counts quests made active so far.
func (s *State) QuestsStarted() int { return s.questsRun }

// RecomputeQuestProgress derives the active quest's percent and needs from
// the stockpile. Reaching 100 completes the quest and debits the recipe.
func (s *State) RecomputeQuestProgress() int {
	q := s.quest
	if q == nil {
		return 0
	}
	if q.Status != QuestActive {
		return q.Percent
	}
	q.Percent = BottleneckPercent(q.Recipe, s.stockpile)
	q.Needs = Shortfalls(q.Recipe, s.stockpile)
	if q.Percent >= 100 {
		for r, n := range q.Recipe {
			s.AdjustStockpile(r, -n)
		}
		q.Percent = 100
		q.Status = QuestCompleted
		q.CompletedAt = s.Now()
	}
	return q.Percent
}

// SetFloatingHint stores hint data when no quest is active.
func (s *State) SetFloatingHint(h QuestHint) { s.questHint = h }

func (s *State) FloatingHint() QuestHint { return s.questHint }
