package village

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type MemoryStone struct {
	ID        string
	Title     string
	Text      string
	Tags      []string
	CreatedAt time.Time
	// JournalID is set when the stone was promoted from a journal.
	JournalID string
}

type Journal struct {
	ID          string
	PlayerID    string
	Text        string
	SubmittedAt time.Time

	Promoted bool
	StoneID  string
}

// NewStoneID returns a fresh, time-ordered stone id.
func NewStoneID() string {
	return "ST" + ulid.Make().String()
}

// InsertStone appends a stone without enforcing the cap. Callers doing
// several archive operations in one pass must finish with EnforceStoneCap.
func (s *State) InsertStone(st *MemoryStone) *MemoryStone {
	if st == nil {
		return nil
	}
	if st.ID == "" {
		st.ID = NewStoneID()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = s.Now()
	}
	if st.Tags == nil {
		st.Tags = []string{}
	}
	s.stones = append(s.stones, st)
	return st
}

// AddMemoryStone appends st and evicts the oldest stones beyond MaxStones.
func (s *State) AddMemoryStone(st *MemoryStone) []*MemoryStone {
	if s.InsertStone(st) == nil {
		return nil
	}
	return s.EnforceStoneCap()
}

// EnforceStoneCap evicts oldest stones while more than MaxStones remain.
func (s *State) EnforceStoneCap() []*MemoryStone {
	if len(s.stones) <= MaxStones {
		return nil
	}
	n := len(s.stones) - MaxStones
	evicted := append([]*MemoryStone(nil), s.stones[:n]...)
	s.stones = append([]*MemoryStone(nil), s.stones[n:]...)
	return evicted
}

// RemoveStone deletes the stone with id.
func (s *State) RemoveStone(id string) (*MemoryStone, bool) {
	for i, st := range s.stones {
		if st.ID == id {
			s.stones = append(s.stones[:i], s.stones[i+1:]...)
			return st, true
		}
	}
	return nil, false
}

func (s *State) Stone(id string) *MemoryStone {
	for _, st := range s.stones {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Stones returns the archive oldest first.
func (s *State) Stones() []*MemoryStone { return append([]*MemoryStone(nil), s.stones...) }

func (s *State) StoneCount() int { return len(s.stones) }

// SubmitJournal queues raw text for promotion to a stone.
func (s *State) SubmitJournal(playerID, text string) (*Journal, bool) {
	text = strings.TrimSpace(text)
	if s.players[playerID] == nil || text == "" {
		return nil, false
	}
	s.nextJournal++
	j := &Journal{
		ID:          fmt.Sprintf("JR%06d", s.nextJournal),
		PlayerID:    playerID,
		Text:        text,
		SubmittedAt: s.Now(),
	}
	s.journals[j.ID] = j
	s.journalOrder = append(s.journalOrder, j.ID)
	return j, true
}

func (s *State) Journal(id string) *Journal { return s.journals[id] }

// PendingJournals lists unpromoted journals, oldest first.
func (s *State) PendingJournals() []*Journal {
	var out []*Journal
	for _, id := range s.journalOrder {
		if j := s.journals[id]; j != nil && !j.Promoted {
			out = append(out, j)
		}
	}
	return out
}

// JournalTexts maps journal id -> text for every journal.
func (s *State) JournalTexts() map[string]string {
	out := make(map[string]string, len(s.journals))
	for id, j := range s.journals {
		out[id] = j.Text
	}
	return out
}

// MarkJournalPromoted links a journal to the stone created from it.
func (s *State) MarkJournalPromoted(journalID, stoneID string) bool {
	j := s.journals[journalID]
	if j == nil || j.Promoted {
		return false
	}
	j.Promoted = true
	j.StoneID = stoneID
	return true
}
