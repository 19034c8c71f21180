package village

import (
	"fmt"
	"testing"
	"time"

	"elderwood.ai/internal/sim/logic/rates"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestState(t *testing.T) (*State, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := New(Config{
		Resources:      []string{"cedar", "Resin", "flint", "reed", "honey"},
		StarterItems:   map[string]int{"cedar": 2},
		VoteDuration:   time.Minute,
		QuorumFraction: 0.5,
		RateLimit:      RateLimitConfig{Window: 10 * time.Second, Soft: 2, Hard: 3, Cooldown: 30 * time.Second},
		Clock:          clk.Now,
	})
	return s, clk
}

func TestAddPlayer_Idempotent(t *testing.T) {
	s, _ := newTestState(t)
	a := s.AddPlayer("p1", "Ash")
	b := s.AddPlayer("p1", "Other")
	if a != b || s.PlayerCount() != 1 {
		t.Fatalf("expected idempotent registration, count=%d", s.PlayerCount())
	}
	if a.Name != "Ash" {
		t.Fatalf("name overwritten: %q", a.Name)
	}
	if a.Inventory["cedar"] != 2 || a.Inventory["resin"] != 0 {
		t.Fatalf("inventory=%v", a.Inventory)
	}
	if s.AddPlayer("  ", "x") != nil {
		t.Fatalf("blank id must be rejected")
	}
}

func TestUpdateInventory_ClampsAndRejectsUnknown(t *testing.T) {
	s, _ := newTestState(t)
	s.AddPlayer("p1", "Ash")
	if !s.UpdateInventory("p1", "CEDAR", -10) {
		t.Fatalf("known resource rejected")
	}
	if got := s.Player("p1").Inventory["cedar"]; got != 0 {
		t.Fatalf("cedar=%d want 0", got)
	}
	if s.UpdateInventory("p1", "gold", 1) {
		t.Fatalf("unknown resource accepted")
	}
	if s.UpdateInventory("nobody", "cedar", 1) {
		t.Fatalf("unknown player accepted")
	}
}

func TestQuestBottleneck(t *testing.T) {
	s, _ := newTestState(t)
	q := s.StartQuest("Raise the Longhouse", map[string]int{"cedar": 3, "resin": 2})
	s.AdjustStockpile("cedar", 2)
	s.AdjustStockpile("resin", 2)
	if got := s.RecomputeQuestProgress(); got != 66 {
		t.Fatalf("percent=%d want 66", got)
	}
	if q.Status != QuestActive {
		t.Fatalf("status=%s", q.Status)
	}
	if len(q.Needs) != 1 || q.Needs[0] != (Need{Resource: "cedar", Quantity: 1}) {
		t.Fatalf("needs=%v", q.Needs)
	}

	s.AdjustStockpile("cedar", 1)
	if got := s.RecomputeQuestProgress(); got != 100 {
		t.Fatalf("percent=%d want 100", got)
	}
	if q.Status != QuestCompleted {
		t.Fatalf("status=%s want COMPLETED", q.Status)
	}
	if s.StockpileCount("cedar") != 0 || s.StockpileCount("resin") != 0 {
		t.Fatalf("stockpile not debited: %v", s.Stockpile())
	}
}

func TestBottleneckPercent_Edges(t *testing.T) {
	cases := []struct {
		recipe map[string]int
		have   map[string]int
		want   int
	}{
		{map[string]int{}, map[string]int{"cedar": 9}, 0},
		{map[string]int{"cedar": 4}, map[string]int{"cedar": 40}, 100},
		{map[string]int{"cedar": 4, "reed": 0}, map[string]int{"cedar": 1}, 25},
		{map[string]int{"cedar": 3, "resin": 3}, map[string]int{"cedar": 3}, 0},
	}
	for i, c := range cases {
		if got := BottleneckPercent(c.recipe, c.have); got != c.want {
			t.Fatalf("case %d: got %d want %d", i, got, c.want)
		}
	}
}

func TestSetActiveQuest_DiscardsIncomplete(t *testing.T) {
	s, _ := newTestState(t)
	first := s.StartQuest("A", map[string]int{"cedar": 5})
	s.AdjustStockpile("cedar", 2)
	s.StartQuest("B", map[string]int{"reed": 1})
	if first.Status != QuestActive {
		t.Fatalf("incomplete quest should be discarded, not completed: %s", first.Status)
	}
	if s.StockpileCount("cedar") != 2 {
		t.Fatalf("stockpile debited for an incomplete quest")
	}
	if s.Quest().Name != "B" || s.QuestsStarted() != 2 {
		t.Fatalf("active=%s started=%d", s.Quest().Name, s.QuestsStarted())
	}
}

func TestDonate_RecomputesQuest(t *testing.T) {
	s, _ := newTestState(t)
	s.AddPlayer("p1", "Ash")
	s.StartQuest("A", map[string]int{"cedar": 4})
	if !s.Donate("p1", "cedar", 2) {
		t.Fatalf("donate failed")
	}
	if s.Quest().Percent != 50 {
		t.Fatalf("percent=%d", s.Quest().Percent)
	}
	if s.Donate("p1", "cedar", 1) {
		t.Fatalf("donated more than held")
	}
}

func TestOffer_AcceptConservesInventory(t *testing.T) {
	s, _ := newTestState(t)
	s.AddPlayer("a", "Ash")
	s.AddPlayer("b", "Birch")
	s.Gather("b", "resin", 3)

	o, ok := s.CreateOffer("a", ItemQty{"cedar", 2}, ItemQty{"resin", 3})
	if !ok {
		t.Fatalf("create offer failed")
	}
	before := s.Player("a").Inventory["cedar"] + s.Player("b").Inventory["cedar"]
	beforeR := s.Player("a").Inventory["resin"] + s.Player("b").Inventory["resin"]
	if !s.AcceptOffer(o.ID, "b") {
		t.Fatalf("accept failed")
	}
	after := s.Player("a").Inventory["cedar"] + s.Player("b").Inventory["cedar"]
	afterR := s.Player("a").Inventory["resin"] + s.Player("b").Inventory["resin"]
	if before != after || beforeR != afterR {
		t.Fatalf("conservation broken: cedar %d->%d resin %d->%d", before, after, beforeR, afterR)
	}
	if s.Player("a").Inventory["resin"] != 3 || s.Player("b").Inventory["cedar"] != 4 {
		t.Fatalf("swap wrong: a=%v b=%v", s.Player("a").Inventory, s.Player("b").Inventory)
	}
	if o.Status != OfferCompleted || o.AcceptedBy != "b" {
		t.Fatalf("offer=%+v", o)
	}
	if s.AcceptOffer(o.ID, "b") {
		t.Fatalf("completed offer accepted twice")
	}
}

func TestOffer_InsufficientIsNoop(t *testing.T) {
	s, _ := newTestState(t)
	s.AddPlayer("a", "Ash")
	s.AddPlayer("b", "Birch")
	o, _ := s.CreateOffer("a", ItemQty{"cedar", 2}, ItemQty{"honey", 1})
	if s.AcceptOffer(o.ID, "b") {
		t.Fatalf("accepter without honey succeeded")
	}
	if s.Player("a").Inventory["cedar"] != 2 || s.Player("b").Inventory["cedar"] != 2 {
		t.Fatalf("partial mutation")
	}
	if o.Status != OfferOpen {
		t.Fatalf("status=%s", o.Status)
	}
	if s.CancelOffer(o.ID, "b") {
		t.Fatalf("non-owner cancelled")
	}
	if !s.CancelOffer(o.ID, "a") || o.Status != OfferCancelled {
		t.Fatalf("owner cancel failed")
	}
}

func TestExpireStaleOffers(t *testing.T) {
	s, clk := newTestState(t)
	s.AddPlayer("a", "Ash")
	old, _ := s.CreateOffer("a", ItemQty{"cedar", 1}, ItemQty{"reed", 1})
	clk.Advance(10 * time.Minute)
	fresh, _ := s.CreateOffer("a", ItemQty{"cedar", 1}, ItemQty{"reed", 1})
	expired := s.ExpireStaleOffers(5 * time.Minute)
	if len(expired) != 1 || expired[0].ID != old.ID {
		t.Fatalf("expired=%v", expired)
	}
	if fresh.Status != OfferOpen || old.Status != OfferCancelled {
		t.Fatalf("statuses old=%s fresh=%s", old.Status, fresh.Status)
	}
}

func TestVote_CastRules(t *testing.T) {
	s, _ := newTestState(t)
	s.AddPlayer("a", "Ash")
	if s.CastVote("a", "yes") {
		t.Fatalf("cast without vote")
	}
	if _, ok := s.OpenVote("Winter store", []string{"Cedar", "cedar"}); ok {
		t.Fatalf("duplicate options must not count twice")
	}
	v, ok := s.OpenVote("Winter store", []string{"Cedar", "Honey"})
	if !ok {
		t.Fatalf("open vote failed")
	}
	if _, ok := s.OpenVote("Another", []string{"x", "y"}); ok {
		t.Fatalf("second open vote allowed")
	}
	if s.CastVote("a", "gold") {
		t.Fatalf("invalid option accepted")
	}
	if !s.CastVote("a", "honey") || v.Tally["a"] != "Honey" {
		t.Fatalf("tally=%v", v.Tally)
	}
	if s.CastVote("a", "cedar") {
		t.Fatalf("double vote accepted")
	}
	if s.CastVote("ghost", "cedar") {
		t.Fatalf("unknown player voted")
	}
	counts := s.CloseVote(CloseTimer, "", "")
	if counts["Honey"] != 1 || counts["Cedar"] != 0 {
		t.Fatalf("counts=%v", counts)
	}
	if v.Status != VoteClosed || v.CanVote || v.Winner != "Honey" || v.Decision == "" {
		t.Fatalf("closed vote=%+v", v)
	}
	if s.CastVote("a", "cedar") {
		t.Fatalf("cast after close")
	}
}

func TestVote_QuorumBoundary(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5} {
		t.Run(fmt.Sprintf("players=%d", n), func(t *testing.T) {
			s, _ := newTestState(t)
			for i := 0; i < n; i++ {
				s.AddPlayer(fmt.Sprintf("p%d", i), "")
			}
			v, _ := s.OpenVote("Path", []string{"north", "south"})
			need := (n + 1) / 2
			for i := 0; i < need-1; i++ {
				s.CastVote(fmt.Sprintf("p%d", i), "north")
			}
			if _, closed := s.EvaluateVote(); closed {
				t.Fatalf("closed with %d of %d voters", need-1, n)
			}
			s.CastVote(fmt.Sprintf("p%d", need-1), "south")
			reason, closed := s.EvaluateVote()
			if !closed || reason != CloseQuorum {
				t.Fatalf("expected quorum close at %d of %d", need, n)
			}
			if v.Decision == "" {
				t.Fatalf("decision card missing")
			}
		})
	}
}

func TestVote_TimerClose(t *testing.T) {
	s, clk := newTestState(t)
	s.AddPlayer("a", "")
	s.AddPlayer("b", "")
	s.AddPlayer("c", "")
	v, _ := s.OpenVote("Path", []string{"north", "south"})
	clk.Advance(59 * time.Second)
	if _, closed := s.EvaluateVote(); closed {
		t.Fatalf("closed before deadline")
	}
	clk.Advance(time.Second)
	if reason, closed := s.EvaluateVote(); !closed || reason != CloseTimer {
		t.Fatalf("reason=%s closed=%v", reason, closed)
	}
	if v.Winner != "" {
		t.Fatalf("winner without votes: %q", v.Winner)
	}
}

func TestVote_LeaderTie(t *testing.T) {
	v := &Vote{Options: []string{"a", "b"}, Tally: map[string]string{"p1": "a", "p2": "b"}}
	if w, ok := v.Leader(); !ok || w != "a" {
		t.Fatalf("tie must fall to declared order, got %q %v", w, ok)
	}
}

func TestReplaceTally_FiltersInvalid(t *testing.T) {
	s, _ := newTestState(t)
	v, _ := s.OpenVote("Path", []string{"north", "south"})
	v.Tally["old"] = "north"
	n := s.ReplaceTally(map[string]string{"p1": "SOUTH", "p2": "east", "": "north"})
	if n != 1 || len(v.Tally) != 1 || v.Tally["p1"] != "south" {
		t.Fatalf("tally=%v n=%d", v.Tally, n)
	}
}

func TestStones_CapEvictsOldest(t *testing.T) {
	s, _ := newTestState(t)
	var first string
	for i := 0; i < MaxStones+3; i++ {
		st := &MemoryStone{Title: fmt.Sprintf("stone %d", i)}
		s.AddMemoryStone(st)
		if i == 0 {
			first = st.ID
		}
		if s.StoneCount() > MaxStones {
			t.Fatalf("cap exceeded: %d", s.StoneCount())
		}
	}
	if s.Stone(first) != nil {
		t.Fatalf("oldest stone survived")
	}
	if got := s.Stones()[0].Title; got != "stone 3" {
		t.Fatalf("oldest remaining=%q", got)
	}
}

func TestJournals_Promotion(t *testing.T) {
	s, _ := newTestState(t)
	s.AddPlayer("a", "Ash")
	if _, ok := s.SubmitJournal("a", "   "); ok {
		t.Fatalf("blank journal accepted")
	}
	j, ok := s.SubmitJournal("a", "The river froze early.")
	if !ok {
		t.Fatalf("submit failed")
	}
	if len(s.PendingJournals()) != 1 {
		t.Fatalf("pending=%d", len(s.PendingJournals()))
	}
	if !s.MarkJournalPromoted(j.ID, "ST1") || s.MarkJournalPromoted(j.ID, "ST2") {
		t.Fatalf("promotion must happen once")
	}
	if len(s.PendingJournals()) != 0 || j.StoneID != "ST1" {
		t.Fatalf("journal=%+v", j)
	}
}

func TestRing_PrependCapDigest(t *testing.T) {
	r := NewRing(3)
	for _, s := range []string{"a", "b", "c", "d"} {
		r.Push(s)
	}
	got := r.Items()
	if len(got) != 3 || got[0] != "d" || got[2] != "b" {
		t.Fatalf("items=%v", got)
	}
	d := Digest([]string{" x ", "x", "", "y", "z"}, 2)
	if len(d) != 2 || d[0] != "x" || d[1] != "y" {
		t.Fatalf("digest=%v", d)
	}
}

func TestNoteMessage_SoftThenHard(t *testing.T) {
	s, clk := newTestState(t)
	s.AddPlayer("a", "Ash")
	want := []rates.Verdict{rates.Allowed, rates.Allowed, rates.Soft, rates.Hard}
	for i, w := range want {
		if got := s.NoteMessage("a"); got != w {
			t.Fatalf("msg %d: got %s want %s", i, got, w)
		}
	}
	if !s.Player("a").OnCooldown(clk.Now()) {
		t.Fatalf("hard verdict must set cooldown")
	}
	clk.Advance(31 * time.Second)
	if s.Player("a").OnCooldown(clk.Now()) {
		t.Fatalf("cooldown did not expire")
	}
	if got := s.NoteMessage("a"); got != rates.Allowed {
		t.Fatalf("window should reset, got %s", got)
	}
}

func TestSnapshot_Detached(t *testing.T) {
	s, _ := newTestState(t)
	s.AddPlayer("a", "Ash")
	s.StartQuest("A", map[string]int{"cedar": 2})
	snap := s.Snapshot()
	snap.Players[0].Inventory["cedar"] = 99
	snap.Quest.Recipe["cedar"] = 99
	if s.Player("a").Inventory["cedar"] != 2 || s.Quest().Recipe["cedar"] != 2 {
		t.Fatalf("snapshot aliases live state")
	}
	if snap.Vote != nil || len(snap.Offers) != 0 {
		t.Fatalf("unexpected vote/offers in snapshot")
	}
}
