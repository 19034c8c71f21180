package patch

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"elderwood.ai/internal/sim/village"
)

// Normalize turns a raw decision-service response into a Patch. raw may be
// a string or []byte holding JSON (possibly wrapped in prose), a
// json.RawMessage, or any value encoding/json can marshal. Normalize never
// fails: unusable input yields Skeleton, and each section degrades on its
// own.
func Normalize(raw any, tc TickContext) Patch {
	root, ok := parseRoot(raw)
	if !ok {
		return Skeleton()
	}
	p := Skeleton()
	p.Cadence = normCadence(root.Get("cadence"), tc)
	p.Vote = normVote(root.Get("vote"))
	p.Resources = normResources(root.Get("resources"))
	p.Trades = normTrades(root.Get("trades"))
	p.Archive = normArchive(root.Get("archive"), tc)
	p.Safety = normSafety(root.Get("safety"))
	p.Elder = normElder(root)
	return p
}

func parseRoot(raw any) (gjson.Result, bool) {
	var text string
	switch v := raw.(type) {
	case nil:
		return gjson.Result{}, false
	case string:
		text = v
	case []byte:
		text = string(v)
	case json.RawMessage:
		text = string(v)
	case gjson.Result:
		text = v.Raw
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return gjson.Result{}, false
		}
		text = string(b)
	}
	obj, ok := extractObject(text)
	if !ok || !gjson.Valid(obj) {
		return gjson.Result{}, false
	}
	root := gjson.Parse(obj)
	if !root.IsObject() {
		return gjson.Result{}, false
	}
	return root, true
}

func normMode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "CALL_RESPONSE", "CALLRESPONSE", "CALL", "QUESTION", "ANSWER", "RESPONSE":
		return ModeCallResponse
	case "EVENT", "EVENTS":
		return ModeEvent
	case "PULSE", "AMBIENT":
		return ModePulse
	}
	return s
}

func normCadence(c gjson.Result, tc TickContext) Cadence {
	out := Cadence{}
	if !c.IsObject() {
		return out
	}
	if b, ok := boolean(first(c, "should_elder_speak", "should_speak", "speak")); ok {
		out.ShouldElderSpeak = b
	}
	if m := str(first(c, "mode")); m != "" {
		out.Mode = normMode(m)
		out.ShouldElderSpeak = true
	}
	out.Reason = str(first(c, "reason", "why"))
	if f, ok := num(first(c, "cooldown_seconds", "cooldown", "cooldownSeconds")); ok && f > 0 {
		out.CooldownSeconds = clampCooldown(f)
	}
	if out.Mode == ModeCallResponse {
		if q := strings.TrimSpace(tc.Question); q != "" {
			out.Question = &q
		}
	} else {
		out.Question = optStr(first(c, "question"))
	}
	return out
}

// NormCloseReason maps loose spellings onto TIMER or QUORUM.
func NormCloseReason(s string) (village.CloseReason, bool) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, s)
	switch {
	case s == "":
		return "", false
	case strings.Contains(s, "QUOR") || strings.Contains(s, "MAJORITY"):
		return village.CloseQuorum, true
	case strings.Contains(s, "TIME") || strings.Contains(s, "DEADLINE") || strings.Contains(s, "EXPIR"):
		return village.CloseTimer, true
	}
	return "", false
}

func normVote(v gjson.Result) Vote {
	out := Vote{Tally: map[string]string{}, TallyCounts: map[string]int{}}
	if !v.IsObject() {
		return out
	}
	switch strings.ToUpper(str(first(v, "status", "state"))) {
	case "OPEN", "ACTIVE", "OPENED":
		out.Status = string(village.VoteOpen)
	case "CLOSED", "CLOSE", "ENDED", "DONE":
		out.Status = string(village.VoteClosed)
	}
	if t := first(v, "tally", "votes"); t.IsObject() || t.IsArray() {
		out.HasTally = true
		readTally(t, &out)
	}
	if r, ok := NormCloseReason(str(first(v, "close_reason", "closed_reason", "reason"))); ok {
		out.CloseReason = &r
	}
	out.Winner = str(first(v, "winner", "winning_option", "result"))
	out.Decision = str(first(v, "decision", "decision_card", "summary"))
	return out
}

// readTally accepts {voter: option}, {option: count} or
// [{voter, option}] and splits them into the two shapes.
func readTally(t gjson.Result, out *Vote) {
	if t.IsArray() {
		for _, it := range t.Array() {
			voter := str(first(it, "voter", "player", "player_id", "playerId", "id"))
			opt := str(first(it, "option", "choice", "vote"))
			if voter != "" && opt != "" {
				out.Tally[voter] = opt
			}
		}
		return
	}
	t.ForEach(func(k, val gjson.Result) bool {
		key := strings.TrimSpace(k.String())
		if key == "" {
			return true
		}
		if val.Type == gjson.Number {
			if f, ok := num(val); ok && f >= 0 {
				out.TallyCounts[key] = int(f)
			}
			return true
		}
		if s := str(val); s != "" {
			out.Tally[key] = s
		}
		return true
	})
}

func normResources(r gjson.Result) Resources {
	out := Resources{Needs: []village.Need{}}
	if !r.IsObject() {
		return out
	}
	if f, ok := num(first(r, "quest_percent", "questPercent", "percent", "progress")); ok {
		out.HasPercent = true
		out.QuestPercent = f
	}
	out.Needs = readNeeds(first(r, "needs", "quest_needs"))

	tc := first(r, "threshold_crossed", "thresholdCrossed", "crossed")
	if f, ok := num(tc); ok && tc.Type == gjson.Number {
		out.ThresholdCrossed = true
		n := int64(math.Floor(f))
		out.CrossedAt = &n
	} else if b, ok := boolean(tc); ok {
		out.ThresholdCrossed = b
		if b {
			if f, ok := num(first(r, "crossed_at", "crossedAt")); ok {
				n := int64(math.Floor(f))
				out.CrossedAt = &n
			}
		}
	}
	return out
}

func readNeeds(n gjson.Result) []village.Need {
	out := []village.Need{}
	switch {
	case n.IsObject():
		n.ForEach(func(k, v gjson.Result) bool {
			q, _ := num(v)
			if name := strings.TrimSpace(k.String()); name != "" {
				out = append(out, village.Need{Resource: name, Quantity: nonNegInt(q)})
			}
			return true
		})
		sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	case n.IsArray():
		for _, it := range n.Array() {
			if it.IsObject() {
				name := str(first(it, "resource", "name", "item"))
				q, _ := num(first(it, "quantity", "qty", "amount", "count"))
				if name != "" {
					out = append(out, village.Need{Resource: name, Quantity: nonNegInt(q)})
				}
				continue
			}
			if name := str(it); name != "" {
				out = append(out, village.Need{Resource: name})
			}
		}
	}
	return out
}

func nonNegInt(f float64) int {
	if f <= 0 {
		return 0
	}
	return int(math.Floor(f))
}

func normTrades(t gjson.Result) Trades {
	out := Trades{Resolve: []TradeDirective{}}
	list := t
	if t.IsObject() {
		list = first(t, "resolutions", "resolve", "resolved", "results")
	}
	if !list.IsArray() {
		return out
	}
	for _, it := range list.Array() {
		if !it.IsObject() {
			continue
		}
		if !strings.EqualFold(str(first(it, "status", "result", "outcome")), "COMPLETED") {
			continue
		}
		out.Resolve = append(out.Resolve, TradeDirective{
			Kind:    KindResolve,
			OfferID: str(first(it, "offer_id", "offerId", "offer", "id")),
			From:    str(first(it, "from", "from_player", "offerer")),
			To:      str(first(it, "to", "to_player", "accepter", "by")),
		})
	}
	return out
}

func normArchive(a gjson.Result, tc TickContext) Archive {
	out := Archive{Promote: []NewStone{}, PruneIDs: []string{}, Merge: []MergePair{}}
	if !a.IsObject() {
		return out
	}
	byJournal := map[string]bool{}
	if ns := first(a, "new_stones", "stones", "add"); ns.IsArray() {
		for _, it := range ns.Array() {
			if !it.IsObject() {
				continue
			}
			st := NewStone{
				JournalID: str(first(it, "journal_id", "journalId", "journal", "id")),
				Title:     str(first(it, "title", "name")),
				Text:      str(first(it, "text", "body", "content")),
				Tags:      strList(first(it, "tags", "labels")),
			}
			if st.JournalID != "" {
				if byJournal[st.JournalID] {
					continue
				}
				byJournal[st.JournalID] = true
			}
			out.Promote = append(out.Promote, st)
		}
	}
	for _, id := range strList(first(a, "promote_ids", "promote", "promoted", "promotions"), "journal_id", "id") {
		if byJournal[id] {
			continue
		}
		byJournal[id] = true
		out.Promote = append(out.Promote, NewStone{JournalID: id, Tags: []string{}})
	}
	for i := range out.Promote {
		backfill(&out.Promote[i], tc)
	}

	out.PruneIDs = appendUnique(out.PruneIDs, map[string]bool{},
		strList(first(a, "prune_ids", "prune", "remove_ids", "evict_ids"), "stone_id", "id")...)

	if m := first(a, "merge", "merge_pairs", "merges"); m.IsArray() {
		for _, it := range m.Array() {
			var mp MergePair
			switch {
			case it.IsArray():
				ids := strList(it)
				if len(ids) < 2 {
					continue
				}
				mp.First, mp.Second = ids[0], ids[1]
			case it.IsObject():
				if ids := strList(first(it, "ids", "stone_ids", "pair")); len(ids) >= 2 {
					mp.First, mp.Second = ids[0], ids[1]
				} else {
					mp.First = str(first(it, "first", "a", "left", "from"))
					mp.Second = str(first(it, "second", "b", "right", "into"))
				}
				mp.Title = str(first(it, "title", "name"))
				mp.Text = str(first(it, "text", "body", "content"))
				mp.Tags = strList(first(it, "tags", "labels"))
			default:
				continue
			}
			if mp.First == "" || mp.Second == "" || mp.First == mp.Second {
				continue
			}
			if mp.Tags == nil {
				mp.Tags = []string{}
			}
			out.Merge = append(out.Merge, mp)
		}
	}
	return out
}

func backfill(st *NewStone, tc TickContext) {
	if st.Tags == nil {
		st.Tags = []string{}
	}
	if st.Text == "" {
		if txt, ok := tc.Journals[st.JournalID]; ok && strings.TrimSpace(txt) != "" {
			st.Text = strings.TrimSpace(txt)
		} else {
			st.Text = MissingText
		}
	}
	if st.Title == "" {
		st.Title = titleFrom(st.Text)
	}
}

// titleFrom takes the first few words of text.
func titleFrom(text string) string {
	words := strings.Fields(text)
	if len(words) > 6 {
		words = words[:6]
	}
	t := strings.TrimRight(strings.Join(words, " "), ".,;:!?")
	if t == "" {
		return MissingText
	}
	return t
}

func normSafety(s gjson.Result) Safety {
	out := Safety{Flags: []string{}, RateLimits: []RateLimit{}}
	if !s.IsObject() {
		return out
	}
	seen := map[string]bool{}
	for _, alias := range []string{"flags", "alerts", "warnings"} {
		out.Flags = appendUnique(out.Flags, seen, strList(s.Get(alias), "flag", "text", "message")...)
	}

	rl := first(s, "rate_limits", "ratelimits", "cooldowns")
	switch {
	case rl.IsArray():
		for _, it := range rl.Array() {
			id := str(first(it, "player_id", "playerId", "player", "id"))
			secs, ok := num(first(it, "cooldown_seconds", "cooldownSeconds", "cooldown", "seconds"))
			if id != "" && ok && secs > 0 {
				out.RateLimits = append(out.RateLimits, RateLimit{PlayerID: id, CooldownSeconds: clampCooldown(secs)})
			}
		}
	case rl.IsObject():
		rl.ForEach(func(k, v gjson.Result) bool {
			secs, ok := num(v)
			if id := strings.TrimSpace(k.String()); id != "" && ok && secs > 0 {
				out.RateLimits = append(out.RateLimits, RateLimit{PlayerID: id, CooldownSeconds: clampCooldown(secs)})
			}
			return true
		})
		sort.Slice(out.RateLimits, func(i, j int) bool { return out.RateLimits[i].PlayerID < out.RateLimits[j].PlayerID })
	}
	out.Notes = optStr(first(s, "notes", "elder_notes"))
	return out
}

func normElder(root gjson.Result) Elder {
	e := root.Get("elder")
	out := Elder{
		Location: str(first(e, "location", "place")),
		Mood:     str(first(e, "mood")),
	}
	if out.Location == "" {
		out.Location = str(first(root, "elder_location"))
	}
	return out
}
