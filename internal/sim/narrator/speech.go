package narrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"elderwood.ai/internal/sim/cadence"
	"elderwood.ai/internal/sim/remote"
)

const (
	NudgePrefix    = "Next:"
	DefaultMessage = "The Elder pokes the fire and listens to the village for a while."
	DefaultNudge   = "Next: bring what the quest still needs to the stockpile."
)

type Speech struct {
	Message string `json:"message"`
	Nudge   string `json:"nudge"`
}

// Text is the message followed by its nudge.
func (s Speech) Text() string {
	if s.Nudge == "" {
		return s.Message
	}
	return s.Message + " " + s.Nudge
}

// Sanitize enforces the speech contract: an empty message becomes the
// default message with the default nudge, and a nudge without the "Next:"
// prefix is replaced by the default nudge.
func Sanitize(s Speech) Speech {
	s.Message = strings.TrimSpace(s.Message)
	s.Nudge = strings.TrimSpace(s.Nudge)
	if s.Message == "" {
		return Speech{Message: DefaultMessage, Nudge: DefaultNudge}
	}
	if !strings.HasPrefix(s.Nudge, NudgePrefix) {
		s.Nudge = DefaultNudge
	}
	return s
}

type Narrator interface {
	Speak(ctx context.Context, in Input) (Speech, error)
}

// Resolver picks Live when a live narrator is configured and Deterministic
// otherwise. The choice is made per call; a live failure is returned as an
// error and never falls through to the deterministic branch.
type Resolver struct {
	Live Narrator
}

func (r Resolver) Strategy() remote.Strategy { return remote.Choose(r.Live != nil) }

func (r Resolver) Speak(ctx context.Context, in Input) (Speech, remote.Strategy, error) {
	s := r.Strategy()
	if s == remote.Deterministic {
		return Sanitize(Compose(in)), s, nil
	}
	sp, err := r.Live.Speak(ctx, in)
	if err != nil {
		return Speech{}, s, err
	}
	return Sanitize(sp), s, nil
}

// Compose is the deterministic narrator: a templated line from the
// context bundle. It has no side effects.
func Compose(in Input) Speech {
	var msg string
	switch in.Mode {
	case cadence.ModeCallResponse:
		msg = "You ask, and the Elder considers it."
		if in.Question != nil {
			msg = fmt.Sprintf("%q, you ask. The Elder strokes their beard.", *in.Question)
		}
		if in.Quest != nil && len(in.Quest.Needs) > 0 {
			msg += fmt.Sprintf(" %s waits on %s.", in.Quest.Name, strings.Join(in.Quest.Needs, ", "))
		}
	case cadence.ModeEvent:
		msg = "Something stirs in the village: " + in.Reason + "."
		if in.Vote != nil && in.Vote.Status == "OPEN" && in.Vote.ClosesIn > 0 {
			msg = fmt.Sprintf("The vote on %q closes in %d seconds.", in.Vote.Topic, in.Vote.ClosesIn)
		}
	default:
		switch {
		case len(in.Stones) > 0:
			s := in.Stones[len(in.Stones)-1]
			msg = fmt.Sprintf("The Elder remembers %q: %s", s.Title, s.Gist)
		case in.Quest != nil:
			msg = fmt.Sprintf("%s stands at %d%%.", in.Quest.Name, in.Quest.Percent)
		default:
			msg = DefaultMessage
		}
	}
	return Speech{Message: msg, Nudge: nudgeFor(in)}
}

func nudgeFor(in Input) string {
	switch {
	case in.Vote != nil && in.Vote.Status == "OPEN":
		return fmt.Sprintf("Next: cast your vote on %q.", in.Vote.Topic)
	case in.Quest != nil && in.Quest.Status == "ACTIVE" && len(in.Quest.Needs) > 0:
		return fmt.Sprintf("Next: gather %s for %s.", in.Quest.Needs[0], in.Quest.Name)
	case len(in.Stones) == 0:
		return "Next: write a journal so the village remembers today."
	}
	return DefaultNudge
}

// Live calls the narrator service over HTTP.
type Live struct {
	Client *remote.Client
}

func (l Live) Speak(ctx context.Context, in Input) (Speech, error) {
	b, err := l.Client.PostJSON(ctx, in)
	if err != nil {
		return Speech{}, err
	}
	var sp Speech
	if err := json.Unmarshal(b, &sp); err != nil {
		return Speech{}, fmt.Errorf("narrator: decode: %w", err)
	}
	return sp, nil
}
