package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello        = "HELLO"
	TypeWelcome      = "WELCOME"
	TypeAct          = "ACT"
	TypeActionResult = "ACTION_RESULT"
	TypeChat         = "CHAT"
	TypeElder        = "ELDER"
	TypeState        = "STATE"
	TypeError        = "ERROR"
)

// Player actions carried by ACT.
const (
	ActSay      = "SAY"
	ActGather   = "GATHER"
	ActGift     = "GIFT"
	ActDonate   = "DONATE"
	ActOffer    = "OFFER"
	ActAccept   = "ACCEPT"
	ActCancel   = "CANCEL"
	ActVote     = "VOTE"
	ActVoteOpen = "VOTE_OPEN"
	ActJournal  = "JOURNAL"
)

var knownActions = map[string]struct{}{
	ActSay:      {},
	ActGather:   {},
	ActGift:     {},
	ActDonate:   {},
	ActOffer:    {},
	ActAccept:   {},
	ActCancel:   {},
	ActVote:     {},
	ActVoteOpen: {},
	ActJournal:  {},
}

func IsKnownAction(a string) bool {
	_, ok := knownActions[a]
	return ok
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
