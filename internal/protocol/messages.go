package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	Passcode        string `json:"passcode"`
	// PlayerID resumes an earlier session when set.
	PlayerID string `json:"player_id,omitempty"`
	MaxQueue int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	PlayerID        string         `json:"player_id"`
	Name            string         `json:"name"`
	Resources       []string       `json:"resources"`
	Inventory       map[string]int `json:"inventory"`
	Tick            uint64         `json:"tick"`
}

type ItemQty struct {
	Resource string `json:"resource"`
	Quantity int    `json:"quantity"`
}

// ACT (client -> server). Which fields matter depends on Action.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActID           string `json:"act_id,omitempty"`
	Action          string `json:"action"`

	Text     string   `json:"text,omitempty"`
	Resource string   `json:"resource,omitempty"`
	Quantity int      `json:"quantity,omitempty"`
	To       string   `json:"to,omitempty"`
	OfferID  string   `json:"offer_id,omitempty"`
	Give     *ItemQty `json:"give,omitempty"`
	Want     *ItemQty `json:"want,omitempty"`
	Option   string   `json:"option,omitempty"`
	Topic    string   `json:"topic,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// ACTION_RESULT (server -> client)
type ActionResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActID           string `json:"act_id,omitempty"`
	Action          string `json:"action"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	// Ref is the id of anything the action created (offer, vote, journal).
	Ref string `json:"ref,omitempty"`
}

// CHAT (server -> clients)
type ChatMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	Name            string `json:"name"`
	Text            string `json:"text"`
	At              int64  `json:"at"`
}

// ELDER (server -> clients)
type ElderMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Mode            string `json:"mode"`
	Message         string `json:"message"`
	Nudge           string `json:"nudge"`
}

// STATE (server -> clients), sent after every tick.
type StateMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Tick            uint64         `json:"tick"`
	Stockpile       map[string]int `json:"stockpile"`
	Players         []PlayerState  `json:"players"`
	Quest           *QuestState    `json:"quest"`
	Vote            *VoteState     `json:"vote"`
	Offers          []OfferState   `json:"offers"`
	Stones          []StoneState   `json:"stones"`
	LastElder       string         `json:"last_elder,omitempty"`
}

type PlayerState struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Inventory map[string]int `json:"inventory"`
	Cooldown  int64          `json:"cooldown_until,omitempty"`
}

type QuestState struct {
	Name    string         `json:"name"`
	Recipe  map[string]int `json:"recipe"`
	Percent int            `json:"percent"`
	Status  string         `json:"status"`
}

type VoteState struct {
	ID       string         `json:"id"`
	Topic    string         `json:"topic"`
	Options  []string       `json:"options"`
	Counts   map[string]int `json:"counts"`
	Status   string         `json:"status"`
	ClosesAt int64          `json:"closes_at"`
	Winner   string         `json:"winner,omitempty"`
	Decision string         `json:"decision,omitempty"`
}

type OfferState struct {
	ID   string  `json:"id"`
	From string  `json:"from"`
	Give ItemQty `json:"give"`
	Want ItemQty `json:"want"`
}

type StoneState struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
