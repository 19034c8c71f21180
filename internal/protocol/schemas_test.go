package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"elderwood.ai/internal/protocol"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// roundTrip marshals a typed message and decodes it as a generic value the
// way a client would see it.
func roundTrip(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile(t, "hello.schema.json")
	welcomeSchema := compile(t, "welcome.schema.json")
	actSchema := compile(t, "act.schema.json")
	stateSchema := compile(t, "state.schema.json")
	errorSchema := compile(t, "error.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "name":"Ash",
	  "passcode":"hearth",
	  "max_queue":8
	}`), &hello)
	validate(helloSchema, hello)

	validate(welcomeSchema, roundTrip(t, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        "0190b7c2-8f1e-7c3a-9d4e-2a1b3c4d5e6f",
		Name:            "Ash",
		Resources:       []string{"cedar", "resin"},
		Inventory:       map[string]int{"cedar": 2, "resin": 0},
	}))

	acts := []string{
		`{"type":"ACT","protocol_version":"1.0","action":"SAY","text":"@elder hello?"}`,
		`{"type":"ACT","protocol_version":"1.0","action":"GATHER","resource":"cedar"}`,
		`{"type":"ACT","protocol_version":"1.0","action":"GIFT","resource":"cedar","quantity":1,"to":"p2"}`,
		`{"type":"ACT","protocol_version":"1.0","action":"OFFER","give":{"resource":"cedar","quantity":2},"want":{"resource":"resin","quantity":1}}`,
		`{"type":"ACT","protocol_version":"1.0","action":"ACCEPT","offer_id":"OF000001"}`,
		`{"type":"ACT","protocol_version":"1.0","action":"VOTE_OPEN","topic":"Path","options":["north","south"]}`,
		`{"type":"ACT","protocol_version":"1.0","action":"JOURNAL","text":"The river froze."}`,
	}
	for _, a := range acts {
		var v any
		_ = json.Unmarshal([]byte(a), &v)
		validate(actSchema, v)
	}

	validate(stateSchema, roundTrip(t, protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            3,
		Stockpile:       map[string]int{"cedar": 4},
		Players:         []protocol.PlayerState{{ID: "p1", Name: "Ash", Inventory: map[string]int{"cedar": 1}}},
		Quest:           &protocol.QuestState{Name: "Longhouse", Recipe: map[string]int{"cedar": 6}, Percent: 66, Status: "ACTIVE"},
		Offers:          []protocol.OfferState{},
		Stones:          []protocol.StoneState{},
	}))

	validate(errorSchema, roundTrip(t, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            protocol.ErrAuth,
		Message:         "bad passcode",
	}))
}

func TestSchemas_RejectBadAct(t *testing.T) {
	actSchema := compile(t, "act.schema.json")
	bad := []string{
		`{"type":"ACT","protocol_version":"1.0","action":"FLY"}`,
		`{"type":"ACT","protocol_version":"1.0","action":"SAY"}`,
		`{"type":"ACT","protocol_version":"1.0","action":"OFFER","give":{"resource":"cedar","quantity":0},"want":{"resource":"resin","quantity":1}}`,
		`{"type":"ACT","protocol_version":"1.0","action":"VOTE_OPEN","topic":"Path","options":["north"]}`,
	}
	for _, a := range bad {
		var v any
		_ = json.Unmarshal([]byte(a), &v)
		if err := actSchema.Validate(v); err == nil {
			t.Fatalf("expected rejection: %s", a)
		}
	}
}
