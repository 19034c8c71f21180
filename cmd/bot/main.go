package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"elderwood.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "villager name")
		passcode = flag.String("passcode", "hearth", "shared passcode")
		resume   = flag.String("player_id", "", "resume an existing player id")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            *name,
		Passcode:        *passcode,
		PlayerID:        *resume,
		MaxQueue:        32,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{conn: conn, logger: logger, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			b.id = w.PlayerID
			logger.Printf("WELCOME player_id=%s tick=%d resources=%v", w.PlayerID, w.Tick, w.Resources)

		case protocol.TypeElder:
			var e protocol.ElderMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				logger.Printf("ELDER [%s] %s %s", e.Mode, e.Message, e.Nudge)
			}

		case protocol.TypeError, protocol.TypeActionResult:
			logger.Printf("%s", msg)

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			b.onState(&st)
		}
	}
}

type bot struct {
	conn   *websocket.Conn
	logger *log.Logger
	rng    *rand.Rand

	id     string
	seq    int
	voted  map[string]bool
	states int
}

func (b *bot) act(a protocol.ActMsg) {
	b.seq++
	a.Type = protocol.TypeAct
	a.ProtocolVersion = protocol.Version
	a.ActID = fmt.Sprintf("bot-%d", b.seq)
	_ = b.conn.WriteJSON(a)
}

// onState plays one move: vote if a vote is open, otherwise feed the quest.
func (b *bot) onState(st *protocol.StateMsg) {
	b.states++
	if v := st.Vote; v != nil && v.Status == "OPEN" && !b.voted[v.ID] && len(v.Options) > 0 {
		if b.voted == nil {
			b.voted = map[string]bool{}
		}
		b.voted[v.ID] = true
		b.act(protocol.ActMsg{Action: protocol.ActVote, Option: v.Options[b.rng.Intn(len(v.Options))]})
		return
	}

	if b.states%5 == 0 {
		b.act(protocol.ActMsg{Action: protocol.ActSay, Text: "@elder what does the village need most?"})
		return
	}

	q := st.Quest
	if q == nil || q.Status != "ACTIVE" {
		return
	}
	var inv map[string]int
	for _, p := range st.Players {
		if p.ID == b.id {
			inv = p.Inventory
		}
	}
	needs := make([]string, 0, len(q.Recipe))
	for r, n := range q.Recipe {
		if st.Stockpile[r] < n {
			needs = append(needs, r)
		}
	}
	sort.Strings(needs)
	for _, r := range needs {
		if inv[r] > 0 {
			b.act(protocol.ActMsg{Action: protocol.ActDonate, Resource: r, Quantity: inv[r]})
			return
		}
	}
	if len(needs) > 0 {
		b.act(protocol.ActMsg{Action: protocol.ActGather, Resource: needs[b.rng.Intn(len(needs))]})
	}
}
