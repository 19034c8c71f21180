// Package ws is the player transport: one websocket per villager, HELLO
// handshake with a shared passcode, then ACT messages in and broadcasts
// out.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"elderwood.ai/internal/protocol"
	"elderwood.ai/internal/sim/orchestrator"
)

const (
	defaultQueue = 32
	maxQueue     = 128

	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second

	// Pings go out inside readTimeout; each pong extends the read deadline.
	pingInterval = 25 * time.Second
)

// Village is the part of the orchestrator the transport talks to.
type Village interface {
	Join() chan<- orchestrator.JoinRequest
	Inbox() chan<- orchestrator.ActionEnvelope
	Leave() chan<- orchestrator.LeaveRequest
}

type Server struct {
	village  Village
	passcode string
	log      *log.Logger

	upgrader websocket.Upgrader

	pingEvery time.Duration
	readWait  time.Duration
}

// NewServer returns a transport for v. An empty passcode admits everyone.
func NewServer(v Village, passcode string, logger *log.Logger) *Server {
	return &Server{
		village:  v,
		passcode: passcode,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		pingEvery: pingInterval,
		readWait:  readTimeout,
	}
}

// WithKeepalive overrides the ping interval and the idle read deadline.
func (s *Server) WithKeepalive(ping, wait time.Duration) *Server {
	if ping > 0 {
		s.pingEvery = ping
	}
	if wait > 0 {
		s.readWait = wait
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		playerID, out := s.handshake(conn)
		if playerID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.readWait))
		})

		// Writer goroutine; the only data writer after the handshake.
		go func() {
			ping := time.NewTicker(s.pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
						cancel()
						return
					}
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			act, code, reason := decodeAct(msg)
			if code != "" {
				queue(out, errorMsg(code, reason))
				continue
			}
			s.village.Inbox() <- orchestrator.ActionEnvelope{PlayerID: playerID, Act: act}
		}

		s.village.Leave() <- orchestrator.LeaveRequest{PlayerID: playerID, Out: out}
		s.logf("disconnect: %s", playerID)
	}
}

func decodeAct(msg []byte) (protocol.ActMsg, string, string) {
	var act protocol.ActMsg
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return act, protocol.ErrProtoBadRequest, "invalid json"
	}
	if base.Type != protocol.TypeAct {
		return act, protocol.ErrProtoBadRequest, "expected ACT"
	}
	if err := json.Unmarshal(msg, &act); err != nil {
		return act, protocol.ErrProtoBadRequest, "malformed ACT"
	}
	if act.ProtocolVersion != protocol.Version {
		return act, protocol.ErrProtoBadRequest, "bad protocol_version"
	}
	act.Action = strings.ToUpper(strings.TrimSpace(act.Action))
	if !protocol.IsKnownAction(act.Action) {
		return act, protocol.ErrBadRequest, "unknown action"
	}
	return act, "", ""
}

func (s *Server) handshake(conn *websocket.Conn) (playerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "malformed HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", nil
	}
	if !s.admit(hello.Passcode) {
		_ = writeJSON(conn, errorMsg(protocol.ErrAuth, "wrong passcode"))
		closeWith(conn, "auth")
		s.logf("rejected hello from %q: bad passcode", hello.Name)
		return "", nil
	}

	name := strings.TrimSpace(hello.Name)
	if name == "" {
		name = "villager"
	}
	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = defaultQueue
	}
	if maxQ > maxQueue {
		maxQ = maxQueue
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan orchestrator.JoinResponse, 1)
	s.village.Join() <- orchestrator.JoinRequest{
		Name:     name,
		PlayerID: strings.TrimSpace(hello.PlayerID),
		Out:      out,
		Resp:     respCh,
	}
	resp := <-respCh

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.village.Leave() <- orchestrator.LeaveRequest{PlayerID: resp.Welcome.PlayerID, Out: out}
		return "", nil
	}
	s.logf("connect: %s (%s)", resp.Welcome.Name, resp.Welcome.PlayerID)
	return resp.Welcome.PlayerID, out
}

func (s *Server) admit(passcode string) bool {
	if s.passcode == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(passcode), []byte(s.passcode)) == 1
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func errorMsg(code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	}
}

// queue hands v to the writer goroutine, dropping it if the queue is full.
func queue(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
