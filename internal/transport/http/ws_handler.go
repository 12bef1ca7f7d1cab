package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"word-guess-service/internal/app"
	"word-guess-service/internal/domain"
)

// WSHandler runs the per-connection protocol loop: it authenticates inbound
// identities, dispatches frames into the owning session and writes the
// replies and broadcasts back out.
type WSHandler struct {
	registry *app.Registry
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *app.Registry) *WSHandler {
	return &WSHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// inboundFrame is the flat wire form of every client frame, discriminated by
// Type.
type inboundFrame struct {
	Type     string    `json:"type"`
	User     uuid.UUID `json:"user"`
	IsPlayer bool      `json:"is_player"`
	Nickname string    `json:"nickname"`
	Text     string    `json:"text"`
}

// ServeWS upgrades the connection and runs the receive loop for one client.
// An unknown session id is rejected before the upgrade.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID, err := strconv.Atoi(ps.ByName("game_id"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}
	session, ok := h.registry.Get(gameID)
	if !ok {
		http.Error(w, "unknown game id", http.StatusNotFound)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	conn := session.Attach()
	defer session.Detach(conn)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for payload := range conn.Outbound() {
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	for {
		// A client that connects after the chain completed still learns
		// where to go next.
		if session.State() == domain.StateRedirected {
			_ = conn.Send(domain.Redirect{Type: "redirect", GameID: session.SuccessorID()})
		}

		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		h.dispatch(r, session, conn, raw)
	}

	session.Detach(conn)
	<-writerDone
}

// dispatch handles one inbound frame. Malformed frames and rule violations
// only ever produce a private notice to the sender.
func (h *WSHandler) dispatch(r *http.Request, session *app.Session, conn *app.Conn, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		_ = conn.Send(domain.Response{Type: "response", Text: "could not parse the message."})
		return
	}

	switch frame.Type {
	case "join_declare":
		session.Join(conn, frame.User, frame.IsPlayer, frame.Nickname)

	case "ready":
		session.Ready(frame.User)

	case "question":
		record, err := session.AskQuestion(r.Context(), frame.User, frame.Text)
		if err != nil {
			_ = conn.Send(domain.Response{Type: "response", Text: noticeFor(err)})
			return
		}
		_ = conn.Send(domain.Response{Type: "response", Text: fmt.Sprintf("reply: %s (%s)", record.Title, record.Reply)})

	case "answer":
		record, err := session.SubmitAnswer(r.Context(), frame.User, frame.Text)
		if err != nil {
			_ = conn.Send(domain.Response{Type: "response", Text: noticeFor(err)})
			return
		}
		_ = conn.Send(domain.Response{Type: "response", Text: "verdict: " + record.Judge})

	default:
		_ = conn.Send(domain.Response{Type: "response", Text: "unsupported message type."})
	}
}

// noticeFor translates session errors into the private notice text.
func noticeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotPlaying):
		return "the game is not in progress."
	case errors.Is(err, domain.ErrNoQuestionsLeft):
		return "no questions remaining."
	case errors.Is(err, domain.ErrNoAnswersLeft):
		return "no answers remaining."
	case errors.Is(err, domain.ErrAlreadyCorrect):
		return "you already answered correctly."
	case errors.Is(err, domain.ErrUnknownParticipant):
		return "declare a join before playing."
	default:
		return fmt.Sprintf("the judge could not process the request: %v", err)
	}
}
