package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"quizroom/internal/app"
	"quizroom/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSHandler is the gateway binding websocket connections to the game
// service. It owns the connection table and implements app.Notifier, so all
// broadcasts and unicasts from the core flow back out through it.
type WSHandler struct {
	service  *app.GameService
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*wsConn
}

type wsConn struct {
	send chan domain.Event
	done chan struct{}
}

func NewWSHandler() *WSHandler {
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*wsConn),
	}
}

// SetService wires the game service after construction; the handler is the
// service's notifier, so the two reference each other.
func (h *WSHandler) SetService(service *app.GameService) {
	h.service = service
}

// Send implements app.Notifier. It never blocks: when a slow client's buffer
// is full the oldest pending event is dropped in favor of the new one.
func (h *WSHandler) Send(connID string, event domain.Event) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case c.send <- event:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- event:
		default:
		}
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createRoomPayload struct {
	QuizID    string `json:"quizId"`
	HostToken string `json:"hostToken"`
}

type hostRoomPayload struct {
	RoomCode  string `json:"roomCode"`
	HostToken string `json:"hostToken"`
}

type joinRoomPayload struct {
	RoomCode      string `json:"roomCode"`
	Name          string `json:"name"`
	ParticipantID string `json:"participantId"`
}

type roomActionPayload struct {
	RoomCode string `json:"roomCode"`
}

type answerPayload struct {
	RoomCode    string `json:"roomCode"`
	AnswerIndex int    `json:"answerIndex"`
}

type leaveRoomPayload struct {
	RoomCode   string `json:"roomCode"`
	DeleteRoom bool   `json:"deleteRoom"`
}

// ServeWS upgrades the request and pumps messages between the socket and the
// game service. Each socket gets a fresh connection id; participant identity
// travels in the join payload and survives reconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	c := &wsConn{
		send: make(chan domain.Event, 32),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[connID] = c
	h.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case event := <-c.send:
				if err := conn.WriteJSON(event); err != nil {
					log.Printf("ws write error: %v", err)
					return
				}
			case <-c.done:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(connID, inbound)
	}

	h.mu.Lock()
	delete(h.conns, connID)
	h.mu.Unlock()
	h.service.HandleDisconnect(connID)

	close(c.done)
	<-writerDone
}

// dispatch routes one inbound envelope to the matching operation. Unexpected
// panics are confined to the offending request and answered with a generic
// internal error; the room and everyone else's session stay up.
func (h *WSHandler) dispatch(connID string, msg inboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic handling %q: %v", msg.Type, rec)
			h.sendError(connID, domain.ErrorPayload{
				Code:    domain.ErrorCodeInternal,
				Message: "internal error",
			})
		}
	}()

	switch msg.Type {
	case "create_room":
		var p createRoomPayload
		if !h.decode(connID, msg.Payload, &p) {
			return
		}
		if _, err := h.service.CreateRoom(context.Background(), p.QuizID, p.HostToken, connID); err != nil {
			h.reportError(connID, err)
		}
	case "host_room":
		var p hostRoomPayload
		if !h.decode(connID, msg.Payload, &p) {
			return
		}
		if _, err := h.service.ResumeHost(p.RoomCode, p.HostToken, connID); err != nil {
			h.reportError(connID, err)
		}
	case "join_room":
		var p joinRoomPayload
		if !h.decode(connID, msg.Payload, &p) {
			return
		}
		if p.ParticipantID == "" {
			p.ParticipantID = uuid.NewString()
		}
		if _, err := h.service.JoinRoom(p.RoomCode, p.Name, p.ParticipantID, connID); err != nil {
			h.reportError(connID, err)
		}
	case "start_quiz":
		var p roomActionPayload
		if !h.decode(connID, msg.Payload, &p) {
			return
		}
		if err := h.service.StartQuiz(p.RoomCode, connID); err != nil {
			h.reportError(connID, err)
		}
	case "submit_answer":
		var p answerPayload
		if !h.decode(connID, msg.Payload, &p) {
			return
		}
		if p.AnswerIndex < 0 || p.AnswerIndex >= domain.OptionsPerQuestion {
			h.sendError(connID, domain.ErrorPayload{
				Code:    domain.ErrorCodeInvalidState,
				Message: "answer index out of range",
			})
			return
		}
		if _, err := h.service.SubmitAnswer(p.RoomCode, connID, p.AnswerIndex); err != nil {
			h.reportError(connID, err)
		}
	case "next_question":
		var p roomActionPayload
		if !h.decode(connID, msg.Payload, &p) {
			return
		}
		if err := h.service.NextQuestion(p.RoomCode, connID); err != nil {
			h.reportError(connID, err)
		}
	case "leave_room":
		var p leaveRoomPayload
		if !h.decode(connID, msg.Payload, &p) {
			return
		}
		if err := h.service.LeaveRoom(p.RoomCode, connID, p.DeleteRoom); err != nil {
			h.reportError(connID, err)
		}
	case "delete_room":
		var p roomActionPayload
		if !h.decode(connID, msg.Payload, &p) {
			return
		}
		if err := h.service.DeleteRoom(p.RoomCode, connID); err != nil {
			h.reportError(connID, err)
		}
	default:
		h.sendError(connID, domain.ErrorPayload{
			Code:    domain.ErrorCodeInvalidState,
			Message: "unsupported message type",
		})
	}
}

func (h *WSHandler) decode(connID string, raw json.RawMessage, into any) bool {
	if err := json.Unmarshal(raw, into); err != nil {
		h.sendError(connID, domain.ErrorPayload{
			Code:    domain.ErrorCodeInvalidState,
			Message: "invalid payload",
		})
		return false
	}
	return true
}

func (h *WSHandler) reportError(connID string, err error) {
	h.sendError(connID, domain.ErrorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
	})
}

func (h *WSHandler) sendError(connID string, payload domain.ErrorPayload) {
	h.Send(connID, domain.Event{Type: domain.EventError, Payload: payload})
}

// errorCode maps sentinel errors onto the wire-level taxonomy. Anything
// unrecognized is reported as internal and logged by the caller that saw it.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrQuizNotFound):
		return domain.ErrorCodeNotFound
	case errors.Is(err, domain.ErrNotAuthorized), errors.Is(err, domain.ErrAlreadyHosted):
		return domain.ErrorCodeUnauthorized
	case errors.Is(err, domain.ErrAlreadyStarted),
		errors.Is(err, domain.ErrAlreadyAnswered),
		errors.Is(err, domain.ErrNotActive),
		errors.Is(err, domain.ErrNoQuestions),
		errors.Is(err, domain.ErrParticipantNotFound):
		return domain.ErrorCodeInvalidState
	default:
		return domain.ErrorCodeInternal
	}
}

// RoomsHandler lists active rooms as JSON.
func (h *WSHandler) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.service.ActiveRooms()); err != nil {
		log.Printf("encode room list: %v", err)
	}
}
