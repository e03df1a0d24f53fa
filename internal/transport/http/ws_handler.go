package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quizzer/internal/app"
	"quizzer/internal/domain"
	"quizzer/internal/logger"
	"quizzer/internal/security"
)

// StartDefaults fill in start requests that leave fields out.
type StartDefaults struct {
	Category      string
	QuestionCount int
	TimeLimit     time.Duration
}

type WSHandler struct {
	engine   *app.Engine
	hub      *Hub
	admins   map[string]bool
	defaults StartDefaults
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine, hub *Hub, admins []string, defaults StartDefaults) *WSHandler {
	allowed := make(map[string]bool, len(admins))
	for _, a := range admins {
		allowed[a] = true
	}
	return &WSHandler{
		engine:   engine,
		hub:      hub,
		admins:   allowed,
		defaults: defaults,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Category         string `json:"category"`
	Questions        int    `json:"questions"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
}

type answerPayload struct {
	Index  int    `json:"index"`
	Option string `json:"option"`
}

type answerResult struct {
	Index   int    `json:"index"`
	Option  string `json:"option"`
	Correct bool   `json:"correct"`
	Points  int    `json:"points"`
}

type joinResult struct {
	Identity string `json:"identity"`
	Added    bool   `json:"added"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the quiz engine.
// Each connection speaks for one identity in one channel.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	channel := security.SanitizeString(r.URL.Query().Get("channel"))
	identity := security.SanitizeIdentity(r.URL.Query().Get("name"))
	if channel == "" || identity == "" {
		http.Error(w, "missing channel or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe(channel)
	defer cancel()

	send := make(chan outboundMessage[any], subscriberBuffer)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write error", "channel", channel, "identity", identity, "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- update:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	ctx := r.Context()
	hello := outboundMessage[any]{Type: "hello", Payload: map[string]string{"channel": channel, "identity": identity}}
	if snap, err := h.engine.Snapshot(ctx, channel); err == nil {
		hello = outboundMessage[any]{Type: "snapshot", Payload: snap}
	}
	send <- hello

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if reply, ok := h.handle(ctx, channel, identity, inbound); ok {
			send <- reply
		}
	}

	if err := h.engine.ParticipantDisconnected(context.Background(), channel, identity); err != nil &&
		!errors.Is(err, domain.ErrSessionNotFound) && !errors.Is(err, domain.ErrNotAParticipant) {
		logger.Warn("mark participant disconnected", "channel", channel, "identity", identity, "error", err)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(ctx context.Context, channel, identity string, in inboundMessage) (outboundMessage[any], bool) {
	switch in.Type {
	case "start":
		var p startPayload
		if len(in.Payload) > 0 {
			if err := json.Unmarshal(in.Payload, &p); err != nil {
				return errorMessage("invalid start payload", nil), true
			}
		}
		opts := h.startOptions(p)
		snap, err := h.engine.StartSession(ctx, channel, opts)
		if err != nil {
			return errorMessage("cannot start quiz", err), true
		}
		return outboundMessage[any]{Type: "started", Payload: snap}, true

	case "join":
		added, err := h.engine.Join(ctx, channel, identity)
		if err != nil {
			return errorMessage("cannot join", err), true
		}
		return outboundMessage[any]{Type: "joined", Payload: joinResult{Identity: identity, Added: added}}, true

	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errorMessage("invalid answer payload", nil), true
		}
		sub, err := h.engine.Submit(ctx, channel, identity, p.Index, p.Option)
		if err != nil {
			return errorMessage("answer rejected", err), true
		}
		return outboundMessage[any]{Type: "answerResult", Payload: answerResult{
			Index:   sub.QuestionIndex,
			Option:  sub.ChosenOption,
			Correct: sub.IsCorrect,
			Points:  sub.PointsAwarded,
		}}, true

	case "stop":
		if !h.admins[identity] {
			return errorMessage("only admins can stop a quiz", nil), true
		}
		if err := h.engine.StopGame(ctx, channel); err != nil {
			return errorMessage("cannot stop quiz", err), true
		}
		return outboundMessage[any]{}, false

	case "snapshot":
		snap, err := h.engine.Snapshot(ctx, channel)
		if err != nil {
			return errorMessage("no quiz running", err), true
		}
		return outboundMessage[any]{Type: "snapshot", Payload: snap}, true

	case "categories":
		categories, err := h.engine.Categories(ctx)
		if err != nil {
			return errorMessage("cannot list categories", err), true
		}
		return outboundMessage[any]{Type: "categories", Payload: categories}, true
	}
	return errorMessage("unsupported message type", nil), true
}

func (h *WSHandler) startOptions(p startPayload) app.StartOptions {
	opts := app.StartOptions{
		Category:      security.SanitizeString(p.Category),
		QuestionCount: p.Questions,
		TimeLimit:     time.Duration(p.TimeLimitSeconds) * time.Second,
	}
	if opts.Category == "" {
		opts.Category = h.defaults.Category
	}
	if opts.QuestionCount <= 0 {
		opts.QuestionCount = h.defaults.QuestionCount
	}
	if opts.TimeLimit <= 0 {
		opts.TimeLimit = h.defaults.TimeLimit
	}
	return opts
}

func errorMessage(message string, err error) outboundMessage[any] {
	payload := errorPayload{Message: message}
	if err != nil {
		payload.Message = message + ": " + err.Error()
		payload.Reason = domain.RejectReason(err)
	}
	return outboundMessage[any]{Type: "error", Payload: payload}
}
