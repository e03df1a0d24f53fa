package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quizzer/internal/app"
	"quizzer/internal/app/apptest"
	"quizzer/internal/domain"
	"quizzer/internal/infra/memory"
)

type testServer struct {
	server *httptest.Server
	clock  *apptest.Clock
	engine *app.Engine
	hub    *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := apptest.NewClock(time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC))
	hub := NewHub()
	pool := memory.NewQuestionPool(memory.NewStaticCategoryLoader(sampleCorpus()), time.Minute)
	engine := app.NewEngine(app.Config{
		Pool:      pool,
		Registry:  memory.NewSessionStore(),
		Scores:    memory.NewScoreStore(),
		Notifier:  hub,
		Settings:  app.Settings{LobbyDuration: 30 * time.Second, PointsPerAnswer: 1, PersistRetries: 1, RetryInterval: time.Millisecond},
		TimerFunc: clock.AfterFunc,
		Now:       clock.Now,
	})
	ws := NewWSHandler(engine, hub, []string{"admin"}, StartDefaults{Category: "General", QuestionCount: 1, TimeLimit: 15 * time.Second})
	server := httptest.NewServer(NewRouter(engine, ws))
	t.Cleanup(func() {
		server.Close()
		_ = engine.Shutdown(context.Background())
	})
	return &testServer{server: server, clock: clock, engine: engine, hub: hub}
}

func (s *testServer) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	u := "ws" + s.server.URL[len("http"):] + "/ws?channel=%23quiz&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketGameFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t, "alice")
	readUntil(t, alice, "hello")

	send(t, alice, "start", map[string]any{"category": "General"})
	readUntil(t, alice, "started")

	send(t, alice, "join", nil)
	var joined joinResult
	decode(t, readUntil(t, alice, "joined"), &joined)
	if !joined.Added || joined.Identity != "alice" {
		t.Fatalf("unexpected join result: %+v", joined)
	}

	s.clock.Advance(30 * time.Second)
	var asked domain.EventQuestionAsked
	decode(t, readUntil(t, alice, domain.EventNameQuestionAsked), &asked)
	if asked.Index != 0 || asked.Prompt != "What is 2 + 2?" {
		t.Fatalf("unexpected question: %+v", asked)
	}

	send(t, alice, "answer", map[string]any{"index": 0, "option": "b"})
	var result answerResult
	decode(t, readUntil(t, alice, "answerResult"), &result)
	if !result.Correct || result.Option != "B" || result.Points != 1 {
		t.Fatalf("unexpected answer result: %+v", result)
	}

	send(t, alice, "answer", map[string]any{"index": 0, "option": "A"})
	var rejected errorPayload
	decode(t, readUntil(t, alice, "error"), &rejected)
	if rejected.Reason != domain.ReasonAlreadyAnswered {
		t.Fatalf("expected AlreadyAnswered, got %+v", rejected)
	}

	s.clock.Advance(15 * time.Second)
	var ended domain.EventSessionEnded
	decode(t, readUntil(t, alice, domain.EventNameSessionEnded), &ended)
	if len(ended.Winners) != 1 || ended.Winners[0] != "alice" {
		t.Fatalf("unexpected winners: %+v", ended.Winners)
	}
}

func TestWebSocketStopRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	bob := s.dial(t, "bob")
	readUntil(t, bob, "hello")

	send(t, bob, "start", nil)
	readUntil(t, bob, "started")

	send(t, bob, "stop", nil)
	var denied errorPayload
	decode(t, readUntil(t, bob, "error"), &denied)
	if denied.Message != "only admins can stop a quiz" {
		t.Fatalf("unexpected error: %+v", denied)
	}

	admin := s.dial(t, "admin")
	readUntil(t, admin, "snapshot")
	send(t, admin, "stop", nil)

	var cancelled domain.EventSessionCancelled
	decode(t, readUntil(t, bob, domain.EventNameSessionCancelled), &cancelled)
	if cancelled.Reason != domain.CancelStopped {
		t.Fatalf("unexpected reason %q", cancelled.Reason)
	}
}

func TestWebSocketRejectsMissingIdentity(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.server.URL + "/ws?channel=%23quiz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebSocketListsCategories(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "carol")
	readUntil(t, conn, "hello")

	send(t, conn, "categories", nil)
	var categories []string
	decode(t, readUntil(t, conn, "categories"), &categories)
	if len(categories) != 1 || categories[0] != "General" {
		t.Fatalf("unexpected categories: %v", categories)
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	msg := map[string]any{"type": typ}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips broadcast traffic until a message of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, expect string) json.RawMessage {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", expect, err)
		}
		if msg.Type == expect {
			return msg.Payload
		}
	}
	t.Fatalf("no %s message received", expect)
	return nil
}

func decode(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func sampleCorpus() map[string][]domain.Question {
	return map[string][]domain.Question{
		"General": {{
			Category:      "General",
			Prompt:        "What is 2 + 2?",
			Options:       map[string]string{"A": "3", "B": "4", "C": "5"},
			CorrectOption: "B",
		}},
	}
}
