package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/events"
)

func TestHubDeliversOnlyToOwner(t *testing.T) {
	h := New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithUserID(r.Context(), r.URL.Query().Get("user"))
		h.HandleWebSocket(w, r.WithContext(ctx))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	alice, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=alice", nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	bob, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=bob", nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()

	// wait until both sessions are registered
	deadline := time.Now().Add(2 * time.Second)
	for {
		if h.clientCount() == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	pub := events.NewPublisher("task-1", "alice", h)
	pub.Publish(context.Background(), events.Progress(3))

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := alice.ReadMessage()
	if err != nil {
		t.Fatalf("alice read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != events.TypeProgress || ev.TaskID != "task-1" || ev.Index == nil || *ev.Index != 3 {
		t.Fatalf("event = %+v", ev)
	}

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := bob.ReadMessage(); err == nil {
		t.Fatal("bob must not receive alice's events")
	}
}

func TestHubRejectsAnonymous(t *testing.T) {
	h := New()
	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCleanupEmptySessions(t *testing.T) {
	h := New()
	h.getOrCreateSession("u1")
	s := h.getOrCreateSession("u2")
	s.addClient(&Client{id: "c1", send: make(chan []byte, 1)})

	if n := h.cleanupEmptySessions(); n != 1 {
		t.Fatalf("cleaned %d, want 1", n)
	}
	if h.metrics.ActiveSessions != 1 {
		t.Fatalf("ActiveSessions = %d", h.metrics.ActiveSessions)
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "", true},
		{nil, "http://api.test", true},
		{nil, "https://evil.test", false},
		{[]string{"https://app.test/"}, "https://app.test", true},
		{[]string{"https://app.test"}, "HTTPS://APP.TEST", true},
		{[]string{"https://app.test"}, "http://app.test", false},
		{[]string{"https://app.test"}, "https://evil.test", false},
		{[]string{"*"}, "https://evil.test", true},
		{nil, "null", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://api.test/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := originChecker(tt.allowed)(req); got != tt.want {
			t.Errorf("allowed=%v origin=%q: got %v, want %v", tt.allowed, tt.origin, got, tt.want)
		}
	}
}

func TestHubRefusesCrossSiteUpgrade(t *testing.T) {
	h := New("https://app.test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWebSocket(w, r.WithContext(auth.WithUserID(r.Context(), "alice")))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.test"}})
	if err == nil {
		t.Fatal("cross-site upgrade accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://app.test"}})
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}
