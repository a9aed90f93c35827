package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// 연결된 클라이언트 정보
type Client struct {
	id     string
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Session - 한 사용자의 모든 연결 (탭/기기)
type Session struct {
	userID       string
	clients      map[string]*Client
	mutex        sync.RWMutex
	createdAt    time.Time
	lastActivity time.Time
}

// Metrics - 서버 메트릭
type Metrics struct {
	TotalSessions    int       `json:"totalSessions"`
	ActiveSessions   int       `json:"activeSessions"`
	TotalConnections int       `json:"totalConnections"`
	EventsDelivered  int64     `json:"eventsDelivered"`
	EventsDropped    int64     `json:"eventsDropped"`
	StartTime        time.Time `json:"startTime"`
	mutex            sync.RWMutex
}

// Hub pushes task events to the websocket connections of the task's owner.
type Hub struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
	metrics  *Metrics
	upgrader websocket.Upgrader
}

// New - allowedOrigins 가 비어 있으면 같은 호스트의 페이지만 업그레이드 허용
func New(allowedOrigins ...string) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		metrics:  &Metrics{StartTime: time.Now()},
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

// originChecker guards the cookie-authenticated upgrade against cross-site pages.
// Requests without an Origin header come from non-browser clients and pass.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) || set[strings.ToLower(u.Scheme+"://"+u.Host)] {
			return true
		}
		log.Warn().Str("origin", origin).Msg("🚫 [Hub] WebSocket origin rejected")
		return false
	}
}

// 세션 가져오기 또는 생성
func (h *Hub) getOrCreateSession(userID string) *Session {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	session, exists := h.sessions[userID]
	if !exists {
		now := time.Now()
		session = &Session{
			userID:       userID,
			clients:      make(map[string]*Client),
			createdAt:    now,
			lastActivity: now,
		}
		h.sessions[userID] = session

		h.metrics.mutex.Lock()
		h.metrics.TotalSessions++
		h.metrics.ActiveSessions++
		h.metrics.mutex.Unlock()

		log.Debug().Str("userId", userID).Msg("✅ [Hub] Created session")
	}
	return session
}

func (s *Session) addClient(c *Client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c.id] = c
	s.lastActivity = time.Now()
}

// removeClient is the only place a send channel is closed.
func (s *Session) removeClient(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if c, ok := s.clients[id]; ok {
		delete(s.clients, id)
		close(c.send)
	}
	s.lastActivity = time.Now()
}

// Publish implements events.Sink.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	if ev.UserID == "" {
		return nil
	}
	h.mutex.RLock()
	session, ok := h.sessions[ev.UserID]
	h.mutex.RUnlock()
	if !ok {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	var delivered, dropped int64
	session.mutex.RLock()
	for _, c := range session.clients {
		select {
		case c.send <- data:
			delivered++
		default:
			dropped++
		}
	}
	session.mutex.RUnlock()

	h.metrics.mutex.Lock()
	h.metrics.EventsDelivered += delivered
	h.metrics.EventsDropped += dropped
	h.metrics.mutex.Unlock()
	if dropped > 0 {
		log.Warn().Str("userId", ev.UserID).Msgf("⚠️  [Hub] Dropped %s event for %d slow clients", ev.Type, dropped)
	}
	return nil
}

// HandleWebSocket - GET /ws (RequireAuth 뒤에 등록)
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[Hub] WebSocket upgrade failed")
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
	}
	session := h.getOrCreateSession(userID)
	session.addClient(client)

	h.metrics.mutex.Lock()
	h.metrics.TotalConnections++
	h.metrics.mutex.Unlock()
	log.Info().Str("userId", userID).Msg("🔍 [Hub] New WebSocket connection")

	go client.writePump()
	go client.readPump(session)
}

// readPump only keeps the connection alive; clients do not send commands.
func (c *Client) readPump(session *Session) {
	defer func() {
		session.removeClient(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("[Hub] WebSocket error")
			}
			return
		}
	}
}

// 클라이언트로 메시지 쓰기
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Msg("[Hub] WebSocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// cleanupEmptySessions - 연결이 없는 세션 정리
func (h *Hub) cleanupEmptySessions() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	cleaned := 0
	for userID, session := range h.sessions {
		session.mutex.RLock()
		isEmpty := len(session.clients) == 0
		session.mutex.RUnlock()

		if isEmpty {
			delete(h.sessions, userID)
			cleaned++
		}
	}

	if cleaned > 0 {
		h.metrics.mutex.Lock()
		h.metrics.ActiveSessions -= cleaned
		h.metrics.mutex.Unlock()
		log.Debug().Msgf("🧹 [Hub] Cleaned up %d empty sessions", cleaned)
	}
	return cleaned
}

// StartCleanupRoutine - 5분마다 빈 세션 정리
func (h *Hub) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.cleanupEmptySessions()
			}
		}
	}()
	log.Info().Msg("🔄 [Hub] Started session cleanup routine (5min)")
}

// clientCount - 현재 연결 수
func (h *Hub) clientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n := 0
	for _, s := range h.sessions {
		s.mutex.RLock()
		n += len(s.clients)
		s.mutex.RUnlock()
	}
	return n
}

// HandleMetrics - GET /metrics
func (h *Hub) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.mutex.RLock()
	snapshot := map[string]interface{}{
		"uptime":           time.Since(h.metrics.StartTime).String(),
		"startTime":        h.metrics.StartTime,
		"totalSessions":    h.metrics.TotalSessions,
		"activeSessions":   h.metrics.ActiveSessions,
		"totalConnections": h.metrics.TotalConnections,
		"eventsDelivered":  h.metrics.EventsDelivered,
		"eventsDropped":    h.metrics.EventsDropped,
	}
	h.metrics.mutex.RUnlock()

	snapshot["currentClients"] = h.clientCount()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"server": snapshot})
}
