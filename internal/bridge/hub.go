package bridge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/developingchet/regionsync/internal/metrics"
	"github.com/developingchet/regionsync/internal/region"
	"github.com/developingchet/regionsync/internal/role"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	outboundBuffer = 32
	maxMessageSize = 64 * 1024
)

var errSessionClosed = errors.New("renderer session closed")
var errSlowRenderer = errors.New("renderer outbound buffer full")

// EditHandler receives edits from ready renderers.
type EditHandler interface {
	OnEdit(ctx context.Context, sessionID string, cmd EditCommand)
}

// RoleSource supplies the role announced to renderers.
type RoleSource interface {
	CachedRole() role.Role
}

// Hub serves renderer connections and fans snapshots out to them.
type Hub struct {
	log      zerolog.Logger
	roles    RoleSource
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	edits     EditHandler
	sessions  map[string]*session
	latest    string
	hasLatest bool
}

type session struct {
	id   string
	conn *websocket.Conn
	gate *Gate
	box  *outbox

	closeOnce sync.Once
	done      chan struct{}
}

// NewHub returns a Hub. An empty allowedOrigins list only accepts same-host
// origins; "*" accepts any.
func NewHub(roles RoleSource, allowedOrigins []string, log zerolog.Logger) *Hub {
	h := &Hub{
		log:      log,
		roles:    roles,
		sessions: make(map[string]*session),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// SetEditHandler wires the receiver of renderer edits.
func (h *Hub) SetEditHandler(eh EditHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.edits = eh
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla default: same host only
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimSuffix(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[strings.TrimSuffix(origin, "/")]
	}
}

// PublishRegions encodes regions and pushes the update to every renderer.
// Renderers that are not ready yet keep it as their pending update.
func (h *Hub) PublishRegions(regions []region.Region) error {
	payload, err := EncodeRegions(regions)
	if err != nil {
		return err
	}
	c := UpdateCall(payload)

	h.mu.Lock()
	h.latest, h.hasLatest = c, true
	sessions := h.snapshotSessions()
	h.mu.Unlock()

	for _, s := range sessions {
		if _, err := s.gate.Publish(c); err != nil {
			h.log.Debug().Err(err).Str("session", s.id).Msg("update not delivered")
		}
	}
	return nil
}

// PublishRole announces r to every ready renderer.
func (h *Hub) PublishRole(r role.Role) {
	c := RoleCall(r)
	h.mu.RLock()
	sessions := h.snapshotSessions()
	h.mu.RUnlock()
	for _, s := range sessions {
		_, _ = s.gate.Send(c)
	}
}

// Notice shows msg in one renderer. Unknown or not-ready sessions are ignored.
func (h *Hub) Notice(sessionID, msg string) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if _, err := s.gate.Send(NoticeCall(msg)); err != nil {
		h.log.Debug().Err(err).Str("session", sessionID).Msg("notice not delivered")
	}
}

// SessionCount returns the number of connected renderers.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close tears down every renderer.
func (h *Hub) Close() {
	h.mu.RLock()
	sessions := h.snapshotSessions()
	h.mu.RUnlock()
	for _, s := range sessions {
		s.gate.TearDown()
		s.close()
	}
}

func (h *Hub) snapshotSessions() []*session {
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// ServeHTTP upgrades the request and runs the renderer session until the
// connection ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("renderer upgrade failed")
		return
	}

	s := &session{
		id:   uuid.New().String(),
		conn: conn,
		box:  newOutbox(outboundBuffer),
		done: make(chan struct{}),
	}
	s.gate = NewGate(s.enqueue)
	log := h.log.With().Str("session", s.id).Logger()

	// Seed the pending update under h.mu so a concurrent PublishRegions
	// either precedes it or reaches this session afterwards.
	h.mu.Lock()
	h.sessions[s.id] = s
	if h.hasLatest {
		_, _ = s.gate.Publish(h.latest)
	}
	h.mu.Unlock()
	metrics.BridgeSessions.Inc()
	log.Info().Str("remote", r.RemoteAddr).Msg("renderer connected")

	go h.writeLoop(s, log)
	h.readLoop(r.Context(), s, log)

	s.gate.TearDown()
	s.close()
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	metrics.BridgeSessions.Dec()
	log.Info().Msg("renderer disconnected")
}

func (h *Hub) readLoop(ctx context.Context, s *session, log zerolog.Logger) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("renderer read ended")
			}
			return
		}

		cmd, err := DecodeCommand(data)
		if err != nil {
			metrics.BridgeMessages.WithLabelValues("in", "invalid").Inc()
			log.Warn().Err(err).Msg("ignoring renderer message")
			continue
		}
		metrics.BridgeMessages.WithLabelValues("in", cmd.Method).Inc()
		h.dispatch(ctx, s, cmd, log)
	}
}

func (h *Hub) dispatch(ctx context.Context, s *session, cmd Command, log zerolog.Logger) {
	switch cmd.Method {
	case MethodReady:
		if err := s.gate.MarkReady(RoleCall(h.roles.CachedRole())); err != nil {
			log.Warn().Err(err).Msg("could not replay to renderer")
		}
		log.Debug().Msg("renderer ready")

	case MethodGetRole:
		_, _ = s.gate.Send(RoleCall(h.roles.CachedRole()))

	case MethodEdit:
		if !s.gate.Accepting() {
			metrics.EditsReceived.WithLabelValues("not_ready").Inc()
			log.Debug().Str("state", s.gate.State().String()).Msg("edit discarded: renderer not ready")
			return
		}
		h.mu.RLock()
		eh := h.edits
		h.mu.RUnlock()
		if eh == nil {
			log.Warn().Msg("edit discarded: no handler")
			return
		}
		eh.OnEdit(ctx, s.id, cmd.Edit())

	case MethodNotice:
		log.Info().Str("message", cmd.Message()).Msg("renderer notice")
	}
}

func (h *Hub) writeLoop(s *session, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.box.ready:
			for _, c := range s.box.take() {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(c)); err != nil {
					log.Debug().Err(err).Msg("renderer write failed")
					s.close()
					return
				}
				metrics.BridgeMessages.WithLabelValues("out", callKind(c)).Inc()
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *session) enqueue(c string) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	err := s.box.push(c)
	if errors.Is(err, errSlowRenderer) {
		metrics.BridgeMessages.WithLabelValues("out", "dropped").Inc()
	}
	return err
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.box.close()
		_ = s.conn.Close()
	})
}
