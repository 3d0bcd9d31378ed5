package spectate

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brensch/capture/logging"
	"github.com/brensch/capture/match"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 2 * time.Second
	// maxPending bounds how far a viewer may fall behind before it is dropped.
	maxPending = 16384
)

// subscriber owns one viewer connection. Messages are queued by the hub and
// written by the subscriber's own goroutine, so a slow viewer never blocks
// a publisher.
type subscriber struct {
	id         string
	conn       *websocket.Conn
	maxPending int

	mu      sync.Mutex
	pending [][]byte
	closing bool

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	killOnce sync.Once
}

func newSubscriber(id string, conn *websocket.Conn, maxPending int) *subscriber {
	return &subscriber{
		id:         id,
		conn:       conn,
		maxPending: maxPending,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// enqueue queues msgs for writing. It reports false when the viewer is too
// far behind to take them.
func (s *subscriber) enqueue(msgs ...[]byte) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return true
	}
	if len(s.pending)+len(msgs) > s.maxPending {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, msgs...)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// finish lets the writer drain the queue and then send a close frame.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.signal()
}

// kill stops the writer and closes the connection.
func (s *subscriber) kill() {
	s.killOnce.Do(func() {
		close(s.quit)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *subscriber) write(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// writeLoop writes queued messages in order until the queue is drained after
// finish, a write fails, or the subscriber is killed.
func (s *subscriber) writeLoop() error {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		closing := s.closing
		s.mu.Unlock()

		for _, msg := range batch {
			if err := s.write(msg); err != nil {
				return err
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closing {
			return s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(writeWait))
		}
		select {
		case <-s.wake:
		case <-s.quit:
			return nil
		}
	}
}

// Hub fans match events out to every connected spectator. It is an
// http.Handler; mount it on the path viewers dial.
//
// A viewer joining mid-match first receives the current game_info and every
// frame published since, so it can rebuild the board.
type Hub struct {
	log        *slog.Logger
	upgrader   websocket.Upgrader
	maxPending int

	mu          sync.Mutex
	subscribers map[string]*subscriber
	backlog     [][]byte
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		maxPending:  maxPending,
		subscribers: make(map[string]*subscriber),
	}
}

func (h *Hub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		h.log.Warn("spectator upgrade failed", "error", err)
		return
	}
	sub := newSubscriber(uuid.NewString(), conn, h.maxPending)

	// The backlog is queued under the hub lock so no publish can slip in
	// ahead of it. Nothing is written to the network here.
	h.mu.Lock()
	backlog := len(h.backlog)
	ok := sub.enqueue(h.backlog...)
	if ok {
		h.subscribers[sub.id] = sub
	}
	h.mu.Unlock()
	if !ok {
		h.log.Warn("spectator backlog too large", "id", sub.id, "backlog", backlog)
		sub.kill()
		return
	}
	h.log.Info("spectator joined", "id", sub.id, "backlog", backlog)

	go func() {
		if err := sub.writeLoop(); err != nil {
			h.log.Warn("spectator write failed", "id", sub.id, "error", err)
		}
		h.drop(sub.id)
		sub.kill()
	}()

	// Viewers never send anything meaningful; reading only surfaces close frames.
	go func() {
		defer h.drop(sub.id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()
	if ok {
		sub.kill()
		h.log.Info("spectator left", "id", id)
	}
}

// Subscribers is the number of connected viewers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) publish(typ string, v any) {
	msg, err := encodeEvent(typ, v)
	if err != nil {
		h.log.Error("encode spectator event", "type", typ, "error", err)
		return
	}

	var slow []string
	h.mu.Lock()
	if typ == EventGameInfo {
		h.backlog = h.backlog[:0]
	}
	h.backlog = append(h.backlog, msg)
	for id, s := range h.subscribers {
		if !s.enqueue(msg) {
			slow = append(slow, id)
		}
	}
	h.mu.Unlock()

	for _, id := range slow {
		h.log.Warn("spectator too slow", "id", id)
		h.drop(id)
	}
}

// GameInfo announces a new match and resets the backlog.
func (h *Hub) GameInfo(m *match.Match) { h.publish(EventGameInfo, NewMatchInfo(m)) }

// Frame publishes one move. It has the shape match.WithObserver expects.
func (h *Hub) Frame(ev match.TurnEvent) { h.publish(EventFrame, NewFrame(ev)) }

func (h *Hub) GameEnd(out match.Outcome) { h.publish(EventGameEnd, NewMatchEnd(out)) }

// Close flushes what each viewer has queued, then disconnects it with a
// normal close frame. Viewers still busy after writeWait are cut off.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.finish()
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	for _, s := range subs {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
		s.kill()
	}
}
