package transport

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"predmkt-exchange/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const outboundBacklog = 32

// wsSubscriber adapts one websocket connection to hub.Subscriber. Sends go
// through a buffered channel drained by a single writer goroutine, so a
// slow client can never block the hub's broadcast loop — mirroring the
// non-blocking delivery spec section 4.7 requires.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	out  chan hub.Message

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{
		id:     uuid.New().String(),
		conn:   conn,
		out:    make(chan hub.Message, outboundBacklog),
		closed: make(chan struct{}),
	}
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(msg hub.Message) error {
	select {
	case s.out <- msg:
		return nil
	case <-s.closed:
		return websocket.ErrCloseSent
	default:
		// Backlog full: this subscriber is too slow. Report an error so
		// the hub drops it rather than growing the backlog unbounded.
		return websocket.ErrCloseSent
	}
}

func (s *wsSubscriber) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.out:
			if err := s.conn.WriteJSON(msg); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *wsSubscriber) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

type controlMessage struct {
	Type string `json:"type"`
}

// handleBookWebSocket upgrades to a websocket, subscribes it to the event's
// book, and relays ping/refresh control frames per spec section 6.
func (s *Server) handleBookWebSocket(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := newWSSubscriber(conn)
	go sub.writeLoop()

	s.hub.Subscribe(eventID, sub)
	defer s.hub.Unsubscribe(eventID, sub.ID())
	defer sub.close()

	for {
		var ctrl controlMessage
		if err := conn.ReadJSON(&ctrl); err != nil {
			return
		}
		switch ctrl.Type {
		case "ping":
			s.hub.Pong(sub)
		case "refresh":
			s.hub.Refresh(eventID, sub)
		}
	}
}
