package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"museu/internal/domain"
	"museu/internal/engine"
	"museu/internal/lifecycle"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = 54 * time.Second
	liveSendBuffer = 256
)

// LiveConnected is the type of the first message sent on every live connection.
const LiveConnected = "live.connected"

// Hub fans committed events out to websocket clients. It implements
// events.Publisher.
type Hub struct {
	clients    map[*liveClient]bool
	broadcast  chan domain.Event
	register   chan *liveClient
	unregister chan *liveClient
	done       chan struct{}
	logger     *log.Logger
}

type liveClient struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan domain.Event
	scope liveScope
}

// liveScope decides which events a connected principal may see, mirroring
// what the same principal could read through the REST API.
type liveScope struct {
	actor  domain.UserProfile
	reload func() (domain.UserProfile, error)
}

func (s *liveScope) allows(evt domain.Event) bool {
	actor := s.actor
	switch {
	case evt.EntityKind == "":
		// feed control messages
		return true
	case lifecycle.CanManageUsers(actor):
		return true
	case evt.EntityKind == "profile":
		return evt.EntityID == actor.PrincipalID
	case evt.EntityKind == "api_key":
		return evt.ActorID == actor.PrincipalID
	case !lifecycle.CanUseReports(actor):
		return false
	}
	switch evt.EntityKind {
	case "goal":
		return true
	case "report", "activity":
		if actor.AppRole == domain.RoleCoordinator {
			return true
		}
		var p struct {
			AuthorID string `json:"author_id"`
		}
		if err := json.Unmarshal([]byte(evt.Payload), &p); err != nil {
			return false
		}
		return p.AuthorID == actor.PrincipalID
	}
	return false
}

// observe refreshes the scope when evt changes the principal's own profile,
// so an approval takes effect without reconnecting.
func (s *liveScope) observe(evt domain.Event) error {
	if evt.EntityKind != "profile" || evt.EntityID != s.actor.PrincipalID || s.reload == nil {
		return nil
	}
	actor, err := s.reload()
	if err != nil {
		s.actor = domain.UserProfile{PrincipalID: s.actor.PrincipalID}
		return err
	}
	s.actor = actor
	return nil
}

// NewHub starts a hub; stop it with Close.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	h := &Hub{
		clients:    make(map[*liveClient]bool),
		broadcast:  make(chan domain.Event, liveSendBuffer),
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case evt := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- evt:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Publish queues evt for the connected clients allowed to see it. It never
// blocks the caller; events are dropped when the hub is saturated.
func (h *Hub) Publish(evt domain.Event) {
	select {
	case h.broadcast <- evt:
	case <-h.done:
	default:
		h.logger.Printf("live: dropped event %d (%s)", evt.ID, evt.Type)
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func registerLive(r chi.Router, basePath string, h *Hub, e engine.Engine) {
	r.Get(path.Join(basePath, "live"), func(w http.ResponseWriter, req *http.Request) {
		actorID, herr := actorIDFromContext(req.Context())
		if herr != nil {
			respondStatusError(w, herr)
			return
		}
		actor, err := e.OwnProfile(req.Context(), actorID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			h.logger.Printf("live: upgrade: %v", err)
			return
		}
		c := &liveClient{
			hub:  h,
			conn: conn,
			send: make(chan domain.Event, liveSendBuffer),
			scope: liveScope{
				actor: actor,
				reload: func() (domain.UserProfile, error) {
					return e.OwnProfile(context.Background(), actorID)
				},
			},
		}
		// clients wait for this before relying on the feed
		c.send <- domain.Event{Type: LiveConnected, TS: time.Now().UTC().Format(time.RFC3339Nano)}
		select {
		case h.register <- c:
		case <-h.done:
			conn.Close()
			return
		}
		go c.writePump()
		go c.readPump()
	})
}

func (c *liveClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(livePongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("live: read: %v", err)
			}
			return
		}
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case evt, ok := <-c.send:
			if ok {
				if err := c.scope.observe(evt); err != nil {
					c.hub.logger.Printf("live: reload %s: %v", c.scope.actor.PrincipalID, err)
				}
				if !c.scope.allows(evt) {
					continue
				}
			}
			c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			msg, err := json.Marshal(evt)
			if err != nil {
				c.hub.logger.Printf("live: marshal event %d: %v", evt.ID, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
