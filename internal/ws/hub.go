package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/zrcvae/partnermatch/internal/domain"
)

// AllTeams subscribes to events of every team.
const AllTeams int64 = 0

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans team events out to subscribers keyed by team ID.
type Hub struct {
	clients   map[int64]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

type message struct {
	teamID  int64
	payload []byte
}

type subscription struct {
	teamID int64
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		clients:   make(map[int64]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		done:      make(chan struct{}),
		logger:    logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.teamID]; !ok {
				h.clients[sub.teamID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.teamID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.teamID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.teamID)
				}
			}
		case msg := <-h.broadcast:
			h.deliver(msg.teamID, msg.payload)
			if msg.teamID != AllTeams {
				h.deliver(AllTeams, msg.payload)
			}
		}
	}
}

func (h *Hub) deliver(teamID int64, payload []byte) {
	clients, ok := h.clients[teamID]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, teamID)
	}
}

// Register adds a client to a team stream.
func (h *Hub) Register(teamID int64, client Subscriber) {
	select {
	case h.register <- subscription{teamID: teamID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(teamID int64, client Subscriber) {
	select {
	case h.unreg <- subscription{teamID: teamID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all clients of a team and to AllTeams clients.
func (h *Hub) Broadcast(teamID int64, payload []byte) {
	select {
	case h.broadcast <- message{teamID: teamID, payload: payload}:
	case <-h.done:
	}
}

// Publish encodes event and broadcasts it.
func (h *Hub) Publish(event domain.TeamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("encode team event failed", "type", event.Type, "error", err)
		return
	}
	h.Broadcast(event.TeamID, payload)
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
