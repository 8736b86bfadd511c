package websocket

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const broadcastBuffer = 256

// Hub maintains the set of active clients and broadcasts activity events to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Outbound messages for every connected client.
	broadcast chan []byte

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// Replies addressed to a single client.
	direct chan directMessage

	done     chan struct{}
	stopOnce sync.Once
}

type directMessage struct {
	client  *Client
	message []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		direct:     make(chan directMessage),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			log.Info().Str("user_id", client.UserID).Int("total_clients", len(h.clients)).Msg("Client connected")
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				log.Info().Str("user_id", client.UserID).Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Slow consumer; drop it rather than block the feed.
					close(client.Send)
					delete(h.clients, client)
				}
			}
		case dm := <-h.direct:
			if _, ok := h.clients[dm.client]; ok {
				select {
				case dm.client.Send <- dm.message:
				default:
				}
			}
		case <-h.done:
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			return
		}
	}
}

// Publish queues message for every connected client. It never blocks; when
// the queue is full the message is dropped.
func (h *Hub) Publish(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		log.Warn().Msg("Websocket broadcast queue full, dropping message")
	}
}

// SendTo queues message for a single registered client. Messages for
// unknown clients or full buffers are dropped.
func (h *Hub) SendTo(client *Client, message []byte) {
	select {
	case h.direct <- directMessage{client: client, message: message}:
	case <-h.done:
	}
}

// Stop terminates Run and closes every client's send channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Done is closed once Stop has been called.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// clientCount is only safe to call while Run is not executing.
func (h *Hub) clientCount() int {
	return len(h.clients)
}
