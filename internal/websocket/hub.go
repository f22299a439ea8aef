package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/sirupsen/logrus"
	"github.com/wavecast/api/internal/model"
)

const (
	sendBuffer   = 16
	pingInterval = 30 * time.Second
)

// Client represents a WebSocket subscriber of one job
type Client struct {
	JobID string
	Send  chan []byte
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// Hub fans job transitions out to WebSocket subscribers
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	stop       chan struct{}
	stopOnce   sync.Once

	mu  sync.RWMutex
	log logrus.FieldLogger
}

// NewHub creates a new Hub
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		stop:       make(chan struct{}),
		log:        log.WithField("component", "ws_hub"),
	}
}

// Run starts the hub's main loop; it returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for jobID, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.clients, jobID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.log.WithField("job_id", client.JobID).Debug("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.log.WithField("job_id", client.JobID).Debug("client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					// Slow subscriber; it can fall back to polling.
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.Send)
		if len(clients) == 0 {
			delete(h.clients, client.JobID)
		}
	}
}

// trySend queues data for a client that is still registered.
func (h *Hub) trySend(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client.JobID][client] {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		return false
	}
}

// Stop ends Run and closes every subscriber.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Register adds a new client
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stop:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// Subscribers reports how many clients follow jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// BroadcastStatus sends the job's current status to its subscribers. It
// never blocks the caller: when the hub is saturated the update is dropped.
func (h *Hub) BroadcastStatus(job model.Job) {
	data, err := json.Marshal(StatusMessage(job))
	if err != nil {
		h.log.WithError(err).Error("failed to marshal status message")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: job.ID, Message: data}:
	case <-h.stop:
	default:
		h.log.WithField("job_id", job.ID).Warn("hub saturated, status update dropped")
	}
}

// StatusMessage is the push payload for job.
func StatusMessage(job model.Job) model.WSStatusMessage {
	msg := model.WSStatusMessage{
		Type:   model.WSMessageTypeStatus,
		JobID:  job.ID,
		Status: job.Status(),
		Error:  job.ErrorMessage(),
	}
	if d, ok := job.State.(model.Done); ok {
		msg.URL = d.PublicURL
	}
	return msg
}

// messageWriter is the write half of a websocket connection.
type messageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// sendStatus writes job's status message as a text frame.
func sendStatus(w messageWriter, job model.Job) error {
	data, err := json.Marshal(StatusMessage(job))
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, data)
}

// HandleConnection serves one subscriber. initial, when set, is the job's
// state at subscribe time and is sent first.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, initial *model.Job) {
	client := &Client{
		JobID: jobID,
		Send:  make(chan []byte, sendBuffer),
	}

	if !h.Register(client) {
		return
	}
	defer h.Unregister(client)

	if initial != nil {
		if err := sendStatus(c, *initial); err != nil {
			h.log.WithError(err).WithField("job_id", jobID).Debug("failed to send initial status")
			return
		}
	}

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					if err := c.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
						h.log.WithError(err).WithField("job_id", jobID).Debug("failed to send close frame")
					}
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Warn("websocket read error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.trySend(client, pong)
		}
	}
}
