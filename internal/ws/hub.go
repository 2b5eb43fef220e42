package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// MatchFoundEvent is pushed to a waiting client when an opponent is found.
type MatchFoundEvent struct {
	Type             string `json:"type"`
	TelegramID       int64  `json:"telegram_id"`
	MatchID          int64  `json:"match_id"`
	OpponentName     string `json:"opponent_first_name"`
	OpponentUsername string `json:"opponent_username"`
	Stake            int64  `json:"stake"`
	Prize            int64  `json:"prize"`
	Status           string `json:"status"`
}

// Hub maintains the set of connected matchmaking clients keyed by Telegram id
type Hub struct {
	clients map[int64]*Client
	mu      sync.RWMutex
}

// MatchHub is the global hub used by the matchmaking service
var MatchHub = NewHub()

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{clients: make(map[int64]*Client)}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A reconnect replaces the previous connection
	if old, exists := h.clients[c.telegramID]; exists {
		close(old.send)
	}
	h.clients[c.telegramID] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.clients[c.telegramID]; exists && current == c {
		delete(h.clients, c.telegramID)
		close(c.send)
	}
}

// SendToUser sends a message to a connected user, dropping it when the user
// is not connected or their buffer is full (clients also poll the status
// endpoint, so a dropped push is not a lost match).
func (h *Hub) SendToUser(telegramID int64, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, exists := h.clients[telegramID]; exists {
		select {
		case client.send <- data:
		default:
			log.Printf("[WS] Send buffer full for telegram_id=%d, dropping message", telegramID)
		}
	}
}

// ConnectedCount returns the number of connected clients
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
