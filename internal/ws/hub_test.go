package ws

import (
	"encoding/json"
	"testing"
)

func newTestClient(telegramID int64) *Client {
	return &Client{telegramID: telegramID, send: make(chan []byte, 4)}
}

func TestSendToUserDeliversToRegisteredClient(t *testing.T) {
	hub := NewHub()
	client := newTestClient(1)
	hub.register(client)

	hub.SendToUser(1, MatchFoundEvent{Type: "match_found", TelegramID: 1, MatchID: 7, Prize: 450})

	select {
	case data := <-client.send:
		var event MatchFoundEvent
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if event.MatchID != 7 || event.Prize != 450 {
			t.Errorf("event = %+v", event)
		}
	default:
		t.Fatal("no message delivered")
	}
}

func TestSendToUserDropsWhenNotConnected(t *testing.T) {
	hub := NewHub()
	// Must not panic or block
	hub.SendToUser(99, MatchFoundEvent{Type: "match_found"})
}

func TestSendToUserDropsOnFullBuffer(t *testing.T) {
	hub := NewHub()
	client := &Client{telegramID: 1, send: make(chan []byte)} // unbuffered, nobody reading
	hub.register(client)

	// Must not block
	hub.SendToUser(1, MatchFoundEvent{Type: "match_found"})
}

func TestReconnectReplacesClient(t *testing.T) {
	hub := NewHub()
	first := newTestClient(1)
	second := newTestClient(1)

	hub.register(first)
	hub.register(second)

	if hub.ConnectedCount() != 1 {
		t.Fatalf("connected = %d, want 1", hub.ConnectedCount())
	}
	// The first client's channel is closed on replacement
	if _, open := <-first.send; open {
		t.Error("first client channel still open after reconnect")
	}

	// Unregistering the stale client must not evict the new one
	hub.unregister(first)
	if hub.ConnectedCount() != 1 {
		t.Errorf("connected = %d after stale unregister, want 1", hub.ConnectedCount())
	}

	hub.unregister(second)
	if hub.ConnectedCount() != 0 {
		t.Errorf("connected = %d after unregister, want 0", hub.ConnectedCount())
	}
}
