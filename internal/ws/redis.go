package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

const matchEventsChannel = "matchmaking:match_found"

// PublishMatchFound publishes a match event to Redis so every process
// delivers it to its own connected clients. With a nil client the event goes
// straight to the local hub.
func PublishMatchFound(ctx context.Context, rdb *redis.Client, event MatchFoundEvent) {
	if rdb == nil {
		MatchHub.SendToUser(event.TelegramID, event)
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Failed to marshal match event: %v", err)
		return
	}
	if err := rdb.Publish(ctx, matchEventsChannel, data).Err(); err != nil {
		log.Printf("[WS] Failed to publish match event: %v", err)
		// fall back to local delivery
		MatchHub.SendToUser(event.TelegramID, event)
	}
}

// StartMatchEventSubscriber forwards Redis match events to locally connected
// clients. Runs until the context is cancelled.
func StartMatchEventSubscriber(ctx context.Context, rdb *redis.Client) {
	if rdb == nil {
		return
	}

	go func() {
		sub := rdb.Subscribe(ctx, matchEventsChannel)
		defer sub.Close()

		log.Printf("[WS] Subscribed to %s", matchEventsChannel)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event MatchFoundEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("[WS] Bad match event payload: %v", err)
					continue
				}
				MatchHub.SendToUser(event.TelegramID, event)
			}
		}
	}()
}
