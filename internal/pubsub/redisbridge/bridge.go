// Package redisbridge is an optional, off-by-default relay that mirrors a
// small set of broadcast topics (system:plugins:ready and similar
// process-lifecycle events) onto a Redis pub/sub channel so a second process
// sharing the same Redis instance observes them too.
//
// It is not a durability or consensus mechanism: messages are fire-and-forget,
// a subscriber that is down when a message is published simply misses it, and
// the in-process bus (internal/bus) remains the canonical delivery path
// within a single process — this bridge only extends broadcast visibility
// across processes for the narrow set of topics it is told to relay.
package redisbridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/geocoder89/workcore/internal/bus"
)

// wireMessage is what crosses the Redis channel — just enough of
// bus.Message to reconstruct a broadcast on the receiving side.
type wireMessage struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Source    string `json:"source"`
	Broadcast bool   `json:"broadcast"`
}

// Bridge relays local broadcasts of its configured topics onto a Redis
// channel, and replays messages received on that channel back into the
// local Bus (tagged with a distinct source so a relayed message is never
// re-relayed).
type Bridge struct {
	client *redis.Client
	bus    *bus.Bus
	topics []string
	logger *slog.Logger
}

const relaySource = "redisbridge"

// New builds a Bridge. Call Start to begin relaying; the bridge does nothing
// until then, matching the owning specification's "off by default".
func New(client *redis.Client, b *bus.Bus, channel string, topics []string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, bus: b, topics: topics, logger: logger}
}

// Start subscribes to channel on Redis and registers local bus subscriptions
// for every configured topic, relaying each direction. It returns a function
// that stops relaying and unsubscribes locally; it does not close the Redis
// client, which the caller owns.
func (br *Bridge) Start(ctx context.Context, channel string) (stop func(), err error) {
	sub := br.client.Subscribe(ctx, channel)

	unsubscribeLocal := make([]func(), 0, len(br.topics))
	for _, topic := range br.topics {
		t := topic
		unsubscribeLocal = append(unsubscribeLocal, br.bus.Subscribe(t, func(_ context.Context, msg bus.Message) (bus.Response, error) {
			if msg.Source == relaySource {
				// already arrived via Redis — don't bounce it back out.
				return bus.Response{Success: true}, nil
			}
			br.publish(ctx, channel, msg)
			return bus.Response{Success: true}, nil
		}))
	}

	done := make(chan struct{})
	go br.relayIncoming(ctx, sub, done)

	return func() {
		close(done)
		_ = sub.Close()
		for _, unsub := range unsubscribeLocal {
			unsub()
		}
	}, nil
}

func (br *Bridge) publish(ctx context.Context, channel string, msg bus.Message) {
	wm := wireMessage{Type: msg.Type, Payload: msg.Payload, Source: msg.Source, Broadcast: msg.Broadcast}

	raw, err := json.Marshal(wm)
	if err != nil {
		br.logger.ErrorContext(ctx, "redisbridge.marshal_failed", "topic", msg.Type, "err", err)
		return
	}

	if err := br.client.Publish(ctx, channel, raw).Err(); err != nil {
		br.logger.ErrorContext(ctx, "redisbridge.publish_failed", "topic", msg.Type, "err", err)
	}
}

func (br *Bridge) relayIncoming(ctx context.Context, sub *redis.PubSub, done <-chan struct{}) {
	ch := sub.Channel()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case rawMsg, ok := <-ch:
			if !ok {
				return
			}

			var wm wireMessage
			if err := json.Unmarshal([]byte(rawMsg.Payload), &wm); err != nil {
				br.logger.ErrorContext(ctx, "redisbridge.unmarshal_failed", "err", err)
				continue
			}
			if wm.Source == relaySource {
				continue
			}

			_, err := br.bus.Send(ctx, wm.Type, wm.Payload, relaySource, bus.SendOptions{Broadcast: true})
			if err != nil {
				br.logger.ErrorContext(ctx, "redisbridge.replay_failed", "topic", wm.Type, "err", err)
			}
		}
	}
}
