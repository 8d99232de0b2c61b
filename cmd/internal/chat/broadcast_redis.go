package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-redis/redis/v8"

	v1 "gymhub/shared/contracts/chat/v1"
)

const defaultRelayChannel = "gymhub.chat.relay"

// RedisBroadcaster relays envelopes through a Redis pub/sub channel so that
// recipients connected to other gymhub processes still receive them.
//
// Every process subscribes to the channel and delivers received frames to its
// local registry, the publisher included; Deliver therefore only publishes.
// When Redis is unreachable the broadcaster degrades to local delivery so a
// single-process deployment keeps working.
type RedisBroadcaster struct {
	log     *slog.Logger
	rdb     *redis.Client
	local   *LocalBroadcaster
	channel string

	sub *redis.PubSub
}

type relayFrame struct {
	Recipients []string    `json:"recipients"`
	Envelope   v1.Envelope `json:"envelope"`
}

// NewRedisBroadcaster connects the relay and starts the subscription loop.
// The loop stops when ctx is cancelled or Close is called.
func NewRedisBroadcaster(ctx context.Context, log *slog.Logger, rdb *redis.Client, local *LocalBroadcaster, channel string) (*RedisBroadcaster, error) {
	if log == nil {
		log = slog.Default()
	}
	if rdb == nil {
		return nil, errors.New("chat: nil redis client")
	}
	if local == nil {
		return nil, errors.New("chat: nil local broadcaster")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = defaultRelayChannel
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	b := &RedisBroadcaster{
		log:     log,
		rdb:     rdb,
		local:   local,
		channel: channel,
		sub:     rdb.Subscribe(ctx, channel),
	}

	go b.run(ctx)
	return b, nil
}

// Deliver publishes the frame to the relay channel. The local delivery happens
// when the subscription loop receives the frame back.
func (b *RedisBroadcaster) Deliver(ctx context.Context, userIDs []string, env v1.Envelope) {
	if b == nil {
		return
	}

	raw, err := json.Marshal(relayFrame{Recipients: userIDs, Envelope: env})
	if err != nil {
		b.log.Error("chat.relay.encode.fail", "err", err)
		return
	}

	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.log.Warn("chat.relay.publish.fail", "err", err)
		b.local.Deliver(ctx, userIDs, env)
	}
}

// Close stops the subscription loop.
func (b *RedisBroadcaster) Close() error {
	if b == nil || b.sub == nil {
		return nil
	}
	return b.sub.Close()
}

func (b *RedisBroadcaster) run(ctx context.Context) {
	ch := b.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.log.Warn("chat.relay.decode.fail", "err", err)
				continue
			}
			b.local.Deliver(ctx, frame.Recipients, frame.Envelope)
		}
	}
}
