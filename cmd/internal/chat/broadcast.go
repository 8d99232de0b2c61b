package chat

import (
	"context"
	"log/slog"

	v1 "gymhub/shared/contracts/chat/v1"
)

// Broadcaster fans an envelope out to the live sessions of the given users.
// Delivery is best-effort: implementations never block and never fail a send
// because a recipient is offline.
//
// The single-process implementation delivers through the local Registry; the
// Redis implementation relays through pub/sub so any process hosting a
// recipient's session delivers it.
type Broadcaster interface {
	Deliver(ctx context.Context, userIDs []string, env v1.Envelope)
}

// LocalBroadcaster delivers to sessions registered in this process.
type LocalBroadcaster struct {
	log     *slog.Logger
	reg     *Registry
	metrics *Metrics
}

// NewLocalBroadcaster constructs a registry-backed Broadcaster.
func NewLocalBroadcaster(log *slog.Logger, reg *Registry, metrics *Metrics) *LocalBroadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &LocalBroadcaster{log: log, reg: reg, metrics: metrics}
}

// Deliver enqueues env on every live session of every listed user.
// Non-blocking: if a session queue is full or the client is shutting down,
// that session is skipped.
func (b *LocalBroadcaster) Deliver(_ context.Context, userIDs []string, env v1.Envelope) {
	if b == nil || b.reg == nil {
		return
	}

	seen := make(map[string]struct{}, len(userIDs))
	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}

		for _, c := range b.reg.Sessions(uid) {
			select {
			case <-c.Done():
				continue
			default:
			}

			select {
			case c.Send <- env:
				if b.metrics != nil {
					b.metrics.Deliveries.Inc()
				}
			default:
				// Drop rather than block the whole fanout.
				if b.metrics != nil {
					b.metrics.DeliveryDrops.Inc()
				}
				b.log.Warn("chat.deliver.drop", "user_id", uid, "session_id", c.SessionID, "type", env.Type)
			}
		}
	}
}
