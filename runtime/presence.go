package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"log/slog"

	"github.com/samber/lo"
)

// PresenceBroadcaster renders the registry into a presence frame and pushes
// the full snapshot to every registered connection, the triggering one
// included. No diffing against previous snapshots.
type PresenceBroadcaster struct {
	log              *slog.Logger
	registry         contract.IRegistry
	includeAnonymous bool
}

func NewPresenceBroadcaster(log *slog.Logger, registry contract.IRegistry, includeAnonymous bool) *PresenceBroadcaster {
	return &PresenceBroadcaster{log: log, registry: registry, includeAnonymous: includeAnonymous}
}

// Online projects the registry snapshot to presence entries.
func (p *PresenceBroadcaster) Online(entries []contract.Entry) []domain.PresenceEntry {
	if !p.includeAnonymous {
		entries = lo.Filter(entries, func(e contract.Entry, _ int) bool { return e.Identity != nil })
	}
	return lo.Map(entries, func(e contract.Entry, _ int) domain.PresenceEntry {
		return e.Identity.Presence()
	})
}

// Broadcast sends the current snapshot and returns how many sends succeeded.
// Sends are fire and forget: a failing connection is logged and skipped.
func (p *PresenceBroadcaster) Broadcast(ctx context.Context) int {
	entries := p.registry.Snapshot()
	data, err := domain.EncodeFrame(domain.PresenceFrame{Online: p.Online(entries)})
	if err != nil {
		p.log.ErrorContext(ctx, "Presence frame encoding failed", "err", err)
		return 0
	}
	sent := 0
	for _, entry := range entries {
		if err := entry.Conn.Send(data); err != nil {
			p.log.WarnContext(ctx, "Presence send failed", "connection_id", entry.Conn.ID(), "err", err)
			continue
		}
		sent++
	}
	p.log.DebugContext(ctx, "Presence broadcast", "connections", len(entries), "sent", sent)
	return sent
}
