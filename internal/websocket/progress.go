package websocket

import (
	"context"

	"github.com/viora/downloader/internal/download"
)

// Relay forwards snapshots from ch (typically a redis progress subscription
// fed by other instances) to the hub until ch closes or ctx is done.
func (h *Hub) Relay(ctx context.Context, ch <-chan download.TaskSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			h.Notify(snap)
		}
	}
}
