package events

import (
	"context"

	"github.com/atmx/fund-engine/internal/model"
)

// Publisher receives fund events. Implementations must not block.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event)
}

// Multi publishes every event to each of its publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev model.Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}
