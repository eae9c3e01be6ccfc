package channel

import (
	"context"

	"github.com/stellarlinkco/nanoclaw/internal/bus"
)

// Channel is one chat transport. Start begins delivering inbound events
// to the bus; Send emits one outbound message.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel carries the pieces every transport shares.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{name: name, bus: b, allowFrom: allowFrom}
}

func (b *BaseChannel) Name() string {
	return b.name
}

func (b *BaseChannel) Bus() *bus.MessageBus {
	return b.bus
}

// IsAllowed reports whether a sender passes the allow-list. An empty
// list allows everyone.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	for _, allowed := range b.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}
