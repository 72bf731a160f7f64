package events

import (
	"context"

	interfaces "github.com/seezam/finbot/internal/interfaces"
)

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, key string, event any) error {
	return nil
}

var _ interfaces.EventPublisher = Nop{}
