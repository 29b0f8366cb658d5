package mint

import (
	"context"
	"encoding/json"
	"log"
	"thruster/src/types"
)

const (
	EVENT_MINTED      = "order.minted"
	EVENT_MINT_FAILED = "order.mint_failed"
)

// EventPublisher fans order events out to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload types.JSONB) error
}

// LogPublisher writes events to the process log.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, topic, key string, payload types.JSONB) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	log.Printf("[Events] %s %s %s\n", topic, key, string(b))
	return nil
}
