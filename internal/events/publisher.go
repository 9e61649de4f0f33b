package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/ecosync/internal/config"
)

// ErrNilEvent indicates a nil event payload was provided to a publisher.
var ErrNilEvent = errors.New("nil post event")

// Publisher publishes post decisions to an event stream backend.
type Publisher interface {
	PublishPostDecided(ctx context.Context, event *PostDecidedEvent) error
	Close() error
}

// NewPublisher builds the publisher selected by cfg.Backend.
func NewPublisher(cfg *config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return NewNopPublisher(), nil
	case "kafka":
		p, err := NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
}

// NopPublisher is a no-op publisher used for tests and disabled mode.
type NopPublisher struct{}

// NewNopPublisher creates a new no-op publisher.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

// PublishPostDecided validates input and otherwise does nothing.
func (p *NopPublisher) PublishPostDecided(_ context.Context, event *PostDecidedEvent) error {
	if event == nil {
		return ErrNilEvent
	}
	return nil
}

// Close is a no-op.
func (p *NopPublisher) Close() error {
	return nil
}
