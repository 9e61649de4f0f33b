package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/domain"
)

func TestNopPublisherRejectsNil(t *testing.T) {
	p := NewNopPublisher()
	if err := p.PublishPostDecided(context.Background(), nil); !errors.Is(err, ErrNilEvent) {
		t.Errorf("error = %v, want ErrNilEvent", err)
	}
	post := &domain.Post{ID: "p1", UserID: "u1", Status: domain.PostStatusVerified}
	if err := p.PublishPostDecided(context.Background(), NewPostDecidedEvent(post, 10, "assessor")); err != nil {
		t.Errorf("PublishPostDecided: %v", err)
	}
}

func TestBuildMessageKeysByUser(t *testing.T) {
	post := &domain.Post{ID: "p1", UserID: "u1", Status: domain.PostStatusRejected, ReviewNotes: "Rejected by admin"}
	event := NewPostDecidedEvent(post, -10, "admin")

	msg, err := buildMessage(event)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	if string(msg.Key) != "u1" {
		t.Errorf("Key = %q, want u1", msg.Key)
	}

	var decoded PostDecidedEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.EventType != EventTypePostDecided || decoded.CreditsDelta != -10 || decoded.Status != domain.PostStatusRejected {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestNewPublisher(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EventsConfig
		wantErr bool
	}{
		{name: "disabled", cfg: config.EventsConfig{Backend: "none"}},
		{name: "empty backend", cfg: config.EventsConfig{}},
		{name: "kafka", cfg: config.EventsConfig{Backend: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}}},
		{name: "kafka without brokers", cfg: config.EventsConfig{Backend: "kafka"}, wantErr: true},
		{name: "unknown", cfg: config.EventsConfig{Backend: "nats"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPublisher(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPublisher error = %v, wantErr %v", err, tt.wantErr)
			}
			if p != nil {
				_ = p.Close()
			}
		})
	}
}
