package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"ureka/internal/config"
)

type EventType string

const (
	FileUploadStarted   EventType = "file.upload.started"
	FileUploadCompleted EventType = "file.upload.completed"
	FileUploadFailed    EventType = "file.upload.failed"
	FileDeleted         EventType = "file.deleted"
	ChatQueryCompleted  EventType = "chat.query.completed"
	ChatQueryFallback   EventType = "chat.query.fallback"

	DefaultTopic = "ureka.events"
)

type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
}

func NewEvent(eventType EventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      data,
	}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers domain events; key groups related events on one partition.
type Publisher interface {
	Publish(ctx context.Context, key string, ev *Event) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, ev *Event) error {
	data, err := ev.ToJSON()
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the process log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, key string, ev *Event) error {
	data, err := ev.ToJSON()
	if err != nil {
		return err
	}
	log.Printf("event %s key=%s %s", ev.Type, key, data)
	return nil
}

func (LogPublisher) Close() error { return nil }

// New picks Kafka when brokers are configured.
func New(cfg config.KafkaConfig) Publisher {
	if len(cfg.Brokers) == 0 {
		return LogPublisher{}
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}

// Emit publishes and logs failures; events never fail the caller.
func Emit(ctx context.Context, p Publisher, key string, ev *Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, key, ev); err != nil {
		log.Printf("publish %s failed: %v", ev.Type, err)
	}
}
