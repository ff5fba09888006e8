package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-membership/internal/config"
	"ms-membership/internal/models"
)

// Producer streams attendance and membership events. When Kafka is
// disabled in config the nil-safe methods become no-ops, so callers
// never need to branch.
type Producer struct {
	writer *kafka.Writer
	topics config.TopicConfig
}

func NewProducer(cfg config.KafkaConfig) *Producer {
	if !cfg.Enabled {
		return nil
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
	})
	return &Producer{writer: writer, topics: cfg.Topics}
}

type checkedInEvent struct {
	AttendeeID string    `json:"attendee_id"`
	EventID    string    `json:"event_id"`
	Email      string    `json:"email"`
	CheckedIn  time.Time `json:"checked_in_at"`
}

// PublishCheckedIn streams one attendee check-in.
func (p *Producer) PublishCheckedIn(attendee models.Attendee) error {
	if p == nil {
		return nil
	}
	payload := checkedInEvent{
		AttendeeID: attendee.ID,
		EventID:    attendee.EventID,
		Email:      attendee.Email,
	}
	if attendee.CheckedInTime != nil {
		payload.CheckedIn = *attendee.CheckedInTime
	}
	return p.publish(p.topics.AttendeeCheckedIn, attendee.Email, payload)
}

type statusChangedEvent struct {
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	ChangedAt time.Time `json:"changed_at"`
}

// PublishStatusChanged streams one membership activation or
// deactivation.
func (p *Producer) PublishStatusChanged(email string, active bool) error {
	if p == nil {
		return nil
	}
	payload := statusChangedEvent{
		Email:     email,
		Active:    active,
		ChangedAt: time.Now().UTC(),
	}
	return p.publish(p.topics.MembershipStatusChanged, email, payload)
}

func (p *Producer) publish(topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
