package transport

import (
	"context"

	"github.com/drfirst/go-eps/internal/infrastructure/redpanda"
)

// BrokerSender publishes messages to a topic, keyed by prescription.
type BrokerSender struct {
	publisher redpanda.Publisher
	topic     string
}

// NewBrokerSender creates a sender publishing to topic.
func NewBrokerSender(publisher redpanda.Publisher, topic string) *BrokerSender {
	return &BrokerSender{publisher: publisher, topic: topic}
}

// Send publishes msg.
func (s *BrokerSender) Send(ctx context.Context, msg Message) error {
	body, err := msg.Body()
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, redpanda.Message{
		Topic: s.topic,
		Key:   msg.ShortFormID,
		Value: body,
		Headers: map[string]string{
			redpanda.HeaderKind:        string(msg.Kind),
			redpanda.HeaderShortFormID: msg.ShortFormID,
			redpanda.HeaderContentType: redpanda.ContentTypeFHIRJSON,
		},
	})
}
