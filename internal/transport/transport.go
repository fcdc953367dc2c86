// Package transport delivers built FHIR messages to EPS: to a log, to the
// EPS FHIR endpoint over HTTP, or to a broker topic.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// Kind names an outbound message.
type Kind string

const (
	KindDispenseNotification Kind = "dispense-notification"
	KindClaim                Kind = "claim"
	KindWithdraw             Kind = "withdraw"
	KindRelease              Kind = "release"
	KindRepeatIssue          Kind = "repeat-issue"
)

// Message is a resource to deliver for one prescription.
type Message struct {
	Kind        Kind
	ShortFormID string
	Resource    r4.Resource
}

// Body encodes the resource as FHIR JSON.
func (m Message) Body() ([]byte, error) {
	if m.Resource == nil {
		return nil, fmt.Errorf("%s message for %s has no resource", m.Kind, m.ShortFormID)
	}
	b, err := json.Marshal(m.Resource)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind, err)
	}
	return b, nil
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *zap.Logger
	// Payloads also logs the encoded resource at debug level.
	Payloads bool
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs msg.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	body, err := msg.Body()
	if err != nil {
		return err
	}
	s.logger.Info("outbound message",
		zap.String("kind", string(msg.Kind)),
		zap.String("short_form_id", msg.ShortFormID),
		zap.String("resource_type", msg.Resource.GetResourceType()),
		zap.String("resource_id", msg.Resource.GetID()),
		zap.Int("bytes", len(body)))
	if s.Payloads {
		s.logger.Debug("outbound payload", zap.ByteString("body", body))
	}
	return nil
}
