package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/fhir/r4"
	"github.com/drfirst/go-eps/pkg/circuitbreaker"
)

// RejectedError is a 4xx answer from EPS. The message will not be
// accepted on a retry.
type RejectedError struct {
	Kind        Kind
	StatusCode  int
	Diagnostics string
}

func (e *RejectedError) Error() string {
	if e.Diagnostics != "" {
		return fmt.Sprintf("EPS rejected %s with %d: %s", e.Kind, e.StatusCode, e.Diagnostics)
	}
	return fmt.Sprintf("EPS rejected %s with %d", e.Kind, e.StatusCode)
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// paths maps a message kind to its EPS FHIR endpoint.
var paths = map[Kind]string{
	KindDispenseNotification: "/FHIR/R4/$process-message",
	KindRepeatIssue:          "/FHIR/R4/$process-message",
	KindClaim:                "/FHIR/R4/Claim",
	KindWithdraw:             "/FHIR/R4/Task",
	KindRelease:              "/FHIR/R4/Task/$release",
}

// HTTPSender posts messages to the EPS FHIR API through a circuit breaker.
type HTTPSender struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPSender creates a sender for baseURL. The breaker ignores
// rejections so that bad requests do not open it.
func NewHTTPSender(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *HTTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// BreakerConfig returns a breaker configuration suited to the sender.
func BreakerConfig(name string) circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.Neutral = IsRejected
	return cfg
}

// Send posts msg and checks the response status.
func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	path, ok := paths[msg.Kind]
	if !ok {
		return fmt.Errorf("no EPS endpoint for %q", msg.Kind)
	}
	body, err := msg.Body()
	if err != nil {
		return err
	}
	if s.breaker == nil {
		return s.post(ctx, msg, path, body)
	}
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.post(ctx, msg, path, body)
	})
}

func (s *HTTPSender) post(ctx context.Context, msg Message, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", r4.ContentTypeFHIRJSON)
	req.Header.Set("Accept", r4.ContentTypeFHIRJSON)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Correlation-ID", msg.ShortFormID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", msg.Kind, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	s.logger.Info("EPS response",
		zap.String("kind", string(msg.Kind)),
		zap.String("short_form_id", msg.ShortFormID),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return &RejectedError{Kind: msg.Kind, StatusCode: resp.StatusCode, Diagnostics: diagnostics(respBody)}
	default:
		return fmt.Errorf("EPS returned %d for %s", resp.StatusCode, msg.Kind)
	}
}

// diagnostics joins the issue diagnostics of an OperationOutcome body.
func diagnostics(body []byte) string {
	var oo r4.OperationOutcome
	if json.Unmarshal(body, &oo) != nil {
		return ""
	}
	var parts []string
	for _, issue := range oo.Issue {
		if issue.Diagnostics != "" {
			parts = append(parts, issue.Diagnostics)
		}
	}
	return strings.Join(parts, "; ")
}
