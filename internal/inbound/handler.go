// Package inbound stores released prescription orders consumed from the
// broker.
package inbound

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
	"github.com/drfirst/go-eps/internal/infrastructure/redpanda"
	"github.com/drfirst/go-eps/internal/observability/metrics"
	"github.com/drfirst/go-eps/internal/session"
	"github.com/drfirst/go-eps/pkg/idempotency"
)

const handlerName = "inbound-order"

// Handler turns consumed order bundles into session records. A bundle seen
// before is acknowledged without being stored again.
type Handler struct {
	store   *session.Store
	inbox   *idempotency.Inbox
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a handler. m may be nil.
func NewHandler(store *session.Store, inbox *idempotency.Inbox, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, inbox: inbox, metrics: m, logger: logger}
}

// Handle processes one consumed message. Orders that can never be stored
// return an error marked permanent.
func (h *Handler) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	order, err := r4.DecodeBundle(msg.Value)
	if err != nil {
		h.count("rejected")
		return idempotency.Permanent(fmt.Errorf("decode order: %w", err))
	}
	if order.BundleIdentifier() == "" {
		h.count("rejected")
		return idempotency.Permanent(&index.MalformedBundleError{Bundle: order.ID, Field: "Bundle.identifier", Message: "order has no identifier"})
	}

	key := idempotency.GenerateKey(handlerName, order.BundleIdentifier())
	res, err := h.inbox.Process(ctx, key, handlerName, func(context.Context) ([]byte, error) {
		rec, _, err := h.store.Put(order)
		if err != nil {
			if permanent(err) {
				return nil, idempotency.Permanent(err)
			}
			return nil, err
		}
		return []byte(rec.ShortFormID), nil
	})
	if err != nil {
		h.count("rejected")
		return err
	}

	outcome := "stored"
	if !res.IsNew && !res.WasRecovered {
		outcome = "duplicate"
	}
	h.count(outcome)
	if h.metrics != nil {
		h.metrics.PrescriptionsHeld.Set(float64(h.store.Len()))
	}
	h.logger.Info("order received",
		zap.String("short_form_id", string(res.Result)),
		zap.String("order", order.BundleIdentifier()),
		zap.String("outcome", outcome),
		zap.Int64("offset", msg.Offset))
	return nil
}

func (h *Handler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.InboundMessages.WithLabelValues(outcome).Inc()
	}
}

func permanent(err error) bool {
	var me *index.MalformedBundleError
	var ce *prescription.ChecksumError
	return errors.As(err, &me) || errors.As(err, &ce) || errors.Is(err, session.ErrConflict)
}
