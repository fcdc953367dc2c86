// Package handlers serves the harness HTTP API: prescription identifiers,
// stored orders and the dispensing workflow built on top of them.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/api/middleware"
	"github.com/drfirst/go-eps/internal/builder"
	"github.com/drfirst/go-eps/internal/domain/dispense"
	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
	"github.com/drfirst/go-eps/internal/observability/metrics"
	"github.com/drfirst/go-eps/internal/session"
	"github.com/drfirst/go-eps/internal/transport"
	"github.com/drfirst/go-eps/pkg/circuitbreaker"
	"github.com/drfirst/go-eps/pkg/idempotency"
)

// HeaderIdempotencyKey makes a dispense request safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

// Dispatcher delivers built messages to EPS.
type Dispatcher interface {
	Send(ctx context.Context, msg transport.Message) error
	SendBatch(ctx context.Context, msgs []transport.Message) error
}

// Options configures a Handler.
type Options struct {
	Store      *session.Store
	Builder    *builder.Builder
	Dispatcher Dispatcher
	Inbox      *idempotency.Inbox
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	// Pharmacy is the ODS code used when a request names none.
	Pharmacy string
	// MaxRepeatIssues is the issue count for repeat orders that do not
	// state one.
	MaxRepeatIssues int
}

// Handler serves the prescription and identifier endpoints.
type Handler struct {
	store      *session.Store
	builder    *builder.Builder
	dispatcher Dispatcher
	inbox      *idempotency.Inbox
	metrics    *metrics.Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
	pharmacy   string
	maxRepeats int
}

// New creates a handler. Builder and Inbox default to fresh instances;
// Metrics may be nil.
func New(opts Options) *Handler {
	h := &Handler{
		store:      opts.Store,
		builder:    opts.Builder,
		dispatcher: opts.Dispatcher,
		inbox:      opts.Inbox,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		tracer:     otel.Tracer("eps-handlers"),
		pharmacy:   opts.Pharmacy,
		maxRepeats: opts.MaxRepeatIssues,
	}
	if h.builder == nil {
		h.builder = builder.New()
	}
	if h.inbox == nil {
		h.inbox = idempotency.NewInbox(idempotency.DefaultInboxConfig(), opts.Logger)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.pharmacy == "" {
		h.pharmacy = builder.DefaultPharmacy
	}
	if h.maxRepeats <= 0 {
		h.maxRepeats = 6
	}
	return h
}

// Routes returns the handler routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/shortform", func(r chi.Router) {
		r.Post("/", h.GenerateShortForm)
		r.Get("/{id}/validate", h.ValidateShortForm)
	})

	r.Post("/release", h.ReleaseNominated)

	r.Route("/prescriptions", func(r chi.Router) {
		r.Post("/", h.CreatePrescription)
		r.Get("/", h.ListPrescriptions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetPrescription)
			r.Get("/status", h.Status)
			r.Post("/dispense", h.Dispense)
			r.Post("/claim", h.Claim)
			r.Post("/withdraw", h.Withdraw)
			r.Post("/release", h.Release)
			r.Post("/repeats", h.Repeats)
		})
	})
	return r
}

// observeBuild records the outcome of building one message kind.
func (h *Handler) observeBuild(kind transport.Kind, start time.Time, err error) {
	if h.metrics == nil {
		return
	}
	h.metrics.BuildDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.BuildErrors.WithLabelValues(string(kind), errorClass(err)).Inc()
		return
	}
	h.metrics.MessagesBuilt.WithLabelValues(string(kind)).Inc()
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteOutcome(w, http.StatusBadRequest, "structure", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResource(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", r4.ContentTypeFHIRJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an engine error to an HTTP status and OperationOutcome.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
	middleware.WriteOutcome(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	var (
		checksum  *prescription.ChecksumError
		malformed *index.MalformedBundleError
		units     *dispense.UnitMismatchError
		missing   *r4.MissingExtensionError
		pre       *dispense.PreconditionViolation
		build     *builder.BuildError
		rejected  *transport.RejectedError
	)
	switch {
	case errors.As(err, &checksum):
		return http.StatusBadRequest, "value"
	case errors.As(err, &malformed), errors.As(err, &units), errors.As(err, &missing):
		return http.StatusUnprocessableEntity, "invalid"
	case errors.As(err, &pre):
		return http.StatusConflict, "business-rule"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "not-found"
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict, "duplicate"
	case errors.As(err, &build):
		return http.StatusBadRequest, "value"
	case errors.As(err, &rejected):
		return http.StatusBadGateway, "processing"
	case errors.Is(err, circuitbreaker.ErrOpen):
		return http.StatusServiceUnavailable, "transient"
	case errors.Is(err, idempotency.ErrMessageInProgress):
		return http.StatusConflict, "conflict"
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		return http.StatusUnprocessableEntity, "processing"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "exception"
	}
}

// errorClass is the metric label for a build error.
func errorClass(err error) string {
	var (
		checksum  *prescription.ChecksumError
		malformed *index.MalformedBundleError
		units     *dispense.UnitMismatchError
		missing   *r4.MissingExtensionError
		pre       *dispense.PreconditionViolation
		build     *builder.BuildError
	)
	switch {
	case errors.As(err, &checksum):
		return "checksum"
	case errors.As(err, &malformed):
		return "malformed_bundle"
	case errors.As(err, &units):
		return "unit_mismatch"
	case errors.As(err, &missing):
		return "missing_extension"
	case errors.As(err, &pre):
		return "precondition"
	case errors.As(err, &build):
		return "build"
	default:
		return "other"
	}
}
