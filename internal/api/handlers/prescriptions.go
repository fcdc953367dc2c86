package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/api/middleware"
	"github.com/drfirst/go-eps/internal/domain/dispense"
	"github.com/drfirst/go-eps/internal/fhir/r4"
	"github.com/drfirst/go-eps/internal/session"
)

// maxBundleBytes bounds an uploaded order bundle.
const maxBundleBytes = 4 << 20

// PrescriptionResponse summarises a stored prescription.
type PrescriptionResponse struct {
	ShortFormID   string    `json:"shortFormId"`
	Order         string    `json:"order"`
	LineItems     []string  `json:"lineItems"`
	Notifications int       `json:"notifications"`
	Claims        int       `json:"claims"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func summarise(rec session.Record) PrescriptionResponse {
	resp := PrescriptionResponse{
		ShortFormID:   rec.ShortFormID.String(),
		Order:         rec.Order.BundleIdentifier(),
		LineItems:     []string{},
		Notifications: rec.History.Len(),
		Claims:        len(rec.Claims),
		UpdatedAt:     rec.UpdatedAt,
	}
	if idx, err := rec.Index(); err == nil {
		for _, mr := range idx.MedicationRequests() {
			resp.LineItems = append(resp.LineItems, mr.LineItemID())
		}
	}
	return resp
}

// CreatePrescription handles POST /prescriptions. The body is a
// prescription order message bundle.
func (h *Handler) CreatePrescription(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "create_prescription")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBundleBytes))
	if err != nil {
		middleware.WriteOutcome(w, http.StatusBadRequest, "structure", "read body: "+err.Error())
		return
	}
	order, err := r4.DecodeBundle(body)
	if err != nil {
		middleware.WriteOutcome(w, http.StatusBadRequest, "structure", err.Error())
		return
	}

	rec, created, err := h.store.Put(order)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("short_form_id", rec.ShortFormID.String()), attribute.Bool("created", created))
	if h.metrics != nil {
		h.metrics.PrescriptionsHeld.Set(float64(h.store.Len()))
	}

	h.logger.Info("prescription stored",
		zap.String("short_form_id", rec.ShortFormID.String()),
		zap.Bool("created", created),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	)

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/v1/prescriptions/"+rec.ShortFormID.String())
	writeJSON(w, status, summarise(rec))
}

// ListPrescriptions handles GET /prescriptions
func (h *Handler) ListPrescriptions(w http.ResponseWriter, r *http.Request) {
	ids := h.store.IDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"prescriptions": out})
}

// GetPrescription handles GET /prescriptions/{id}
func (h *Handler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarise(rec))
}

// LineItemStatus is the aggregated state of one line item.
type LineItemStatus struct {
	ID             string `json:"id"`
	Status         string `json:"status,omitempty"`
	Display        string `json:"display,omitempty"`
	Dispensed      string `json:"dispensed"`
	DispensedSoFar string `json:"dispensedSoFar"`
	Unit           string `json:"unit,omitempty"`
}

// StatusResponse is the tracker view of a prescription.
type StatusResponse struct {
	ShortFormID   string              `json:"shortFormId"`
	Status        string              `json:"status"`
	StatusDisplay string              `json:"statusDisplay"`
	LineItems     []LineItemStatus    `json:"lineItems"`
	Events        []dispense.EventRow `json:"events"`
}

// Status handles GET /prescriptions/{id}/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "prescription_status")
	defer span.End()

	rec, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := status(rec)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func status(rec session.Record) (StatusResponse, error) {
	ps, err := dispense.PrescriptionStatus(rec.History)
	if err != nil {
		return StatusResponse{}, err
	}
	rows, err := dispense.EventsTable(rec.History)
	if err != nil {
		return StatusResponse{}, err
	}
	events, err := rec.History.Events()
	if err != nil {
		return StatusResponse{}, err
	}
	idx, err := rec.Index()
	if err != nil {
		return StatusResponse{}, err
	}

	groups := dispense.GroupByLineItem(events)
	resp := StatusResponse{
		ShortFormID:   rec.ShortFormID.String(),
		Status:        string(ps),
		StatusDisplay: ps.Display(),
		LineItems:     []LineItemStatus{},
		Events:        rows,
	}
	for _, mr := range idx.MedicationRequests() {
		item := LineItemStatus{ID: mr.LineItemID(), Dispensed: "0", DispensedSoFar: "0"}
		if group := groups[item.ID]; len(group) > 0 {
			sum, err := dispense.Summarise(group)
			if err != nil {
				return StatusResponse{}, err
			}
			item.Status = string(sum.Status)
			item.Display = sum.Status.Display()
			item.Dispensed = sum.Dispensed.Value.String()
			item.DispensedSoFar = sum.DispensedSoFar.Value.String()
			item.Unit = sum.Dispensed.Unit
		}
		resp.LineItems = append(resp.LineItems, item)
	}
	return resp, nil
}
