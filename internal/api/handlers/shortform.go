package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/drfirst/go-eps/internal/builder"
	"github.com/drfirst/go-eps/internal/domain/prescription"
)

// GenerateRequest is the request body for generating a prescription id
type GenerateRequest struct {
	// Org is the prescribing organisation's ODS code
	Org string `json:"org"`
}

// ShortFormResponse describes one prescription identifier.
type ShortFormResponse struct {
	ShortFormID string `json:"shortFormId"`
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
}

// GenerateShortForm handles POST /shortform
func (h *Handler) GenerateShortForm(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "generate_short_form")
	defer span.End()

	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Org == "" {
		req.Org = h.pharmacy
	}

	id, err := h.builder.Codec.Generate(req.Org)
	if err != nil {
		h.writeError(w, r, &builder.BuildError{Field: "org", Code: "INVALID_ORG", Message: "cannot generate a prescription id", Cause: err})
		return
	}
	span.SetAttributes(attribute.String("short_form_id", id.String()))
	writeJSON(w, http.StatusCreated, ShortFormResponse{ShortFormID: id.String(), Valid: true})
}

// ValidateShortForm handles GET /shortform/{id}/validate. An invalid id is
// reported in the body, not as an error status.
func (h *Handler) ValidateShortForm(w http.ResponseWriter, r *http.Request) {
	candidate := chi.URLParam(r, "id")

	id, err := prescription.ParseShortFormID(candidate)
	if err != nil {
		resp := ShortFormResponse{ShortFormID: candidate, Reason: err.Error()}
		var ce *prescription.ChecksumError
		if errors.As(err, &ce) {
			resp.Reason = ce.Reason
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, ShortFormResponse{ShortFormID: id.String(), Valid: true})
}
