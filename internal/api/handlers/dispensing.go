package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/builder"
	"github.com/drfirst/go-eps/internal/domain/dispense"
	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/r4"
	"github.com/drfirst/go-eps/internal/session"
	"github.com/drfirst/go-eps/internal/transport"
	"github.com/drfirst/go-eps/pkg/idempotency"
)

// DispenseRequest is the dispenser's input for one dispense notification.
type DispenseRequest struct {
	Pharmacy      string            `json:"pharmacy,omitempty"`
	Status        string            `json:"status"`
	DispenseDate  time.Time         `json:"dispenseDate,omitempty"`
	ReplacementOf string            `json:"replacementOf,omitempty"`
	LineItems     []LineItemRequest `json:"lineItems"`
}

// LineItemRequest is the dispenser's input for one line item.
type LineItemRequest struct {
	ID                             string      `json:"id"`
	Status                         string      `json:"status"`
	SuppliedQuantity               *r4.Decimal `json:"suppliedQuantity,omitempty"`
	NonDispensingReason            string      `json:"nonDispensingReason,omitempty"`
	DispenseDifferentMedication    bool        `json:"dispenseDifferentMedication,omitempty"`
	AlternativeMedicationAvailable bool        `json:"alternativeMedicationAvailable,omitempty"`
}

// ClaimRequest is the dispenser's claim input.
type ClaimRequest struct {
	Pharmacy string `json:"pharmacy,omitempty"`
	builder.ClaimForm
}

// WithdrawRequest names the reason for withdrawing the latest notification.
type WithdrawRequest struct {
	Reason   string `json:"reason"`
	Pharmacy string `json:"pharmacy,omitempty"`
}

// ReleaseRequest names the releasing pharmacy.
type ReleaseRequest struct {
	Pharmacy string `json:"pharmacy,omitempty"`
}

// RepeatsRequest overrides the issue count of a repeat order.
type RepeatsRequest struct {
	MaxIssues int `json:"maxIssues,omitempty"`
}

// RepeatIssue identifies one generated repeat instance.
type RepeatIssue struct {
	ShortFormID string `json:"shortFormId"`
	Bundle      string `json:"bundle"`
}

// RepeatsResponse lists the instances built and sent for an order.
type RepeatsResponse struct {
	Issues []RepeatIssue `json:"issues"`
}

// prescriptionID reads and canonicalises the id path parameter.
func (h *Handler) prescriptionID(w http.ResponseWriter, r *http.Request) (prescription.ShortFormID, bool) {
	id, err := prescription.ParseShortFormID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return id, true
}

// Dispense handles POST /prescriptions/{id}/dispense. The notification is
// recorded only once EPS has accepted it. With an Idempotency-Key header a
// repeated request returns the first response without sending again.
func (h *Handler) Dispense(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "dispense")
	defer span.End()

	id, ok := h.prescriptionID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("short_form_id", id.String()))

	var req DispenseRequest
	if !h.decode(w, r, &req) {
		return
	}

	run := func(ctx context.Context) ([]byte, error) {
		n, err := h.dispense(ctx, id, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(n)
	}

	var body []byte
	var err error
	if key := r.Header.Get(HeaderIdempotencyKey); key == "" {
		body, err = run(ctx)
	} else {
		var res *idempotency.ProcessResult
		res, err = h.inbox.Process(ctx, idempotency.GenerateKey("dispense", id.String(), key), "dispense",
			func(ctx context.Context) ([]byte, error) {
				out, err := run(ctx)
				if status, _ := classify(err); status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
					err = idempotency.Permanent(err)
				}
				return out, err
			})
		if res != nil {
			body = res.Result
			if !res.IsNew && !res.WasRecovered {
				w.Header().Set("Idempotent-Replayed", "true")
			}
		}
	}
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", r4.ContentTypeFHIRJSON)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *Handler) dispense(ctx context.Context, id prescription.ShortFormID, req DispenseRequest) (*r4.Bundle, error) {
	var notification *r4.Bundle
	_, err := h.store.Update(id.String(), func(rec *session.Record) error {
		start := time.Now()
		n, err := h.buildNotification(rec, req)
		h.observeBuild(transport.KindDispenseNotification, start, err)
		if err != nil {
			return err
		}
		next, err := rec.History.Append(n)
		if err != nil {
			return err
		}
		if err := h.dispatcher.Send(ctx, transport.Message{
			Kind: transport.KindDispenseNotification, ShortFormID: id.String(), Resource: n,
		}); err != nil {
			return err
		}
		rec.History = next
		notification = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("dispense notification sent",
		zap.String("short_form_id", id.String()),
		zap.String("notification", notification.BundleIdentifier()),
		zap.String("status", req.Status))
	return notification, nil
}

func (h *Handler) buildNotification(rec *session.Record, req DispenseRequest) (*r4.Bundle, error) {
	status, err := prescription.ParsePrescriptionStatus(req.Status)
	if err != nil {
		return nil, &builder.BuildError{Field: "status", Code: "INVALID_STATUS", Message: "prescription status", Cause: err}
	}
	form := builder.NotificationForm{
		Prescription: builder.PrescriptionForm{
			Status:       status,
			DispenseDate: req.DispenseDate,
		},
		Pharmacy:      h.pharmacyOr(req.Pharmacy),
		ReplacementOf: req.ReplacementOf,
	}
	if form.Prescription.DispenseDate.IsZero() {
		form.Prescription.DispenseDate = h.builder.Now()
	}

	for _, li := range req.LineItems {
		st, err := prescription.ParseLineItemStatus(li.Status)
		if err != nil {
			return nil, &builder.BuildError{Field: "lineItems." + li.ID + ".status", Code: "INVALID_STATUS", Message: "line item status", Cause: err}
		}
		prior, err := dispense.PriorStateOf(rec.History, li.ID)
		if err != nil {
			return nil, err
		}
		form.LineItems = append(form.LineItems, builder.LineItemForm{
			ID:                             li.ID,
			Status:                         st,
			PriorStatus:                    prior.Status,
			SuppliedQuantity:               li.SuppliedQuantity,
			DispensedSoFar:                 prior.DispensedSoFar,
			NonDispensingReason:            li.NonDispensingReason,
			DispenseDifferentMedication:    li.DispenseDifferentMedication,
			AlternativeMedicationAvailable: li.AlternativeMedicationAvailable,
		})
	}
	return h.builder.BuildDispenseNotification(rec.Order, form)
}

// Claim handles POST /prescriptions/{id}/claim. A second claim amends the
// first.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "claim")
	defer span.End()

	id, ok := h.prescriptionID(w, r)
	if !ok {
		return
	}
	var req ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	var claim *r4.Claim
	_, err := h.store.Update(id.String(), func(rec *session.Record) error {
		idx, err := rec.Index()
		if err != nil {
			return err
		}
		patient, err := idx.Patient()
		if err != nil {
			return err
		}
		org, err := h.claimOrganization(rec, req.Pharmacy)
		if err != nil {
			return err
		}
		start := time.Now()
		c, err := h.builder.BuildClaim(builder.ClaimInput{
			Patient:                patient,
			MedicationRequests:     idx.MedicationRequests(),
			History:                rec.History,
			DispensingOrganization: org,
			PreviousClaim:          rec.LastClaim(),
			Form:                   req.ClaimForm,
		})
		h.observeBuild(transport.KindClaim, start, err)
		if err != nil {
			return err
		}
		if err := h.dispatcher.Send(ctx, transport.Message{Kind: transport.KindClaim, ShortFormID: id.String(), Resource: c}); err != nil {
			return err
		}
		rec.Claims = append(rec.Claims, c)
		claim = c
		return nil
	})
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("claim sent", zap.String("short_form_id", id.String()), zap.String("claim", claim.ID))
	writeResource(w, http.StatusCreated, claim)
}

// claimOrganization is the pharmacy named in the request, else the one
// that sent the latest notification.
func (h *Handler) claimOrganization(rec *session.Record, ods string) (*r4.Organization, error) {
	if ods == "" {
		if latest, ok := rec.History.Latest(); ok {
			return builder.NotificationOrganization(latest)
		}
	}
	return h.builder.DispensingOrganization(h.pharmacyOr(ods)), nil
}

// Withdraw handles POST /prescriptions/{id}/withdraw. The latest
// notification is removed from the history once the Task is accepted.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "withdraw")
	defer span.End()

	id, ok := h.prescriptionID(w, r)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}

	var task *r4.Task
	_, err := h.store.Update(id.String(), func(rec *session.Record) error {
		start := time.Now()
		t, remaining, err := h.builder.BuildWithdrawTask(builder.WithdrawInput{
			History:     rec.History,
			ShortFormID: id.String(),
			Reason:      req.Reason,
			Pharmacy:    h.pharmacyOr(req.Pharmacy),
		})
		h.observeBuild(transport.KindWithdraw, start, err)
		if err != nil {
			return err
		}
		if err := h.dispatcher.Send(ctx, transport.Message{Kind: transport.KindWithdraw, ShortFormID: id.String(), Resource: t}); err != nil {
			return err
		}
		rec.History = remaining
		task = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("notification withdrawn", zap.String("short_form_id", id.String()), zap.String("reason", req.Reason))
	writeResource(w, http.StatusCreated, task)
}

// Release handles POST /prescriptions/{id}/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := h.prescriptionID(w, r)
	if !ok {
		return
	}
	h.release(w, r, id.String())
}

// ReleaseNominated handles POST /release, releasing every prescription
// nominated to the pharmacy.
func (h *Handler) ReleaseNominated(w http.ResponseWriter, r *http.Request) {
	h.release(w, r, "")
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request, id string) {
	ctx, span := h.tracer.Start(r.Context(), "release")
	defer span.End()

	var req ReleaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	start := time.Now()
	params, err := h.builder.BuildRelease(builder.ReleaseInput{ShortFormID: id, Pharmacy: h.pharmacyOr(req.Pharmacy)})
	h.observeBuild(transport.KindRelease, start, err)
	if err == nil {
		err = h.dispatcher.Send(ctx, transport.Message{Kind: transport.KindRelease, ShortFormID: id, Resource: params})
	}
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, params)
}

// Repeats handles POST /prescriptions/{id}/repeats. Instances are sent as
// one batch; any failed delivery fails the request.
func (h *Handler) Repeats(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "repeats")
	defer span.End()

	id, ok := h.prescriptionID(w, r)
	if !ok {
		return
	}
	var req RepeatsRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.store.Get(id.String())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	issues := req.MaxIssues
	if issues <= 0 {
		issues = h.maxRepeats
	}
	start := time.Now()
	bundles, err := h.builder.BuildRepeatInstances(rec.Order, issues)
	h.observeBuild(transport.KindRepeatIssue, start, err)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}

	resp := RepeatsResponse{Issues: make([]RepeatIssue, 0, len(bundles))}
	msgs := make([]transport.Message, 0, len(bundles))
	for _, b := range bundles {
		issueID := id
		if sid, err := session.OrderID(b); err == nil {
			issueID = sid
		}
		resp.Issues = append(resp.Issues, RepeatIssue{ShortFormID: issueID.String(), Bundle: b.BundleIdentifier()})
		msgs = append(msgs, transport.Message{Kind: transport.KindRepeatIssue, ShortFormID: issueID.String(), Resource: b})
	}
	span.SetAttributes(attribute.Int("issues", len(bundles)))

	if err := h.dispatcher.SendBatch(ctx, msgs); err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("repeat instances sent", zap.String("short_form_id", id.String()), zap.Int("issues", len(bundles)))
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) pharmacyOr(ods string) string {
	if ods != "" {
		return ods
	}
	return h.pharmacy
}
