package builder

import (
	"time"

	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/domain/repeat"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// NotificationForm is the dispenser's input for one dispense notification.
type NotificationForm struct {
	Prescription PrescriptionForm
	LineItems    []LineItemForm
	// Pharmacy is the dispensing organisation's ODS code
	Pharmacy string
	// ReplacementOf is the bundle identifier of the notification being
	// amended, if any.
	ReplacementOf string
}

// PrescriptionForm holds the prescription-level fields of a notification.
type PrescriptionForm struct {
	Status       prescription.PrescriptionStatus
	DispenseDate time.Time
}

// LineItemForm holds the dispenser's input for one line item. PriorStatus
// and DispensedSoFar describe the events already recorded for it.
type LineItemForm struct {
	ID                             string
	Status                         prescription.LineItemStatus
	PriorStatus                    prescription.LineItemStatus
	SuppliedQuantity               *r4.Decimal
	DispensedSoFar                 *r4.Decimal
	NonDispensingReason            string
	DispenseDifferentMedication    bool
	AlternativeMedicationAvailable bool
}

func (f NotificationForm) lineItem(id string) (LineItemForm, bool) {
	for _, li := range f.LineItems {
		if li.ID == id {
			return li, true
		}
	}
	return LineItemForm{}, false
}

// BuildDispenseNotification builds a dispense notification bundle for a
// prescription order: one MedicationDispense per MedicationRequest. Every
// resource in the output carries a freshly allocated id.
func (b *Builder) BuildDispenseNotification(order *r4.Bundle, form NotificationForm) (*r4.Bundle, error) {
	idx, err := index.New(order)
	if err != nil {
		return nil, err
	}
	orderHeader, err := idx.MessageHeader()
	if err != nil {
		return nil, err
	}
	orderPatient, err := idx.Patient()
	if err != nil {
		return nil, err
	}
	requests := idx.MedicationRequests()
	if len(requests) == 0 {
		return nil, &index.MalformedBundleError{
			Bundle: order.BundleIdentifier(), Field: r4.TypeMedicationRequest, Message: "order has no line items",
		}
	}

	// Patient copy
	patient, err := b.notificationPatient(orderPatient)
	if err != nil {
		return nil, err
	}

	// Dispensing organisation and pharmacist
	ods := form.Pharmacy
	if ods == "" {
		ods = DefaultPharmacy
	}
	org := pharmacy(b.NewID(), ods)

	// One dispense per line item
	dispenses := make([]r4.Resource, 0, len(requests))
	focus := []string{patient.ID}
	for _, mr := range requests {
		li, ok := form.lineItem(mr.LineItemID())
		if !ok {
			return nil, &BuildError{
				Field: "lineItems", Code: "MISSING_LINE_ITEM",
				Message: "no dispense input for line item " + mr.LineItemID(),
			}
		}
		md, err := b.medicationDispense(mr, patient, org, li, form.Prescription)
		if err != nil {
			return nil, err
		}
		dispenses = append(dispenses, md)
		focus = append(focus, md.ID)
	}

	header := b.notificationHeader(orderHeader, focus, form.ReplacementOf)

	bundle := r4.NewMessageBundle(b.NewID(), b.uuidIdentifier())
	bundle.Timestamp = b.timestamp()
	bundle.Add(header, patient)
	bundle.Add(dispenses...)
	bundle.Add(org)
	OrderEntries(bundle)
	return bundle, nil
}

// NotificationOrganization returns the dispensing organisation of a
// notification, found through its first dispense's contained performer.
func NotificationOrganization(notification *r4.Bundle) (*r4.Organization, error) {
	idx, err := index.New(notification)
	if err != nil {
		return nil, err
	}
	malformed := func(msg string) error {
		return &index.MalformedBundleError{Bundle: notification.BundleIdentifier(), Field: "performer", Message: msg}
	}
	dispenses := idx.MedicationDispenses()
	if len(dispenses) == 0 {
		return nil, malformed("notification has no dispense")
	}
	role := dispenses[0].ContainedPractitionerRole()
	if role == nil || role.Organization == nil {
		return nil, malformed("dispense performer names no organisation")
	}
	return idx.ResolveOrganization(*role.Organization)
}

func (b *Builder) notificationPatient(orderPatient *r4.Patient) (*r4.Patient, error) {
	patient, err := clone(orderPatient)
	if err != nil {
		return nil, &BuildError{Field: "Patient", Code: "COPY_FAILED", Message: "copy patient", Cause: err}
	}
	patient.ID = b.NewID()
	if len(patient.Identifier) > 0 {
		first := patient.Identifier[0]
		patient.Identifier[0] = r4.Identifier{System: first.System, Value: first.Value}
	}
	return patient, nil
}

func (b *Builder) notificationHeader(orderHeader *r4.MessageHeader, focusIDs []string, replacementOf string) *r4.MessageHeader {
	header := &r4.MessageHeader{
		DomainResource: r4.DomainResource{ResourceType: r4.TypeMessageHeader, ID: b.NewID()},
		EventCoding:    eventDispenseNotification,
		Destination:    append([]r4.MessageHeaderDestination(nil), orderHeader.Destination...),
		Source:         orderHeader.Source,
		Response:       &r4.MessageHeaderResponse{Code: "ok", Identifier: dispenseResponse},
	}
	if orderHeader.Sender != nil {
		sender := *orderHeader.Sender
		sender.Reference = ""
		header.Sender = &sender
	}
	for _, id := range focusIDs {
		header.Focus = append(header.Focus, r4.Reference{Reference: r4.FullURL(id)})
	}
	if replacementOf != "" {
		header.Extension = r4.Extensions{r4.NewReplacementOf(r4.Identifier{System: r4.SystemUUID, Value: replacementOf})}
	}
	return header
}

func (b *Builder) medicationDispense(
	orderRequest *r4.MedicationRequest,
	patient *r4.Patient,
	org *r4.Organization,
	li LineItemForm,
	rx PrescriptionForm,
) (*r4.MedicationDispense, error) {
	if li.DispenseDifferentMedication && !li.AlternativeMedicationAvailable {
		return nil, &BuildError{
			Field: "lineItems." + li.ID, Code: "NO_ALTERNATIVE",
			Message: "there is no alternative medication available for this request",
		}
	}
	if _, err := prescription.ParseLineItemStatus(string(li.Status)); err != nil {
		return nil, &BuildError{Field: "lineItems." + li.ID + ".status", Code: "INVALID_STATUS", Message: "invalid line item status", Cause: err}
	}

	mr, err := clone(orderRequest)
	if err != nil {
		return nil, &BuildError{Field: "MedicationRequest", Code: "COPY_FAILED", Message: "copy line item", Cause: err}
	}
	mr.ID = containedRequest

	extensions := r4.Extensions{rx.Status.Extension()}
	if repeat.RequiresRepeatInformation(mr) {
		extensions = append(extensions, repeat.BuildDispensingRepeatExtension(mr))
	}

	medication := mr.MedicationCodeableConcept
	if li.DispenseDifferentMedication {
		alt := alternativeMedication
		medication = &alt
	}

	quantity, err := DispensedQuantity(mr.RequestedQuantity(), li)
	if err != nil {
		return nil, err
	}

	md := &r4.MedicationDispense{
		DomainResource: r4.DomainResource{
			ResourceType: r4.TypeMedicationDispense,
			ID:           b.NewID(),
			Extension:    extensions,
		},
		Identifier: []r4.Identifier{{System: r4.SystemDispenseItemNumber, Value: b.NewID()}},
		Contained: r4.Resources{
			pharmacist(performerID, "Mr Peter Potion", r4.FullURL(org.ID)),
			mr,
		},
		Status:                      r4.StatusUnknown,
		StatusReasonCodeableConcept: nonDispensingReason(li),
		MedicationCodeableConcept:   medication,
		Subject:                     &r4.Reference{Reference: r4.FullURL(patient.ID)},
		Performer:                   []r4.DispensePerformer{{Actor: r4.Reference{Reference: "#" + performerID}}},
		AuthorizingPrescription: []r4.Reference{{
			Reference:  "#" + containedRequest,
			Identifier: &r4.Identifier{System: r4.SystemOrderItemNumber, Value: mr.LineItemID()},
		}},
		Type:              li.Status.Concept(),
		Quantity:          quantity,
		WhenHandedOver:    rx.DispenseDate.UTC().Format(time.RFC3339),
		DosageInstruction: mr.DosageInstruction,
	}
	if len(patient.Identifier) > 0 {
		id := patient.Identifier[0]
		md.Subject.Identifier = &id
	}
	if mr.DispenseRequest != nil {
		md.DaysSupply = mr.DispenseRequest.ExpectedSupplyDuration
	}
	return md, nil
}

func nonDispensingReason(li LineItemForm) *r4.CodeableConcept {
	if li.Status != prescription.LineItemNotDispensed {
		return nil
	}
	c := prescription.NonDispensingReasons.Concept(li.NonDispensingReason)
	return &c
}

// DispensedQuantity applies the dispensed quantity rule to the requested
// quantity of a line item:
//
//	partially dispensed               the supplied quantity
//	not dispensed, or already full    zero
//	dispensed after a partial supply  requested minus dispensed so far
//	dispensed                         the requested quantity
func DispensedQuantity(requested *r4.Quantity, li LineItemForm) (*r4.Quantity, error) {
	var q r4.Quantity
	if requested != nil {
		q = *requested
	}
	switch {
	case li.Status == prescription.LineItemPartiallyDispensed:
		if li.SuppliedQuantity == nil {
			return nil, &BuildError{
				Field: "lineItems." + li.ID + ".suppliedQuantity", Code: "REQUIRED",
				Message: "partial dispense requires a supplied quantity",
			}
		}
		q.Value = li.SuppliedQuantity
	case li.Status != prescription.LineItemDispensed || li.PriorStatus == prescription.LineItemDispensed:
		q.Value = r4.NewDecimal(0, 0)
	case li.PriorStatus == prescription.LineItemPartiallyDispensed:
		rest, err := q.Value.Sub(li.DispensedSoFar)
		if err != nil {
			return nil, &BuildError{Field: "lineItems." + li.ID + ".quantity", Code: "ARITHMETIC", Message: "remaining quantity", Cause: err}
		}
		q.Value = rest
	}
	return &q, nil
}
