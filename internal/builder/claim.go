package builder

import (
	"github.com/drfirst/go-eps/internal/domain/dispense"
	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/domain/repeat"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// ClaimInput is everything a claim is built from.
type ClaimInput struct {
	Patient                *r4.Patient
	MedicationRequests     []*r4.MedicationRequest
	History                dispense.History
	DispensingOrganization *r4.Organization
	// PreviousClaim is set when the claim amends an earlier one.
	PreviousClaim *r4.Claim
	Form          ClaimForm
}

// ClaimForm is the dispenser's claim input.
type ClaimForm struct {
	Exemption ExemptionForm
	Products  []ProductForm
}

// ExemptionForm is the patient's charge exemption.
type ExemptionForm struct {
	Code         string
	EvidenceSeen bool
}

// ProductForm is the claim input for one line item.
type ProductForm struct {
	ID           string
	PatientPaid  bool
	Endorsements []EndorsementForm
}

// EndorsementForm is a single dispenser endorsement.
type EndorsementForm struct {
	Code           string
	SupportingInfo string
}

func (f ClaimForm) product(id string) ProductForm {
	for _, p := range f.Products {
		if p.ID == id {
			return p
		}
	}
	return ProductForm{ID: id, Endorsements: []EndorsementForm{{Code: prescription.EndorsementNone}}}
}

// BuildClaim builds the reimbursement claim for a prescription. Every line
// item must have at least one dispense event; the check runs before any
// part of the claim is built.
func (b *Builder) BuildClaim(in ClaimInput) (*r4.Claim, error) {
	if in.Patient == nil || in.DispensingOrganization == nil {
		return nil, &BuildError{Field: "claim", Code: "NULL_INPUT", Message: "patient and dispensing organisation are required"}
	}
	if len(in.MedicationRequests) == 0 {
		return nil, &BuildError{Field: "claim", Code: "NULL_INPUT", Message: "at least one line item is required"}
	}

	// Preconditions and per line item aggregation
	events, err := in.History.Events()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, &dispense.PreconditionViolation{Operation: "claim", Message: "prescription has no dispense events"}
	}
	groups := dispense.GroupByLineItem(events)
	summaries := make([]dispense.LineItemSummary, 0, len(in.MedicationRequests))
	for _, mr := range in.MedicationRequests {
		group := groups[mr.LineItemID()]
		if len(group) == 0 {
			return nil, &dispense.PreconditionViolation{
				Operation: "claim", LineItemID: mr.LineItemID(), Message: "line item has no dispense events",
			}
		}
		s, err := dispense.Summarise(group)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	final := events[len(events)-1].Dispense
	statusExt, ok := final.Extension.Get(r4.ExtTaskBusinessStatus)
	if !ok {
		return nil, &r4.MissingExtensionError{
			Resource: "MedicationDispense/" + final.ID,
			URL:      r4.ExtTaskBusinessStatus,
			Reason:   "claim item status is read from the final dispense",
		}
	}

	// Contained practitioner role and organisation
	role := events[0].Dispense.ContainedPractitionerRole()
	if role == nil {
		return nil, &BuildError{Field: "MedicationDispense.contained", Code: "MISSING_PERFORMER", Message: "first dispense has no PractitionerRole"}
	}
	role, err = clone(role)
	if err != nil {
		return nil, &BuildError{Field: "PractitionerRole", Code: "COPY_FAILED", Message: "copy practitioner role", Cause: err}
	}
	org, err := clone(in.DispensingOrganization)
	if err != nil {
		return nil, &BuildError{Field: "Organization", Code: "COPY_FAILED", Message: "copy organisation", Cause: err}
	}
	org.ID = claimOrganization
	role.Organization = &r4.Reference{Reference: "#" + claimOrganization}

	// Prescription identifiers come from the final dispense's line item
	group := prescription.GroupIdentifierOf(in.MedicationRequests[0])
	if mr := final.ContainedMedicationRequest(); mr != nil {
		group = prescription.GroupIdentifierOf(mr)
	}

	extensions := r4.Extensions{{
		URL: r4.ExtProvenanceAgent,
		ValueReference: &r4.Reference{
			Identifier: &r4.Identifier{System: systemSDSRoleProfile, Value: "884562163557"},
			Display:    "dummy full name",
		},
	}}
	if in.PreviousClaim != nil {
		if prev := in.PreviousClaim.ClaimIdentifier(); prev != nil {
			extensions = append(extensions, r4.NewReplacementOf(r4.Identifier{System: r4.SystemUUID, Value: prev.Value}))
		}
	}

	var patientIdentifier *r4.Identifier
	if nhs := in.Patient.NHSNumber(); nhs != nil {
		id := nhs.WithoutExtensions()
		patientIdentifier = &id
	}

	details := make([]r4.ClaimDetail, 0, len(in.MedicationRequests))
	for i, mr := range in.MedicationRequests {
		details = append(details, b.claimDetail(i+1, mr, summaries[i], in.Form.product(mr.LineItemID())))
	}

	return &r4.Claim{
		DomainResource: r4.DomainResource{ResourceType: r4.TypeClaim, ID: b.NewID(), Extension: extensions},
		Contained:      r4.Resources{role, org},
		Identifier:     []r4.Identifier{b.uuidIdentifier()},
		Status:         r4.StatusActive,
		Type:           claimTypePharmacy,
		Use:            "claim",
		Patient:        r4.Reference{Identifier: patientIdentifier},
		Created:        b.timestamp(),
		Provider:       r4.Reference{Reference: "#" + role.ID},
		Priority:       priorityNormal,
		Insurance: []r4.ClaimInsurance{{
			Sequence: 1,
			Focal:    true,
			Coverage: r4.Reference{
				Identifier: &r4.Identifier{System: r4.SystemODSCode, Value: NHSBSA},
				Display:    "NHS BUSINESS SERVICES AUTHORITY",
			},
		}},
		Payee: &r4.ClaimPayee{Type: payeeTypeProvider, Party: role.Organization},
		Prescription: &r4.Reference{
			Extension: r4.Extensions{group.Extension()},
		},
		Item: []r4.ClaimItem{{
			Extension:        r4.Extensions{*statusExt},
			Sequence:         1,
			ProductOrService: productPrescription,
			ProgramCode:      exemptionConcepts(in.Form.Exemption),
			Detail:           details,
		}},
	}, nil
}

// exemptionConcepts keeps the exemption and the evidence marker as two
// separate concepts.
func exemptionConcepts(e ExemptionForm) []r4.CodeableConcept {
	evidence := prescription.ExemptionNoEvidenceSeen
	if e.EvidenceSeen {
		evidence = prescription.ExemptionEvidenceSeen
	}
	return []r4.CodeableConcept{prescription.ChargeExemptions.Concept(e.Code), evidence}
}

func (b *Builder) claimDetail(sequence int, mr *r4.MedicationRequest, s dispense.LineItemSummary, p ProductForm) r4.ClaimDetail {
	extensions := r4.Extensions{
		r4.NewClaimSequenceIdentifier(b.NewID()),
		r4.NewClaimMedicationRequestReference(mr.LineItemID()),
	}
	if repeat.RequiresRepeatInformation(mr) {
		extensions = append(extensions, repeat.BuildDispensingRepeatExtension(mr))
	}

	finalType := s.Status.Concept()
	if last := s.Events[len(s.Events)-1].Dispense; last.Type != nil {
		finalType = last.Type
	}

	detail := r4.ClaimDetail{
		Extension:   extensions,
		Sequence:    sequence,
		Modifier:    []r4.CodeableConcept{*finalType},
		Quantity:    mr.RequestedQuantity(),
		ProgramCode: append(endorsementConcepts(p.Endorsements), chargeConcept(p.PatientPaid)),
	}
	if mr.MedicationCodeableConcept != nil {
		detail.ProductOrService = *mr.MedicationCodeableConcept
	}

	if s.Status != prescription.LineItemDispensed {
		return detail
	}
	for i, e := range s.FinalEvents {
		q := e.Quantity()
		sub := r4.ClaimSubDetail{
			Sequence:    i + 1,
			ProgramCode: append(endorsementConcepts(p.Endorsements), chargeConcept(i == 0 && p.PatientPaid)),
			Quantity:    &q,
		}
		if e.Dispense.MedicationCodeableConcept != nil {
			sub.ProductOrService = *e.Dispense.MedicationCodeableConcept
		}
		detail.SubDetail = append(detail.SubDetail, sub)
	}
	return detail
}

func endorsementConcepts(es []EndorsementForm) []r4.CodeableConcept {
	out := make([]r4.CodeableConcept, 0, len(es)+1)
	for _, e := range es {
		c := prescription.DispenserEndorsements.Concept(e.Code)
		c.Text = e.SupportingInfo
		out = append(out, c)
	}
	return out
}

func chargeConcept(paid bool) r4.CodeableConcept {
	if paid {
		return prescription.ChargePaid
	}
	return prescription.ChargeNotPaid
}
