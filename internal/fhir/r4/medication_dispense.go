package r4

import "strings"

// Line item status code system (MedicationDispense.type).
const SystemLineItemStatus = "https://fhir.nhs.uk/CodeSystem/medicationdispense-type"

// MedicationDispense represents a FHIR MedicationDispense resource: one
// dispense event against one line item.
type MedicationDispense struct {
	DomainResource

	Contained  Resources    `json:"contained,omitempty"`
	Identifier []Identifier `json:"identifier,omitempty"`
	Status     string       `json:"status"`

	StatusReasonCodeableConcept *CodeableConcept `json:"statusReasonCodeableConcept,omitempty"`
	MedicationCodeableConcept   *CodeableConcept `json:"medicationCodeableConcept,omitempty"`

	Subject                 *Reference          `json:"subject,omitempty"`
	Performer               []DispensePerformer `json:"performer,omitempty"`
	AuthorizingPrescription []Reference         `json:"authorizingPrescription,omitempty"`
	Type                    *CodeableConcept    `json:"type,omitempty"`
	Quantity                *Quantity           `json:"quantity,omitempty"`
	DaysSupply              *Duration           `json:"daysSupply,omitempty"`
	WhenPrepared            string              `json:"whenPrepared,omitempty"`
	WhenHandedOver          string              `json:"whenHandedOver,omitempty"`
	DosageInstruction       []Dosage            `json:"dosageInstruction,omitempty"`
}

// DispensePerformer is who performed the dispense.
type DispensePerformer struct {
	Actor Reference `json:"actor"`
}

// DispenseID returns identifier[0].value.
func (m *MedicationDispense) DispenseID() string {
	if len(m.Identifier) == 0 {
		return ""
	}
	return m.Identifier[0].Value
}

// LineItemID returns the id of the line item the dispense supplies
// against: authorizingPrescription[0].identifier when present, otherwise
// the identifier of the contained MedicationRequest it references.
func (m *MedicationDispense) LineItemID() string {
	if len(m.AuthorizingPrescription) == 0 {
		return ""
	}
	ref := m.AuthorizingPrescription[0]
	if ref.Identifier != nil && ref.Identifier.Value != "" {
		return ref.Identifier.Value
	}
	if mr := m.ContainedMedicationRequest(); mr != nil {
		return mr.LineItemID()
	}
	return ""
}

// ContainedMedicationRequest returns the contained request referenced by
// authorizingPrescription, or the first contained request.
func (m *MedicationDispense) ContainedMedicationRequest() *MedicationRequest {
	var want string
	if len(m.AuthorizingPrescription) > 0 {
		want = strings.TrimPrefix(m.AuthorizingPrescription[0].Reference, "#")
	}
	var first *MedicationRequest
	for _, r := range m.Contained {
		mr, ok := r.(*MedicationRequest)
		if !ok {
			continue
		}
		if want != "" && mr.ID == want {
			return mr
		}
		if first == nil {
			first = mr
		}
	}
	return first
}

// ContainedPractitionerRole returns the first contained PractitionerRole.
func (m *MedicationDispense) ContainedPractitionerRole() *PractitionerRole {
	for _, r := range m.Contained {
		if pr, ok := r.(*PractitionerRole); ok {
			return pr
		}
	}
	return nil
}

// StatusCode returns the line item status code carried on type.
func (m *MedicationDispense) StatusCode() string {
	return m.Type.FirstCode()
}
