package r4

// Course of therapy codes.
const (
	SystemCourseOfTherapyHL7 = "http://terminology.hl7.org/CodeSystem/medicationrequest-course-of-therapy"
	SystemCourseOfTherapyNHS = "https://fhir.nhs.uk/CodeSystem/medicationrequest-course-of-therapy"

	CourseOfTherapyAcute                      = "acute"
	CourseOfTherapyContinuous                 = "continuous"
	CourseOfTherapyContinuousRepeatDispensing = "continuous-repeat-dispensing"
)

// MedicationRequest represents a FHIR MedicationRequest resource: one line
// item of a prescription order.
type MedicationRequest struct {
	DomainResource

	Identifier   []Identifier      `json:"identifier,omitempty"`
	Status       string            `json:"status"`
	StatusReason *CodeableConcept  `json:"statusReason,omitempty"`
	Intent       string            `json:"intent"`
	Category     []CodeableConcept `json:"category,omitempty"`

	MedicationCodeableConcept *CodeableConcept `json:"medicationCodeableConcept,omitempty"`

	Subject    Reference  `json:"subject"`
	AuthoredOn string     `json:"authoredOn,omitempty"`
	Requester  *Reference `json:"requester,omitempty"`
	BasedOn    []BasedOn  `json:"basedOn,omitempty"`

	GroupIdentifier     *Identifier      `json:"groupIdentifier,omitempty"`
	CourseOfTherapyType *CodeableConcept `json:"courseOfTherapyType,omitempty"`

	Note              []Annotation     `json:"note,omitempty"`
	DosageInstruction []Dosage         `json:"dosageInstruction,omitempty"`
	DispenseRequest   *DispenseRequest `json:"dispenseRequest,omitempty"`
	Substitution      *Substitution    `json:"substitution,omitempty"`
}

// BasedOn references the authorising request of a repeat instance. It may
// carry the EPS repeat information extension.
type BasedOn struct {
	Extension  Extensions  `json:"extension,omitempty"`
	Reference  string      `json:"reference,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
}

// DispenseRequest contains information about the requested dispensing.
type DispenseRequest struct {
	Extension              Extensions `json:"extension,omitempty"`
	ValidityPeriod         *Period    `json:"validityPeriod,omitempty"`
	NumberOfRepeatsAllowed *int       `json:"numberOfRepeatsAllowed,omitempty"`
	Quantity               *Quantity  `json:"quantity,omitempty"`
	ExpectedSupplyDuration *Duration  `json:"expectedSupplyDuration,omitempty"`
	Performer              *Reference `json:"performer,omitempty"`
}

// Substitution contains information about medication substitution.
type Substitution struct {
	AllowedBoolean *bool `json:"allowedBoolean,omitempty"`
}

// LineItemID returns identifier[0].value, the line item key.
func (m *MedicationRequest) LineItemID() string {
	if len(m.Identifier) == 0 {
		return ""
	}
	return m.Identifier[0].Value
}

// CourseOfTherapy returns the course-of-therapy code, or "".
func (m *MedicationRequest) CourseOfTherapy() string {
	return m.CourseOfTherapyType.FirstCode()
}

// IsAcute reports whether the request is a one-off (acute) course. A
// request with no course of therapy is treated as acute.
func (m *MedicationRequest) IsAcute() bool {
	c := m.CourseOfTherapy()
	return c == "" || c == CourseOfTherapyAcute
}

// IsRepeatDispensing reports whether the request is repeat dispensing.
func (m *MedicationRequest) IsRepeatDispensing() bool {
	return m.CourseOfTherapy() == CourseOfTherapyContinuousRepeatDispensing
}

// ShortFormID returns the prescription short-form id from groupIdentifier.
func (m *MedicationRequest) ShortFormID() string {
	if m.GroupIdentifier == nil {
		return ""
	}
	return m.GroupIdentifier.Value
}

// LongFormID returns the prescription UUID carried on groupIdentifier.
func (m *MedicationRequest) LongFormID() string {
	if m.GroupIdentifier == nil {
		return ""
	}
	id, _ := m.GroupIdentifier.Extension.PrescriptionID()
	return id
}

// RequestedQuantity returns the dispense request quantity, or nil.
func (m *MedicationRequest) RequestedQuantity() *Quantity {
	if m.DispenseRequest == nil {
		return nil
	}
	return m.DispenseRequest.Quantity
}

// RepeatsAllowed returns dispenseRequest.numberOfRepeatsAllowed.
func (m *MedicationRequest) RepeatsAllowed() (int, bool) {
	if m.DispenseRequest == nil || m.DispenseRequest.NumberOfRepeatsAllowed == nil {
		return 0, false
	}
	return *m.DispenseRequest.NumberOfRepeatsAllowed, true
}
