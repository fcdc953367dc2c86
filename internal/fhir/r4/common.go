// Package r4 provides the FHIR R4 data structures exchanged with the NHS
// electronic prescription service. Only the resource shapes used by the
// prescribing and dispensing workflow are modelled.
package r4

import "strings"

// Meta contains metadata about a resource.
type Meta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Profile     []string `json:"profile,omitempty"`
	Tag         []Coding `json:"tag,omitempty"`
}

// Identifier represents a FHIR Identifier.
type Identifier struct {
	Extension Extensions       `json:"extension,omitempty"`
	Use       string           `json:"use,omitempty"` // usual | official | temp | secondary | old
	Type      *CodeableConcept `json:"type,omitempty"`
	System    string           `json:"system,omitempty"`
	Value     string           `json:"value,omitempty"`
	Period    *Period          `json:"period,omitempty"`
	Assigner  *Reference       `json:"assigner,omitempty"`
}

// WithoutExtensions returns a copy of the identifier with extensions removed.
func (i Identifier) WithoutExtensions() Identifier {
	i.Extension = nil
	return i
}

// CodeableConcept represents a concept with text and codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// NewConcept returns a CodeableConcept holding a single coding.
func NewConcept(c Coding) CodeableConcept {
	return CodeableConcept{Coding: []Coding{c}}
}

// FirstCode returns the code of the first coding, or "".
func (c *CodeableConcept) FirstCode() string {
	if c == nil || len(c.Coding) == 0 {
		return ""
	}
	return c.Coding[0].Code
}

// Coding represents a code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Reference represents a reference to another resource.
type Reference struct {
	Extension  Extensions  `json:"extension,omitempty"`
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

// IsBundleLocal reports whether the reference points at a urn:uuid entry
// of the containing bundle.
func (r *Reference) IsBundleLocal() bool {
	return r != nil && strings.HasPrefix(r.Reference, URNUUIDPrefix)
}

// Period represents a time period. Dates are kept in their FHIR lexical form.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Quantity represents a measured amount.
type Quantity struct {
	Value  *Decimal `json:"value,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	System string   `json:"system,omitempty"`
	Code   string   `json:"code,omitempty"`
}

// WithValue returns a copy of q carrying value v.
func (q Quantity) WithValue(v *Decimal) Quantity {
	q.Value = v
	return q
}

// Duration is a Quantity with a temporal unit.
type Duration struct {
	Value  *Decimal `json:"value,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	System string   `json:"system,omitempty"`
	Code   string   `json:"code,omitempty"`
}

// Annotation represents a note or comment.
type Annotation struct {
	AuthorReference *Reference `json:"authorReference,omitempty"`
	AuthorString    string     `json:"authorString,omitempty"`
	Time            string     `json:"time,omitempty"`
	Text            string     `json:"text"`
}

// HumanName represents a human name.
type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

// Address represents a postal address.
type Address struct {
	Use        string   `json:"use,omitempty"`
	Type       string   `json:"type,omitempty"`
	Text       string   `json:"text,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

// ContactPoint represents a contact detail.
type ContactPoint struct {
	System string `json:"system,omitempty"` // phone | fax | email | pager | url | sms | other
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
}

// Dosage contains dosage instructions for the medication.
type Dosage struct {
	Sequence              int               `json:"sequence,omitempty"`
	Text                  string            `json:"text,omitempty"`
	PatientInstruction    string            `json:"patientInstruction,omitempty"`
	AdditionalInstruction []CodeableConcept `json:"additionalInstruction,omitempty"`
	Route                 *CodeableConcept  `json:"route,omitempty"`
}

// OperationOutcome represents errors and warnings from FHIR operations.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// OperationOutcomeIssue represents a single issue in an OperationOutcome.
type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"` // fatal | error | warning | information
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

// NewOperationOutcome creates a new OperationOutcome with the given issues.
func NewOperationOutcome(issues ...OperationOutcomeIssue) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue:        issues,
	}
}

// NewErrorOutcome creates an OperationOutcome with a single error issue.
func NewErrorOutcome(code, diagnostics string) *OperationOutcome {
	return NewOperationOutcome(OperationOutcomeIssue{
		Severity:    "error",
		Code:        code,
		Diagnostics: diagnostics,
	})
}

// URNUUIDPrefix prefixes every bundle-local fullUrl.
const URNUUIDPrefix = "urn:uuid:"

// ContentTypeFHIRJSON is the media type of FHIR JSON payloads.
const ContentTypeFHIRJSON = "application/fhir+json"

// FullURL returns the bundle-local fullUrl for a resource id.
func FullURL(id string) string {
	return URNUUIDPrefix + id
}

// Identifier and code systems
const (
	SystemUUID                  = "https://tools.ietf.org/html/rfc4122"
	SystemNHSNumber             = "https://fhir.nhs.uk/Id/nhs-number"
	SystemODSCode               = "https://fhir.nhs.uk/Id/ods-organization-code"
	SystemPrescriptionShortForm = "https://fhir.nhs.uk/Id/prescription-order-number"
	SystemPrescriptionLongForm  = "https://fhir.nhs.uk/Id/prescription"
	SystemOrderItemNumber       = "https://fhir.nhs.uk/Id/prescription-order-item-number"
	SystemDispenseItemNumber    = "https://fhir.nhs.uk/Id/prescription-dispense-item-number"
	SystemClaimSequence         = "https://fhir.nhs.uk/Id/claim-sequence-identifier"
	SystemSNOMED                = "http://snomed.info/sct"
	SystemMessageEvent          = "https://fhir.nhs.uk/CodeSystem/message-event"
	SystemTaskCode              = "http://hl7.org/fhir/CodeSystem/task-code"
	SystemDMPrescriptionType    = "https://fhir.nhs.uk/CodeSystem/prescription-type"
)

// Common request statuses and intents
const (
	StatusActive     = "active"
	StatusCompleted  = "completed"
	StatusInProgress = "in-progress"
	StatusCancelled  = "cancelled"
	StatusUnknown    = "unknown"

	IntentOrder = "order"
	IntentPlan  = "plan"
)
