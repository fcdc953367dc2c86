package r4

import "fmt"

// Extension URLs known to the prescription workflow.
const (
	ExtTaskBusinessStatus         = "https://fhir.nhs.uk/StructureDefinition/Extension-EPS-TaskBusinessStatus"
	ExtGroupIdentifier            = "https://fhir.nhs.uk/StructureDefinition/Extension-DM-GroupIdentifier"
	ExtPrescriptionID             = "https://fhir.nhs.uk/StructureDefinition/Extension-DM-PrescriptionId"
	ExtClaimSequenceIdentifier    = "https://fhir.nhs.uk/StructureDefinition/Extension-ClaimSequenceIdentifier"
	ExtClaimMedicationRequestRef  = "https://fhir.nhs.uk/StructureDefinition/Extension-ClaimMedicationRequestReference"
	ExtEPSRepeatInformation       = "https://fhir.nhs.uk/StructureDefinition/Extension-EPS-RepeatInformation"
	ExtUKCoreRepeatInformation    = "https://fhir.hl7.org.uk/StructureDefinition/Extension-UKCore-MedicationRepeatInformation"
	ExtPerformerSiteType          = "https://fhir.nhs.uk/StructureDefinition/Extension-DM-PerformerSiteType"
	ExtReplacementOf              = "https://fhir.nhs.uk/StructureDefinition/Extension-replacementOf"
	ExtPrescriptionEndorsement    = "https://fhir.nhs.uk/StructureDefinition/Extension-DM-PrescriptionEndorsement"
	ExtProvenanceAgent            = "https://fhir.nhs.uk/StructureDefinition/Extension-Provenance-agent"
	ExtPrescriptionType           = "https://fhir.nhs.uk/StructureDefinition/Extension-DM-PrescriptionType"
	subExtShortForm               = "shortForm"
	subExtUUID                    = "UUID"
	subExtRepeatsIssued           = "numberOfRepeatsIssued"
	subExtRepeatsAllowed          = "numberOfRepeatsAllowed"
	subExtPrescriptionsIssued     = "numberOfPrescriptionsIssued"
	subExtAuthorisationExpiryDate = "authorisationExpiryDate"
)

// Extension represents a FHIR extension. Complex extensions nest further
// extensions keyed by URL.
type Extension struct {
	URL                  string           `json:"url"`
	Extension            Extensions       `json:"extension,omitempty"`
	ValueString          string           `json:"valueString,omitempty"`
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	ValueInteger         *int             `json:"valueInteger,omitempty"`
	ValueUnsignedInt     *int             `json:"valueUnsignedInt,omitempty"`
	ValueDecimal         *Decimal         `json:"valueDecimal,omitempty"`
	ValueCode            string           `json:"valueCode,omitempty"`
	ValueDateTime        string           `json:"valueDateTime,omitempty"`
	ValueCoding          *Coding          `json:"valueCoding,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueIdentifier      *Identifier      `json:"valueIdentifier,omitempty"`
	ValueReference       *Reference       `json:"valueReference,omitempty"`
}

// Extensions is an ordered set of extensions addressed by URL.
type Extensions []Extension

// Get returns the first extension with the given URL.
func (es Extensions) Get(url string) (*Extension, bool) {
	for i := range es {
		if es[i].URL == url {
			return &es[i], true
		}
	}
	return nil, false
}

// Has reports whether an extension with the given URL is present.
func (es Extensions) Has(url string) bool {
	_, ok := es.Get(url)
	return ok
}

// Without returns the extensions minus any with the given URL.
func (es Extensions) Without(url string) Extensions {
	var out Extensions
	for _, e := range es {
		if e.URL != url {
			out = append(out, e)
		}
	}
	return out
}

// Set replaces the extension with the same URL, or appends it.
func (es Extensions) Set(ext Extension) Extensions {
	for i := range es {
		if es[i].URL == ext.URL {
			out := append(Extensions(nil), es...)
			out[i] = ext
			return out
		}
	}
	return append(es, ext)
}

// MissingExtensionError reports a required extension that is absent.
type MissingExtensionError struct {
	Resource string
	URL      string
	Reason   string
}

func (e *MissingExtensionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: missing extension %s: %s", e.Resource, e.URL, e.Reason)
	}
	return fmt.Sprintf("%s: missing extension %s", e.Resource, e.URL)
}

// TaskBusinessStatus returns the prescription status coding.
func (es Extensions) TaskBusinessStatus() (*Coding, bool) {
	e, ok := es.Get(ExtTaskBusinessStatus)
	if !ok || e.ValueCoding == nil {
		return nil, false
	}
	return e.ValueCoding, true
}

// NewTaskBusinessStatus builds the prescription status extension.
func NewTaskBusinessStatus(status Coding) Extension {
	return Extension{URL: ExtTaskBusinessStatus, ValueCoding: &status}
}

// GroupIdentifierValue is the short-form / long-form pair carried on
// dispense and claim resources.
type GroupIdentifierValue struct {
	ShortForm string
	UUID      string
}

// GroupIdentifier reads the nested group identifier extension.
func (es Extensions) GroupIdentifier() (GroupIdentifierValue, bool) {
	e, ok := es.Get(ExtGroupIdentifier)
	if !ok {
		return GroupIdentifierValue{}, false
	}
	var v GroupIdentifierValue
	if s, ok := e.Extension.Get(subExtShortForm); ok && s.ValueIdentifier != nil {
		v.ShortForm = s.ValueIdentifier.Value
	}
	if u, ok := e.Extension.Get(subExtUUID); ok && u.ValueIdentifier != nil {
		v.UUID = u.ValueIdentifier.Value
	}
	return v, v.ShortForm != ""
}

// NewGroupIdentifier builds the nested group identifier extension.
func NewGroupIdentifier(v GroupIdentifierValue) Extension {
	return Extension{
		URL: ExtGroupIdentifier,
		Extension: Extensions{
			{URL: subExtShortForm, ValueIdentifier: &Identifier{System: SystemPrescriptionShortForm, Value: v.ShortForm}},
			{URL: subExtUUID, ValueIdentifier: &Identifier{System: SystemPrescriptionLongForm, Value: v.UUID}},
		},
	}
}

// PrescriptionID returns the long-form id carried on a groupIdentifier.
func (es Extensions) PrescriptionID() (string, bool) {
	e, ok := es.Get(ExtPrescriptionID)
	if !ok || e.ValueIdentifier == nil {
		return "", false
	}
	return e.ValueIdentifier.Value, true
}

// NewPrescriptionID builds the long-form id extension.
func NewPrescriptionID(uuid string) Extension {
	return Extension{URL: ExtPrescriptionID, ValueIdentifier: &Identifier{System: SystemPrescriptionLongForm, Value: uuid}}
}

// UKCoreRepeatInformation is the prescriber-side repeat counter.
// PrescriptionsIssued is nil on the first issue of a series.
type UKCoreRepeatInformation struct {
	PrescriptionsIssued     *int
	AuthorisationExpiryDate string
}

// UKCoreRepeatInformation reads the UK Core repeat information extension.
func (es Extensions) UKCoreRepeatInformation() (UKCoreRepeatInformation, bool) {
	e, ok := es.Get(ExtUKCoreRepeatInformation)
	if !ok {
		return UKCoreRepeatInformation{}, false
	}
	var v UKCoreRepeatInformation
	if s, ok := e.Extension.Get(subExtPrescriptionsIssued); ok {
		v.PrescriptionsIssued = s.ValueUnsignedInt
		if v.PrescriptionsIssued == nil {
			v.PrescriptionsIssued = s.ValueInteger
		}
	}
	if s, ok := e.Extension.Get(subExtAuthorisationExpiryDate); ok {
		v.AuthorisationExpiryDate = s.ValueDateTime
	}
	return v, true
}

// NewUKCoreRepeatInformation builds the UK Core repeat information extension.
func NewUKCoreRepeatInformation(v UKCoreRepeatInformation) Extension {
	ext := Extension{
		URL:       ExtUKCoreRepeatInformation,
		Extension: Extensions{{URL: subExtAuthorisationExpiryDate, ValueDateTime: v.AuthorisationExpiryDate}},
	}
	if v.PrescriptionsIssued != nil {
		n := *v.PrescriptionsIssued
		ext.Extension = append(ext.Extension, Extension{URL: subExtPrescriptionsIssued, ValueUnsignedInt: &n})
	}
	return ext
}

// EPSRepeatInformation is the dispenser-side repeat counter.
type EPSRepeatInformation struct {
	RepeatsIssued  *int
	RepeatsAllowed *int
}

// EPSRepeatInformation reads the EPS repeat information extension.
func (es Extensions) EPSRepeatInformation() (EPSRepeatInformation, bool) {
	e, ok := es.Get(ExtEPSRepeatInformation)
	if !ok {
		return EPSRepeatInformation{}, false
	}
	var v EPSRepeatInformation
	if s, ok := e.Extension.Get(subExtRepeatsIssued); ok {
		v.RepeatsIssued = firstInt(s.ValueInteger, s.ValueUnsignedInt)
	}
	if s, ok := e.Extension.Get(subExtRepeatsAllowed); ok {
		v.RepeatsAllowed = firstInt(s.ValueInteger, s.ValueUnsignedInt)
	}
	return v, true
}

// NewEPSRepeatInformation builds the EPS repeat information extension.
func NewEPSRepeatInformation(issued, allowed int) Extension {
	return Extension{
		URL: ExtEPSRepeatInformation,
		Extension: Extensions{
			{URL: subExtRepeatsAllowed, ValueInteger: &allowed},
			{URL: subExtRepeatsIssued, ValueInteger: &issued},
		},
	}
}

// ClaimSequenceIdentifier returns the claim sequence id value.
func (es Extensions) ClaimSequenceIdentifier() (string, bool) {
	e, ok := es.Get(ExtClaimSequenceIdentifier)
	if !ok || e.ValueIdentifier == nil {
		return "", false
	}
	return e.ValueIdentifier.Value, true
}

// NewClaimSequenceIdentifier builds the claim sequence id extension.
func NewClaimSequenceIdentifier(id string) Extension {
	return Extension{URL: ExtClaimSequenceIdentifier, ValueIdentifier: &Identifier{System: SystemClaimSequence, Value: id}}
}

// NewClaimMedicationRequestReference points a claim detail at its line item.
func NewClaimMedicationRequestReference(lineItemID string) Extension {
	return Extension{
		URL: ExtClaimMedicationRequestRef,
		ValueReference: &Reference{
			Identifier: &Identifier{System: SystemOrderItemNumber, Value: lineItemID},
		},
	}
}

// PerformerSiteType returns the performer site type coding.
func (es Extensions) PerformerSiteType() (*Coding, bool) {
	e, ok := es.Get(ExtPerformerSiteType)
	if !ok || e.ValueCoding == nil {
		return nil, false
	}
	return e.ValueCoding, true
}

// NewReplacementOf links an amended message to the one it replaces.
func NewReplacementOf(previous Identifier) Extension {
	return Extension{URL: ExtReplacementOf, ValueIdentifier: &previous}
}

func firstInt(vs ...*int) *int {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}
