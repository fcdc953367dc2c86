// Package builder produces the outbound EPS payloads of the dispensing
// workflow: dispense notifications, claims, withdrawals, releases and
// repeat prescription batches.
package builder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// Builder builds EPS messages. Ids, clock and identifier codec are
// replaceable so that output is deterministic under test.
type Builder struct {
	// NewID allocates resource ids and identifier values
	NewID func() string
	// Now is the clock used for timestamps
	Now func() time.Time
	// Codec generates short-form prescription ids
	Codec *prescription.Codec
}

// BuildError reports a payload that cannot be built from its inputs.
type BuildError struct {
	Field   string
	Code    string
	Message string
	Cause   error
}

func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// New creates a builder backed by random UUIDs and the wall clock.
func New() *Builder {
	return &Builder{
		NewID: uuid.NewString,
		Now:   time.Now,
		Codec: prescription.NewCodec(),
	}
}

func (b *Builder) timestamp() string {
	return b.Now().UTC().Format(time.RFC3339)
}

func (b *Builder) uuidIdentifier() r4.Identifier {
	return r4.Identifier{System: r4.SystemUUID, Value: b.NewID()}
}

// clone deep-copies a resource through its JSON form so that built
// payloads never alias their inputs.
func clone[T r4.Resource](r T) (T, error) {
	var zero T
	data, err := json.Marshal(r)
	if err != nil {
		return zero, err
	}
	decoded, err := r4.DecodeResource(data)
	if err != nil {
		return zero, err
	}
	v, ok := decoded.(T)
	if !ok {
		return zero, fmt.Errorf("clone: decoded %T", decoded)
	}
	return v, nil
}

// Fixed concepts used by the claim.
var (
	claimTypePharmacy = r4.NewConcept(r4.Coding{
		System: "http://terminology.hl7.org/CodeSystem/claim-type", Code: "pharmacy", Display: "Pharmacy",
	})
	priorityNormal = r4.NewConcept(r4.Coding{
		System: "http://terminology.hl7.org/CodeSystem/processpriority", Code: "normal",
	})
	payeeTypeProvider = r4.NewConcept(r4.Coding{
		System: "http://terminology.hl7.org/CodeSystem/payeetype", Code: "provider", Display: "Provider",
	})
	productPrescription = r4.NewConcept(r4.Coding{
		System: r4.SystemSNOMED, Code: "16076005", Display: "Prescription",
	})
	taskCodeAbort = r4.NewConcept(r4.Coding{
		System: r4.SystemTaskCode, Code: "abort", Display: "Mark the focal resource as no longer active",
	})
	alternativeMedication = r4.NewConcept(r4.Coding{
		System:  r4.SystemSNOMED,
		Code:    "1858411000001101",
		Display: "Paracetamol 500mg soluble tablets (Alliance Healthcare (Distribution) Ltd) 60 tablet",
	})
)

const (
	systemSDSRoleProfile = "https://fhir.nhs.uk/Id/sds-role-profile-id"
	systemSDSUser        = "https://fhir.nhs.uk/Id/sds-user-id"
	systemSDSJobRole     = "https://fhir.nhs.uk/CodeSystem/NHSDigital-SDS-JobRoleCode"
	systemOrgRole        = "https://fhir.nhs.uk/CodeSystem/organisation-role"
	extODSRelationships  = "https://fhir.nhs.uk/StructureDefinition/Extension-ODS-OrganisationRelationships"

	// NHSBSA is the ODS code of the reimbursement authority.
	NHSBSA = "T1450"
	// DefaultPharmacy is the ODS code of the dispensing pharmacy used when
	// none is configured.
	DefaultPharmacy = "FA565"

	performerID       = "performer"
	containedRequest  = "m1"
	claimOrganization = "organizationId"
	dispenseResponse  = "ffffffff-ffff-4fff-bfff-ffffffffffff"
)

var eventDispenseNotification = r4.Coding{
	System: r4.SystemMessageEvent, Code: "dispense-notification", Display: "Dispense Notification",
}

// pharmacy returns the dispensing organisation for an ODS code.
func pharmacy(id, odsCode string) *r4.Organization {
	active := true
	return &r4.Organization{
		DomainResource: r4.DomainResource{
			ResourceType: r4.TypeOrganization,
			ID:           id,
			Extension: r4.Extensions{{
				URL: extODSRelationships,
				Extension: r4.Extensions{{
					URL:             "reimbursementAuthority",
					ValueIdentifier: &r4.Identifier{System: r4.SystemODSCode, Value: NHSBSA},
				}},
			}},
		},
		Identifier: []r4.Identifier{{System: r4.SystemODSCode, Value: strings.ToUpper(odsCode)}},
		Active:     &active,
		Type: []r4.CodeableConcept{r4.NewConcept(r4.Coding{
			System: systemOrgRole, Code: "182", Display: "PHARMACY",
		})},
		Name: "The Simple Pharmacy",
		Address: []r4.Address{{
			Use:        "work",
			Line:       []string{"17 Austhorpe Road", "Crossgates", "Leeds"},
			City:       "West Yorkshire",
			PostalCode: "LS15 8BA",
		}},
		Telecom: []r4.ContactPoint{{System: "phone", Use: "work", Value: "0113 3180277"}},
	}
}

// pharmacist returns the dispensing practitioner role, working for the
// organisation at orgRef.
func pharmacist(id, display, orgRef string) *r4.PractitionerRole {
	return &r4.PractitionerRole{
		DomainResource: r4.DomainResource{ResourceType: r4.TypePractitionerRole, ID: id},
		Identifier:     []r4.Identifier{{System: systemSDSRoleProfile, Value: "555086415105"}},
		Practitioner: &r4.Reference{
			Identifier: &r4.Identifier{System: systemSDSUser, Value: "3415870201"},
			Display:    display,
		},
		Organization: &r4.Reference{Reference: orgRef},
		Code: []r4.CodeableConcept{r4.NewConcept(r4.Coding{
			System: systemSDSJobRole, Code: "S8000:G8000:R8000", Display: "Clinical Practitioner Access Role",
		})},
		Telecom: []r4.ContactPoint{{System: "phone", Use: "work", Value: "0532567890"}},
	}
}

// DispensingOrganization returns the pharmacy organisation for an ODS code,
// falling back to DefaultPharmacy.
func (b *Builder) DispensingOrganization(odsCode string) *r4.Organization {
	if odsCode == "" {
		odsCode = DefaultPharmacy
	}
	return pharmacy(b.NewID(), odsCode)
}
