// Package fhirtest builds prescription orders and dispense notifications
// for tests.
package fhirtest

import (
	"fmt"

	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// Identifiers shared by the fixtures. ShortFormID carries a valid check
// digit.
const (
	ShortFormID   = "A0B1C2-A83008-3F4E59"
	LongFormID    = "5A4F3C2B-1D0E-4F9A-8B7C-6D5E4F3A2B1C"
	NHSNumber     = "9449304130"
	PrescriberODS = "A83008"
	PharmacyODS   = "FA565"
)

// LineItem describes one MedicationRequest of an order.
type LineItem struct {
	ID             string
	Medication     string
	Quantity       int64
	Unit           string
	Course         string
	RepeatsAllowed *int
	Issued         *int
}

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Order builds a prescription order message bundle.
func Order(items ...LineItem) *r4.Bundle {
	b := r4.NewMessageBundle("order-bundle", r4.Identifier{System: r4.SystemUUID, Value: "order-bundle-identifier"})
	patient := Patient()
	practitioner := &r4.Practitioner{
		DomainResource: r4.DomainResource{ResourceType: r4.TypePractitioner, ID: "practitioner-1"},
		Name:           []r4.HumanName{{Family: "Userq", Given: []string{"Random"}}},
	}
	org := &r4.Organization{
		DomainResource: r4.DomainResource{ResourceType: r4.TypeOrganization, ID: "organization-1"},
		Identifier:     []r4.Identifier{{System: r4.SystemODSCode, Value: PrescriberODS}},
		Name:           "Halton Clinical Commissioning Group",
	}
	role := &r4.PractitionerRole{
		DomainResource: r4.DomainResource{ResourceType: r4.TypePractitionerRole, ID: "role-1"},
		Practitioner:   &r4.Reference{Reference: r4.FullURL(practitioner.ID)},
		Organization:   &r4.Reference{Reference: r4.FullURL(org.ID)},
	}
	header := &r4.MessageHeader{
		DomainResource: r4.DomainResource{ResourceType: r4.TypeMessageHeader, ID: "header-1"},
		EventCoding:    r4.Coding{System: r4.SystemMessageEvent, Code: "prescription-order"},
		Destination:    []r4.MessageHeaderDestination{{Endpoint: "https://sandbox.api.service.nhs.uk/electronic-prescriptions/$post-message"}},
		Sender: &r4.Reference{
			Reference:  r4.FullURL(role.ID),
			Identifier: &r4.Identifier{System: r4.SystemODSCode, Value: PrescriberODS},
			Display:    "RAZIA|ALI",
		},
		Source: &r4.MessageHeaderSource{Name: "RAZIA|ALI", Endpoint: "urn:nhs-uk:addressing:ods:" + PrescriberODS},
	}

	b.Add(header)
	for _, li := range items {
		b.Add(MedicationRequest(li, patient.ID, role.ID))
		header.Focus = append(header.Focus, r4.Reference{Reference: r4.FullURL(li.ID)})
	}
	b.Add(patient, practitioner, role, org)
	return b
}

// Patient returns the fixture patient with a verified NHS number.
func Patient() *r4.Patient {
	return &r4.Patient{
		DomainResource: r4.DomainResource{ResourceType: r4.TypePatient, ID: "patient-1"},
		Identifier: []r4.Identifier{{
			Extension: r4.Extensions{{
				URL: "https://fhir.hl7.org.uk/StructureDefinition/Extension-UKCore-NHSNumberVerificationStatus",
				ValueCodeableConcept: &r4.CodeableConcept{Coding: []r4.Coding{{
					System: "https://fhir.hl7.org.uk/CodeSystem/UKCore-NHSNumberVerificationStatus", Code: "01",
				}}},
			}},
			System: r4.SystemNHSNumber,
			Value:  NHSNumber,
		}},
		Name:      []r4.HumanName{{Family: "TWITCHETT", Given: []string{"STACEY", "MARISA"}}},
		Gender:    "female",
		BirthDate: "1948-04-30",
	}
}

// MedicationRequest builds one line item referencing the fixture patient
// and requester. The resource id equals the line item id.
func MedicationRequest(li LineItem, patientID, requesterID string) *r4.MedicationRequest {
	course := li.Course
	if course == "" {
		course = r4.CourseOfTherapyAcute
	}
	unit := li.Unit
	if unit == "" {
		unit = "tablet"
	}
	medication := li.Medication
	if medication == "" {
		medication = "Paracetamol 500mg tablets"
	}
	mr := &r4.MedicationRequest{
		DomainResource: r4.DomainResource{ResourceType: r4.TypeMedicationRequest, ID: li.ID},
		Identifier:     []r4.Identifier{{System: r4.SystemOrderItemNumber, Value: li.ID}},
		Status:         r4.StatusActive,
		Intent:         r4.IntentOrder,
		MedicationCodeableConcept: &r4.CodeableConcept{Coding: []r4.Coding{{
			System: r4.SystemSNOMED, Code: "322237000", Display: medication,
		}}},
		Subject:   r4.Reference{Reference: r4.FullURL(patientID)},
		Requester: &r4.Reference{Reference: r4.FullURL(requesterID)},
		GroupIdentifier: &r4.Identifier{
			System:    r4.SystemPrescriptionShortForm,
			Value:     ShortFormID,
			Extension: r4.Extensions{r4.NewPrescriptionID(LongFormID)},
		},
		CourseOfTherapyType: &r4.CodeableConcept{Coding: []r4.Coding{{System: r4.SystemCourseOfTherapyHL7, Code: course}}},
		DosageInstruction:   []r4.Dosage{{Text: "One tablet four times a day"}},
		DispenseRequest: &r4.DispenseRequest{
			ValidityPeriod:         &r4.Period{Start: "2026-10-01", End: "2027-04-01"},
			NumberOfRepeatsAllowed: li.RepeatsAllowed,
			Quantity:               &r4.Quantity{Value: r4.NewDecimal(li.Quantity, 0), Unit: unit},
			ExpectedSupplyDuration: &r4.Duration{Value: r4.NewDecimal(28, 0), Unit: "day"},
		},
	}
	if course != r4.CourseOfTherapyAcute {
		mr.Extension = r4.Extensions{r4.NewUKCoreRepeatInformation(r4.UKCoreRepeatInformation{
			PrescriptionsIssued:     li.Issued,
			AuthorisationExpiryDate: "2027-04-01",
		})}
	}
	return mr
}

// Dispense describes one MedicationDispense of a notification.
type Dispense struct {
	LineItemID         string
	Status             string
	Quantity           int64
	Unit               string
	PrescriptionStatus string
}

// Notification builds a dispense notification bundle. Dispense and
// notification ids are derived from id.
func Notification(id string, dispenses ...Dispense) *r4.Bundle {
	b := r4.NewMessageBundle(id, r4.Identifier{System: r4.SystemUUID, Value: id + "-identifier"})
	patient := Patient()
	patient.ID = id + "-patient"
	b.Add(patient)
	for i, d := range dispenses {
		b.Add(MedicationDispense(fmt.Sprintf("%s-md-%d", id, i+1), patient.ID, d))
	}
	return b
}

// MedicationDispense builds a single dispense event.
func MedicationDispense(id, patientID string, d Dispense) *r4.MedicationDispense {
	unit := d.Unit
	if unit == "" {
		unit = "tablet"
	}
	md := &r4.MedicationDispense{
		DomainResource: r4.DomainResource{ResourceType: r4.TypeMedicationDispense, ID: id},
		Identifier:     []r4.Identifier{{System: r4.SystemDispenseItemNumber, Value: id}},
		Contained: r4.Resources{
			&r4.PractitionerRole{
				DomainResource: r4.DomainResource{ResourceType: r4.TypePractitionerRole, ID: "performer"},
				Organization:   &r4.Reference{Reference: "urn:uuid:pharmacy"},
			},
			MedicationRequest(LineItem{ID: d.LineItemID, Quantity: 28}, patientID, "performer"),
		},
		Status: r4.StatusUnknown,
		MedicationCodeableConcept: &r4.CodeableConcept{Coding: []r4.Coding{{
			System: r4.SystemSNOMED, Code: "322237000", Display: "Paracetamol 500mg tablets",
		}}},
		Subject: &r4.Reference{Reference: r4.FullURL(patientID), Identifier: &r4.Identifier{System: r4.SystemNHSNumber, Value: NHSNumber}},
		AuthorizingPrescription: []r4.Reference{{
			Reference:  "#m1",
			Identifier: &r4.Identifier{System: r4.SystemOrderItemNumber, Value: d.LineItemID},
		}},
		Type:           &r4.CodeableConcept{Coding: []r4.Coding{{System: r4.SystemLineItemStatus, Code: d.Status}}},
		Quantity:       &r4.Quantity{Value: r4.NewDecimal(d.Quantity, 0), Unit: unit},
		WhenHandedOver: "2026-10-19T10:00:00Z",
	}
	md.Contained[1].SetID("m1")
	if d.PrescriptionStatus != "" {
		md.Extension = r4.Extensions{r4.NewTaskBusinessStatus(r4.Coding{
			System: "https://fhir.nhs.uk/CodeSystem/EPS-task-business-status", Code: d.PrescriptionStatus,
		})}
	}
	return md
}

// Sequence returns an id source yielding prefix-1, prefix-2, ...
func Sequence(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
