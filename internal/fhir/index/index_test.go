package index

import (
	"errors"
	"testing"

	"github.com/drfirst/go-eps/internal/fhir/fhirtest"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

func TestTypedAccessors(t *testing.T) {
	order := fhirtest.Order(
		fhirtest.LineItem{ID: "li-1", Quantity: 28},
		fhirtest.LineItem{ID: "li-2", Quantity: 56},
	)
	idx, err := New(order)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if idx.FullURLs() != len(order.Entry) {
		t.Errorf("FullURLs = %d, want %d", idx.FullURLs(), len(order.Entry))
	}

	header, err := idx.MessageHeader()
	if err != nil || header.ID != "header-1" {
		t.Fatalf("MessageHeader = %v, %v", header, err)
	}
	patient, err := idx.Patient()
	if err != nil || patient.NHSNumber().Value != fhirtest.NHSNumber {
		t.Fatalf("Patient = %v, %v", patient, err)
	}
	mrs := idx.MedicationRequests()
	if len(mrs) != 2 || mrs[0].LineItemID() != "li-1" || mrs[1].LineItemID() != "li-2" {
		t.Errorf("MedicationRequests out of entry order")
	}
	if len(idx.MedicationDispenses()) != 0 {
		t.Error("order has no dispenses")
	}
}

func TestResolve(t *testing.T) {
	idx, err := New(fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	role, err := idx.PractitionerRole()
	if err != nil {
		t.Fatalf("PractitionerRole: %v", err)
	}
	org, err := idx.ResolveOrganization(*role.Organization)
	if err != nil {
		t.Fatalf("ResolveOrganization: %v", err)
	}
	if org.ODSCode() != fhirtest.PrescriberODS {
		t.Errorf("ODS code = %s", org.ODSCode())
	}

	var mb *MalformedBundleError
	if _, err := idx.Resolve(r4.Reference{Reference: "urn:uuid:missing"}); !errors.As(err, &mb) {
		t.Fatalf("expected *MalformedBundleError, got %v", err)
	}
	if mb.Bundle != "order-bundle-identifier" {
		t.Errorf("bundle = %s", mb.Bundle)
	}
	if _, err := idx.ResolveOrganization(*role.Practitioner); !errors.As(err, &mb) {
		t.Errorf("resolving a Practitioner as Organization should fail, got %v", err)
	}
}

func TestNewRejectsMalformedBundles(t *testing.T) {
	dup := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	dup.Entry = append(dup.Entry, dup.Entry[1])

	empty := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	empty.Entry[0].Resource = nil

	tests := []struct {
		name   string
		bundle *r4.Bundle
	}{
		{"nil bundle", nil},
		{"duplicate fullUrl", dup},
		{"entry without resource", empty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mb *MalformedBundleError
			if _, err := New(tt.bundle); !errors.As(err, &mb) {
				t.Errorf("expected *MalformedBundleError, got %v", err)
			}
		})
	}
}

func TestFindOne(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	second := fhirtest.Patient()
	second.ID = "patient-2"
	order.Add(second)

	idx, err := New(order)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := idx.Patient(); err == nil {
		t.Error("Patient should fail with two patients")
	}
	if _, err := idx.FindFirst(r4.TypePatient); err != nil {
		t.Errorf("FindFirst: %v", err)
	}
	if _, err := idx.FindOne(r4.TypeClaim); err == nil {
		t.Error("FindOne should fail with no claims")
	}
}

func TestCheckReferences(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	idx, err := New(order)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.CheckReferences(); err != nil {
		t.Fatalf("CheckReferences: %v", err)
	}

	idx.MedicationRequests()[0].Subject.Reference = "urn:uuid:nobody"
	var mb *MalformedBundleError
	if err := idx.CheckReferences(); !errors.As(err, &mb) {
		t.Fatalf("expected *MalformedBundleError, got %v", err)
	}
}
