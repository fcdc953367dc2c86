package builder

import (
	"errors"
	"testing"

	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/domain/repeat"
	"github.com/drfirst/go-eps/internal/fhir/fhirtest"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

func firstRequest(t *testing.T, b *r4.Bundle) *r4.MedicationRequest {
	t.Helper()
	idx, err := index.New(b)
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}
	return idx.MedicationRequests()[0]
}

func TestBuildRepeatInstancesContinuous(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{
		ID: "li-1", Quantity: 28, Course: r4.CourseOfTherapyContinuous, RepeatsAllowed: fhirtest.Int(2),
	})

	bundles, err := testBuilder().BuildRepeatInstances(order, 0)
	if err != nil {
		t.Fatalf("BuildRepeatInstances failed: %v", err)
	}
	if len(bundles) != 3 {
		t.Fatalf("bundles = %d, want one per issue", len(bundles))
	}

	seen := make(map[prescription.ShortFormID]bool)
	for i, b := range bundles {
		mr := firstRequest(t, b)
		info, ok := mr.Extension.UKCoreRepeatInformation()
		if !ok {
			t.Fatalf("issue %d: repeat information missing", i)
		}
		if i == 0 && info.PrescriptionsIssued != nil {
			t.Errorf("issue 0 states %d prescriptions issued", *info.PrescriptionsIssued)
		}
		if i > 0 && (info.PrescriptionsIssued == nil || *info.PrescriptionsIssued != i) {
			t.Errorf("issue %d: prescriptions issued = %v", i, info.PrescriptionsIssued)
		}
		if info.AuthorisationExpiryDate != "2027-04-01" {
			t.Errorf("issue %d: expiry = %s", i, info.AuthorisationExpiryDate)
		}

		inst, err := repeat.Track(mr)
		if err != nil {
			t.Fatalf("issue %d: Track: %v", i, err)
		}
		if inst.Issued != i || inst.Allowed != 3 {
			t.Errorf("issue %d: tracked as %+v", i, inst)
		}

		short := prescription.ShortFormID(mr.ShortFormID())
		if !prescription.Validate(short.String()) {
			t.Errorf("issue %d: invalid short-form id %s", i, short)
		}
		if seen[short] {
			t.Errorf("issue %d reuses short-form id %s", i, short)
		}
		seen[short] = true
	}
}

func TestBuildRepeatInstancesRepeatDispensing(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{
		ID: "li-1", Quantity: 28, Course: r4.CourseOfTherapyContinuousRepeatDispensing, RepeatsAllowed: fhirtest.Int(5),
	})
	bundles, err := testBuilder().BuildRepeatInstances(order, 0)
	if err != nil {
		t.Fatalf("BuildRepeatInstances failed: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("bundles = %d, want a single repeat dispensing prescription", len(bundles))
	}
	mr := firstRequest(t, bundles[0])
	if n, ok := mr.RepeatsAllowed(); !ok || n != 5 {
		t.Errorf("numberOfRepeatsAllowed = %d, want 5", n)
	}
	if info, _ := mr.Extension.UKCoreRepeatInformation(); info.PrescriptionsIssued != nil {
		t.Error("first issue must not state prescriptions issued")
	}
}

func TestBuildRepeatInstancesUserMax(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28, Course: r4.CourseOfTherapyContinuous})

	bundles, err := testBuilder().BuildRepeatInstances(order, 4)
	if err != nil {
		t.Fatalf("BuildRepeatInstances failed: %v", err)
	}
	if len(bundles) != 4 {
		t.Errorf("bundles = %d, want 4", len(bundles))
	}

	_, err = testBuilder().BuildRepeatInstances(order, 0)
	var be *BuildError
	if !errors.As(err, &be) || !errors.Is(err, repeat.ErrNoRepeatLimit) {
		t.Errorf("expected BuildError wrapping ErrNoRepeatLimit, got %v", err)
	}
}

func TestBuildRepeatInstancesAcute(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	bundles, err := testBuilder().BuildRepeatInstances(order, 6)
	if err != nil {
		t.Fatalf("BuildRepeatInstances failed: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("bundles = %d, want 1", len(bundles))
	}
	mr := firstRequest(t, bundles[0])
	if mr.Extension.Has(r4.ExtUKCoreRepeatInformation) {
		t.Error("acute line item carries repeat information")
	}
	if mr.ShortFormID() == fhirtest.ShortFormID {
		t.Error("acute copy kept the prescription id")
	}
}

func TestBuildRepeatInstancesAuthorisationExpiryDefault(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{
		ID: "li-1", Quantity: 28, Course: r4.CourseOfTherapyContinuous, RepeatsAllowed: fhirtest.Int(0),
	})
	firstRequest(t, order).DispenseRequest.ValidityPeriod = nil

	bundles, err := testBuilder().BuildRepeatInstances(order, 0)
	if err != nil {
		t.Fatalf("BuildRepeatInstances failed: %v", err)
	}
	info, _ := firstRequest(t, bundles[0]).Extension.UKCoreRepeatInformation()
	if info.AuthorisationExpiryDate != "2027-10-19" {
		t.Errorf("expiry = %s, want a year from now", info.AuthorisationExpiryDate)
	}
}
