package dispense

import (
	"errors"
	"testing"

	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/fhirtest"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

func events(ds ...fhirtest.Dispense) []Event {
	out := make([]Event, 0, len(ds))
	for i, d := range ds {
		out = append(out, Event{
			NotificationID: "n",
			Dispense:       fhirtest.MedicationDispense(string(rune('a'+i)), "patient", d),
		})
	}
	return out
}

func TestTotalDispensedQuantitySumsSameUnit(t *testing.T) {
	evs := events(
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 1, Unit: "tablet"},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 2, Unit: "tablet"},
	)
	got, err := TotalDispensedQuantity(evs)
	if err != nil {
		t.Fatalf("TotalDispensedQuantity: %v", err)
	}
	if got.Value.Cmp(r4.NewDecimal(3, 0)) != 0 || got.Unit != "tablet" {
		t.Errorf("total = %s %s, want 3 tablet", got.Value, got.Unit)
	}
}

func TestTotalDispensedQuantityRejectsMixedUnits(t *testing.T) {
	evs := events(
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 1, Unit: "tablet"},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 5, Unit: "ml"},
	)
	_, err := TotalDispensedQuantity(evs)
	var um *UnitMismatchError
	if !errors.As(err, &um) {
		t.Fatalf("expected *UnitMismatchError, got %v", err)
	}
	if um.LineItemID != "li-1" || len(um.Units) != 2 {
		t.Errorf("error = %+v", um)
	}
}

func TestTotalDispensedQuantityUsesFinalRun(t *testing.T) {
	evs := events(
		fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 14},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 14},
	)
	got, err := TotalDispensedQuantity(evs)
	if err != nil {
		t.Fatalf("TotalDispensedQuantity: %v", err)
	}
	if got.Value.Cmp(r4.NewDecimal(14, 0)) != 0 {
		t.Errorf("total = %s, want 14", got.Value)
	}

	soFar, err := DispensedSoFar(evs)
	if err != nil {
		t.Fatalf("DispensedSoFar: %v", err)
	}
	if soFar.Value.Cmp(r4.NewDecimal(28, 0)) != 0 {
		t.Errorf("dispensed so far = %s, want 28", soFar.Value)
	}
}

func TestSumQuantitiesIsExact(t *testing.T) {
	a, _ := r4.ParseDecimal("0.1")
	b, _ := r4.ParseDecimal("0.2")
	got, err := SumQuantities("li-1", []r4.Quantity{{Value: a, Unit: "ml"}, {Value: b, Unit: "ml"}})
	if err != nil {
		t.Fatalf("SumQuantities: %v", err)
	}
	if got.Value.String() != "0.3" {
		t.Errorf("0.1 + 0.2 = %s", got.Value)
	}
}

func TestLatestStatusFollowsSubmissionOrder(t *testing.T) {
	partialThenFull := events(
		fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 14},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 14},
	)
	fullThenPartial := events(
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 14},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 14},
	)

	if got, _ := LatestStatus(partialThenFull); got != prescription.LineItemDispensed {
		t.Errorf("LatestStatus = %s, want dispensed", got)
	}
	if got, _ := LatestStatus(fullThenPartial); got != prescription.LineItemPartiallyDispensed {
		t.Errorf("LatestStatus = %s, want partially dispensed", got)
	}

	var pv *PreconditionViolation
	if _, err := LatestStatus(nil); !errors.As(err, &pv) {
		t.Errorf("expected *PreconditionViolation, got %v", err)
	}
}

func TestFinalEvents(t *testing.T) {
	evs := events(
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 5},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 6},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 7},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 8},
	)
	final, err := FinalEvents(evs)
	if err != nil {
		t.Fatalf("FinalEvents: %v", err)
	}
	if len(final) != 2 {
		t.Fatalf("final run length = %d, want 2", len(final))
	}
	if final[0].Dispense != evs[2].Dispense {
		t.Error("final run should start at the third event")
	}
}

func TestGroupByLineItem(t *testing.T) {
	evs := events(
		fhirtest.Dispense{LineItemID: "li-2", Status: "0001", Quantity: 1},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 2},
		fhirtest.Dispense{LineItemID: "li-2", Status: "0003", Quantity: 3},
	)
	groups := GroupByLineItem(evs)
	if len(groups) != 2 || len(groups["li-2"]) != 2 || len(groups["li-1"]) != 1 {
		t.Fatalf("groups = %v", groups)
	}
	if groups["li-2"][1].Dispense != evs[2].Dispense {
		t.Error("group order must follow submission order")
	}
	ids := LineItemIDs(evs)
	if len(ids) != 2 || ids[0] != "li-2" || ids[1] != "li-1" {
		t.Errorf("LineItemIDs = %v", ids)
	}
}

func TestSummarise(t *testing.T) {
	s, err := Summarise(events(
		fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 10},
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 18},
	))
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if s.LineItemID != "li-1" || s.Status != prescription.LineItemDispensed {
		t.Errorf("summary = %+v", s)
	}
	if s.Dispensed.Value.Cmp(r4.NewDecimal(18, 0)) != 0 || s.DispensedSoFar.Value.Cmp(r4.NewDecimal(28, 0)) != 0 {
		t.Errorf("dispensed = %s, so far = %s", s.Dispensed.Value, s.DispensedSoFar.Value)
	}
	if len(s.FinalEvents) != 1 {
		t.Errorf("final events = %d", len(s.FinalEvents))
	}
}
