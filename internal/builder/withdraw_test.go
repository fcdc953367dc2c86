package builder

import (
	"errors"
	"testing"

	"github.com/drfirst/go-eps/internal/domain/dispense"
	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/fhirtest"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

func TestBuildWithdrawTask(t *testing.T) {
	h := history(t,
		fhirtest.Notification("n1", fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 14, PrescriptionStatus: "0003"}),
		fhirtest.Notification("n2", fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 14, PrescriptionStatus: "0006"}),
	)

	task, remaining, err := testBuilder().BuildWithdrawTask(WithdrawInput{
		History: h, ShortFormID: fhirtest.ShortFormID, Reason: "QU", Pharmacy: fhirtest.PharmacyODS,
	})
	if err != nil {
		t.Fatalf("BuildWithdrawTask failed: %v", err)
	}

	if task.Focus.Type != r4.TypeBundle || task.Focus.Identifier.Value != "n2-identifier" {
		t.Errorf("focus = %+v, want the latest notification", task.Focus)
	}
	if task.Status != r4.StatusInProgress || task.Intent != r4.IntentOrder || task.Code.FirstCode() != "abort" {
		t.Errorf("status/intent/code = %s/%s/%s", task.Status, task.Intent, task.Code.FirstCode())
	}
	if task.StatusReason.FirstCode() != "QU" {
		t.Errorf("reason = %s", task.StatusReason.FirstCode())
	}
	if task.For.Identifier.Value != fhirtest.NHSNumber {
		t.Errorf("for = %s", task.For.Identifier.Value)
	}
	if task.Owner.Identifier.Value != fhirtest.PharmacyODS {
		t.Errorf("owner = %s", task.Owner.Identifier.Value)
	}
	if task.GroupIdentifier == nil || task.GroupIdentifier.Value != fhirtest.ShortFormID {
		t.Errorf("group identifier = %+v", task.GroupIdentifier)
	}
	if len(task.Contained) != 2 || task.Requester.Reference != "#requester" {
		t.Errorf("requester = %+v", task.Requester)
	}

	if remaining.Len() != 1 || h.Len() != 2 {
		t.Errorf("remaining = %d, original = %d", remaining.Len(), h.Len())
	}
	status, err := dispense.PrescriptionStatus(remaining)
	if err != nil {
		t.Fatalf("PrescriptionStatus: %v", err)
	}
	if status != prescription.StatusWithDispenserActive {
		t.Errorf("status after withdraw = %s", status)
	}

	// The next withdrawal targets the earlier notification.
	next, _, err := testBuilder().BuildWithdrawTask(WithdrawInput{History: remaining, Reason: "MU"})
	if err != nil {
		t.Fatalf("second BuildWithdrawTask failed: %v", err)
	}
	if next.Focus.Identifier.Value != "n1-identifier" {
		t.Errorf("second focus = %s", next.Focus.Identifier.Value)
	}
	if next.Owner.Identifier.Value != DefaultPharmacy {
		t.Errorf("default owner = %s", next.Owner.Identifier.Value)
	}
}

func TestBuildWithdrawTaskErrors(t *testing.T) {
	var pv *dispense.PreconditionViolation
	if _, _, err := testBuilder().BuildWithdrawTask(WithdrawInput{History: dispense.NewHistory(), Reason: "QU"}); !errors.As(err, &pv) {
		t.Fatalf("empty history: expected *PreconditionViolation, got %v", err)
	}

	h := history(t, fhirtest.Notification("n1",
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 28, PrescriptionStatus: "0006"}))
	_, kept, err := testBuilder().BuildWithdrawTask(WithdrawInput{History: h, Reason: "XX"})
	var be *BuildError
	if !errors.As(err, &be) || be.Code != "INVALID_REASON" {
		t.Fatalf("expected INVALID_REASON, got %v", err)
	}
	if kept.Len() != 1 {
		t.Error("a rejected withdrawal must leave the history unchanged")
	}
}
