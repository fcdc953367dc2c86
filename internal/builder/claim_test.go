package builder

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/drfirst/go-eps/internal/domain/dispense"
	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/fhirtest"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

func history(t *testing.T, notifications ...*r4.Bundle) dispense.History {
	t.Helper()
	h := dispense.NewHistory()
	for _, n := range notifications {
		var err error
		if h, err = h.Append(n); err != nil {
			t.Fatalf("Append %s: %v", n.BundleIdentifier(), err)
		}
	}
	return h
}

func claimInput(t *testing.T, order *r4.Bundle, h dispense.History) ClaimInput {
	t.Helper()
	idx, err := index.New(order)
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}
	patient, err := idx.Patient()
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	return ClaimInput{
		Patient:                patient,
		MedicationRequests:     idx.MedicationRequests(),
		History:                h,
		DispensingOrganization: pharmacy("pharmacy", fhirtest.PharmacyODS),
		Form: ClaimForm{
			Exemption: ExemptionForm{Code: prescription.ExemptionNone},
			Products: []ProductForm{{
				ID:           "li-1",
				PatientPaid:  true,
				Endorsements: []EndorsementForm{{Code: "BB", SupportingInfo: "broken bulk"}},
			}},
		},
	}
}

func TestBuildClaimAfterPartialThenFullDispense(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	h := history(t,
		fhirtest.Notification("n1", fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 14, PrescriptionStatus: "0003"}),
		fhirtest.Notification("n2", fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 14, PrescriptionStatus: "0006"}),
	)

	claim, err := testBuilder().BuildClaim(claimInput(t, order, h))
	if err != nil {
		t.Fatalf("BuildClaim failed: %v", err)
	}

	if len(claim.Item) != 1 {
		t.Fatalf("items = %d, want 1", len(claim.Item))
	}
	item := claim.Item[0]
	status, ok := item.Extension.TaskBusinessStatus()
	if !ok || status.Code != "0006" {
		t.Errorf("item status = %v, want 0006 from the final dispense", status)
	}
	if len(item.ProgramCode) != 2 {
		t.Errorf("item programCode = %d concepts, want exemption + evidence", len(item.ProgramCode))
	}
	if item.ProgramCode[0].FirstCode() != prescription.ExemptionNone || item.ProgramCode[1].FirstCode() != "no-evidence-seen" {
		t.Errorf("item programCode = %s, %s", item.ProgramCode[0].FirstCode(), item.ProgramCode[1].FirstCode())
	}

	if len(item.Detail) != 1 {
		t.Fatalf("details = %d", len(item.Detail))
	}
	detail := item.Detail[0]
	if detail.Modifier[0].FirstCode() != "0001" {
		t.Errorf("detail modifier = %s", detail.Modifier[0].FirstCode())
	}
	if len(detail.SubDetail) != 1 {
		t.Fatalf("sub-details = %d, want one per final dispense event", len(detail.SubDetail))
	}
	sub := detail.SubDetail[0]
	if diff := cmp.Diff(r4.NewDecimal(14, 0), sub.Quantity.Value, decimalComparer); diff != "" {
		t.Errorf("sub-detail quantity (-want +got):\n%s", diff)
	}
	codes := make([]string, 0, len(sub.ProgramCode))
	for _, c := range sub.ProgramCode {
		codes = append(codes, c.FirstCode())
	}
	if diff := cmp.Diff([]string{"BB", "paid-once"}, codes); diff != "" {
		t.Errorf("sub-detail programCode (-want +got):\n%s", diff)
	}
	if sub.ProgramCode[0].Text != "broken bulk" {
		t.Errorf("endorsement supporting info = %q", sub.ProgramCode[0].Text)
	}
}

func TestBuildClaimStructure(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	h := history(t, fhirtest.Notification("n1",
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 28, PrescriptionStatus: "0006"}))

	claim, err := testBuilder().BuildClaim(claimInput(t, order, h))
	if err != nil {
		t.Fatalf("BuildClaim failed: %v", err)
	}

	if len(claim.Contained) != 2 {
		t.Fatalf("contained = %d", len(claim.Contained))
	}
	role, ok := claim.Contained[0].(*r4.PractitionerRole)
	if !ok || role.Organization.Reference != "#organizationId" {
		t.Errorf("contained role = %+v", claim.Contained[0])
	}
	if org, ok := claim.Contained[1].(*r4.Organization); !ok || org.ID != "organizationId" {
		t.Errorf("contained organisation = %+v", claim.Contained[1])
	}
	if claim.Provider.Reference != "#performer" {
		t.Errorf("provider = %s", claim.Provider.Reference)
	}
	if claim.Patient.Identifier == nil || claim.Patient.Identifier.Value != fhirtest.NHSNumber || len(claim.Patient.Identifier.Extension) != 0 {
		t.Errorf("patient = %+v", claim.Patient.Identifier)
	}
	if claim.Insurance[0].Coverage.Identifier.Value != NHSBSA {
		t.Errorf("insurer = %s", claim.Insurance[0].Coverage.Identifier.Value)
	}
	group, ok := claim.Prescription.Extension.GroupIdentifier()
	if !ok || group.ShortForm != fhirtest.ShortFormID || group.UUID != fhirtest.LongFormID {
		t.Errorf("prescription group identifier = %+v", group)
	}
	if claim.Created != "2026-10-19T09:30:00Z" {
		t.Errorf("created = %s", claim.Created)
	}
	if claim.Extension.Has(r4.ExtReplacementOf) {
		t.Error("first claim must not carry replacementOf")
	}
	if !claim.Extension.Has(r4.ExtProvenanceAgent) {
		t.Error("provenance agent missing")
	}
}

func TestBuildClaimPartialHasNoSubDetails(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	h := history(t, fhirtest.Notification("n1",
		fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 10, PrescriptionStatus: "0003"}))

	claim, err := testBuilder().BuildClaim(claimInput(t, order, h))
	if err != nil {
		t.Fatalf("BuildClaim failed: %v", err)
	}
	detail := claim.Item[0].Detail[0]
	if len(detail.SubDetail) != 0 {
		t.Errorf("sub-details = %d, want none for a partial supply", len(detail.SubDetail))
	}
	if got := detail.ProgramCode[len(detail.ProgramCode)-1].FirstCode(); got != "paid-once" {
		t.Errorf("detail charge = %s", got)
	}
}

func TestBuildClaimDefaultsProductToNoEndorsement(t *testing.T) {
	order := fhirtest.Order(
		fhirtest.LineItem{ID: "li-1", Quantity: 28},
		fhirtest.LineItem{ID: "li-2", Quantity: 56},
	)
	h := history(t, fhirtest.Notification("n1",
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 28, PrescriptionStatus: "0006"},
		fhirtest.Dispense{LineItemID: "li-2", Status: "0001", Quantity: 56, PrescriptionStatus: "0006"},
	))
	claim, err := testBuilder().BuildClaim(claimInput(t, order, h))
	if err != nil {
		t.Fatalf("BuildClaim failed: %v", err)
	}
	details := claim.Item[0].Detail
	if len(details) != 2 || details[1].Sequence != 2 {
		t.Fatalf("details = %+v", details)
	}
	codes := []string{details[1].ProgramCode[0].FirstCode(), details[1].ProgramCode[1].FirstCode()}
	if diff := cmp.Diff([]string{prescription.EndorsementNone, "not-paid"}, codes); diff != "" {
		t.Errorf("default product programCode (-want +got):\n%s", diff)
	}
}

func TestBuildClaimPreconditions(t *testing.T) {
	order := fhirtest.Order(
		fhirtest.LineItem{ID: "li-1", Quantity: 28},
		fhirtest.LineItem{ID: "li-2", Quantity: 56},
	)

	var pv *dispense.PreconditionViolation
	if _, err := testBuilder().BuildClaim(claimInput(t, order, dispense.NewHistory())); !errors.As(err, &pv) {
		t.Fatalf("empty history: expected *PreconditionViolation, got %v", err)
	}

	h := history(t, fhirtest.Notification("n1",
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 28, PrescriptionStatus: "0003"}))
	if _, err := testBuilder().BuildClaim(claimInput(t, order, h)); !errors.As(err, &pv) {
		t.Fatalf("undispensed line item: expected *PreconditionViolation, got %v", err)
	}
	if pv.LineItemID != "li-2" || pv.Operation != "claim" {
		t.Errorf("violation = %+v", pv)
	}
}

func TestBuildClaimRequiresFinalStatus(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	h := history(t, fhirtest.Notification("n1",
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 28}))

	var me *r4.MissingExtensionError
	if _, err := testBuilder().BuildClaim(claimInput(t, order, h)); !errors.As(err, &me) {
		t.Fatalf("expected *r4.MissingExtensionError, got %v", err)
	}
}

func TestBuildClaimMixedUnits(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	h := history(t,
		fhirtest.Notification("n1", fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 14, PrescriptionStatus: "0003"}),
		fhirtest.Notification("n2", fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 70, Unit: "ml", PrescriptionStatus: "0006"}),
	)
	var um *dispense.UnitMismatchError
	if _, err := testBuilder().BuildClaim(claimInput(t, order, h)); !errors.As(err, &um) {
		t.Fatalf("expected *UnitMismatchError, got %v", err)
	}
}

func TestBuildClaimAmendment(t *testing.T) {
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	h := history(t, fhirtest.Notification("n1",
		fhirtest.Dispense{LineItemID: "li-1", Status: "0001", Quantity: 28, PrescriptionStatus: "0006"}))
	b := testBuilder()

	first, err := b.BuildClaim(claimInput(t, order, h))
	if err != nil {
		t.Fatalf("BuildClaim failed: %v", err)
	}
	in := claimInput(t, order, h)
	in.PreviousClaim = first
	second, err := b.BuildClaim(in)
	if err != nil {
		t.Fatalf("BuildClaim amendment failed: %v", err)
	}

	ext, ok := second.Extension.Get(r4.ExtReplacementOf)
	if !ok || ext.ValueIdentifier.Value != first.ClaimIdentifier().Value {
		t.Errorf("replacementOf = %+v, want %s", ext, first.ClaimIdentifier().Value)
	}
	if second.ClaimIdentifier().Value == first.ClaimIdentifier().Value {
		t.Error("amendment reused the claim identifier")
	}
}
