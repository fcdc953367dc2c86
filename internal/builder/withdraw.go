package builder

import (
	"github.com/drfirst/go-eps/internal/domain/dispense"
	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// WithdrawInput identifies the notification to withdraw and why.
type WithdrawInput struct {
	History     dispense.History
	ShortFormID string
	Reason      string
	// Pharmacy is the ODS code of the withdrawing organisation
	Pharmacy string
}

// BuildWithdrawTask builds the Task withdrawing the most recent dispense
// notification, and returns the history that remains once it is accepted.
func (b *Builder) BuildWithdrawTask(in WithdrawInput) (*r4.Task, dispense.History, error) {
	remaining, last, err := in.History.Withdraw()
	if err != nil {
		return nil, in.History, err
	}
	reason, ok := prescription.WithdrawReasons.Lookup(in.Reason)
	if !ok {
		return nil, in.History, &BuildError{Field: "reason", Code: "INVALID_REASON", Message: "unknown withdraw reason " + in.Reason}
	}

	idx, err := index.New(last)
	if err != nil {
		return nil, in.History, err
	}
	dispenses := idx.MedicationDispenses()
	if len(dispenses) == 0 || dispenses[0].Subject == nil || dispenses[0].Subject.Identifier == nil {
		return nil, in.History, &index.MalformedBundleError{
			Bundle: last.BundleIdentifier(), Field: "MedicationDispense.subject", Message: "no patient identifier to withdraw for",
		}
	}
	patient := dispenses[0].Subject.Identifier.WithoutExtensions()

	ods := in.Pharmacy
	if ods == "" {
		ods = DefaultPharmacy
	}
	org := pharmacy("organisation", ods)
	requester := pharmacist("requester", "Ms Lottie Maifeld", "#organisation")

	statusReason := r4.NewConcept(reason)
	code := taskCodeAbort
	task := &r4.Task{
		DomainResource: r4.DomainResource{ResourceType: r4.TypeTask, ID: b.NewID()},
		Contained:      r4.Resources{requester, org},
		Identifier:     []r4.Identifier{b.uuidIdentifier()},
		Status:         r4.StatusInProgress,
		StatusReason:   &statusReason,
		Intent:         r4.IntentOrder,
		Code:           &code,
		Focus:          &r4.Reference{Type: r4.TypeBundle, Identifier: last.Identifier},
		For:            &r4.Reference{Identifier: &patient},
		AuthoredOn:     b.timestamp(),
		Requester:      &r4.Reference{Reference: "#requester"},
		Owner:          &r4.Reference{Identifier: &r4.Identifier{System: r4.SystemODSCode, Value: ods}},
	}
	if in.ShortFormID != "" {
		task.GroupIdentifier = &r4.Identifier{System: r4.SystemPrescriptionShortForm, Value: in.ShortFormID}
	}
	return task, remaining, nil
}
