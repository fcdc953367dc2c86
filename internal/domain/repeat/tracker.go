// Package repeat tracks issue numbering for repeat-prescribed and
// repeat-dispensed line items.
package repeat

import (
	"errors"
	"fmt"

	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// ErrNoRepeatLimit is returned when neither the request nor the caller
// states how many issues are allowed.
var ErrNoRepeatLimit = errors.New("no repeat limit on request and no maximum supplied")

// Instance is one issue of a repeating line item. Issued counts the issues
// made before this one, so the first issue of a series has Issued == 0.
type Instance struct {
	Issued  int
	Allowed int
}

// Validate enforces 0 <= Issued < Allowed.
func (i Instance) Validate() error {
	if i.Allowed < 1 {
		return fmt.Errorf("issues allowed must be at least 1, got %d", i.Allowed)
	}
	if i.Issued < 0 || i.Issued >= i.Allowed {
		return fmt.Errorf("issue %d outside 0..%d", i.Issued, i.Allowed-1)
	}
	return nil
}

// IsFirst reports whether this is the first issue of the series.
func (i Instance) IsFirst() bool { return i.Issued == 0 }

// Remaining is the number of issues still to be made after this one.
func (i Instance) Remaining() int { return i.Allowed - i.Issued - 1 }

// Instances returns one Instance per issue, Issued running 0..allowed-1.
func Instances(allowed int) []Instance {
	out := make([]Instance, 0, allowed)
	for issued := 0; issued < allowed; issued++ {
		out = append(out, Instance{Issued: issued, Allowed: allowed})
	}
	return out
}

// RequiresRepeatInformation reports whether a line item carries repeat
// information, i.e. its course of therapy is not acute.
func RequiresRepeatInformation(mr *r4.MedicationRequest) bool {
	return !mr.IsAcute()
}

// IssuesAllowed is numberOfRepeatsAllowed + 1 when the request states it,
// otherwise the caller-supplied maximum.
func IssuesAllowed(mr *r4.MedicationRequest, userMax int) (int, error) {
	if n, ok := mr.RepeatsAllowed(); ok {
		return n + 1, nil
	}
	if userMax > 0 {
		return userMax, nil
	}
	return 0, ErrNoRepeatLimit
}

// IssuesIssued is the stated number of repeats issued, or 1 when the
// request carries no such field.
func IssuesIssued(mr *r4.MedicationRequest) int {
	info, ok := mr.Extension.UKCoreRepeatInformation()
	if !ok || info.PrescriptionsIssued == nil {
		return 1
	}
	return *info.PrescriptionsIssued
}

// CurrentIssueNumber is the 1-based issue number of a request instance:
// the prescriptions issued before it, plus one.
func CurrentIssueNumber(mr *r4.MedicationRequest) int {
	info, ok := mr.Extension.UKCoreRepeatInformation()
	if !ok || info.PrescriptionsIssued == nil {
		return 1
	}
	return *info.PrescriptionsIssued + 1
}

// EndIssueNumber is the last issue number of the series. The basedOn EPS
// extension wins over dispenseRequest; a request with neither has one issue.
func EndIssueNumber(mr *r4.MedicationRequest) int {
	if len(mr.BasedOn) > 0 {
		if info, ok := mr.BasedOn[0].Extension.EPSRepeatInformation(); ok && info.RepeatsAllowed != nil {
			return *info.RepeatsAllowed + 1
		}
	}
	if n, ok := mr.RepeatsAllowed(); ok && n > 0 {
		return n + 1
	}
	return 1
}

// Track returns the issue position of an existing non-acute request.
func Track(mr *r4.MedicationRequest) (Instance, error) {
	if !RequiresRepeatInformation(mr) {
		return Instance{}, fmt.Errorf("line item %s is acute", mr.LineItemID())
	}
	if !mr.Extension.Has(r4.ExtUKCoreRepeatInformation) {
		return Instance{}, &r4.MissingExtensionError{
			Resource: "MedicationRequest/" + mr.ID,
			URL:      r4.ExtUKCoreRepeatInformation,
			Reason:   "course of therapy " + mr.CourseOfTherapy() + " requires repeat information",
		}
	}
	inst := Instance{Issued: CurrentIssueNumber(mr) - 1, Allowed: EndIssueNumber(mr)}
	if err := inst.Validate(); err != nil {
		return Instance{}, fmt.Errorf("line item %s: %w", mr.LineItemID(), err)
	}
	return inst, nil
}

// BuildRepeatExtension builds the prescriber-side repeat information for
// one issue. The issued count is omitted on the first issue; consumers
// infer "first issue" from its absence.
func BuildRepeatExtension(issued, allowed int, authorisationExpiry string) (r4.Extension, error) {
	inst := Instance{Issued: issued, Allowed: allowed}
	if err := inst.Validate(); err != nil {
		return r4.Extension{}, err
	}
	info := r4.UKCoreRepeatInformation{AuthorisationExpiryDate: authorisationExpiry}
	if issued > 0 {
		info.PrescriptionsIssued = &issued
	}
	return r4.NewUKCoreRepeatInformation(info), nil
}

// BuildDispensingRepeatExtension builds the dispenser-side repeat
// information attached to dispenses and claim details.
func BuildDispensingRepeatExtension(mr *r4.MedicationRequest) r4.Extension {
	return r4.NewEPSRepeatInformation(CurrentIssueNumber(mr)-1, EndIssueNumber(mr)-1)
}
