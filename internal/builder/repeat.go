package builder

import (
	"github.com/drfirst/go-eps/internal/domain/repeat"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// BuildRepeatInstances prepares an order for prescribing. An acute order
// yields one re-keyed copy. A repeat dispensing order yields one copy that
// states the repeats allowed. A repeat prescribing order yields one copy
// per issue, each with its own prescription id and issue number.
//
// userMax is the number of issues to use when the order does not state it.
func (b *Builder) BuildRepeatInstances(order *r4.Bundle, userMax int) ([]*r4.Bundle, error) {
	idx, err := index.New(order)
	if err != nil {
		return nil, err
	}
	requests := idx.MedicationRequests()
	if len(requests) == 0 {
		return nil, &index.MalformedBundleError{
			Bundle: order.BundleIdentifier(), Field: r4.TypeMedicationRequest, Message: "order has no line items",
		}
	}
	first := requests[0]

	if !repeat.RequiresRepeatInformation(first) {
		out, err := b.Rekey(order)
		if err != nil {
			return nil, err
		}
		return []*r4.Bundle{out}, nil
	}

	allowed, err := repeat.IssuesAllowed(first, userMax)
	if err != nil {
		return nil, &BuildError{Field: "numberOfRepeatsAllowed", Code: "REQUIRED", Message: "issues allowed", Cause: err}
	}

	instances := repeat.Instances(allowed)
	if first.IsRepeatDispensing() {
		instances = instances[:1]
	}

	out := make([]*r4.Bundle, 0, len(instances))
	for _, inst := range instances {
		bundle, err := b.Rekey(order)
		if err != nil {
			return nil, err
		}
		if err := b.applyRepeat(bundle, inst); err != nil {
			return nil, err
		}
		out = append(out, bundle)
	}
	return out, nil
}

func (b *Builder) applyRepeat(bundle *r4.Bundle, inst repeat.Instance) error {
	idx, err := index.New(bundle)
	if err != nil {
		return err
	}
	for _, mr := range idx.MedicationRequests() {
		if !repeat.RequiresRepeatInformation(mr) {
			continue
		}
		ext, err := repeat.BuildRepeatExtension(inst.Issued, inst.Allowed, b.authorisationExpiry(mr))
		if err != nil {
			return &BuildError{Field: "MedicationRequest." + mr.LineItemID(), Code: "INVALID_REPEAT", Message: "repeat information", Cause: err}
		}
		mr.Extension = mr.Extension.Set(ext)
		if mr.IsRepeatDispensing() {
			if mr.DispenseRequest == nil {
				mr.DispenseRequest = &r4.DispenseRequest{}
			}
			repeats := inst.Allowed - 1
			mr.DispenseRequest.NumberOfRepeatsAllowed = &repeats
		}
	}
	return nil
}

// authorisationExpiry is the end of the request's validity period, or one
// year from now.
func (b *Builder) authorisationExpiry(mr *r4.MedicationRequest) string {
	if mr.DispenseRequest != nil && mr.DispenseRequest.ValidityPeriod != nil && mr.DispenseRequest.ValidityPeriod.End != "" {
		return mr.DispenseRequest.ValidityPeriod.End
	}
	return b.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
}
