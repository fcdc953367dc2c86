package builder

import (
	"slices"

	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

var entryOrder = map[string]int{
	r4.TypeMessageHeader:     0,
	r4.TypeMedicationRequest: 1,
	r4.TypePatient:           2,
	r4.TypePractitioner:      3,
	r4.TypePractitionerRole:  4,
	r4.TypeOrganization:      5,
	r4.TypeHealthcareService: 6,
	r4.TypeLocation:          7,
	r4.TypeProvenance:        8,
}

// OrderEntries sorts bundle entries into the canonical resource order.
// Types outside the order sort first; the sort is stable.
func OrderEntries(b *r4.Bundle) {
	slices.SortStableFunc(b.Entry, func(x, y r4.BundleEntry) int {
		return entryOrder[x.Resource.GetResourceType()] - entryOrder[y.Resource.GetResourceType()]
	})
}

// Rekey copies a prescription order under fresh identities: new resource
// ids with every bundle-local reference rewritten, a new bundle identifier,
// new line item ids, and a new short-form / long-form pair that keeps the
// prescriber organisation segment.
func (b *Builder) Rekey(order *r4.Bundle) (*r4.Bundle, error) {
	out, err := clone(order)
	if err != nil {
		return nil, &BuildError{Field: "Bundle", Code: "COPY_FAILED", Message: "copy order", Cause: err}
	}
	if _, err := index.New(out); err != nil {
		return nil, err
	}

	// Resource ids and fullUrls
	renamed := make(map[string]string, len(out.Entry))
	for i := range out.Entry {
		e := &out.Entry[i]
		id := b.NewID()
		if e.FullURL != "" {
			renamed[e.FullURL] = r4.FullURL(id)
		}
		e.FullURL = r4.FullURL(id)
		e.Resource.SetID(id)
	}
	for _, e := range out.Entry {
		for _, ref := range index.References(e.Resource) {
			if ref == nil {
				continue
			}
			if to, ok := renamed[ref.Reference]; ok {
				ref.Reference = to
			}
		}
	}

	out.ID = b.NewID()
	out.Identifier = &r4.Identifier{System: r4.SystemUUID, Value: b.NewID()}

	// Line item and prescription identifiers
	idx, err := index.New(out)
	if err != nil {
		return nil, err
	}
	requests := idx.MedicationRequests()
	if len(requests) == 0 {
		return out, nil
	}
	org := prescription.ShortFormID(requests[0].ShortFormID()).OrgCode()
	group, err := b.Codec.NewGroupIdentifier(org)
	if err != nil {
		return nil, &BuildError{Field: "groupIdentifier", Code: "GENERATE_FAILED", Message: "new prescription id", Cause: err}
	}
	for _, mr := range requests {
		if len(mr.Identifier) > 0 {
			mr.Identifier[0].Value = b.NewID()
		}
		mr.GroupIdentifier = group.Identifier()
	}
	return out, nil
}
