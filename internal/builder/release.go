package builder

import (
	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// ReleaseInput selects a release. With a short-form id the release is for
// that prescription only; without one it releases every prescription
// nominated to the pharmacy.
type ReleaseInput struct {
	ShortFormID string
	Pharmacy    string
}

// BuildRelease builds the release request Parameters.
func (b *Builder) BuildRelease(in ReleaseInput) (*r4.Parameters, error) {
	ods := in.Pharmacy
	if ods == "" {
		ods = DefaultPharmacy
	}
	orgID := b.NewID()
	params := &r4.Parameters{
		DomainResource: r4.DomainResource{ResourceType: r4.TypeParameters, ID: b.NewID()},
		Parameter: []r4.Parameter{
			{Name: "owner", Resource: pharmacy(orgID, ods)},
			{Name: "status", ValueCode: "accepted"},
			{Name: "agent", Resource: pharmacist(b.NewID(), "Mr Peter Potion", r4.FullURL(orgID))},
		},
	}
	if in.ShortFormID == "" {
		return params, nil
	}
	id, err := prescription.ParseShortFormID(in.ShortFormID)
	if err != nil {
		return nil, err
	}
	params.Parameter = append(params.Parameter, r4.Parameter{
		Name:            "group-identifier",
		ValueIdentifier: &r4.Identifier{System: r4.SystemPrescriptionShortForm, Value: id.String()},
	})
	return params, nil
}
