package index

import (
	"fmt"

	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// MessageHeader returns the bundle's single MessageHeader.
func (idx *Index) MessageHeader() (*r4.MessageHeader, error) {
	return one[*r4.MessageHeader](idx, r4.TypeMessageHeader)
}

// Patient returns the bundle's single Patient.
func (idx *Index) Patient() (*r4.Patient, error) {
	return one[*r4.Patient](idx, r4.TypePatient)
}

// PractitionerRole returns the bundle's single PractitionerRole.
func (idx *Index) PractitionerRole() (*r4.PractitionerRole, error) {
	return one[*r4.PractitionerRole](idx, r4.TypePractitionerRole)
}

// MedicationRequests returns the line items in entry order.
func (idx *Index) MedicationRequests() []*r4.MedicationRequest {
	return all[*r4.MedicationRequest](idx, r4.TypeMedicationRequest)
}

// MedicationDispenses returns the dispense events in entry order.
func (idx *Index) MedicationDispenses() []*r4.MedicationDispense {
	return all[*r4.MedicationDispense](idx, r4.TypeMedicationDispense)
}

// Organizations returns the organisations in entry order.
func (idx *Index) Organizations() []*r4.Organization {
	return all[*r4.Organization](idx, r4.TypeOrganization)
}

// ResolveOrganization resolves a reference that must point at an
// Organization in this bundle.
func (idx *Index) ResolveOrganization(ref r4.Reference) (*r4.Organization, error) {
	r, err := idx.Resolve(ref)
	if err != nil {
		return nil, err
	}
	org, ok := r.(*r4.Organization)
	if !ok {
		return nil, idx.malformed("reference", fmt.Sprintf("%q is a %s, not an Organization", ref.Reference, r.GetResourceType()))
	}
	return org, nil
}

// CheckReferences verifies that every bundle-local reference carried by a
// modelled field resolves to exactly one entry.
func (idx *Index) CheckReferences() error {
	for _, e := range idx.bundle.Entry {
		for _, ref := range References(e.Resource) {
			if ref == nil || !ref.IsBundleLocal() {
				continue
			}
			if _, err := idx.Resolve(*ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// References returns the modelled reference fields of a resource. Nil entries
// stand for absent optional references.
func References(r r4.Resource) []*r4.Reference {
	switch v := r.(type) {
	case *r4.MessageHeader:
		refs := []*r4.Reference{v.Sender}
		for i := range v.Focus {
			refs = append(refs, &v.Focus[i])
		}
		return refs
	case *r4.MedicationRequest:
		return []*r4.Reference{&v.Subject, v.Requester}
	case *r4.MedicationDispense:
		refs := []*r4.Reference{v.Subject}
		for i := range v.Performer {
			refs = append(refs, &v.Performer[i].Actor)
		}
		return refs
	case *r4.PractitionerRole:
		return []*r4.Reference{v.Practitioner, v.Organization}
	case *r4.Organization:
		return []*r4.Reference{v.PartOf}
	case *r4.Provenance:
		refs := make([]*r4.Reference, 0, len(v.Target))
		for i := range v.Target {
			refs = append(refs, &v.Target[i])
		}
		return refs
	case *r4.Claim:
		return []*r4.Reference{&v.Provider}
	case *r4.Task:
		return []*r4.Reference{v.Focus, v.Requester, v.Owner}
	case *r4.Patient, *r4.Practitioner, *r4.Parameters, *r4.Bundle, *r4.UnknownResource:
		return nil
	default:
		return nil
	}
}

func one[T r4.Resource](idx *Index, resourceType string) (T, error) {
	var zero T
	r, err := idx.FindOne(resourceType)
	if err != nil {
		return zero, err
	}
	v, ok := r.(T)
	if !ok {
		return zero, idx.malformed(resourceType, fmt.Sprintf("unexpected %T", r))
	}
	return v, nil
}

func all[T r4.Resource](idx *Index, resourceType string) []T {
	rs := idx.byType[resourceType]
	out := make([]T, 0, len(rs))
	for _, r := range rs {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
