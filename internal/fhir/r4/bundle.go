package r4

import (
	"encoding/json"
	"fmt"
)

// Bundle types used by the workflow.
const (
	BundleTypeMessage    = "message"
	BundleTypeSearchset  = "searchset"
	BundleTypeCollection = "collection"
)

// Bundle represents a FHIR Bundle.
type Bundle struct {
	DomainResource
	Identifier *Identifier   `json:"identifier,omitempty"`
	Type       string        `json:"type"`
	Timestamp  string        `json:"timestamp,omitempty"`
	Entry      []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry is a (fullUrl, resource) pair.
type BundleEntry struct {
	FullURL  string   `json:"fullUrl,omitempty"`
	Resource Resource `json:"resource,omitempty"`
}

// NewMessageBundle returns an empty message bundle.
func NewMessageBundle(id string, identifier Identifier) *Bundle {
	return &Bundle{
		DomainResource: DomainResource{ResourceType: TypeBundle, ID: id},
		Identifier:     &identifier,
		Type:           BundleTypeMessage,
	}
}

// Add appends resources as urn:uuid entries.
func (b *Bundle) Add(resources ...Resource) {
	for _, r := range resources {
		b.Entry = append(b.Entry, BundleEntry{FullURL: FullURL(r.GetID()), Resource: r})
	}
}

// BundleIdentifier returns the bundle identifier value, or "".
func (b *Bundle) BundleIdentifier() string {
	if b.Identifier == nil {
		return ""
	}
	return b.Identifier.Value
}

// UnmarshalJSON decodes the entry resource by its resourceType.
func (e *BundleEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		FullURL  string          `json:"fullUrl"`
		Resource json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.FullURL = raw.FullURL
	if len(raw.Resource) == 0 || string(raw.Resource) == "null" {
		e.Resource = nil
		return nil
	}
	r, err := DecodeResource(raw.Resource)
	if err != nil {
		return fmt.Errorf("entry %s: %w", raw.FullURL, err)
	}
	e.Resource = r
	return nil
}

// UnmarshalJSON decodes an embedded parameter resource by its resourceType.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name            string          `json:"name"`
		ValueIdentifier *Identifier     `json:"valueIdentifier"`
		ValueCode       string          `json:"valueCode"`
		ValueString     string          `json:"valueString"`
		Resource        json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Parameter{Name: raw.Name, ValueIdentifier: raw.ValueIdentifier, ValueCode: raw.ValueCode, ValueString: raw.ValueString}
	if len(raw.Resource) == 0 || string(raw.Resource) == "null" {
		return nil
	}
	r, err := DecodeResource(raw.Resource)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", raw.Name, err)
	}
	p.Resource = r
	return nil
}

// Resources is a heterogeneous list of resources, as found in contained.
type Resources []Resource

// UnmarshalJSON decodes each element by its resourceType.
func (rs *Resources) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Resources, 0, len(raws))
	for i, raw := range raws {
		r, err := DecodeResource(raw)
		if err != nil {
			return fmt.Errorf("contained[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	*rs = out
	return nil
}

// DecodeResource decodes a single resource into its concrete type.
// Resource types that the workflow does not model decode into
// *UnknownResource so that a bundle survives a decode/encode cycle.
func DecodeResource(data []byte) (Resource, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	var r Resource
	switch head.ResourceType {
	case TypeBundle:
		r = &Bundle{}
	case TypeMessageHeader:
		r = &MessageHeader{}
	case TypePatient:
		r = &Patient{}
	case TypePractitioner:
		r = &Practitioner{}
	case TypePractitionerRole:
		r = &PractitionerRole{}
	case TypeOrganization:
		r = &Organization{}
	case TypeProvenance:
		r = &Provenance{}
	case TypeMedicationRequest:
		r = &MedicationRequest{}
	case TypeMedicationDispense:
		r = &MedicationDispense{}
	case TypeClaim:
		r = &Claim{}
	case TypeTask:
		r = &Task{}
	case TypeParameters:
		r = &Parameters{}
	case "":
		return nil, fmt.Errorf("resource has no resourceType")
	default:
		u := &UnknownResource{Raw: append(json.RawMessage(nil), data...)}
		if err := json.Unmarshal(data, &u.DomainResource); err != nil {
			return nil, err
		}
		return u, nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.ResourceType, err)
	}
	return r, nil
}

// DecodeBundle decodes data, which must be a Bundle.
func DecodeBundle(data []byte) (*Bundle, error) {
	r, err := DecodeResource(data)
	if err != nil {
		return nil, err
	}
	b, ok := r.(*Bundle)
	if !ok {
		return nil, fmt.Errorf("expected %s, got %s", TypeBundle, r.GetResourceType())
	}
	return b, nil
}

// UnknownResource holds a resource type the workflow does not model.
type UnknownResource struct {
	DomainResource
	Raw json.RawMessage `json:"-"`
}

// MarshalJSON re-emits the raw resource with its current id.
func (u *UnknownResource) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return json.Marshal(u.DomainResource)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(u.Raw, &m); err != nil {
		return nil, err
	}
	if u.ID != "" {
		id, err := json.Marshal(u.ID)
		if err != nil {
			return nil, err
		}
		m["id"] = id
	}
	return json.Marshal(m)
}
