package r4

// Resource type names.
const (
	TypeBundle             = "Bundle"
	TypeMessageHeader      = "MessageHeader"
	TypePatient            = "Patient"
	TypePractitioner       = "Practitioner"
	TypePractitionerRole   = "PractitionerRole"
	TypeOrganization       = "Organization"
	TypeHealthcareService  = "HealthcareService"
	TypeLocation           = "Location"
	TypeProvenance         = "Provenance"
	TypeMedicationRequest  = "MedicationRequest"
	TypeMedicationDispense = "MedicationDispense"
	TypeClaim              = "Claim"
	TypeTask               = "Task"
	TypeParameters         = "Parameters"
)

// Resource is implemented by every resource struct in this package. The set
// is closed: entries are discriminated by resourceType when decoded.
type Resource interface {
	GetResourceType() string
	GetID() string
	SetID(id string)
	GetExtensions() Extensions
	isResource()
}

// DomainResource holds the fields shared by every modelled resource.
type DomainResource struct {
	ResourceType string     `json:"resourceType"`
	ID           string     `json:"id,omitempty"`
	Meta         *Meta      `json:"meta,omitempty"`
	Extension    Extensions `json:"extension,omitempty"`
}

func (r *DomainResource) GetResourceType() string   { return r.ResourceType }
func (r *DomainResource) GetID() string             { return r.ID }
func (r *DomainResource) SetID(id string)           { r.ID = id }
func (r *DomainResource) GetExtensions() Extensions { return r.Extension }
func (r *DomainResource) isResource()               {}

// Patient represents a FHIR Patient resource.
type Patient struct {
	DomainResource
	Identifier          []Identifier   `json:"identifier,omitempty"`
	Name                []HumanName    `json:"name,omitempty"`
	Telecom             []ContactPoint `json:"telecom,omitempty"`
	Gender              string         `json:"gender,omitempty"` // male | female | other | unknown
	BirthDate           string         `json:"birthDate,omitempty"`
	Address             []Address      `json:"address,omitempty"`
	GeneralPractitioner []Reference    `json:"generalPractitioner,omitempty"`
}

// NHSNumber returns the patient's NHS number, falling back to the first
// identifier.
func (p *Patient) NHSNumber() *Identifier {
	for i := range p.Identifier {
		if p.Identifier[i].System == SystemNHSNumber {
			return &p.Identifier[i]
		}
	}
	if len(p.Identifier) > 0 {
		return &p.Identifier[0]
	}
	return nil
}

// Practitioner represents a FHIR Practitioner resource.
type Practitioner struct {
	DomainResource
	Identifier []Identifier `json:"identifier,omitempty"`
	Name       []HumanName  `json:"name,omitempty"`
}

// PractitionerRole represents a FHIR PractitionerRole resource.
type PractitionerRole struct {
	DomainResource
	Identifier   []Identifier      `json:"identifier,omitempty"`
	Practitioner *Reference        `json:"practitioner,omitempty"`
	Organization *Reference        `json:"organization,omitempty"`
	Code         []CodeableConcept `json:"code,omitempty"`
	Telecom      []ContactPoint    `json:"telecom,omitempty"`
}

// Organization represents a FHIR Organization resource.
type Organization struct {
	DomainResource
	Identifier []Identifier      `json:"identifier,omitempty"`
	Active     *bool             `json:"active,omitempty"`
	Type       []CodeableConcept `json:"type,omitempty"`
	Name       string            `json:"name,omitempty"`
	Telecom    []ContactPoint    `json:"telecom,omitempty"`
	Address    []Address         `json:"address,omitempty"`
	PartOf     *Reference        `json:"partOf,omitempty"`
}

// ODSCode returns the organisation's ODS code, or "".
func (o *Organization) ODSCode() string {
	for _, id := range o.Identifier {
		if id.System == SystemODSCode {
			return id.Value
		}
	}
	return ""
}

// MessageHeader represents a FHIR MessageHeader resource.
type MessageHeader struct {
	DomainResource
	EventCoding Coding                     `json:"eventCoding"`
	Destination []MessageHeaderDestination `json:"destination,omitempty"`
	Sender      *Reference                 `json:"sender,omitempty"`
	Source      *MessageHeaderSource       `json:"source,omitempty"`
	Response    *MessageHeaderResponse     `json:"response,omitempty"`
	Focus       []Reference                `json:"focus,omitempty"`
}

// MessageHeaderDestination is a message destination.
type MessageHeaderDestination struct {
	Endpoint string     `json:"endpoint"`
	Receiver *Reference `json:"receiver,omitempty"`
}

// MessageHeaderSource is the message source.
type MessageHeaderSource struct {
	Name     string `json:"name,omitempty"`
	Endpoint string `json:"endpoint"`
}

// MessageHeaderResponse links a message to the one it answers.
type MessageHeaderResponse struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

// Provenance is decoded for ordering only.
type Provenance struct {
	DomainResource
	Target   []Reference `json:"target,omitempty"`
	Recorded string      `json:"recorded,omitempty"`
}

// Task represents a FHIR Task resource, used to withdraw a dispense
// notification.
type Task struct {
	DomainResource
	Contained       Resources        `json:"contained,omitempty"`
	Identifier      []Identifier     `json:"identifier,omitempty"`
	GroupIdentifier *Identifier      `json:"groupIdentifier,omitempty"`
	Status          string           `json:"status"`
	StatusReason    *CodeableConcept `json:"statusReason,omitempty"`
	Intent          string           `json:"intent"`
	Code            *CodeableConcept `json:"code,omitempty"`
	Focus           *Reference       `json:"focus,omitempty"`
	For             *Reference       `json:"for,omitempty"`
	AuthoredOn      string           `json:"authoredOn,omitempty"`
	Requester       *Reference       `json:"requester,omitempty"`
	Owner           *Reference       `json:"owner,omitempty"`
	ReasonCode      *CodeableConcept `json:"reasonCode,omitempty"`
}

// Parameters represents a FHIR Parameters resource, used for release.
type Parameters struct {
	DomainResource
	Parameter []Parameter `json:"parameter,omitempty"`
}

// Parameter is a single named parameter.
type Parameter struct {
	Name            string      `json:"name"`
	ValueIdentifier *Identifier `json:"valueIdentifier,omitempty"`
	ValueCode       string      `json:"valueCode,omitempty"`
	ValueString     string      `json:"valueString,omitempty"`
	Resource        Resource    `json:"resource,omitempty"`
}

// Get returns the named parameter.
func (p *Parameters) Get(name string) (*Parameter, bool) {
	for i := range p.Parameter {
		if p.Parameter[i].Name == name {
			return &p.Parameter[i], true
		}
	}
	return nil, false
}
