package r4

// Claim represents a FHIR Claim resource submitted once dispensing of a
// prescription is complete.
type Claim struct {
	DomainResource

	Contained    Resources        `json:"contained,omitempty"`
	Identifier   []Identifier     `json:"identifier,omitempty"`
	Status       string           `json:"status"`
	Type         CodeableConcept  `json:"type"`
	Use          string           `json:"use"`
	Patient      Reference        `json:"patient"`
	Created      string           `json:"created"`
	Provider     Reference        `json:"provider"`
	Priority     CodeableConcept  `json:"priority"`
	Prescription *Reference       `json:"prescription,omitempty"`
	Payee        *ClaimPayee      `json:"payee,omitempty"`
	Insurance    []ClaimInsurance `json:"insurance"`
	Item         []ClaimItem      `json:"item,omitempty"`
}

// ClaimPayee is the recipient of the reimbursement.
type ClaimPayee struct {
	Type  CodeableConcept `json:"type"`
	Party *Reference      `json:"party,omitempty"`
}

// ClaimInsurance is the coverage the claim is made against.
type ClaimInsurance struct {
	Sequence int       `json:"sequence"`
	Focal    bool      `json:"focal"`
	Coverage Reference `json:"coverage"`
}

// ClaimItem is the prescription-level claim row.
type ClaimItem struct {
	Extension        Extensions        `json:"extension,omitempty"`
	Sequence         int               `json:"sequence"`
	ProductOrService CodeableConcept   `json:"productOrService"`
	ProgramCode      []CodeableConcept `json:"programCode,omitempty"`
	Detail           []ClaimDetail     `json:"detail,omitempty"`
}

// ClaimDetail is the line-item claim row.
type ClaimDetail struct {
	Extension        Extensions        `json:"extension,omitempty"`
	Sequence         int               `json:"sequence"`
	ProductOrService CodeableConcept   `json:"productOrService"`
	Modifier         []CodeableConcept `json:"modifier,omitempty"`
	ProgramCode      []CodeableConcept `json:"programCode,omitempty"`
	Quantity         *Quantity         `json:"quantity,omitempty"`
	SubDetail        []ClaimSubDetail  `json:"subDetail,omitempty"`
}

// ClaimSubDetail is one dispense event contributing to a line item.
type ClaimSubDetail struct {
	Sequence         int               `json:"sequence"`
	ProductOrService CodeableConcept   `json:"productOrService"`
	ProgramCode      []CodeableConcept `json:"programCode,omitempty"`
	Quantity         *Quantity         `json:"quantity,omitempty"`
}

// ClaimIdentifier returns identifier[0], or nil.
func (c *Claim) ClaimIdentifier() *Identifier {
	if len(c.Identifier) == 0 {
		return nil
	}
	return &c.Identifier[0]
}
