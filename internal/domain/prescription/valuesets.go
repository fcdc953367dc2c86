package prescription

import "github.com/drfirst/go-eps/internal/fhir/r4"

// Code systems of the supporting value sets.
const (
	SystemNonDispensingReason  = "https://fhir.nhs.uk/CodeSystem/medicationdispense-status-reason"
	SystemDispenserEndorsement = "https://fhir.nhs.uk/CodeSystem/medicationdispense-endorsement"
	SystemChargeExemption      = "https://fhir.nhs.uk/CodeSystem/prescription-charge-exemption"
	SystemExemptionEvidence    = "https://fhir.nhs.uk/CodeSystem/DM-exemption-evidence"
	SystemPrescriptionCharge   = "https://fhir.nhs.uk/CodeSystem/DM-prescription-charge"
	SystemWithdrawReason       = "https://fhir.nhs.uk/CodeSystem/EPS-task-dispense-withdraw-reason"
)

// ValueSet is a closed list of codings from one system.
type ValueSet []r4.Coding

// Lookup returns the coding with the given code.
func (vs ValueSet) Lookup(code string) (r4.Coding, bool) {
	for _, c := range vs {
		if c.Code == code {
			return c, true
		}
	}
	return r4.Coding{}, false
}

// Concept returns a codeable concept holding the matching coding. Unknown
// codes produce a concept with no codings.
func (vs ValueSet) Concept(code string) r4.CodeableConcept {
	if c, ok := vs.Lookup(code); ok {
		return r4.NewConcept(c)
	}
	return r4.CodeableConcept{}
}

func valueSet(system string, pairs ...string) ValueSet {
	vs := make(ValueSet, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		vs = append(vs, r4.Coding{System: system, Code: pairs[i], Display: pairs[i+1]})
	}
	return vs
}

// NonDispensingReasons explain a not-dispensed line item.
var NonDispensingReasons = valueSet(SystemNonDispensingReason,
	"0001", "Not required as instructed by the patient",
	"0002", "Clinically unsuitable",
	"0003", "Owings note issued to patient",
	"0004", "Prescription cancellation",
	"0005", "Prescription cancellation due to death",
	"0006", "Illegal NHS prescription",
	"0007", "Prescribed out of scope item",
	"0008", "Item or prescription expired",
	"0009", "Not allowed on FP10",
	"0010", "Patient did not collect medication",
	"0011", "Patient purchased medication over the counter",
)

// EndorsementNone is the "no dispenser endorsement" code.
const EndorsementNone = "NDEC"

// DispenserEndorsements are claim endorsements made by the dispenser.
var DispenserEndorsements = valueSet(SystemDispenserEndorsement,
	"BB", "Broken Bulk",
	"ED", "Extemporaneously dispensed",
	"IP", "Invoice Price for less common products or special items",
	"MF", "Measured and Fitted",
	"NCSO", "No Cheaper Stock Obtainable",
	EndorsementNone, "No Dispenser Endorsement Code",
	"XP", "Out of Pocket Expenses",
	"PC", "Prescriber Contacted",
	"PNC", "Prescriber Not Contacted",
	"RC", "Rebate Claimed",
	"SSP", "Serious Shortage Protocol",
	"SP", "Special License",
	"ZD", "Zero Discount (List B only)",
)

// ExemptionNone means the patient paid.
const ExemptionNone = "0001"

// ChargeExemptions are prescription charge exemption categories.
var ChargeExemptions = valueSet(SystemChargeExemption,
	ExemptionNone, "Patient has paid appropriate charges",
	"0002", "is under 16 years of age",
	"0003", "is 16, 17 or 18 and in full-time education",
	"0004", "is 60 years of age or over",
	"0005", "has a valid maternity exemption certificate",
	"0006", "has a valid medical exemption certificate",
	"0007", "has a valid prescription pre-payment certificate",
	"0008", "has a War Pension exemption certificate",
	"0009", "is named on a current HC2 charges certificate",
	"0010", "was prescribed free-of-charge contraceptives",
	"0011", "gets income support (IS)",
	"0012", "gets income based Job Seeker's Allowance (JSA (IB))",
	"0013", "is entitled to, or named on a VALID NHS tax credit exemption certificate",
	"0014", "has a partner who gets Pension Credit Guarantee Credit (PGCC)",
	"0015", "Patient does not need to pay the prescription charge",
)

// WithdrawReasons explain why a dispense notification is withdrawn.
var WithdrawReasons = valueSet(SystemWithdrawReason,
	"QU", "Quantity Update",
	"MU", "Medication Update",
	"DA", "Dosage Amendments",
	"PA", "Patient Details Amendments",
	"OC", "Other Clinical",
	"ONC", "Other Non-Clinical",
)

// CoursesOfTherapy classify a line item as one-off or repeating.
var CoursesOfTherapy = ValueSet{
	{System: r4.SystemCourseOfTherapyHL7, Code: r4.CourseOfTherapyAcute, Display: "Short course (acute) therapy"},
	{System: r4.SystemCourseOfTherapyHL7, Code: r4.CourseOfTherapyContinuous, Display: "Continuous long term therapy"},
	{System: r4.SystemCourseOfTherapyNHS, Code: r4.CourseOfTherapyContinuousRepeatDispensing, Display: "Continuous long term (repeat dispensing)"},
}

// Claim concepts.
var (
	ExemptionEvidenceSeen   = r4.NewConcept(r4.Coding{System: SystemExemptionEvidence, Code: "evidence-seen", Display: "Evidence Seen"})
	ExemptionNoEvidenceSeen = r4.NewConcept(r4.Coding{System: SystemExemptionEvidence, Code: "no-evidence-seen", Display: "No Evidence Seen"})
	ChargePaid              = r4.NewConcept(r4.Coding{System: SystemPrescriptionCharge, Code: "paid-once", Display: "Paid Once"})
	ChargeNotPaid           = r4.NewConcept(r4.Coding{System: SystemPrescriptionCharge, Code: "not-paid", Display: "Not Paid"})
)
