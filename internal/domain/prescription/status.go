package prescription

import (
	"fmt"

	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// Code systems for the dispensing lifecycle.
const (
	SystemPrescriptionStatus = "https://fhir.nhs.uk/CodeSystem/EPS-task-business-status"
	SystemLineItemStatus     = r4.SystemLineItemStatus
)

// LineItemStatus is the status of one line item, carried on
// MedicationDispense.type.
type LineItemStatus string

const (
	LineItemDispensed          LineItemStatus = "0001"
	LineItemNotDispensed       LineItemStatus = "0002"
	LineItemPartiallyDispensed LineItemStatus = "0003"
	LineItemOwing              LineItemStatus = "0004"
	LineItemCancelled          LineItemStatus = "0005"
	LineItemExpired            LineItemStatus = "0006"
	LineItemToBeDispensed      LineItemStatus = "0007"
	LineItemWithDispenser      LineItemStatus = "0008"
)

var lineItemDisplays = map[LineItemStatus]string{
	LineItemDispensed:          "Item fully dispensed",
	LineItemNotDispensed:       "Item not dispensed",
	LineItemPartiallyDispensed: "Item dispensed - partial",
	LineItemOwing:              "Item not dispensed owing",
	LineItemCancelled:          "Item cancelled",
	LineItemExpired:            "Expired",
	LineItemToBeDispensed:      "Item to be dispensed",
	LineItemWithDispenser:      "Item with dispenser",
}

// ParseLineItemStatus validates a line item status code.
func ParseLineItemStatus(code string) (LineItemStatus, error) {
	s := LineItemStatus(code)
	if _, ok := lineItemDisplays[s]; !ok {
		return "", fmt.Errorf("unknown line item status %q", code)
	}
	return s, nil
}

// Display returns the human-readable status.
func (s LineItemStatus) Display() string { return lineItemDisplays[s] }

// Coding returns the status as a FHIR coding.
func (s LineItemStatus) Coding() r4.Coding {
	return r4.Coding{System: SystemLineItemStatus, Code: string(s), Display: s.Display()}
}

// Concept returns the status as a codeable concept.
func (s LineItemStatus) Concept() *r4.CodeableConcept {
	c := r4.NewConcept(s.Coding())
	return &c
}

// PrescriptionStatus is the prescription-level status carried on the task
// business status extension.
type PrescriptionStatus string

const (
	StatusToBeDispensed       PrescriptionStatus = "0001"
	StatusWithDispenser       PrescriptionStatus = "0002"
	StatusWithDispenserActive PrescriptionStatus = "0003"
	StatusExpired             PrescriptionStatus = "0004"
	StatusCancelled           PrescriptionStatus = "0005"
	StatusDispensed           PrescriptionStatus = "0006"
	StatusNotDispensed        PrescriptionStatus = "0007"
)

// StatusReleased is the status a prescription holds once released to a
// dispenser and before any dispense notification.
const StatusReleased = StatusWithDispenser

var prescriptionDisplays = map[PrescriptionStatus]string{
	StatusToBeDispensed:       "To be Dispensed",
	StatusWithDispenser:       "With Dispenser",
	StatusWithDispenserActive: "With Dispenser - Active",
	StatusExpired:             "Expired",
	StatusCancelled:           "Cancelled",
	StatusDispensed:           "Dispensed",
	StatusNotDispensed:        "Not Dispensed",
}

// ParsePrescriptionStatus validates a prescription status code.
func ParsePrescriptionStatus(code string) (PrescriptionStatus, error) {
	s := PrescriptionStatus(code)
	if _, ok := prescriptionDisplays[s]; !ok {
		return "", fmt.Errorf("unknown prescription status %q", code)
	}
	return s, nil
}

// Display returns the human-readable status.
func (s PrescriptionStatus) Display() string { return prescriptionDisplays[s] }

// Coding returns the status as a FHIR coding.
func (s PrescriptionStatus) Coding() r4.Coding {
	return r4.Coding{System: SystemPrescriptionStatus, Code: string(s), Display: s.Display()}
}

// Extension returns the task business status extension for s.
func (s PrescriptionStatus) Extension() r4.Extension {
	return r4.NewTaskBusinessStatus(s.Coding())
}
