package dispense

import (
	"fmt"
	"strings"
)

// UnitMismatchError reports quantities with different units for one line
// item. Such quantities are never summed.
type UnitMismatchError struct {
	LineItemID string
	Units      []string
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("line item %s: cannot sum quantities with units [%s]", e.LineItemID, strings.Join(e.Units, ", "))
}

// PreconditionViolation reports an operation attempted without the dispense
// history it depends on.
type PreconditionViolation struct {
	Operation  string
	LineItemID string
	Message    string
}

func (e *PreconditionViolation) Error() string {
	if e.LineItemID != "" {
		return fmt.Sprintf("%s rejected for line item %s: %s", e.Operation, e.LineItemID, e.Message)
	}
	return fmt.Sprintf("%s rejected: %s", e.Operation, e.Message)
}
