package dispense

import (
	"fmt"

	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// History is the ordered list of dispense notifications recorded against
// one prescription. It is a value: Append and Withdraw return a new
// History and leave the receiver untouched.
type History struct {
	notifications []*r4.Bundle
}

// NewHistory builds a history from notifications in submission order.
func NewHistory(notifications ...*r4.Bundle) History {
	return History{notifications: append([]*r4.Bundle(nil), notifications...)}
}

// Len is the number of notifications.
func (h History) Len() int { return len(h.notifications) }

// IsEmpty reports whether no notification has been recorded.
func (h History) IsEmpty() bool { return len(h.notifications) == 0 }

// Notifications returns a copy of the notification list.
func (h History) Notifications() []*r4.Bundle {
	return append([]*r4.Bundle(nil), h.notifications...)
}

// Latest returns the most recent notification.
func (h History) Latest() (*r4.Bundle, bool) {
	if len(h.notifications) == 0 {
		return nil, false
	}
	return h.notifications[len(h.notifications)-1], true
}

// Append records a notification after checking that it indexes cleanly and
// carries at least one MedicationDispense.
func (h History) Append(notification *r4.Bundle) (History, error) {
	idx, err := index.New(notification)
	if err != nil {
		return h, err
	}
	if len(idx.MedicationDispenses()) == 0 {
		return h, &index.MalformedBundleError{
			Bundle:  notification.BundleIdentifier(),
			Field:   r4.TypeMedicationDispense,
			Message: "dispense notification carries no MedicationDispense",
		}
	}
	next := make([]*r4.Bundle, 0, len(h.notifications)+1)
	next = append(next, h.notifications...)
	next = append(next, notification)
	return History{notifications: next}, nil
}

// Withdraw removes the most recent notification, returning the remaining
// history and the withdrawn bundle.
func (h History) Withdraw() (History, *r4.Bundle, error) {
	last, ok := h.Latest()
	if !ok {
		return h, nil, &PreconditionViolation{Operation: "withdraw", Message: "no dispense notification to withdraw"}
	}
	rest := append([]*r4.Bundle(nil), h.notifications[:len(h.notifications)-1]...)
	return History{notifications: rest}, last, nil
}

// Events flattens the history into dispense events in submission order:
// notification order first, then entry order within a notification.
func (h History) Events() ([]Event, error) {
	var events []Event
	for _, n := range h.notifications {
		idx, err := index.New(n)
		if err != nil {
			return nil, err
		}
		for _, md := range idx.MedicationDispenses() {
			events = append(events, Event{NotificationID: n.BundleIdentifier(), Dispense: md})
		}
	}
	return events, nil
}

// LineItemEvents returns the events for one line item. A line item with no
// events is a precondition violation for the named operation.
func (h History) LineItemEvents(operation, lineItemID string) ([]Event, error) {
	events, err := h.Events()
	if err != nil {
		return nil, err
	}
	group := GroupByLineItem(events)[lineItemID]
	if len(group) == 0 {
		return nil, &PreconditionViolation{
			Operation:  operation,
			LineItemID: lineItemID,
			Message:    "line item has no dispense events",
		}
	}
	return group, nil
}

// PrescriptionStatus derives the prescription status from the task business
// status extension on the most recent MedicationDispense. An empty history
// is a released prescription.
func PrescriptionStatus(h History) (prescription.PrescriptionStatus, error) {
	events, err := h.Events()
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return prescription.StatusReleased, nil
	}
	md := events[len(events)-1].Dispense
	coding, ok := md.Extension.TaskBusinessStatus()
	if !ok {
		return "", &r4.MissingExtensionError{
			Resource: "MedicationDispense/" + md.ID,
			URL:      r4.ExtTaskBusinessStatus,
			Reason:   "prescription status is read from the latest dispense",
		}
	}
	s, err := prescription.ParsePrescriptionStatus(coding.Code)
	if err != nil {
		return "", fmt.Errorf("dispense %s: %w", md.DispenseID(), err)
	}
	return s, nil
}

// PriorState is what a new dispense of a line item needs to know about the
// events already recorded for it.
type PriorState struct {
	Status         prescription.LineItemStatus
	DispensedSoFar *r4.Decimal
}

// PriorStateOf returns the prior state of a line item. A line item with no
// events has an empty status and nothing dispensed.
func PriorStateOf(h History, lineItemID string) (PriorState, error) {
	events, err := h.Events()
	if err != nil {
		return PriorState{}, err
	}
	group := GroupByLineItem(events)[lineItemID]
	if len(group) == 0 {
		return PriorState{DispensedSoFar: r4.NewDecimal(0, 0)}, nil
	}
	status, err := LatestStatus(group)
	if err != nil {
		return PriorState{}, err
	}
	soFar, err := DispensedSoFar(group)
	if err != nil {
		return PriorState{}, err
	}
	return PriorState{Status: status, DispensedSoFar: soFar.Value}, nil
}
