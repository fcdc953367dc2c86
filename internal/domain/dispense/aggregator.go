// Package dispense aggregates a prescription's dispense history into line
// item and prescription status views.
package dispense

import (
	"fmt"

	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// Event is one MedicationDispense together with the notification that
// carried it. Events are ordered by submission.
type Event struct {
	NotificationID string
	Dispense       *r4.MedicationDispense
}

// LineItemID returns the line item the event supplies against.
func (e Event) LineItemID() string { return e.Dispense.LineItemID() }

// Status returns the event's line item status.
func (e Event) Status() (prescription.LineItemStatus, error) {
	s, err := prescription.ParseLineItemStatus(e.Dispense.StatusCode())
	if err != nil {
		return "", fmt.Errorf("dispense %s: %w", e.Dispense.DispenseID(), err)
	}
	return s, nil
}

// Quantity returns the dispensed quantity, zero-valued when absent.
func (e Event) Quantity() r4.Quantity {
	if e.Dispense.Quantity == nil {
		return r4.Quantity{}
	}
	return *e.Dispense.Quantity
}

// GroupByLineItem groups events by line item, preserving submission order
// within each group.
func GroupByLineItem(events []Event) map[string][]Event {
	groups := make(map[string][]Event)
	for _, e := range events {
		id := e.LineItemID()
		groups[id] = append(groups[id], e)
	}
	return groups
}

// LineItemIDs returns the distinct line item ids in order of first event.
func LineItemIDs(events []Event) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range events {
		id := e.LineItemID()
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// LatestStatus is the status of the last event in submission order. Later
// events always win; statuses are never merged.
func LatestStatus(events []Event) (prescription.LineItemStatus, error) {
	if len(events) == 0 {
		return "", &PreconditionViolation{Operation: "status", Message: "no dispense events"}
	}
	return events[len(events)-1].Status()
}

// FinalEvents returns the trailing run of events that share the latest
// status. These are the events that make up the line item's current state.
func FinalEvents(events []Event) ([]Event, error) {
	latest, err := LatestStatus(events)
	if err != nil {
		return nil, err
	}
	start := len(events) - 1
	for start > 0 {
		s, err := events[start-1].Status()
		if err != nil {
			return nil, err
		}
		if s != latest {
			break
		}
		start--
	}
	return events[start:], nil
}

// TotalDispensedQuantity sums the quantities of the line item's final
// events. Every event must use the same unit.
func TotalDispensedQuantity(events []Event) (r4.Quantity, error) {
	if len(events) == 0 {
		return r4.Quantity{}, &PreconditionViolation{Operation: "total", Message: "no dispense events"}
	}
	if err := checkUnits(events); err != nil {
		return r4.Quantity{}, err
	}
	final, err := FinalEvents(events)
	if err != nil {
		return r4.Quantity{}, err
	}
	return SumQuantities(events[0].LineItemID(), quantities(final))
}

// DispensedSoFar sums every event's quantity regardless of status.
func DispensedSoFar(events []Event) (r4.Quantity, error) {
	if len(events) == 0 {
		return r4.Quantity{Value: r4.NewDecimal(0, 0)}, nil
	}
	return SumQuantities(events[0].LineItemID(), quantities(events))
}

// SumQuantities adds quantity values exactly. All units must match.
func SumQuantities(lineItemID string, qs []r4.Quantity) (r4.Quantity, error) {
	if len(qs) == 0 {
		return r4.Quantity{Value: r4.NewDecimal(0, 0)}, nil
	}
	total := qs[0]
	sum := r4.NewDecimal(0, 0)
	for _, q := range qs {
		if q.Unit != total.Unit {
			return r4.Quantity{}, &UnitMismatchError{LineItemID: lineItemID, Units: units(qs)}
		}
		next, err := sum.Add(q.Value)
		if err != nil {
			return r4.Quantity{}, err
		}
		sum = next
	}
	return total.WithValue(sum), nil
}

func checkUnits(events []Event) error {
	qs := quantities(events)
	for _, q := range qs[1:] {
		if q.Unit != qs[0].Unit {
			return &UnitMismatchError{LineItemID: events[0].LineItemID(), Units: units(qs)}
		}
	}
	return nil
}

func quantities(events []Event) []r4.Quantity {
	qs := make([]r4.Quantity, 0, len(events))
	for _, e := range events {
		qs = append(qs, e.Quantity())
	}
	return qs
}

func units(qs []r4.Quantity) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Unit)
	}
	return out
}

// LineItemSummary is the aggregated state of one line item.
type LineItemSummary struct {
	LineItemID     string
	Status         prescription.LineItemStatus
	Dispensed      r4.Quantity
	DispensedSoFar r4.Quantity
	Events         []Event
	FinalEvents    []Event
}

// Summarise aggregates the events of a single line item.
func Summarise(events []Event) (LineItemSummary, error) {
	status, err := LatestStatus(events)
	if err != nil {
		return LineItemSummary{}, err
	}
	total, err := TotalDispensedQuantity(events)
	if err != nil {
		return LineItemSummary{}, err
	}
	soFar, err := DispensedSoFar(events)
	if err != nil {
		return LineItemSummary{}, err
	}
	final, err := FinalEvents(events)
	if err != nil {
		return LineItemSummary{}, err
	}
	return LineItemSummary{
		LineItemID:     events[0].LineItemID(),
		Status:         status,
		Dispensed:      total,
		DispensedSoFar: soFar,
		Events:         events,
		FinalEvents:    final,
	}, nil
}
