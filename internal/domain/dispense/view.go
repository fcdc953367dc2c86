package dispense

import "github.com/drfirst/go-eps/internal/fhir/r4"

// EventRow is one row of the dispense events view.
type EventRow struct {
	NotificationID string `json:"notificationId"`
	DispenseID     string `json:"dispenseId"`
	LineItemID     string `json:"lineItemId"`
	Medication     string `json:"medication"`
	Status         string `json:"status"`
	StatusDisplay  string `json:"statusDisplay"`
	Quantity       string `json:"quantity"`
	Unit           string `json:"unit,omitempty"`
	HandedOver     string `json:"handedOver,omitempty"`
}

// EventsTable lists every dispense event in submission order.
func EventsTable(h History) ([]EventRow, error) {
	events, err := h.Events()
	if err != nil {
		return nil, err
	}
	rows := make([]EventRow, 0, len(events))
	for _, e := range events {
		md := e.Dispense
		q := e.Quantity()
		row := EventRow{
			NotificationID: e.NotificationID,
			DispenseID:     md.DispenseID(),
			LineItemID:     e.LineItemID(),
			Medication:     medicationName(md.MedicationCodeableConcept),
			Status:         md.StatusCode(),
			Quantity:       q.Value.String(),
			Unit:           q.Unit,
			HandedOver:     md.WhenHandedOver,
		}
		if s, err := e.Status(); err == nil {
			row.StatusDisplay = s.Display()
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func medicationName(c *r4.CodeableConcept) string {
	if c == nil {
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	if len(c.Coding) > 0 {
		return c.Coding[0].Display
	}
	return ""
}
