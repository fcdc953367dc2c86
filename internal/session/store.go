// Package session keeps the working state of each prescription the harness
// is dispensing: the order as released, the dispense notification history
// and the claims made against it.
package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/domain/dispense"
	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

var (
	// ErrNotFound is returned for a prescription the store does not hold.
	ErrNotFound = errors.New("prescription not found")
	// ErrConflict is returned when a different order is stored under an
	// existing prescription id.
	ErrConflict = errors.New("prescription already held with a different order")
)

// Record is the state held for one prescription.
type Record struct {
	ShortFormID prescription.ShortFormID
	Order       *r4.Bundle
	History     dispense.History
	Claims      []*r4.Claim
	UpdatedAt   time.Time
}

// LastClaim returns the most recent claim, or nil.
func (r Record) LastClaim() *r4.Claim {
	if len(r.Claims) == 0 {
		return nil
	}
	return r.Claims[len(r.Claims)-1]
}

// Index indexes the stored order.
func (r Record) Index() (*index.Index, error) {
	return index.New(r.Order)
}

type entry struct {
	// order is the stored bundle identifier; it never changes.
	order string
	mu    sync.Mutex
	rec   Record
}

// Store is an in-memory prescription store. Updates to one prescription
// are serialised; different prescriptions proceed independently.
type Store struct {
	mu      sync.RWMutex
	entries map[prescription.ShortFormID]*entry
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries: make(map[prescription.ShortFormID]*entry),
		logger:  logger,
		now:     time.Now,
	}
}

// Put stores a released order under its short-form prescription id.
// Storing the same order again is a no-op; created reports whether a new
// record was made.
func (s *Store) Put(order *r4.Bundle) (rec Record, created bool, err error) {
	id, err := OrderID(order)
	if err != nil {
		return Record{}, false, err
	}

	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		s.mu.Unlock()
		if e.order != order.BundleIdentifier() {
			return Record{}, false, fmt.Errorf("%s: %w", id, ErrConflict)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.rec, false, nil
	}

	rec = Record{ShortFormID: id, Order: order, History: dispense.NewHistory(), UpdatedAt: s.now()}
	s.entries[id] = &entry{order: order.BundleIdentifier(), rec: rec}
	s.mu.Unlock()

	s.logger.Info("prescription stored",
		zap.String("short_form_id", id.String()),
		zap.String("order", order.BundleIdentifier()))
	return rec, true, nil
}

// Get returns the record for a prescription.
func (s *Store) Get(id string) (Record, error) {
	e, err := s.entry(id)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// Update applies fn to a copy of the record while holding the
// prescription's lock. The copy replaces the stored record only when fn
// succeeds. The id and order are fixed at Put and are not changed by fn.
func (s *Store) Update(id string, fn func(*Record) error) (Record, error) {
	e, err := s.entry(id)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.rec
	next.Claims = slices.Clone(e.rec.Claims)
	if err := fn(&next); err != nil {
		return e.rec, err
	}
	next.ShortFormID, next.Order = e.rec.ShortFormID, e.rec.Order
	next.UpdatedAt = s.now()
	e.rec = next
	s.logger.Debug("prescription updated",
		zap.String("short_form_id", next.ShortFormID.String()),
		zap.Int("notifications", next.History.Len()),
		zap.Int("claims", len(next.Claims)))
	return next, nil
}

// Delete removes a prescription.
func (s *Store) Delete(id string) error {
	key, err := prescription.ParseShortFormID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	delete(s.entries, key)
	return nil
}

// IDs lists the held prescriptions in id order.
func (s *Store) IDs() []prescription.ShortFormID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]prescription.ShortFormID, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of held prescriptions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) entry(id string) (*entry, error) {
	key, err := prescription.ParseShortFormID(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return e, nil
}

// OrderID validates an order bundle and returns its prescription id. Every
// line item must name the same, correctly check-digited, prescription.
func OrderID(order *r4.Bundle) (prescription.ShortFormID, error) {
	idx, err := index.New(order)
	if err != nil {
		return "", err
	}
	if err := idx.CheckReferences(); err != nil {
		return "", err
	}
	requests := idx.MedicationRequests()
	if len(requests) == 0 {
		return "", &index.MalformedBundleError{
			Bundle: order.BundleIdentifier(), Field: r4.TypeMedicationRequest, Message: "order has no line items",
		}
	}
	id, err := prescription.ParseShortFormID(requests[0].ShortFormID())
	if err != nil {
		return "", err
	}
	for _, mr := range requests[1:] {
		other, err := prescription.ParseShortFormID(mr.ShortFormID())
		if err != nil {
			return "", err
		}
		if other != id {
			return "", &index.MalformedBundleError{
				Bundle:  order.BundleIdentifier(),
				Field:   "MedicationRequest.groupIdentifier",
				Message: fmt.Sprintf("line items name prescriptions %s and %s", id, other),
			}
		}
	}
	return id, nil
}
