package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-eps/internal/builder"
	"github.com/drfirst/go-eps/internal/domain/prescription"
	"github.com/drfirst/go-eps/internal/fhir/fhirtest"
	"github.com/drfirst/go-eps/internal/fhir/index"
	"github.com/drfirst/go-eps/internal/fhir/r4"
)

func TestPut(t *testing.T) {
	s := New(nil)
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})

	rec, created, err := s.Put(order)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, prescription.ShortFormID(fhirtest.ShortFormID), rec.ShortFormID)
	assert.True(t, rec.History.IsEmpty())
	assert.Nil(t, rec.LastClaim())

	_, created, err = s.Put(order)
	require.NoError(t, err)
	assert.False(t, created, "same order stored twice")
	assert.Equal(t, 1, s.Len())
}

func TestPutConflict(t *testing.T) {
	s := New(nil)
	_, _, err := s.Put(fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28}))
	require.NoError(t, err)

	other := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	other.Identifier.Value = "another-order"
	_, _, err = s.Put(other)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPutRejectsInvalidOrders(t *testing.T) {
	s := New(nil)

	badDigit := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	idx, err := index.New(badDigit)
	require.NoError(t, err)
	mr := idx.MedicationRequests()[0]
	mr.GroupIdentifier.Value = "A0B1C2-A83008-3F4E5X"
	_, _, err = s.Put(badDigit)
	var ce *prescription.ChecksumError
	assert.ErrorAs(t, err, &ce)

	_, _, err = s.Put(&r4.Bundle{})
	var me *index.MalformedBundleError
	assert.ErrorAs(t, err, &me)

	// Line items from different prescriptions.
	mixed := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28}, fhirtest.LineItem{ID: "li-2", Quantity: 56})
	rekeyed, err := builder.New().Rekey(mixed)
	require.NoError(t, err)
	idx, err = index.New(rekeyed)
	require.NoError(t, err)
	idx.MedicationRequests()[1].GroupIdentifier = prescription.GroupIdentifier{
		ShortForm: fhirtest.ShortFormID, LongForm: fhirtest.LongFormID,
	}.Identifier()
	_, _, err = s.Put(rekeyed)
	assert.ErrorAs(t, err, &me)

	assert.Zero(t, s.Len())
}

func TestGetNormalisesID(t *testing.T) {
	s := New(nil)
	_, _, err := s.Put(fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28}))
	require.NoError(t, err)

	rec, err := s.Get("a0b1c2a830083f4e59")
	require.NoError(t, err)
	assert.Equal(t, fhirtest.ShortFormID, rec.ShortFormID.String())

	_, err = s.Get("A0B1C2-A83008-3F4E5X")
	var ce *prescription.ChecksumError
	assert.ErrorAs(t, err, &ce)
}

func TestGetNotFound(t *testing.T) {
	s := New(nil)
	_, err := s.Get(fhirtest.ShortFormID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(fhirtest.ShortFormID, func(*Record) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(fhirtest.ShortFormID), ErrNotFound)
}

func TestUpdateCommitsOnlyOnSuccess(t *testing.T) {
	s := New(nil)
	_, _, err := s.Put(fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28}))
	require.NoError(t, err)

	n1 := fhirtest.Notification("n1", fhirtest.Dispense{LineItemID: "li-1", Status: "0003", Quantity: 10, PrescriptionStatus: "0003"})
	rec, err := s.Update(fhirtest.ShortFormID, func(r *Record) error {
		h, err := r.History.Append(n1)
		if err != nil {
			return err
		}
		r.History = h
		r.Claims = append(r.Claims, &r4.Claim{})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.History.Len())
	assert.NotNil(t, rec.LastClaim())

	boom := errors.New("boom")
	rec, err = s.Update(fhirtest.ShortFormID, func(r *Record) error {
		h, _ := r.History.Append(fhirtest.Notification("n2"))
		r.History = h
		r.Claims = append(r.Claims, &r4.Claim{})
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, rec.History.Len())

	stored, err := s.Get(fhirtest.ShortFormID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.History.Len())
	assert.Len(t, stored.Claims, 1)
}

func TestUpdateSerialisesWriters(t *testing.T) {
	s := New(nil)
	_, _, err := s.Put(fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28}))
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(fhirtest.ShortFormID, func(r *Record) error {
				r.Claims = append(r.Claims, &r4.Claim{})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.Get(fhirtest.ShortFormID)
	require.NoError(t, err)
	assert.Len(t, rec.Claims, writers)
}

func TestPutDoesNotWaitOnSlowUpdate(t *testing.T) {
	s := New(nil)
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	_, _, err := s.Put(order)
	require.NoError(t, err)
	second, err := builder.New().Rekey(order)
	require.NoError(t, err)
	other, _, err := s.Put(second)
	require.NoError(t, err)

	inUpdate := make(chan struct{})
	release := make(chan struct{})
	updated := make(chan struct{})
	go func() {
		defer close(updated)
		_, err := s.Update(fhirtest.ShortFormID, func(r *Record) error {
			close(inUpdate)
			<-release
			return nil
		})
		assert.NoError(t, err)
	}()
	<-inUpdate

	replayed := make(chan struct{})
	go func() {
		defer close(replayed)
		_, created, err := s.Put(order)
		assert.NoError(t, err)
		assert.False(t, created)
	}()

	conflicting := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	conflicting.Identifier.Value = "another-order"

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := s.Put(conflicting)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, 2, s.Len())
		assert.Len(t, s.IDs(), 2)
		_, err = s.Get(other.ShortFormID.String())
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("store blocked behind an update of another prescription")
	}

	close(release)
	<-updated
	<-replayed
}

func TestIDsAndDelete(t *testing.T) {
	s := New(nil)
	order := fhirtest.Order(fhirtest.LineItem{ID: "li-1", Quantity: 28})
	second, err := builder.New().Rekey(order)
	require.NoError(t, err)

	_, _, err = s.Put(order)
	require.NoError(t, err)
	rec, _, err := s.Put(second)
	require.NoError(t, err)

	ids := s.IDs()
	require.Len(t, ids, 2)
	assert.True(t, ids[0] < ids[1])

	require.NoError(t, s.Delete(rec.ShortFormID.String()))
	assert.Equal(t, []prescription.ShortFormID{fhirtest.ShortFormID}, s.IDs())
}
