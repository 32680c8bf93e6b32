package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"predmkt-exchange/internal/domain"
)

func newTestOrder(id string) domain.Order {
	return domain.Order{
		ID:            id,
		UserID:        "alice",
		EventID:       "evt1",
		Side:          domain.Buy,
		ShareType:     domain.Yes,
		Price:         5,
		TotalQuantity: 10,
		Status:        domain.Incomplete,
	}
}

func TestPutAndGet(t *testing.T) {
	s := New()
	assert.NoError(t, s.Put(newTestOrder("o1")))

	got, ok := s.Get("o1")
	assert.True(t, ok)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, 1, s.Len())
}

func TestPutRejectsInvalidOrder(t *testing.T) {
	s := New()
	bad := newTestOrder("o1")
	bad.Price = 99
	assert.Error(t, s.Put(bad))
	assert.Equal(t, 0, s.Len())
}

func TestUpdateAppliesAndRevalidates(t *testing.T) {
	s := New()
	assert.NoError(t, s.Put(newTestOrder("o1")))

	updated, err := s.Update("o1", func(o *domain.Order) {
		o.FilledQuantity = 10
		o.Status = domain.CompletelyFilled
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.CompletelyFilled, updated.Status)

	got, _ := s.Get("o1")
	assert.Equal(t, uint64(10), got.FilledQuantity)
}

func TestUpdateRejectsInvariantViolation(t *testing.T) {
	s := New()
	assert.NoError(t, s.Put(newTestOrder("o1")))

	_, err := s.Update("o1", func(o *domain.Order) {
		o.FilledQuantity = 4
		// Status left Incomplete despite a partial fill: violates StatusFor.
	})
	assert.Error(t, err)

	// The store must not have committed the bad mutation.
	got, _ := s.Get("o1")
	assert.Equal(t, uint64(0), got.FilledQuantity)
}

func TestUpdateMissingOrder(t *testing.T) {
	s := New()
	_, err := s.Update("missing", func(o *domain.Order) {})
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	s := New()
	assert.NoError(t, s.Put(newTestOrder("o1")))
	assert.True(t, s.Remove("o1"))
	assert.False(t, s.Remove("o1"))

	_, ok := s.Get("o1")
	assert.False(t, ok)
}
