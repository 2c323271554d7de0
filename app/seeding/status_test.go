package seeding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Subscribe(t *testing.T) {
	s := NewStatus()
	ch, cancel := s.Subscribe()

	assert.Equal(t, Idle(), <-ch)

	s.Publish(Seeding(1, 66))
	assert.Equal(t, Seeding(1, 66), <-ch)

	// a subscriber that falls behind only sees the latest value
	s.Publish(Seeding(2, 66))
	s.Publish(Seeding(3, 66))
	assert.Equal(t, Seeding(3, 66), <-ch)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	s.Publish(Done(66))
	assert.Equal(t, Done(66), s.Current())
}

func TestFailed(t *testing.T) {
	p := Failed(4, 66, errors.New("disk full"))
	assert.Equal(t, PhaseError, p.Status)
	assert.Equal(t, 4, p.BooksProcessed)
	assert.Equal(t, "disk full", p.Error)
}
