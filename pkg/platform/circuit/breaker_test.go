package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBreakerIsClosed(t *testing.T) {
	b := New("kafka")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "kafka", b.Name())
	assert.Equal(t, "closed", b.State().String())
}

func TestDefaultThresholds(t *testing.T) {
	b := New("kafka", WithFailureThreshold(0), WithSuccessThreshold(-1))
	for range defaultFailureThreshold - 1 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.Equal(t, "open", b.State().String())

	_, change := b.RecordSuccess()
	assert.True(t, change.Closed, "one success closes by default")
}

func TestOpensOnConsecutiveFailures(t *testing.T) {
	b := New("kafka", WithFailureThreshold(3))

	for i := range 2 {
		useFallback, change := b.RecordFailure()
		assert.False(t, useFallback, "failure %d", i+1)
		assert.False(t, change.Opened)
	}

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened, "already open")
}

func TestSuccessBreaksFailureRun(t *testing.T) {
	b := New("kafka", WithFailureThreshold(3))
	b.RecordFailure()
	b.RecordFailure()
	usePrimary, _ := b.RecordSuccess()
	assert.True(t, usePrimary)

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestClosesOnConsecutiveSuccesses(t *testing.T) {
	b := New("kafka", WithFailureThreshold(1), WithSuccessThreshold(3))
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	assert.True(t, b.IsOpen(), "failure restarts the success run")

	for range 2 {
		usePrimary, change := b.RecordSuccess()
		assert.False(t, usePrimary)
		assert.False(t, change.Closed)
	}
	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestReset(t *testing.T) {
	b := New("kafka", WithFailureThreshold(1))
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}
