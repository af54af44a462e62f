package forward

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsExponentiallyWithinJitterBand(t *testing.T) {
	b := newBackoff(0)
	prevBase := backoffMin
	for i := 0; i < 6; i++ {
		d, ok := b.next()
		assert.True(t, ok)
		lo := prevBase - prevBase*3/10
		hi := prevBase + prevBase*3/10
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
		if prevBase < backoffMax {
			prevBase *= 2
		}
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	b := newBackoff(0)
	for i := 0; i < 20; i++ {
		d, ok := b.next()
		assert.True(t, ok)
		assert.LessOrEqual(t, d, backoffMax+backoffMax*3/10)
	}
}

func TestBackoffExhaustsMaxAttempts(t *testing.T) {
	b := newBackoff(3)
	for i := 0; i < 3; i++ {
		_, ok := b.next()
		assert.True(t, ok)
	}
	_, ok := b.next()
	assert.False(t, ok)
}

func TestBackoffResetRestartsFromMin(t *testing.T) {
	b := newBackoff(0)
	b.next()
	b.next()
	b.reset()
	d, ok := b.next()
	assert.True(t, ok)
	assert.LessOrEqual(t, d, backoffMin+backoffMin*3/10)
}

func TestBackoffNeverNegative(t *testing.T) {
	b := newBackoff(0)
	for i := 0; i < 10; i++ {
		d, _ := b.next()
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
