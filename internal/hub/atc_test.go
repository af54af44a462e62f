package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestATCRebaseScenario5 pins §8 scenario 5 literally: a jump from
// 1,000,000 back to 50 with the default 90s threshold rebases so the
// first post-jump message lands at prev_max + 1, not prev_max + 1 + in.
func TestATCRebaseScenario5(t *testing.T) {
	a := newATCCorrector(0)

	out, rebased := a.correct(1_000_000)
	assert.False(t, rebased)
	assert.Equal(t, uint32(1_000_000), out)

	out, rebased = a.correct(50)
	assert.True(t, rebased)
	assert.Equal(t, uint32(1_000_001), out)
}

// TestATCContinuesLinearlyAfterRebase checks that later messages keep
// advancing by their own wire-timestamp delta once rebased.
func TestATCContinuesLinearlyAfterRebase(t *testing.T) {
	a := newATCCorrector(0)

	_, _ = a.correct(1_000_000)
	_, _ = a.correct(50)

	out, rebased := a.correct(60)
	assert.False(t, rebased)
	assert.Equal(t, uint32(1_000_011), out)
}

// TestATCNoRebaseWithinThreshold checks a small, in-threshold backward
// step does not trigger a rebase.
func TestATCNoRebaseWithinThreshold(t *testing.T) {
	a := newATCCorrector(1000)

	_, _ = a.correct(5000)
	out, rebased := a.correct(4500)
	assert.False(t, rebased)
	assert.Equal(t, uint32(4500), out)
}
