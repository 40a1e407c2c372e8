package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurobridge/genjobs/internal/pkg/backoff"
)

type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

func TestDuration_NoJitter_DoublesUntilMax(t *testing.T) {
	p := backoff.Policy{Min: 1 * time.Second, Max: 30 * time.Second, Jitter: 0}

	require.Equal(t, 1*time.Second, p.Duration(0, nil))
	require.Equal(t, 2*time.Second, p.Duration(1, nil))
	require.Equal(t, 4*time.Second, p.Duration(2, nil))
	require.Equal(t, 30*time.Second, p.Duration(10, nil))
}

func TestDuration_NegativeAttemptClampsToZero(t *testing.T) {
	p := backoff.DefaultPolicy()
	assert.Equal(t, p.Duration(0, nil), p.Duration(-3, nil))
}

func TestDuration_JitterStaysWithinBounds(t *testing.T) {
	p := backoff.Policy{Min: 1 * time.Second, Max: 30 * time.Second, Jitter: 0.2}

	capped := 4 * time.Second
	spread := time.Duration(float64(capped) * 0.2)

	lo := p.Duration(2, fixedRand{v: 0})
	hi := p.Duration(2, fixedRand{v: 1})
	mid := p.Duration(2, fixedRand{v: 0.5})

	assert.Equal(t, capped-spread, lo)
	assert.Equal(t, capped+spread, hi)
	assert.Equal(t, capped, mid)
}

func TestDuration_NeverNegative(t *testing.T) {
	p := backoff.Policy{Min: 1 * time.Millisecond, Max: 10 * time.Millisecond, Jitter: 5}
	d := p.Duration(0, fixedRand{v: 0})
	assert.GreaterOrEqual(t, d, time.Duration(0))
}

func TestNormalized_FillsZeroedFields(t *testing.T) {
	p := backoff.Policy{}
	// Min=0 and Max=0 should fall back to defaults rather than divide-by-zero
	// or a zero-length backoff curve.
	d := p.Duration(0, nil)
	assert.Equal(t, backoff.DefaultMin, d)
}
