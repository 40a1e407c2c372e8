// Package clock injects time and randomness so the polling state machine and
// its backoff calculations can be driven deterministically in tests.
package clock

import (
	"math/rand"
	"time"
)

type Clock interface {
	Now() time.Time
}

type Rand interface {
	Float64() float64
}

type Real struct{}

func (Real) Now() time.Time { return time.Now() }

type RealRand struct{}

func (RealRand) Float64() float64 { return rand.Float64() }
