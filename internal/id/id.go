// ABOUTME: ULID generation and clock capabilities for entity identifiers
// ABOUTME: Provides injectable Generator/Clock so tests can pin deterministic values

package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces globally unique, time-sortable identifiers.
// Every identifier is a 26-character uppercase Crockford Base32 ULID.
type Generator interface {
	New() string
}

// Clock supplies the current time. Business logic never calls time.Now
// directly; it goes through an injected Clock.
type Clock interface {
	Now() time.Time
}

// ULIDGenerator generates monotonic ULIDs. Identifiers created within the
// same millisecond still sort in creation order.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewULIDGenerator creates a generator backed by crypto/rand entropy.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// New returns the next identifier. Safe for concurrent use.
func (g *ULIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), g.entropy).String()
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

var _ Generator = (*ULIDGenerator)(nil)
var _ Clock = SystemClock{}
