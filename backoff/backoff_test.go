package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMonotonicGrowthWithoutJitter(t *testing.T) {
	c := Default()
	c.AddJitter = false

	prev := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		d := c.Next(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, c.MaxDelay)
		prev = d
	}
}

func TestNextCapsAtMaxDelay(t *testing.T) {
	c := Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0}
	d := c.Next(20)
	assert.Equal(t, 5*time.Second, d)
}

func TestNextFirstAttemptIsInitialDelay(t *testing.T) {
	c := Config{InitialDelay: 2 * time.Second, MaxDelay: time.Minute, Multiplier: 2.0}
	assert.Equal(t, 2*time.Second, c.Next(0))
}

func TestJitterStaysWithinBounds(t *testing.T) {
	c := Config{InitialDelay: 4 * time.Second, MaxDelay: time.Minute, Multiplier: 2.0, AddJitter: true}
	for i := 0; i < 50; i++ {
		d := c.Next(0)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestNegativeAttemptTreatedAsZero(t *testing.T) {
	c := Config{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0}
	assert.Equal(t, c.Next(0), c.Next(-3))
}
