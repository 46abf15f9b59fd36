package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateSuccessRateExact(t *testing.T) {
	rate, count := UpdateSuccessRate(0.5, 1, true)
	assert.Equal(t, 0.75, rate)
	assert.Equal(t, 2, count)

	rate, count = UpdateSuccessRate(1.0, 1, false)
	assert.Equal(t, 0.5, rate)
	assert.Equal(t, 2, count)

	// (0.75 * 2 + 0) / 3
	rate, count = UpdateSuccessRate(0.75, 2, false)
	assert.InDelta(t, 0.5, rate, 1e-9)
	assert.Equal(t, 3, count)
}

func TestUpdateSuccessRateIsOnlineMean(t *testing.T) {
	// Folding outcomes one at a time must equal the batch mean.
	outcomes := []bool{true, false, true, true, false, true, false, false, true}

	rate, count := 1.0, 1 // creation state, first outcome was a success
	helpful := 1
	for _, o := range outcomes {
		rate, count = UpdateSuccessRate(rate, count, o)
		if o {
			helpful++
		}
	}
	assert.Equal(t, len(outcomes)+1, count)
	assert.InDelta(t, float64(helpful)/float64(count), rate, 1e-9)
}

func TestUpdateSuccessRateBounded(t *testing.T) {
	rate, count := 0.5, 1
	for i := 0; i < 50; i++ {
		prev := rate
		rate, count = UpdateSuccessRate(rate, count, true)
		assert.GreaterOrEqual(t, rate, prev, "helpful outcomes drive the rate up monotonically")
		assert.LessOrEqual(t, rate, 1.0)
	}

	rate, count = 0.5, 1
	for i := 0; i < 50; i++ {
		rate, count = UpdateSuccessRate(rate, count, i%2 == 0)
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}
	assert.Equal(t, 51, count)
}
