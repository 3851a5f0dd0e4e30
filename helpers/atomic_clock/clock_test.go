package atomic_clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	t.Parallel()

	var zero Clock
	assert.True(t, zero.IsZero())
	assert.True(t, zero.Time().IsZero())

	c := Now()
	tim := time.Now()
	const delta = 100 * time.Millisecond
	assert.InDelta(t, tim.UnixNano(), c.UnixNano(), float64(delta))

	c.SetTime(tim)
	assert.Equal(t, tim.UnixNano(), c.UnixNano())
	assert.Equal(t, tim.UnixNano(), c.Time().UnixNano())

	c.SetNow()
	assert.True(t, Since(c) < delta)

	zero.SetNowIfZero()
	v := zero.UnixNano()
	assert.NotZero(t, v)
	zero.SetNowIfZero()
	assert.Equal(t, v, zero.UnixNano())
}
