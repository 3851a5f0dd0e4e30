package helpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))

	nf := errors.NotFoundf("config: tele.endpoint")
	err := FoldErrors([]error{nil, nf})
	assert.True(t, errors.IsNotFound(err))

	err = FoldErrors([]error{fmt.Errorf("first"), nil, fmt.Errorf("second")})
	assert.EqualError(t, err, "first\nsecond")
}

func TestIntMillisecondDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Second, IntMillisecondDefault(0, 5*time.Second))
	assert.Equal(t, 5*time.Second, IntMillisecondDefault(-1, 5*time.Second))
	assert.Equal(t, 250*time.Millisecond, IntMillisecondDefault(250, 5*time.Second))
}

func TestSleepCtx(t *testing.T) {
	t.Parallel()

	assert.NoError(t, SleepCtx(context.Background(), time.Millisecond))
	assert.NoError(t, SleepCtx(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, SleepCtx(ctx, time.Hour))
	assert.Equal(t, context.Canceled, SleepCtx(ctx, 0))
}
