package playback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/phaselock/pkg/clock"
)

func TestVirtualOutput_AdvancesAndWraps(t *testing.T) {
	fake := clock.NewFake(0, 0)
	v := NewVirtualOutput(fake, 10_000)
	require.NoError(t, v.Prepare("loop.ogg"))

	fake.Advance(time.Second)
	assert.Equal(t, int64(0), v.CurrentPositionMs(), "not started yet")

	require.NoError(t, v.Start())
	fake.Advance(3 * time.Second)
	assert.Equal(t, int64(3000), v.CurrentPositionMs())

	require.NoError(t, v.SeekTo(context.Background(), 9500))
	fake.Advance(time.Second)
	assert.Equal(t, int64(500), v.CurrentPositionMs())

	require.NoError(t, v.Stop())
	fake.Advance(time.Second)
	assert.Equal(t, int64(500), v.CurrentPositionMs(), "stopped output holds its position")
}

func TestVirtualOutput_SeekWrapsNegative(t *testing.T) {
	v := NewVirtualOutput(clock.NewFake(0, 0), 10_000)
	require.NoError(t, v.SeekTo(context.Background(), -1))
	assert.Equal(t, int64(9999), v.CurrentPositionMs())
	assert.Equal(t, 1, v.Seeks())
}

func TestVirtualOutput_ReleasedRejectsUse(t *testing.T) {
	v := NewVirtualOutput(clock.NewFake(0, 0), 10_000)
	require.NoError(t, v.Release())
	assert.ErrorIs(t, v.Prepare("x"), ErrReleased)
	assert.ErrorIs(t, v.Start(), ErrReleased)
	assert.ErrorIs(t, v.SeekTo(context.Background(), 1), ErrReleased)
}
