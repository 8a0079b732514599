package effect

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ambient-light-control/muxer"
)

func newTestRunner(t *testing.T) (*Runner, *muxer.Muxer, *Registry) {
	t.Helper()
	dir := t.TempDir()
	writeScript(t, dir, "white.lua", `
		for i = 0, led_count - 1 do
			set_pixel(i, 1.0, 1.0, 1.0)
		end
	`)
	reg := NewRegistry(dir, zerolog.Nop())
	require.NoError(t, reg.Load())

	m := muxer.New(muxer.Config{LEDCount: 3, Logger: zerolog.Nop()})
	return NewRunner(m, reg, zerolog.Nop(), nil), m, reg
}

func TestRunnerStartRendersIntoMuxer(t *testing.T) {
	r, m, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := r.Start(ctx, "white", 64, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	white := muxer.RGB{R: 255, G: 255, B: 255}
	require.Eventually(t, func() bool {
		v := m.Visible()
		return v.Priority == 64 && len(v.Colors) == 3 && v.Colors[0] == white
	}, time.Second, 10*time.Millisecond)

	info, ok := m.Input(64)
	require.True(t, ok)
	assert.Equal(t, muxer.ComponentEffect, info.Component)
	assert.Equal(t, "white", info.Owner)

	require.True(t, r.Stop(64))
	assert.NotContains(t, m.Priorities(), 64)
}

func TestRunnerStopsWhenSlotCleared(t *testing.T) {
	r, m, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := r.Start(ctx, "white", 64, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.VisiblePriority() == 64 }, time.Second, 10*time.Millisecond)

	require.True(t, m.Clear(64))
	require.Eventually(t, func() bool { return r.get(64) == nil }, time.Second, 10*time.Millisecond)
}

func TestRunnerExpiresWithDuration(t *testing.T) {
	r, m, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	_, err := r.Start(ctx, "white", 64, 150)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.VisiblePriority() == 64 }, time.Second, 10*time.Millisecond)

	// The run ends and the slot ages out through the sweep.
	require.Eventually(t, func() bool {
		return m.VisiblePriority() == muxer.PriorityLowest && r.get(64) == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRunnerUnknownEffect(t *testing.T) {
	r, _, _ := newTestRunner(t)
	_, err := r.Start(context.Background(), "missing", 64, 0)
	assert.ErrorIs(t, err, ErrUnknownEffect)
}

func TestRunnerReplacesRunOnSamePriority(t *testing.T) {
	r, m, reg := newTestRunner(t)
	writeScript(t, reg.dir, "red.lua", `set_pixel(0, 1.0, 0.0, 0.0)`)
	require.NoError(t, reg.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := r.Start(ctx, "white", 64, 0)
	require.NoError(t, err)
	_, err = r.Start(ctx, "red", 64, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, ok := m.Input(64)
		return ok && info.Owner == "red"
	}, time.Second, 10*time.Millisecond)
}
