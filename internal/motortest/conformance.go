// Package motortest provides a conformance suite that every motor driver
// must pass.
package motortest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/motor"
)

// Factory builds a fresh driver for one conformance case.
type Factory func(t *testing.T) motor.Driver

// applyBudget bounds a single Apply; the control loop polls far more often.
const applyBudget = 250 * time.Millisecond

// RunConformance runs the complete suite against drivers built by newDriver.
func RunConformance(t *testing.T, newDriver Factory) {
	t.Helper()

	t.Run("ApplyMappedOutputs", func(t *testing.T) { runApplyTests(t, newDriver) })
	t.Run("StopIdempotent", func(t *testing.T) { runStopTests(t, newDriver) })
	t.Run("Timing", func(t *testing.T) { runTimingTests(t, newDriver) })
	t.Run("Close", func(t *testing.T) { runCloseTests(t, newDriver) })
}

// Outputs returns every output the mapper can produce for a representative
// set of speeds under both turn policies.
func Outputs() []drive.MotorOutput {
	mappers := []drive.Mapper{
		drive.NewMapper(drive.DefaultSpeed),
		{DefaultSpeed: drive.DefaultSpeed, TurnPolicy: drive.TurnFixed, FixedTurnSpeed: drive.DefaultFixedTurnSpeed},
	}

	var outs []drive.MotorOutput
	for _, m := range mappers {
		for _, d := range drive.Directions() {
			outs = append(outs, m.Map(drive.Command{Action: d}))
			for _, s := range []uint8{0, 1, 128, 255} {
				outs = append(outs, m.Map(drive.Command{Action: d, Speed: s, HasSpeed: true}))
			}
		}
	}
	return outs
}

func runApplyTests(t *testing.T, newDriver Factory) {
	d := newDriver(t)
	defer d.Close()

	for _, out := range Outputs() {
		err := d.Apply(context.Background(), out)
		assert.NoError(t, err, "Apply(%s)", out)
	}
}

func runStopTests(t *testing.T, newDriver Factory) {
	d := newDriver(t)
	defer d.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Apply(context.Background(), drive.StopOutput()), fmt.Sprintf("stop #%d", i+1))
	}
}

func runTimingTests(t *testing.T, newDriver Factory) {
	d := newDriver(t)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), applyBudget)
	defer cancel()

	start := time.Now()
	require.NoError(t, d.Apply(ctx, drive.StopOutput()))
	assert.Less(t, time.Since(start), applyBudget)
}

func runCloseTests(t *testing.T, newDriver Factory) {
	d := newDriver(t)

	require.NoError(t, d.Apply(context.Background(), drive.StopOutput()))
	require.NoError(t, d.Close())
	assert.NoError(t, d.Close(), "second Close must be a no-op")

	err := d.Apply(context.Background(), drive.StopOutput())
	require.Error(t, err, "Apply after Close must fail")
	assert.ErrorIs(t, motor.NormalizeDriverError(err, nil), motor.ErrUnavailable)

	if _, _, status := motor.Describe(d); status != "" {
		assert.Equal(t, motor.StatusClosed, status)
	}
}
