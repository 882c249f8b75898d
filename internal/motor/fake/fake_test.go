package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/motor"
	"github.com/motor-control/mcn/internal/motortest"
)

func TestConformance(t *testing.T) {
	motortest.RunConformance(t, func(t *testing.T) motor.Driver {
		return New("fake:conformance")
	})
}

func TestRecordsOutputs(t *testing.T) {
	d := New("fake:0")
	ctx := context.Background()

	fwd := drive.NewMapper(drive.DefaultSpeed).Map(drive.Command{Action: drive.Forward})
	require.NoError(t, d.Apply(ctx, fwd))
	require.NoError(t, d.Apply(ctx, drive.StopOutput()))

	assert.Equal(t, 2, d.Count())
	assert.Equal(t, []drive.MotorOutput{fwd, drive.StopOutput()}, d.Outputs())

	last, ok := d.Last()
	require.True(t, ok)
	assert.True(t, last.IsStop())

	d.Reset()
	_, ok = d.Last()
	assert.False(t, ok)
}

func TestErrorSimulation(t *testing.T) {
	d := New("fake:0")
	d.SetErrorSimulation("BUSY")

	err := d.Apply(context.Background(), drive.StopOutput())
	require.Error(t, err)
	assert.ErrorIs(t, motor.NormalizeDriverError(err, nil), motor.ErrBusy)
	assert.Equal(t, motor.StatusFault, d.GetStatus())
	assert.Zero(t, d.Count())

	d.DisableErrorSimulation()
	assert.NoError(t, d.Apply(context.Background(), drive.StopOutput()))
	assert.Equal(t, motor.StatusOnline, d.GetStatus())
}

func TestApplyHonoursContext(t *testing.T) {
	d := New("fake:0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, d.Apply(ctx, drive.StopOutput()), context.Canceled)
}

func TestCloseStopsAndRejects(t *testing.T) {
	d := New("fake:0")
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	assert.True(t, d.Closed())
	assert.Equal(t, 1, d.Count())
	assert.ErrorIs(t, d.Apply(context.Background(), drive.StopOutput()), motor.ErrUnavailable)
}
