package serial

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/motor"
	"github.com/motor-control/mcn/internal/motortest"
)

// bufferPort is an in-memory io.WriteCloser.
type bufferPort struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	writeErr error
}

func (p *bufferPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.buf.Write(b)
}

func (p *bufferPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *bufferPort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

// stallPort blocks every write until release is closed.
type stallPort struct {
	bufferPort
	release chan struct{}
}

func (p *stallPort) Write(b []byte) (int, error) {
	<-p.release
	return p.bufferPort.Write(b)
}

func TestConformance(t *testing.T) {
	motortest.RunConformance(t, func(t *testing.T) motor.Driver {
		return New("test", &bufferPort{})
	})
}

func TestFrame(t *testing.T) {
	m := drive.NewMapper(drive.DefaultSpeed)

	tests := []struct {
		cmd  drive.Command
		want string
	}{
		{drive.Command{Action: drive.Forward, Speed: 120, HasSpeed: true}, "M F120 F120\n"},
		{drive.Command{Action: drive.Backward}, "M R200 R200\n"},
		{drive.Command{Action: drive.Left, Speed: 90, HasSpeed: true}, "M R90 F90\n"},
		{drive.Command{Action: drive.Right, Speed: 255, HasSpeed: true}, "M F255 R255\n"},
		{drive.Command{Action: drive.Stop}, "M R0 R0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, string(Frame(m.Map(tt.cmd))))
		})
	}
}

func TestApplyWritesFrames(t *testing.T) {
	port := &bufferPort{}
	d := New("ttyTEST", port)

	m := drive.NewMapper(drive.DefaultSpeed)
	require.NoError(t, d.Apply(context.Background(), m.Map(drive.Command{Action: drive.Forward, Speed: 10, HasSpeed: true})))
	require.NoError(t, d.Apply(context.Background(), drive.StopOutput()))

	assert.Equal(t, "M F10 F10\nM R0 R0\n", port.String())
	assert.Equal(t, "serial:ttyTEST", d.GetID())

	last, ok := d.Last()
	require.True(t, ok)
	assert.True(t, last.IsStop())
}

func TestApplyNormalizesWriteErrors(t *testing.T) {
	port := &bufferPort{writeErr: errors.New("write /dev/ttyUSB0: input/output error")}
	d := New("ttyUSB0", port)

	err := d.Apply(context.Background(), drive.StopOutput())
	require.Error(t, err)
	assert.ErrorIs(t, err, motor.ErrUnavailable)
	assert.Equal(t, motor.StatusFault, d.GetStatus())
}

func TestCloseSendsStop(t *testing.T) {
	port := &bufferPort{}
	d := New("ttyTEST", port)

	require.NoError(t, d.Close())
	assert.True(t, port.closed)
	assert.Equal(t, "M R0 R0\n", port.String())

	err := d.Apply(context.Background(), drive.StopOutput())
	assert.ErrorIs(t, err, motor.ErrUnavailable)
}

func TestOpenMissingPort(t *testing.T) {
	_, err := Open(Options{Port: "/dev/mcn-does-not-exist", BaudRate: 115200})
	require.Error(t, err)

	var de *motor.DriverError
	assert.ErrorAs(t, err, &de)
}

func TestApplyBoundedByContextOnStalledPort(t *testing.T) {
	port := &stallPort{release: make(chan struct{})}
	d := New("ttySTALL", port)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := d.Apply(ctx, drive.StopOutput())
	require.Error(t, err)
	assert.ErrorIs(t, err, motor.ErrBusy)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, motor.StatusFault, d.GetStatus())

	// The stalled frame is still outstanding.
	err = d.Apply(context.Background(), drive.StopOutput())
	assert.ErrorIs(t, err, motor.ErrBusy)
	_, sent := d.Last()
	assert.False(t, sent)

	close(port.release)
	require.Eventually(t, func() bool {
		return d.Apply(context.Background(), drive.StopOutput()) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, motor.StatusOnline, d.GetStatus())
	assert.Equal(t, "M R0 R0\nM R0 R0\n", port.String())

	require.NoError(t, d.Close())
}

func TestCloseSkipsStopWhileWriteStalled(t *testing.T) {
	port := &stallPort{release: make(chan struct{})}
	d := New("ttySTALL", port)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, d.Apply(ctx, drive.StopOutput()))

	err := d.Close()
	assert.ErrorIs(t, err, motor.ErrBusy)
	assert.True(t, port.closed)
	close(port.release)
}
