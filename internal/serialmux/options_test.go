package serialmux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptionsModeDefaults(t *testing.T) {
	mode, err := PortOptions{}.Mode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, mode)
}

func TestPortOptionsModeFraming(t *testing.T) {
	mode, err := PortOptions{BaudRate: 230400, Framing: " 7e2 "}.Mode()
	require.NoError(t, err)
	assert.Equal(t, 230400, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	mode, err = PortOptions{Framing: "8O1"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, serial.OddParity, mode.Parity)
}

func TestPortOptionsModeRejects(t *testing.T) {
	for _, opts := range []PortOptions{
		{BaudRate: -1},
		{Framing: "9N1"},
		{Framing: "4N1"},
		{Framing: "8M1"},
		{Framing: "8N3"},
		{Framing: "8N1.5"},
	} {
		_, err := opts.Mode()
		assert.Error(t, err, "%+v", opts)
	}
}

// fakePort satisfies serial.Port; methods it does not override panic.
type fakePort struct {
	serial.Port
	resetErr error
	resets   int
	closed   bool
}

func (p *fakePort) ResetInputBuffer() error     { p.resets++; return p.resetErr }
func (p *fakePort) Read([]byte) (int, error)    { return 0, errPortClosed }
func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *fakePort) Close() error                { p.closed = true; return nil }

func TestOpenPort(t *testing.T) {
	var gotPath string
	var gotMode *serial.Mode
	open := func(path string, mode *serial.Mode) (serial.Port, error) {
		gotPath, gotMode = path, mode
		return nil, &serial.PortError{}
	}
	_, err := openPort(open, "/dev/ttyUSB0", PortOptions{BaudRate: 9600})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/ttyUSB0 at 9600 baud")
	assert.Equal(t, "/dev/ttyUSB0", gotPath)
	assert.Equal(t, 9600, gotMode.BaudRate)

	_, err = openPort(open, "/dev/ttyUSB0", PortOptions{Framing: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid framing")
}

func TestOpenPortResetsInput(t *testing.T) {
	port := &fakePort{}
	open := func(string, *serial.Mode) (serial.Port, error) { return port, nil }
	mux, err := openPort(open, "/dev/ttyACM0", PortOptions{})
	require.NoError(t, err)
	assert.NotNil(t, mux)
	assert.Equal(t, 1, port.resets)

	failing := &fakePort{resetErr: errors.New("io error")}
	open = func(string, *serial.Mode) (serial.Port, error) { return failing, nil }
	_, err = openPort(open, "/dev/ttyACM0", PortOptions{})
	assert.ErrorContains(t, err, "reset serial port")
	assert.True(t, failing.closed)
}
