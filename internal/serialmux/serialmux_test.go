package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("b"))
	require.NoError(t, mux.SendCommand("s\n"))
	assert.Equal(t, "b\ns\n", port.Written())
}

func TestSendCommandErrors(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	boom := errors.New("boom")
	port.WriteError = boom
	assert.ErrorIs(t, mux.SendCommand("b"), boom)

	port.ShortWrite = true
	assert.ErrorIs(t, mux.SendCommand("b"), ErrWriteFailed)
}

func TestStartStream(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.StartStream("v", "b"))
	assert.Equal(t, "v\nb\n", port.Written())

	port.WriteError = errors.New("unplugged")
	err := mux.StartStream("b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"b"`)
}

func TestMonitorBroadcastsLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData("1,2,3,4\n5,6,7,8\n")
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))

	for _, ch := range []chan string{a, b} {
		assert.Equal(t, "1,2,3,4", <-ch)
		assert.Equal(t, "5,6,7,8", <-ch)
	}
}

func TestMonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	boom := errors.New("device gone")
	port.ReadError = boom
	mux := NewSerialMux(port)

	assert.ErrorIs(t, mux.Monitor(context.Background()), boom)
}

func TestMonitorStopsOnCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	require.NoError(t, mux.Close())
}

func TestCloseEndsMonitorAndSubscriptions(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	errc := make(chan error, 1)
	go func() { errc <- mux.Monitor(context.Background()) }()

	require.NoError(t, mux.Close())
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}
	_, open := <-ch
	assert.False(t, open)
	assert.True(t, port.Closed)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	// Unknown ids are ignored.
	mux.Unsubscribe("nope")
}

func TestSyntheticPortProducesSamples(t *testing.T) {
	mux := NewMockSerialMux(500)
	_, lines := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mux.Monitor(ctx) }()

	select {
	case line := <-lines:
		_, ok := ParseSampleLine(line)
		assert.True(t, ok, line)
	case <-time.After(2 * time.Second):
		t.Fatal("no line from synthetic port")
	}
	require.NoError(t, mux.Close())
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	assert.NoError(t, d.SendCommand("v"))
	assert.NoError(t, d.StartStream("d", "b"))
	assert.Equal(t, []string{"v", "d", "b"}, d.Commands())

	d.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	_, ch = d.Subscribe()
	require.NoError(t, d.Close())
	_, open = <-ch
	assert.False(t, open)
	require.NoError(t, d.Close())

	// Subscribing after close yields a closed channel.
	_, ch = d.Subscribe()
	_, open = <-ch
	assert.False(t, open)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)
}
