package serialmux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/timeutil"
)

func newTestMonitor() (*eeg.Monitor, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	return eeg.NewMonitor(eeg.Config{Capacity: 64, Clock: clock}), clock
}

func TestHandleLineRoutesByKind(t *testing.T) {
	mon, _ := newTestMonitor()

	assert.Equal(t, LineSample, HandleLine(mon, "1,2,3,4"))
	assert.Equal(t, LineOther, HandleLine(mon, "%banner"))
	assert.Equal(t, LineMalformed, HandleLine(mon, "1,2"))

	assert.Equal(t, 1, mon.Len())
	assert.Equal(t, uint64(1), mon.Dropped())

	s, err := mon.LatestAverage(1)
	require.NoError(t, err)
	assert.Equal(t, [eeg.NumChannels]float64{1, 2, 3, 4}, s.Ch)
	assert.InDelta(t, 1_700_000_000.0, s.Timestamp, 1e-6)
}

func TestHandleLineTouchKeepsStreamLive(t *testing.T) {
	mon, _ := newTestMonitor()
	assert.False(t, mon.Status().Connected)

	HandleLine(mon, `{"batt":80}`)
	assert.True(t, mon.Status().Connected)
	assert.Equal(t, 0, mon.Len())
}

func TestFeedIngestsUntilClose(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)
	mon, _ := newTestMonitor()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fed := make(chan error, 1)
	go func() { fed <- Feed(ctx, mux, mon) }()
	go func() { _ = mux.Monitor(ctx) }()

	// Wait for Feed to subscribe before producing data.
	require.Eventually(t, func() bool {
		mux.subscriberMu.Lock()
		defer mux.subscriberMu.Unlock()
		return len(mux.subscribers) == 1
	}, 2*time.Second, 5*time.Millisecond)

	port.AddReadData("1,2,3,4\n{\"eeg\":[5,6,7,8]}\nbad\n")
	require.Eventually(t, func() bool { return mon.Len() == 2 && mon.Dropped() == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, mux.Close())
	select {
	case err := <-fed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Feed did not return after Close")
	}
}

func TestFeedStopsOnCancel(t *testing.T) {
	d := NewDisabledSerialMux()
	mon, _ := newTestMonitor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Feed(ctx, d, mon), context.Canceled)
}
