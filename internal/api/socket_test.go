package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/timeutil"
)

func TestStatusHubHandshake(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))
	mon := eeg.NewMonitor(eeg.Config{Clock: clock})
	hub := NewStatusHub(mon, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", hub)
	srv := httptest.NewServer(LoggingMiddleware(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/socket.io/?EIO=3&transport=polling")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Broadcasting with or without clients must not block.
	hub.Broadcast()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewStatusHubDefaultsInterval(t *testing.T) {
	hub := NewStatusHub(eeg.NewMonitor(eeg.Config{}), 0)
	assert.Equal(t, time.Second, hub.interval)
	assert.Equal(t, 0, hub.Clients())
}
