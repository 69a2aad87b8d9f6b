package api

import (
	"context"
	"net/http"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/monitoring"
)

const (
	statusEvent = "eeg_status"
	statusRoom  = "eeg"
)

// StatusHub pushes the connection state to socket.io clients. Clients join
// the eeg room on connect and receive eeg_status on every tick; they can ask
// for an immediate update with a get_status event.
type StatusHub struct {
	server   *socketio.Server
	mon      *eeg.Monitor
	interval time.Duration
}

func allowOrigin(*http.Request) bool { return true }

// NewStatusHub creates a hub broadcasting mon's status every interval.
func NewStatusHub(mon *eeg.Monitor, interval time.Duration) *StatusHub {
	if interval <= 0 {
		interval = time.Second
	}
	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{CheckOrigin: allowOrigin},
			&polling.Transport{CheckOrigin: allowOrigin},
		},
	})
	h := &StatusHub{server: server, mon: mon, interval: interval}

	server.OnConnect("/", func(c socketio.Conn) error {
		c.Join(statusRoom)
		monitoring.Logf("socket connected: %s from %s", c.ID(), c.RemoteAddr())
		c.Emit(statusEvent, h.mon.Status())
		return nil
	})
	server.OnEvent("/", "get_status", func(c socketio.Conn) {
		c.Emit(statusEvent, h.mon.Status())
	})
	server.OnError("/", func(c socketio.Conn, err error) {
		monitoring.Logf("socket error: %v", err)
	})
	server.OnDisconnect("/", func(c socketio.Conn, reason string) {
		monitoring.Logf("socket disconnected: %s (%s)", c.ID(), reason)
	})
	return h
}

// ServeHTTP serves the socket.io endpoint. Mount it at /socket.io/.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.ServeHTTP(w, r)
}

// Clients returns the number of open connections.
func (h *StatusHub) Clients() int { return h.server.Count() }

// Broadcast sends the current status to every client in the eeg room.
func (h *StatusHub) Broadcast() {
	h.server.BroadcastToRoom("/", statusRoom, statusEvent, h.mon.Status())
}

// Run serves socket.io and broadcasts until ctx is done.
func (h *StatusHub) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- h.server.Serve() }()
	defer h.server.Close()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case <-ticker.C:
			h.Broadcast()
		}
	}
}
