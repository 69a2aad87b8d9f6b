package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/synapse/internal/monitoring"
)

const (
	// maxDatagram covers any OSC bundle a Muse bridge sends.
	maxDatagram  = 64 * 1024
	readDeadline = 100 * time.Millisecond
)

// ListenerConfig configures a UDPListener.
type ListenerConfig struct {
	Address string
	// RcvBuf is the OS receive buffer size; 0 leaves the default.
	RcvBuf  int
	Handler Handler
	// Listen opens the socket; nil uses ListenUDP.
	Listen ListenFunc
}

// UDPListener reads datagrams and hands them to a Handler.
type UDPListener struct {
	cfg ListenerConfig

	mu   sync.Mutex
	conn UDPSocket
}

func NewUDPListener(cfg ListenerConfig) *UDPListener {
	if cfg.Listen == nil {
		cfg.Listen = ListenUDP
	}
	return &UDPListener{cfg: cfg}
}

// Addr returns the bound address once Run has opened the socket.
func (l *UDPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// open binds the socket. It is split from Run so Service.Start can report
// bind errors synchronously.
func (l *UDPListener) open() (UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.Listen("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", l.cfg.RcvBuf, err)
		}
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	return conn, nil
}

// Run opens the socket and reads until ctx is cancelled.
func (l *UDPListener) Run(ctx context.Context) error {
	conn, err := l.open()
	if err != nil {
		return err
	}
	return l.serve(ctx, conn)
}

func (l *UDPListener) serve(ctx context.Context, conn UDPSocket) error {
	defer conn.Close()
	monitoring.Logf("OSC listener started on %s", conn.LocalAddr())

	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("OSC listener stopping: %v", err)
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}
		l.cfg.Handler.HandlePacket(buf[:n])
	}
}
