package network

import (
	"context"
	"errors"
	"sync"
)

// ErrRunning is returned by Start on a service that is already running.
var ErrRunning = errors.New("listener already running")

// Service owns a UDPListener goroutine with an explicit Start/Stop
// lifecycle.
type Service struct {
	listener *UDPListener

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewService(cfg ListenerConfig) *Service {
	return &Service{listener: NewUDPListener(cfg)}
}

// Start binds the socket and starts the read loop. Bind errors are
// returned directly. The loop stops when ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrRunning
	}
	conn, err := s.listener.open()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done, s.err = cancel, done, nil

	go func() {
		defer close(done)
		err := s.listener.serve(ctx, conn)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return nil
}

// Running reports whether the read loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Stop cancels the read loop and waits for it to exit. It returns the
// loop's terminal error, if any. Stopping a stopped service is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	s.cancel, s.done = nil, nil
	return err
}

// Addr returns the bound address while running.
func (s *Service) Addr() string {
	if a := s.listener.Addr(); a != nil {
		return a.String()
	}
	return ""
}
