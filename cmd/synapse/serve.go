package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/synapse/internal/api"
	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/eeg/network"
	"github.com/banshee-data/synapse/internal/monitoring"
	"github.com/banshee-data/synapse/internal/serialmux"
)

var (
	serveNoOSC        bool
	serveStartCommand []string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the OSC and serial EEG transports",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().BoolVar(&serveNoOSC, "no-osc", false, "do not start the OSC listener (it can be started over the API)")
	cmd.Flags().StringSliceVar(&serveStartCommand, "start-command", nil, "commands sent to the serial board after opening, e.g. b")
	return cmd
}

// openSerial opens the configured board. An empty port disables serial
// input; "mock" selects the synthetic board.
func openSerial(port string, baud int, rate float64) (serialmux.SerialMuxInterface, error) {
	switch port {
	case "":
		return serialmux.NewDisabledSerialMux(), nil
	case serialmux.MockPortName:
		return serialmux.NewMockSerialMux(int(rate)), nil
	}
	return serialmux.NewRealSerialMux(port, serialmux.PortOptions{BaudRate: baud})
}

// goSerial runs the serial monitor and the line feed into mon on g.
func goSerial(ctx context.Context, g *errgroup.Group, mux serialmux.SerialMuxInterface, mon *eeg.Monitor) {
	g.Go(func() error {
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("serial monitor: %w", err)
		}
		monitoring.Logf("serial monitor routine terminated")
		return nil
	})
	g.Go(func() error {
		if err := serialmux.Feed(ctx, mux, mon); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	serial, err := openSerial(cfg.GetSerialPort(), cfg.GetSerialBaud(), cfg.GetSampleRate())
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	defer serial.Close()
	if err := serial.StartStream(serveStartCommand...); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	osc := network.NewService(network.ListenerConfig{
		Address: cfg.GetOSCAddr(),
		Handler: network.Handler{Sink: a.mon},
	})
	if !serveNoOSC {
		if err := osc.Start(gctx); err != nil {
			return fmt.Errorf("failed to start OSC listener: %w", err)
		}
		monitoring.Logf("OSC listener on %s", osc.Addr())
	}
	defer func() {
		if err := osc.Stop(); err != nil {
			monitoring.Logf("OSC listener stopped with error: %v", err)
		}
	}()

	goSerial(gctx, g, serial, a.mon)

	hub := api.NewStatusHub(a.mon, cfg.GetStatusInterval())
	g.Go(func() error { return hub.Run(gctx) })

	srv := api.NewServer(api.Options{
		Service: a.svc,
		Store:   a.db,
		Monitor: a.mon,
		OSC:     osc,
		Serial:  serial,
		DB:      a.db,
		Hub:     hub,
	}).WithContext(gctx)

	g.Go(func() error {
		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(srv.ServeMux()),
		}
		errc := make(chan error, 1)
		go func() { errc <- server.ListenAndServe() }()
		monitoring.Logf("HTTP server listening on %s", cfg.GetListen())

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start server: %w", err)
			}
			return nil
		case <-gctx.Done():
		}
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}
		monitoring.Logf("HTTP server routine stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	monitoring.Logf("Graceful shutdown complete")
	return nil
}
