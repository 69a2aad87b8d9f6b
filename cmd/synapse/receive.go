package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/eeg/network"
	"github.com/banshee-data/synapse/internal/monitoring"
)

var (
	receiveNoOSC  bool
	receiveSerial string
)

var (
	qualityStyles = map[eeg.Quality]lipgloss.Style{
		eeg.QualityDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F")).Bold(true),
		eeg.QualityPoor:         lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8C42")),
		eeg.QualityFair:         lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")),
		eeg.QualityGood:         lipgloss.NewStyle().Foreground(lipgloss.Color("#7FBF5F")),
		eeg.QualityExcellent:    lipgloss.NewStyle().Foreground(lipgloss.Color("#3FBF7F")).Bold(true),
	}
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
)

func newReceiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Print live connection status and channel averages without the API",
		Args:  cobra.NoArgs,
		RunE:  runReceive,
	}
	cmd.Flags().BoolVar(&receiveNoOSC, "no-osc", false, "do not listen for OSC packets")
	cmd.Flags().StringVar(&receiveSerial, "serial", "", "serial port to read (default: configured port, \"mock\" for synthetic data)")
	return cmd
}

func runReceive(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	port := receiveSerial
	if port == "" {
		port = cfg.GetSerialPort()
	}
	if receiveNoOSC && port == "" {
		return fmt.Errorf("nothing to receive: OSC disabled and no serial port configured")
	}

	mon := eeg.NewMonitor(eeg.Config{
		Capacity: cfg.GetBufferCapacity(),
		Timeout:  cfg.GetConnectionTimeout(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if !receiveNoOSC {
		osc := network.NewService(network.ListenerConfig{
			Address: cfg.GetOSCAddr(),
			Handler: network.Handler{Sink: mon},
		})
		if err := osc.Start(gctx); err != nil {
			return fmt.Errorf("failed to start OSC listener: %w", err)
		}
		defer osc.Stop()
		monitoring.Logf("OSC listener on %s", osc.Addr())
	}

	serial, err := openSerial(port, cfg.GetSerialBaud(), cfg.GetSampleRate())
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	defer serial.Close()
	if err := serial.StartStream(); err != nil {
		return err
	}
	goSerial(gctx, g, serial, mon)

	g.Go(func() error {
		printStatusLoop(gctx, cmd.OutOrStdout(), mon, time.Second)
		return nil
	})
	return g.Wait()
}

func printStatusLoop(ctx context.Context, w io.Writer, mon *eeg.Monitor, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fmt.Fprintln(w, statusLine(mon))
		}
	}
}

// statusLine renders one line: quality, rate, buffer fill and the mean of
// the last ten samples per channel.
func statusLine(mon *eeg.Monitor) string {
	st := mon.Status()
	style, ok := qualityStyles[st.Quality]
	if !ok {
		style = dimStyle
	}
	var b strings.Builder
	b.WriteString(style.Render(fmt.Sprintf("%-12s", st.Quality)))
	b.WriteString(fmt.Sprintf(" %3d Hz  %6d buffered", st.SampleRate1s, st.Buffered))
	if avg, err := mon.LatestAverage(10); err == nil {
		for i, name := range eeg.ChannelNames {
			b.WriteString(dimStyle.Render(" " + name + "="))
			b.WriteString(fmt.Sprintf("%.1f", avg.Ch[i]))
		}
	} else {
		b.WriteString(dimStyle.Render("  no data"))
	}
	return b.String()
}
