package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/banshee-data/synapse/internal/eeg/network"
	"github.com/banshee-data/synapse/internal/security"
)

var (
	replayTarget string
	replayPort   int
	replaySpeed  float64
	replayQuiet  bool
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Replay OSC packets from a capture file to a UDP listener",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	cmd.Flags().StringVar(&replayTarget, "target", "", "destination host:port (default: configured OSC address)")
	cmd.Flags().IntVar(&replayPort, "port", 0, "only replay packets sent to this UDP port (0 for any)")
	cmd.Flags().Float64Var(&replaySpeed, "speed", 1, "playback speed multiplier; 0 sends as fast as possible")
	cmd.Flags().BoolVar(&replayQuiet, "quiet", false, "hide the progress bar")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	path, err := security.ValidateInputPath(args[0])
	if err != nil {
		return fmt.Errorf("invalid capture path: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target := replayTarget
	if target == "" {
		target = cfg.GetOSCAddr()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fwd, err := network.NewForwarder(target)
	if err != nil {
		return err
	}
	defer fwd.Close()

	out := cmd.ErrOrStderr()
	if replayQuiet {
		out = io.Discard
	}
	n, err := replayCapture(ctx, path, fwd, replayPort, replaySpeed, out)
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d packets to %s\n", n, target)
	return err
}

// replayCapture counts the matching packets, then sends them through fwd
// paced by speed, drawing progress on out.
func replayCapture(ctx context.Context, path string, fwd *network.Forwarder, port int, speed float64, out io.Writer) (int, error) {
	total, err := network.ReadPCAPFile(ctx, path, port, func(network.Packet) error { return nil })
	if err != nil {
		return 0, err
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("replaying"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	pacer := &network.Pacer{Speed: speed}
	n, err := network.ReadPCAPFile(ctx, path, port, func(p network.Packet) error {
		if err := pacer.Wait(ctx, p.Timestamp); err != nil {
			return err
		}
		if err := fwd.Send(p.Payload); err != nil {
			return err
		}
		return bar.Add(1)
	})
	_ = bar.Finish()
	return n, err
}
