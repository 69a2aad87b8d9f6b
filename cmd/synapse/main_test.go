package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/synapse/internal/eeg"
	"github.com/banshee-data/synapse/internal/eeg/network"
	"github.com/banshee-data/synapse/internal/eeg/osc"
	"github.com/banshee-data/synapse/internal/regressor"
	"github.com/banshee-data/synapse/internal/serialmux"
	"github.com/banshee-data/synapse/internal/session"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "train", "models", "migrate", "replay", "receive", "report", "status", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestOpenSerial(t *testing.T) {
	mux, err := openSerial("", 115200, 256)
	require.NoError(t, err)
	assert.IsType(t, &serialmux.DisabledSerialMux{}, mux)

	mux, err = openSerial(serialmux.MockPortName, 115200, 256)
	require.NoError(t, err)
	assert.IsType(t, &serialmux.SerialMux[*serialmux.SyntheticPort]{}, mux)
	require.NoError(t, mux.Close())

	_, err = openSerial(filepath.Join(t.TempDir(), "no-such-tty"), 115200, 256)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestMigrateStatusCommand(t *testing.T) {
	t.Setenv("SYNAPSE_DB_PATH", filepath.Join(t.TempDir(), "synapse.db"))

	out, err := execute(t, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 0")
	assert.Contains(t, out, "Dirty: false")

	out, err = execute(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "All migrations applied")
	assert.Contains(t, out, "Pending: 0")

	_, err = execute(t, "migrate", "version", "abc")
	assert.ErrorContains(t, err, "invalid version number")
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"stage":"ready","socket_clients":0}`))
	}))
	defer srv.Close()

	out, err := execute(t, "status", "--url", srv.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, out, `"stage": "ready"`)
}

func TestWriteModelTable(t *testing.T) {
	var buf bytes.Buffer
	writeModelTable(&buf, []regressor.Summary{
		{Version: 1, TrainedAt: "2025-05-01T09:00:00Z", Samples: 20, TestR2: 0.5, TestMAE: 1.25, CVR2Mean: regressor.Unavailable()},
		{Version: 2, Active: true, Samples: 30, TestR2: 0.75, TestMAE: 1, CVR2Mean: 0.5},
		{Version: 3, Error: "corrupt artifact"},
	})
	out := buf.String()
	assert.Contains(t, out, "Version")
	assert.Contains(t, out, "*")
	assert.Contains(t, out, "corrupt artifact")
	assert.Contains(t, out, "2025-05-01T09:00:00Z")
}

func TestWriteConfusionPlot(t *testing.T) {
	pred, rating := 7.5, 6.0
	reviews := []session.Review{
		{SessionID: "s1", CardID: "a", Predicted: &pred, Score: 7.5, Source: "eeg"},
		{SessionID: "s1", CardID: "b", UserRating: &rating, Score: 6, Source: "user"},
		{SessionID: "s1", CardID: "c", Score: 5, Source: "neutral"},
	}
	path := filepath.Join(t.TempDir(), "confusion.png")
	require.NoError(t, writeConfusionPlot(path, "s1", reviews))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	noExt := filepath.Join(t.TempDir(), "plot")
	require.NoError(t, writeConfusionPlot(noExt, "", reviews))
	_, err = os.Stat(noExt + ".png")
	assert.NoError(t, err)
}

func TestStatusLine(t *testing.T) {
	mon := eeg.NewMonitor(eeg.Config{})
	line := statusLine(mon)
	assert.Contains(t, line, "disconnected")
	assert.Contains(t, line, "no data")

	mon.Ingest(eeg.Sample{Ch: [eeg.NumChannels]float64{800, 810, 820, 830}})
	line = statusLine(mon)
	assert.Contains(t, line, "tp9=")
	assert.Contains(t, line, "830.0")
}

func writeCapture(t *testing.T, path string, port uint16, payloads ...[]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	ts := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, p := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
			SrcIP: net.IPv4(10, 0, 0, 2), DstIP: net.IPv4(10, 0, 0, 1),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(port)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(p)))
		data := sb.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * 4 * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
}

func TestReplayCapture(t *testing.T) {
	var payloads [][]byte
	for i := 0; i < 3; i++ {
		b, err := osc.EEG(800, 810, 820, float32(830+i)).MarshalBinary()
		require.NoError(t, err)
		payloads = append(payloads, b)
	}
	path := filepath.Join(t.TempDir(), "session.pcap")
	writeCapture(t, path, 5000, payloads...)

	mon := eeg.NewMonitor(eeg.Config{})
	svc := network.NewService(network.ListenerConfig{Address: "127.0.0.1:0", Handler: network.Handler{Sink: mon}})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	fwd, err := network.NewForwarder(svc.Addr())
	require.NoError(t, err)
	defer fwd.Close()

	var progress bytes.Buffer
	n, err := replayCapture(context.Background(), path, fwd, 5000, 0, &progress)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Eventually(t, func() bool { return mon.Len() == 3 }, 2*time.Second, 5*time.Millisecond)

	n, err = replayCapture(context.Background(), path, fwd, 6000, 0, &progress)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
