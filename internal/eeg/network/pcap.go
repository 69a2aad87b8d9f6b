package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Packet is one UDP payload read from a capture.
type Packet struct {
	Payload   []byte
	Timestamp time.Time
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

const pcapngMagic = 0x0A0D0D0A

func newPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// ReadPCAP calls fn with every UDP payload addressed to port (any port
// when port is 0) in capture order. fn errors stop the read.
func ReadPCAP(ctx context.Context, r io.Reader, port int, fn func(Packet) error) (int, error) {
	pr, err := newPacketReader(r)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read packet %d: %w", n+1, err)
		}
		pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		n++
		if err := fn(Packet{Payload: udp.Payload, Timestamp: ci.Timestamp}); err != nil {
			return n, err
		}
	}
}

// ReadPCAPFile opens path and calls ReadPCAP.
func ReadPCAPFile(ctx context.Context, path string, port int, fn func(Packet) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	defer f.Close()
	return ReadPCAP(ctx, f, port, fn)
}

// Pacer delays each packet so gaps between capture timestamps are
// reproduced, divided by Speed. Speed ≤ 0 disables pacing.
type Pacer struct {
	Speed float64
	// Sleep waits for d or until ctx is done; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	prev time.Time
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks for the scaled gap between ts and the previous timestamp.
func (p *Pacer) Wait(ctx context.Context, ts time.Time) error {
	prev := p.prev
	p.prev = ts
	if p.Speed <= 0 || prev.IsZero() || !ts.After(prev) {
		return nil
	}
	d := time.Duration(float64(ts.Sub(prev)) / p.Speed)
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return sleep(ctx, d)
}

// Forwarder sends payloads to a UDP destination.
type Forwarder struct {
	conn *net.UDPConn
}

// NewForwarder dials target ("host:port").
func NewForwarder(target string) (*Forwarder, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return &Forwarder{conn: conn}, nil
}

func (f *Forwarder) Send(payload []byte) error {
	_, err := f.conn.Write(payload)
	return err
}

func (f *Forwarder) Close() error { return f.conn.Close() }
