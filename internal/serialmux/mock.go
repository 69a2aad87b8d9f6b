package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// MockPortName selects the synthetic board in place of a device path.
const MockPortName = "mock"

var errPortClosed = errors.New("serial port closed")

// SyntheticPort emits CSV sample lines at a fixed rate: an alpha-band sine
// per channel with a slow per-channel phase offset. Writes are accepted and
// discarded.
type SyntheticPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	once sync.Once
	done chan struct{}
}

// NewMockSerialMux returns a SerialMux over a SyntheticPort producing rate
// lines per second.
func NewMockSerialMux(rate int) *SerialMux[*SyntheticPort] {
	return NewSerialMux(NewSyntheticPort(rate))
}

func NewSyntheticPort(rate int) *SyntheticPort {
	if rate <= 0 {
		rate = 256
	}
	r, w := io.Pipe()
	p := &SyntheticPort{r: r, w: w, done: make(chan struct{})}
	go p.generate(rate)
	return p
}

func (p *SyntheticPort) generate(rate int) {
	defer p.w.Close()
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		t := float64(n) / float64(rate)
		var line bytes.Buffer
		for ch := 0; ch < 4; ch++ {
			if ch > 0 {
				line.WriteByte(',')
			}
			v := 20*math.Sin(2*math.Pi*10*t+float64(ch)) + 5*math.Sin(2*math.Pi*6*t)
			fmt.Fprintf(&line, "%.3f", v)
		}
		line.WriteByte('\n')
		if _, err := p.w.Write(line.Bytes()); err != nil {
			return
		}
		n++
	}
}

func (p *SyntheticPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *SyntheticPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *SyntheticPort) Close() error {
	p.once.Do(func() { close(p.done) })
	return p.r.Close()
}

// TestableSerialPort implements SerialPorter with configurable behaviour for
// tests: scripted reads, captured writes and injected errors.
type TestableSerialPort struct {
	mu sync.Mutex

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	// ReadError and WriteError are returned once by the next call.
	ReadError  error
	WriteError error
	CloseError error

	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool

	Closed     bool
	WriteCalls int

	// BlockReads makes Read wait for data or Close instead of returning
	// io.EOF on an empty buffer.
	BlockReads bool

	readCond *sync.Cond
}

func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	for t.BlockReads && !t.Closed && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.Closed {
		return 0, errPortClosed
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	n, err := t.WriteBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData queues data for subsequent reads.
func (t *TestableSerialPort) AddReadData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.WriteString(data)
	t.readCond.Broadcast()
}

// Written returns everything written to the port so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.String()
}
