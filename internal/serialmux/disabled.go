package serialmux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledSerialMux stands in when no board is attached. It never
// produces lines. Commands are recorded instead of written, and Monitor
// idles until its context ends.
type DisabledSerialMux struct {
	mu       sync.Mutex
	subs     map[string]chan string
	closed   bool
	commands []string
}

var _ SerialMuxInterface = (*DisabledSerialMux)(nil)

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: map[string]chan string{}}
}

// Subscribe returns a channel that only ever closes. After Close it is
// returned already closed.
func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subs[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(id)
}

// drop closes and forgets one subscriber. d.mu must be held.
func (d *DisabledSerialMux) drop(id string) {
	if ch, ok := d.subs[id]; ok {
		close(ch)
		delete(d.subs, id)
	}
}

func (d *DisabledSerialMux) SendCommand(command string) error {
	d.mu.Lock()
	d.commands = append(d.commands, command)
	d.mu.Unlock()
	return nil
}

func (d *DisabledSerialMux) StartStream(commands ...string) error {
	for _, c := range commands {
		if err := d.SendCommand(c); err != nil {
			return err
		}
	}
	return nil
}

// Commands returns every command sent so far, oldest first.
func (d *DisabledSerialMux) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id := range d.subs {
		d.drop(id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
}
