package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate suits OpenBCI Cyton and most Arduino EEG shields.
const DefaultBaudRate = 115200

// DefaultFraming is eight data bits, no parity and one stop bit.
const DefaultFraming = "8N1"

// PortOptions configures a real serial port.
type PortOptions struct {
	BaudRate int `json:"baud_rate"`
	// Framing is written the way terminal programs show it: data bits,
	// parity letter (N, E or O) and stop bits, such as "8N1" or "7E2".
	Framing string `json:"framing"`
}

var parities = map[byte]serial.Parity{
	'N': serial.NoParity,
	'E': serial.EvenParity,
	'O': serial.OddParity,
}

// Mode validates o and builds the serial.Mode used to open the port.
// Zero fields take DefaultBaudRate and DefaultFraming.
func (o PortOptions) Mode() (*serial.Mode, error) {
	baud := o.BaudRate
	switch {
	case baud < 0:
		return nil, fmt.Errorf("invalid baud rate %d", baud)
	case baud == 0:
		baud = DefaultBaudRate
	}

	framing := strings.ToUpper(strings.TrimSpace(o.Framing))
	if framing == "" {
		framing = DefaultFraming
	}
	if len(framing) != 3 {
		return nil, fmt.Errorf("invalid framing %q: want data bits, parity, stop bits such as 8N1", o.Framing)
	}
	data := int(framing[0] - '0')
	if data < 5 || data > 8 {
		return nil, fmt.Errorf("invalid framing %q: data bits must be 5 to 8", o.Framing)
	}
	parity, ok := parities[framing[1]]
	if !ok {
		return nil, fmt.Errorf("invalid framing %q: parity must be N, E or O", o.Framing)
	}
	var stop serial.StopBits
	switch framing[2] {
	case '1':
		stop = serial.OneStopBit
	case '2':
		stop = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid framing %q: stop bits must be 1 or 2", o.Framing)
	}

	return &serial.Mode{BaudRate: baud, DataBits: data, Parity: parity, StopBits: stop}, nil
}
