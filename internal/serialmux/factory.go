package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenFunc opens a serial port. Tests substitute their own.
type OpenFunc func(path string, mode *serial.Mode) (serial.Port, error)

// NewRealSerialMux opens the board at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	return openPort(serial.Open, path, opts)
}

func openPort(open OpenFunc, path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s at %d baud: %w", path, mode.BaudRate, err)
	}
	// Stale bytes from before the open would otherwise arrive as a
	// truncated first line.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset serial port %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}

// ListPorts returns the serial ports visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
