package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// Opener opens a multiplexed port. Sources take an Opener so tests can
// substitute an in-memory port.
type Opener func(path string, opts PortOptions) (Mux, error)

// OpenReal is the Opener backed by go.bug.st/serial.
func OpenReal(path string, opts PortOptions) (Mux, error) {
	return NewRealSerialMux(path, opts)
}

// NewRealSerialMux creates a SerialMux backed by a real serial port at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}
