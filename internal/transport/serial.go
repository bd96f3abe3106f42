package transport

import (
	"fmt"

	"go.bug.st/serial"
	"go.uber.org/atomic"
)

// serialPort adapts a go.bug.st serial port to Transport, mapping reads and
// writes after Close to ErrClosed.
type serialPort struct {
	port   serial.Port
	name   string
	closed atomic.Bool
}

// OpenSerial opens a serial device as 8N1 at opts.BaudRate with the given
// read timeout.
func OpenSerial(opts Options) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", opts.Port, err)
	}
	if opts.ReadTimeout > 0 {
		if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", opts.Port, err)
		}
	}
	return &serialPort{port: port, name: opts.Port}, nil
}

func (s *serialPort) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	n, err := s.port.Read(p)
	if err != nil && s.closed.Load() {
		return n, ErrClosed
	}
	return n, err
}

func (s *serialPort) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.port.Write(p)
}

func (s *serialPort) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.port.Close()
}

func (s *serialPort) String() string { return s.name }

// ListPorts returns the serial devices present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}
