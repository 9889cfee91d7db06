//go:build linux

// Package serialport adapts github.com/daedaluz/goserial to the
// tpuart.SerialPort interface, configuring the line for the TP-UART2
// chip's fixed 19200 8E1 framing.
package serialport

import (
	"fmt"
	"time"

	serial "github.com/daedaluz/goserial"
)

// readPollInterval bounds how long a single non-blocking Read call may
// wait for a byte before giving up and returning zero, matching the
// polling contract tpuart.SerialPort expects.
const readPollInterval = time.Millisecond

// Port wraps a goserial connection opened and configured for TP-UART2
// traffic: 19200 baud, 8 data bits, even parity, one stop bit.
type Port struct {
	port *serial.Port
}

// Open opens name and configures it for TP-UART2 communication.
func Open(name string) (*Port, error) {
	opts := serial.NewOptions().SetReadTimeout(readPollInterval)
	sp, err := serial.Open(name, opts)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", name, err)
	}

	attrs, err := sp.GetAttr()
	if err != nil {
		sp.Close()
		return nil, fmt.Errorf("serialport: get attributes: %w", err)
	}

	attrs.MakeRaw()
	attrs.SetSpeed(serial.B19200)
	attrs.Cflag &^= serial.CSTOPB              // one stop bit
	attrs.Cflag |= serial.PARENB               // even parity: enabled, ODD unset
	attrs.Cflag &^= serial.PARODD
	attrs.Cflag |= serial.CREAD | serial.CLOCAL

	if err := sp.SetAttr(serial.TCSANOW, attrs); err != nil {
		sp.Close()
		return nil, fmt.Errorf("serialport: set attributes: %w", err)
	}

	return &Port{port: sp}, nil
}

// Read implements tpuart.SerialPort: it returns (0, nil) if no byte
// arrives within the configured read-poll interval.
func (p *Port) Read(buf []byte) (int, error) {
	n, err := p.port.Read(buf)
	if err != nil {
		return 0, nil //nolint:nilerr // read timeout is the normal "nothing waiting" case
	}
	return n, nil
}

// Write implements tpuart.SerialPort.
func (p *Port) Write(buf []byte) (int, error) {
	return p.port.Write(buf)
}

// Close implements tpuart.SerialPort.
func (p *Port) Close() error {
	return p.port.Close()
}
