package board

import (
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

// readTimeout bounds each Read so Run notices cancellation.
const readTimeout = 100 * time.Millisecond

// OpenSerial opens the named serial device at the given baud rate and returns
// a Board reading from it.
func OpenSerial(name string, baud int, logger *slog.Logger) (*Board, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial: set read timeout: %w", err)
	}
	logger.Info("serial: port opened", "device", name, "baud", baud)
	return New(p, logger), nil
}

// ListSerial returns the serial devices present on the host.
func ListSerial() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: list ports: %w", err)
	}
	return ports, nil
}
