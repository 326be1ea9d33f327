// Package board reads the sensor board over its serial link.
package board

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Board holds the latest sample decoded from the serial stream. Its getters
// are safe to call from any goroutine and never block on I/O.
type Board struct {
	port   io.ReadCloser
	logger *slog.Logger

	mu      sync.Mutex
	latest  Sample
	frames  uint64
	decoder Decoder
}

// New returns a Board reading frames from port. Until the first frame
// arrives the inputs read as zero and the switch as open.
func New(port io.ReadCloser, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		port:   port,
		logger: logger,
		latest: Sample{Switch: true},
	}
}

// Pedal returns the pedal position as a fraction of full scale.
func (b *Board) Pedal() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.latest.Pedal) / MaxADC
}

// Poti returns the raw potentiometer position as a fraction of full scale.
func (b *Board) Poti() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.latest.Poti) / MaxADC
}

// Switch returns the raw reversal switch level.
func (b *Board) Switch() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest.Switch
}

// Stats returns the number of decoded and rejected frames.
func (b *Board) Stats() (frames, rejected uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames, b.decoder.Rejected()
}

// Run reads the port until ctx is canceled or the port fails. A timed out
// read returns no data and no error, so the loop checks ctx between reads.
func (b *Board) Run(ctx context.Context) error {
	buf := make([]byte, 64)
	var warned uint64
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("board: stopping (context canceled)")
			return nil
		default:
		}

		n, err := b.port.Read(buf)
		if n > 0 {
			b.feed(buf[:n])
			if _, rejected := b.Stats(); rejected != warned {
				b.logger.Debug("board: malformed frames dropped", "total", rejected)
				warned = rejected
			}
		}
		if err != nil {
			return fmt.Errorf("board: read: %w", err)
		}
	}
}

func (b *Board) feed(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decoder.Feed(p, func(s Sample) {
		b.latest = s
		b.frames++
	})
}

// Close closes the underlying port.
func (b *Board) Close() error {
	b.logger.Info("board: closing port")
	return b.port.Close()
}
