package device

import (
	"context"
	"log/slog"
	"time"

	"gitlab.com/gomidi/midi/v2"
)

// Handler is the lifecycle and configuration surface of a device.
type Handler interface {
	Reset()
	ControlChange(channel, controller, value uint8)
	Resync()
	ExportConfig() ([]byte, error)
	ImportConfig(doc []byte) error
	Schema() ([]byte, error)
	Status() Status
}

var _ Handler = (*Device)(nil)

const (
	inboundQueueSize = 64
	requestQueueSize = 16
)

type inbound struct {
	port int
	msg  midi.Message
}

type request struct {
	ctx  context.Context
	fn   func(Handler)
	done chan struct{}
}

// Runner owns a Device and drives it from a single goroutine. Other
// goroutines reach the device only through Deliver and Do.
type Runner struct {
	dev      *Device
	inbound  chan inbound
	requests chan request
	idle     time.Duration
	logger   *slog.Logger
}

// NewRunner returns a runner for dev. idle is the pause between loop
// iterations; zero spins.
func NewRunner(dev *Device, idle time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dev:      dev,
		inbound:  make(chan inbound, inboundQueueSize),
		requests: make(chan request, requestQueueSize),
		idle:     idle,
		logger:   logger,
	}
}

// Deliver queues an inbound MIDI message without blocking. It reports
// false when the queue is full and the message was dropped.
func (r *Runner) Deliver(port int, msg midi.Message) bool {
	select {
	case r.inbound <- inbound{port: port, msg: msg}:
		return true
	default:
		r.logger.Warn("runner: inbound queue full, dropping message", "port", port, "msg", msg.String())
		return false
	}
}

// Do runs fn on the loop goroutine and waits for it to finish. If ctx
// ends before the loop picks the request up, fn is never run.
func (r *Runner) Do(ctx context.Context, fn func(Handler)) error {
	req := request{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case r.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loops until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("runner: started", "idle", r.idle)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner: stopping (context canceled)")
			return
		default:
		}
		r.step()
		if r.idle > 0 {
			time.Sleep(r.idle)
		}
	}
}

// step is one loop iteration. Inbound messages are dispatched before the
// scheduler runs so a reset takes effect in the same pass.
func (r *Runner) step() {
messages:
	for {
		select {
		case in := <-r.inbound:
			r.dev.HandleMessage(in.port, in.msg)
		default:
			break messages
		}
	}
requests:
	for {
		select {
		case req := <-r.requests:
			if err := req.ctx.Err(); err != nil {
				r.logger.Debug("runner: dropping expired request", "err", err)
			} else {
				req.fn(r.dev)
			}
			close(req.done)
		default:
			break requests
		}
	}
	r.dev.Poll()
}
