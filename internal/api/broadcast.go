package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/chase3718/pedalmidi/internal/device"
)

// Message types on the status stream.
const (
	TypeStatusInit = "status_init"
	TypeStatus     = "status"
)

// coalesceWindow bounds how often status updates reach clients. Within a
// window only the latest status is sent.
const coalesceWindow = 50 * time.Millisecond

// envelope is the wire format of stream messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(typ string, data any) ([]byte, error) {
	now := time.Now().UTC()
	return json.Marshal(envelope{Type: typ, Ts: &now, Data: data})
}

// RunBroadcaster forwards statuses from src to the hub. The first update of
// a burst starts a window; when it closes the latest status is broadcast,
// and the window restarts while updates keep arriving.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan device.Status, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	var pending *device.Status
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if pending == nil {
			return
		}
		msg, err := marshalEnvelope(TypeStatus, *pending)
		pending = nil
		if err != nil {
			logger.Warn("api: broadcaster marshal failed", "err", err)
			return
		}
		hub.BroadcastBytes(msg)
	}
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stop()
			return

		case <-timerC:
			timer, timerC = nil, nil
			if pending != nil {
				flush()
				timer = time.NewTimer(coalesceWindow)
				timerC = timer.C
			}

		case st, ok := <-src:
			if !ok {
				flush()
				stop()
				logger.Info("api: broadcaster stopping (source ended)")
				return
			}
			pending = &st
			if timer == nil {
				timer = time.NewTimer(coalesceWindow)
				timerC = timer.C
			}
		}
	}
}
