package can

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggedBus is a Bus decorator that logs Send/Receive operations.

// LogOption is a bitmask for selecting which operations to log.
type LogOption uint8

const (
	LogNone LogOption = 0
	LogRead LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedBus wraps the given Bus and logs selected operations.
func NewLoggedBus(inner Bus, logger zerolog.Logger, opts LogOption) Bus {
	return &loggedBus{inner: inner, logger: logger, opts: opts}
}

// NewLoggedBusWithFilter wraps the given Bus and logs selected operations but
// only for frames that satisfy the provided filter. If filter is nil, all
// frames are considered for logging (same as NewLoggedBus behavior).
func NewLoggedBusWithFilter(inner Bus, logger zerolog.Logger, opts LogOption, filter FrameFilter) Bus {
	return &loggedBus{inner: inner, logger: logger, opts: opts, filter: filter}
}

type loggedBus struct {
	inner  Bus
	logger zerolog.Logger
	opts   LogOption
	filter FrameFilter
}

// Send logs the frame and the result when write logging is enabled.
func (l *loggedBus) Send(ctx context.Context, frame Frame) error {
	if l.opts&LogWrite != 0 && (l.filter == nil || l.filter(frame)) {
		l.logger.Debug().
			Uint32("id", frame.ID).
			Bool("extended", frame.Extended).
			Int("len", int(frame.Len)).
			Hex("data", frame.Payload()).
			Msg("can send")
	}
	err := l.inner.Send(ctx, frame)
	if l.opts&LogWrite != 0 && err != nil {
		l.logger.Error().
			Uint32("id", frame.ID).
			Err(err).
			Msg("can send error")
	}
	return err
}

// Receive logs the received frame or error when read logging is enabled.
func (l *loggedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := l.inner.Receive(ctx)
	if l.opts&LogRead != 0 {
		if err != nil {
			l.logger.Error().Err(err).Msg("can receive error")
		} else if l.filter == nil || l.filter(f) {
			l.logger.Debug().
				Uint32("id", f.ID).
				Bool("extended", f.Extended).
				Int("len", int(f.Len)).
				Hex("data", f.Payload()).
				Msg("can receive")
		}
	}
	return f, err
}

// Close forwards to the inner Bus without logging.
func (l *loggedBus) Close() error {
	return l.inner.Close()
}
