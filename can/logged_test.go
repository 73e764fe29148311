package can

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasLogLine(buf *bytes.Buffer, level, msg string) bool {
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, `"level":"`+level+`"`) &&
			strings.Contains(line, `"message":"`+msg+`"`) {
			return true
		}
	}
	return false
}

func TestLoggedBusWriteAndReadLogging(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()

	var out bytes.Buffer
	logger := zerolog.New(&out)

	// Wrap both endpoints to verify read and write logging independently.
	sender := NewLoggedBus(lb.Open(), logger, LogWrite)
	receiver := NewLoggedBus(lb.Open(), logger, LogRead)
	defer sender.Close()
	defer receiver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, sender.Send(ctx, MustFrame(0x123, []byte{1, 2, 3})))
	_, err := receiver.Receive(ctx)
	require.NoError(t, err)

	assert.True(t, hasLogLine(&out, "debug", "can send"), "expected write log entry")
	assert.True(t, hasLogLine(&out, "debug", "can receive"), "expected read log entry")
}

func TestLoggedBusOptionsSuppressUnselectedOps(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()

	var out bytes.Buffer
	sender := NewLoggedBus(lb.Open(), zerolog.New(&out), LogRead)
	sink := lb.Open()
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sender.Send(ctx, MustFrame(0x123, nil)))
	assert.False(t, hasLogLine(&out, "debug", "can send"), "write logging not selected")
}

func TestLoggedBusFilterLimitsLoggedFrames(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()

	var out bytes.Buffer
	sender := NewLoggedBusWithFilter(lb.Open(), zerolog.New(&out), LogWrite, ByID(0x200))
	sink := lb.Open()
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, sender.Send(ctx, MustFrame(0x100, nil)))
	assert.False(t, hasLogLine(&out, "debug", "can send"), "non-matching frame must not be logged")

	require.NoError(t, sender.Send(ctx, MustFrame(0x200, nil)))
	assert.True(t, hasLogLine(&out, "debug", "can send"), "matching frame must be logged")
}

func TestLoggedBusErrorLogging(t *testing.T) {
	lb := NewLoopbackBus()
	ep := lb.Open()
	require.NoError(t, lb.Close())

	var out bytes.Buffer
	wrapped := NewLoggedBus(ep, zerolog.New(&out), LogAll)
	ctx := context.Background()

	_, err := wrapped.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, hasLogLine(&out, "error", "can receive error"))

	err = wrapped.Send(ctx, MustFrame(0x100, nil))
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, hasLogLine(&out, "error", "can send error"))
}
