package can

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackBusSendReceive(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()

	a := bus.Open()
	b := bus.Open()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	send := MustFrame(0x1234567, []byte("hello"))
	require.NoError(t, a.Send(ctx, send))

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, send, got)
}

func TestLoopbackBusNoEchoToSender(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()

	a := bus.Open()
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Send(ctx, MustFrame(0x100, nil)))

	short, scancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer scancel()
	_, err := a.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoopbackBusClosedEndpoint(t *testing.T) {
	bus := NewLoopbackBus()
	a := bus.Open()
	require.NoError(t, bus.Close())

	ctx := context.Background()
	err := a.Send(ctx, MustFrame(0x100, nil))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = a.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMuxFanOutWithFilters(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()

	sender := bus.Open()
	mux := NewMux(bus.Open())
	defer mux.Close()

	all, cancelAll := mux.Subscribe(nil, 4)
	defer cancelAll()
	only200, cancel200 := mux.Subscribe(ByID(0x200), 4)
	defer cancel200()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sender.Send(ctx, MustFrame(0x100, []byte{1})))
	require.NoError(t, sender.Send(ctx, MustFrame(0x200, []byte{2})))

	recv := func(ch <-chan Frame) Frame {
		select {
		case f := <-ch:
			return f
		case <-ctx.Done():
			t.Fatal("frame not delivered")
			return Frame{}
		}
	}

	assert.Equal(t, uint32(0x100), recv(all).ID)
	assert.Equal(t, uint32(0x200), recv(all).ID)
	assert.Equal(t, uint32(0x200), recv(only200).ID)

	select {
	case f := <-only200:
		t.Fatalf("unexpected frame %v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMuxSubscribeCancelClosesChannel(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()

	mux := NewMux(bus.Open())
	defer mux.Close()

	ch, cancel := mux.Subscribe(nil, 1)
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestFilterCombinators(t *testing.T) {
	ext := MustFrame(0x1ABC, nil) // >0x7FF so extended
	assert.True(t, ExtendedOnly()(ext))
	assert.True(t, And(ExtendedOnly(), LenAtMost(0))(ext))
	assert.False(t, And(ExtendedOnly(), Not(LenAtMost(0)))(ext))
	assert.True(t, Or(ByID(0xFFF), ByMask(0x1ABC, 0xFFFF))(ext))
	assert.True(t, ByAcceptance(AcceptanceFilter{Filter: 0x1A00, Mask: 0xFF00})(ext))
}
