package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversRemoteNotSelf(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	a, err := bus.Open(ctx, "ws1/doclog", "origin-a")
	require.NoError(t, err)
	defer a.Close()

	b, err := bus.Open(ctx, "ws1/doclog", "origin-b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Publish(ctx, Delta{Origin: "origin-a", Data: []byte("hi")}))

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := b.Next(recvCtx)
	require.NoError(t, err)
	require.Equal(t, "origin-a", got.Origin)
	require.Equal(t, []byte("hi"), got.Data)

	// a must never see its own publish even though it shares the
	// channel; Next should time out.
	selfCtx, cancel2 := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel2()
	_, err = a.Next(selfCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
