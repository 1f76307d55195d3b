package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottopia-tech/rtp-fanout-server/pkg/rtp"
)

func item(ssrc uint32) Item {
	return Item{SSRC: ssrc, Packet: &rtp.Packet{SSRC: ssrc}}
}

func TestPush_SucceedsUnderCapacity(t *testing.T) {
	q := New(2)
	assert.True(t, q.Push(item(1)))
	assert.True(t, q.Push(item(2)))
	assert.Equal(t, 2, q.Len())
}

func TestPush_DropsWhenFull(t *testing.T) {
	q := New(1)
	require.True(t, q.Push(item(1)))
	assert.False(t, q.Push(item(2)))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, uint64(1), q.Pushed())
}

func TestPop_ReturnsInFIFOOrder(t *testing.T) {
	q := New(4)
	require.True(t, q.Push(item(1)))
	require.True(t, q.Push(item(2)))

	ctx := context.Background()
	first, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, uint32(1), first.SSRC)

	second, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, uint32(2), second.SSRC)
}

func TestPop_CancelledContext(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestCapReportsConfiguredSize(t *testing.T) {
	q := New(16)
	assert.Equal(t, 16, q.Cap())
}

func TestNew_ZeroCapacityClampedToOne(t *testing.T) {
	q := New(0)
	assert.Equal(t, 1, q.Cap())
}

func TestTryPop_EmptyReturnsFalse(t *testing.T) {
	q := New(4)
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestTryPop_ReturnsQueuedItem(t *testing.T) {
	q := New(4)
	require.True(t, q.Push(item(5)))
	got, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, uint32(5), got.SSRC)
}
