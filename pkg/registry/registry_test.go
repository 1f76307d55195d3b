package registry

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

func TestCreate_OneSessionPerSSRC(t *testing.T) {
	r := New(DefaultConfig())
	src := udpAddr(t, "127.0.0.1:5000")

	first, err := r.Create(src, 0xDEADBEEF)
	require.NoError(t, err)

	second, err := r.Create(src, 0xDEADBEEF)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, r.Count())
}

func TestCreate_ConcurrentRaceYieldsOneSession(t *testing.T) {
	r := New(DefaultConfig())
	src := udpAddr(t, "127.0.0.1:5000")

	const workers = 50
	ids := make([]chan [16]byte, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		ids[i] = make(chan [16]byte, 1)
		wg.Add(1)
		go func(ch chan [16]byte) {
			defer wg.Done()
			s, err := r.Create(src, 42)
			require.NoError(t, err)
			ch <- s.ID
		}(ids[i])
	}
	wg.Wait()

	first := <-ids[0]
	for i := 1; i < workers; i++ {
		id := <-ids[i]
		assert.Equal(t, first, id)
	}
	assert.Equal(t, 1, r.Count())
}

func TestCreate_CapacityRejected(t *testing.T) {
	r := New(Config{MaxSessions: 2, MaxFanoutPerSession: 10, ShardCount: 4})
	src := udpAddr(t, "127.0.0.1:5000")

	_, err := r.Create(src, 1)
	require.NoError(t, err)
	_, err = r.Create(src, 2)
	require.NoError(t, err)

	_, err = r.Create(src, 3)
	require.ErrorIs(t, err, ErrAtCapacity)
	assert.Equal(t, 2, r.Count())
}

func TestGetBySSRC_Miss(t *testing.T) {
	r := New(DefaultConfig())
	_, ok := r.GetBySSRC(999)
	assert.False(t, ok)
}

func TestGetByID_RoundTrip(t *testing.T) {
	r := New(DefaultConfig())
	src := udpAddr(t, "127.0.0.1:5000")

	s, err := r.Create(src, 7)
	require.NoError(t, err)

	found, ok := r.GetByID(s.ID)
	require.True(t, ok)
	assert.Equal(t, s.SSRC, found.SSRC)
}

func TestAddSubscriber_NoSession(t *testing.T) {
	r := New(DefaultConfig())
	err := r.AddSubscriber(123, udpAddr(t, "127.0.0.1:6000"))
	require.ErrorIs(t, err, ErrNoSession)
}

func TestAddSubscriber_MaxFanoutEnforced(t *testing.T) {
	r := New(Config{MaxSessions: 10, MaxFanoutPerSession: 2, ShardCount: 4})
	src := udpAddr(t, "127.0.0.1:5000")
	_, err := r.Create(src, 1)
	require.NoError(t, err)

	require.NoError(t, r.AddSubscriber(1, udpAddr(t, "127.0.0.1:6001")))
	require.NoError(t, r.AddSubscriber(1, udpAddr(t, "127.0.0.1:6002")))

	err = r.AddSubscriber(1, udpAddr(t, "127.0.0.1:6003"))
	require.ErrorIs(t, err, ErrFanoutFull)
	assert.Equal(t, 2, r.TotalSubscribers())
}

func TestAddSubscriber_IdempotentForSameAddr(t *testing.T) {
	r := New(Config{MaxSessions: 10, MaxFanoutPerSession: 1, ShardCount: 4})
	src := udpAddr(t, "127.0.0.1:5000")
	_, err := r.Create(src, 1)
	require.NoError(t, err)

	sub := udpAddr(t, "127.0.0.1:6001")
	require.NoError(t, r.AddSubscriber(1, sub))
	require.NoError(t, r.AddSubscriber(1, sub))
	assert.Equal(t, 1, r.TotalSubscribers())
}

func TestRemoveSubscriber(t *testing.T) {
	r := New(DefaultConfig())
	src := udpAddr(t, "127.0.0.1:5000")
	_, err := r.Create(src, 1)
	require.NoError(t, err)

	sub := udpAddr(t, "127.0.0.1:6001")
	require.NoError(t, r.AddSubscriber(1, sub))

	assert.True(t, r.RemoveSubscriber(1, sub))
	assert.False(t, r.RemoveSubscriber(1, sub))
	assert.Equal(t, 0, r.TotalSubscribers())
}

func TestRemoveByID(t *testing.T) {
	r := New(DefaultConfig())
	src := udpAddr(t, "127.0.0.1:5000")
	s, err := r.Create(src, 1)
	require.NoError(t, err)

	assert.True(t, r.RemoveByID(s.ID))
	assert.Equal(t, 0, r.Count())

	_, ok := r.GetBySSRC(1)
	assert.False(t, ok)
	_, ok = r.GetByID(s.ID)
	assert.False(t, ok)

	assert.False(t, r.RemoveByID(s.ID))
}

func TestSweepExpired(t *testing.T) {
	r := New(DefaultConfig())
	src := udpAddr(t, "127.0.0.1:5000")

	stale, err := r.Create(src, 1)
	require.NoError(t, err)
	fresh, err := r.Create(src, 2)
	require.NoError(t, err)

	now := time.Now()
	stale.lastActivityNano.Store(now.Add(-2 * time.Minute).UnixNano())
	fresh.lastActivityNano.Store(now.UnixNano())

	removed := r.SweepExpired(now, time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, r.Count())

	_, ok := r.GetBySSRC(1)
	assert.False(t, ok)
	_, ok = r.GetBySSRC(2)
	assert.True(t, ok)
}

func TestSweepExpired_NoneExpired(t *testing.T) {
	r := New(DefaultConfig())
	src := udpAddr(t, "127.0.0.1:5000")
	_, err := r.Create(src, 1)
	require.NoError(t, err)

	removed := r.SweepExpired(time.Now(), time.Hour)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, r.Count())
}

func TestRecordPacket_UpdatesCountersAndActivity(t *testing.T) {
	r := New(DefaultConfig())
	src := udpAddr(t, "127.0.0.1:5000")
	s, err := r.Create(src, 1)
	require.NoError(t, err)

	before := s.LastActivity()
	time.Sleep(time.Millisecond)
	s.RecordPacket(160)

	assert.Equal(t, uint64(1), s.PacketCount())
	assert.Equal(t, uint64(160), s.ByteCount())
	assert.True(t, s.LastActivity().After(before))
}
