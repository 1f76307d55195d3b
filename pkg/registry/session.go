package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Subscriber is one destination a session's packets are replicated to.
type Subscriber struct {
	Addr     *net.UDPAddr
	JoinedAt time.Time

	lastSeq     atomic.Uint32 // stores a uint16, advisory only
	packetCount atomic.Uint64
}

// RecordSent updates the advisory last-forwarded-sequence and counter for
// this subscriber. Never used for ordering decisions — only for
// observability.
func (s *Subscriber) RecordSent(seq uint16) {
	s.lastSeq.Store(uint32(seq))
	s.packetCount.Add(1)
}

func (s *Subscriber) LastSeq() uint16        { return uint16(s.lastSeq.Load()) }
func (s *Subscriber) PacketCount() uint64    { return s.packetCount.Load() }

// Session is the relay-side representation of one live SSRC stream: its
// source, its subscriber set, and its activity/traffic counters. A Session
// is only ever reachable through a Registry; callers that hold a *Session
// keep it alive via ordinary Go garbage collection even after the registry
// has removed its own references — there is no manual reference count (see
// SPEC_FULL.md §3/§9).
type Session struct {
	ID         uuid.UUID
	SourceAddr *net.UDPAddr
	SSRC       uint32
	CreatedAt  time.Time

	lastActivityNano atomic.Int64 // unix nanoseconds, "write wins last"
	packetCount      atomic.Uint64
	byteCount        atomic.Uint64

	subsMu    sync.RWMutex
	subs      map[string]*Subscriber
	subsCount atomic.Int64
}

func newSession(sourceAddr *net.UDPAddr, ssrc uint32) *Session {
	now := time.Now()
	s := &Session{
		ID:         uuid.New(),
		SourceAddr: sourceAddr,
		SSRC:       ssrc,
		CreatedAt:  now,
		subs:       make(map[string]*Subscriber),
	}
	s.lastActivityNano.Store(now.UnixNano())
	return s
}

func (s *Session) touch() {
	s.lastActivityNano.Store(time.Now().UnixNano())
}

// LastActivity returns the last time this session saw ingress traffic or an
// admission-interface mutation. Advisory: concurrent writers may race, and
// the later write wins, which is the behavior SPEC_FULL.md §5 calls for.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivityNano.Load())
}

// RecordPacket increments the aggregate counters and touches last-activity.
// Called once per ingested packet for this session, regardless of how many
// subscribers it fans out to.
func (s *Session) RecordPacket(payloadLen int) {
	s.packetCount.Add(1)
	s.byteCount.Add(uint64(payloadLen))
	s.touch()
}

func (s *Session) PacketCount() uint64 { return s.packetCount.Load() }
func (s *Session) ByteCount() uint64   { return s.byteCount.Load() }

// addSubscriber inserts addr into the subscriber set, rejecting the call
// with ErrFanoutFull once the set already holds maxFanout entries. Adding
// an address already present is idempotent and still touches last-activity.
func (s *Session) addSubscriber(addr *net.UDPAddr, maxFanout int) error {
	key := addr.String()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if _, exists := s.subs[key]; exists {
		s.touch()
		return nil
	}
	if len(s.subs) >= maxFanout {
		return ErrFanoutFull
	}

	s.subs[key] = &Subscriber{Addr: addr, JoinedAt: time.Now()}
	s.subsCount.Add(1)
	s.touch()
	return nil
}

// removeSubscriber deletes addr from the subscriber set, reporting whether
// it was present.
func (s *Session) removeSubscriber(addr *net.UDPAddr) bool {
	key := addr.String()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if _, exists := s.subs[key]; !exists {
		return false
	}
	delete(s.subs, key)
	s.subsCount.Add(-1)
	s.touch()
	return true
}

// SnapshotSubscribers returns a shallow copy of the current subscriber
// addresses. Taken once per packet in the fan-out path so the send loop is
// decoupled from concurrent subscribe/unsubscribe calls: a subscriber
// removed while a packet is being fanned out may still receive that packet,
// one added meanwhile may miss it. Both are acceptable per SPEC_FULL.md
// §4.5.
func (s *Session) SnapshotSubscribers() []*Subscriber {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	out := make([]*Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// SubscriberCount returns the current fan-out size without copying the set.
func (s *Session) SubscriberCount() int {
	return int(s.subsCount.Load())
}
