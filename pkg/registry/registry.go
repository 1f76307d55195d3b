// Package registry implements the session registry described in
// SPEC_FULL.md §4.2: SSRC→Session and UUID→Session indices, the
// add/remove-subscriber admission interface, and the expiry sweep.
//
// The SSRC index is sharded so the hot ingress read path (GetBySSRC) never
// contends with other shards' readers or writers; the UUID index is a
// sync.Map since administrative lookups by ID are cold.
package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultShardCount = 32

type shard struct {
	mu     sync.RWMutex
	bySSRC map[uint32]*Session
}

// Config controls registry capacity limits. Zero values fall back to the
// defaults named in SPEC_FULL.md §6.
type Config struct {
	MaxSessions         int
	MaxFanoutPerSession int
	ShardCount          int
}

// DefaultConfig returns the configuration defaults from SPEC_FULL.md §6.
func DefaultConfig() Config {
	return Config{
		MaxSessions:         10000,
		MaxFanoutPerSession: 1000,
		ShardCount:          defaultShardCount,
	}
}

// Registry maps SSRC and UUID to live Sessions and enforces
// SPEC_FULL.md §3's registry invariants.
type Registry struct {
	shards    []*shard
	shardMask uint32
	byID      sync.Map // uuid.UUID -> *Session

	maxSessions int
	maxFanout   int

	count      atomic.Int64
	capacityMu sync.Mutex // serializes the check-then-insert on Create only
}

// New constructs a Registry from cfg, filling in zero fields with defaults.
func New(cfg Config) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	if cfg.MaxFanoutPerSession <= 0 {
		cfg.MaxFanoutPerSession = DefaultConfig().MaxFanoutPerSession
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = defaultShardCount
	}
	shardCount := nextPowerOfTwo(cfg.ShardCount)

	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{bySSRC: make(map[uint32]*Session)}
	}

	return &Registry{
		shards:      shards,
		shardMask:   uint32(shardCount - 1),
		maxSessions: cfg.MaxSessions,
		maxFanout:   cfg.MaxFanoutPerSession,
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fnv32 is a minimal FNV-1a hash used to spread SSRCs evenly across shards.
func (r *Registry) fnv32(v uint32) uint32 {
	h := uint32(2166136261)
	b0 := byte(v)
	b1 := byte(v >> 8)
	b2 := byte(v >> 16)
	b3 := byte(v >> 24)
	h ^= uint32(b0)
	h *= 16777619
	h ^= uint32(b1)
	h *= 16777619
	h ^= uint32(b2)
	h *= 16777619
	h ^= uint32(b3)
	h *= 16777619
	return h
}

func (r *Registry) shardFor(ssrc uint32) *shard {
	return r.shards[r.fnv32(ssrc)&r.shardMask]
}

// GetBySSRC returns the session for ssrc, if any. O(1) expected, a single
// shard read-lock on the hot path.
func (r *Registry) GetBySSRC(ssrc uint32) (*Session, bool) {
	sh := r.shardFor(ssrc)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.bySSRC[ssrc]
	return s, ok
}

// GetByID returns the session with the given UUID, if any.
func (r *Registry) GetByID(id uuid.UUID) (*Session, bool) {
	v, ok := r.byID.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Create returns the session for (sourceAddr, ssrc), creating one if none
// exists. Idempotent: a second Create for an SSRC that already has a
// session returns the existing session rather than erroring. Fails with
// ErrAtCapacity once the registry already holds MaxSessions sessions.
//
// Two concurrent Create calls racing on the same SSRC resolve to exactly
// one winning Session: the shard mutex plus a re-check after acquiring it
// is the compare-and-insert SPEC_FULL.md §4.2 requires.
func (r *Registry) Create(sourceAddr *net.UDPAddr, ssrc uint32) (*Session, error) {
	sh := r.shardFor(ssrc)

	sh.mu.RLock()
	if existing, ok := sh.bySSRC[ssrc]; ok {
		sh.mu.RUnlock()
		return existing, nil
	}
	sh.mu.RUnlock()

	r.capacityMu.Lock()
	defer r.capacityMu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Re-check: another goroutine may have created it or we may have
	// raced with a concurrent create that lost capacityMu.
	if existing, ok := sh.bySSRC[ssrc]; ok {
		return existing, nil
	}
	if r.count.Load() >= int64(r.maxSessions) {
		return nil, ErrAtCapacity
	}

	session := newSession(sourceAddr, ssrc)
	sh.bySSRC[ssrc] = session
	r.byID.Store(session.ID, session)
	r.count.Add(1)

	log.Info().
		Str("session_id", session.ID.String()).
		Uint32("ssrc", ssrc).
		Str("source_addr", sourceAddr.String()).
		Msg("session created")

	return session, nil
}

// RemoveByID removes the session with the given UUID from both indices.
// Tolerates concurrent readers still holding the *Session — they keep it
// alive until they drop their reference; the registry simply stops
// offering it to new lookups.
func (r *Registry) RemoveByID(id uuid.UUID) bool {
	v, ok := r.byID.LoadAndDelete(id)
	if !ok {
		return false
	}
	session := v.(*Session)

	sh := r.shardFor(session.SSRC)
	sh.mu.Lock()
	if cur, ok := sh.bySSRC[session.SSRC]; ok && cur.ID == id {
		delete(sh.bySSRC, session.SSRC)
	}
	sh.mu.Unlock()

	r.count.Add(-1)
	log.Info().Str("session_id", id.String()).Msg("session removed")
	return true
}

// AddSubscriber attaches addr to the session for ssrc. Returns ErrNoSession
// if ssrc has no session, ErrFanoutFull if the session's subscriber set is
// already at MaxFanoutPerSession.
func (r *Registry) AddSubscriber(ssrc uint32, addr *net.UDPAddr) error {
	session, ok := r.GetBySSRC(ssrc)
	if !ok {
		return ErrNoSession
	}
	if err := session.addSubscriber(addr, r.maxFanout); err != nil {
		return err
	}
	log.Debug().Uint32("ssrc", ssrc).Str("subscriber", addr.String()).Msg("subscriber added")
	return nil
}

// RemoveSubscriber detaches addr from the session for ssrc. Returns false
// if there was no session or addr was not subscribed.
func (r *Registry) RemoveSubscriber(ssrc uint32, addr *net.UDPAddr) bool {
	session, ok := r.GetBySSRC(ssrc)
	if !ok {
		return false
	}
	removed := session.removeSubscriber(addr)
	if removed {
		log.Debug().Uint32("ssrc", ssrc).Str("subscriber", addr.String()).Msg("subscriber removed")
	}
	return removed
}

// SweepExpired removes every session whose last activity is older than
// timeout (measured against now) and returns how many were removed. The
// candidate set is collected with a non-blocking snapshot pass over each
// shard before any removal, so readers mid-lookup are never blocked by the
// sweep and a session is never removed while its shard lock is held for an
// unrelated read.
func (r *Registry) SweepExpired(now time.Time, timeout time.Duration) int {
	var expired []uuid.UUID

	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, session := range sh.bySSRC {
			if now.Sub(session.LastActivity()) > timeout {
				expired = append(expired, session.ID)
			}
		}
		sh.mu.RUnlock()
	}

	for _, id := range expired {
		r.RemoveByID(id)
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("expired sessions swept")
	}
	return len(expired)
}

// Count returns the current number of live sessions.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// TotalSubscribers returns the sum of subscriber-set sizes across every
// live session.
func (r *Registry) TotalSubscribers() int {
	var total int
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, session := range sh.bySSRC {
			total += session.SubscriberCount()
		}
		sh.mu.RUnlock()
	}
	return total
}
