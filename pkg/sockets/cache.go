package sockets

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Cache is the send-socket cache from SPEC_FULL.md §4.4: one outbound
// *net.UDPConn per destination address, reused across fan-out sends
// instead of opening a socket per packet. Safe for concurrent use.
type Cache struct {
	conns sync.Map // string (addr.String()) -> *net.UDPConn

	sendErrors atomic.Uint64
}

// NewCache constructs an empty send-socket cache.
func NewCache() *Cache {
	return &Cache{}
}

// Send writes data to dst, creating and caching a connected UDP socket for
// dst on first use. A failure to create or write through the socket is
// logged and counted, never returned to the caller: a single bad
// subscriber must never stop fan-out to the rest of a session's
// subscribers (SPEC_FULL.md §4.4). The socket stays cached after a failed
// write and is reused by the next Send.
func (c *Cache) Send(data []byte, dst *net.UDPAddr) {
	conn, err := c.getOrCreate(dst)
	if err != nil {
		c.sendErrors.Add(1)
		log.Warn().Err(err).Str("dst", dst.String()).Msg("send socket: dial failed")
		return
	}

	if _, err := conn.Write(data); err != nil {
		c.sendErrors.Add(1)
		log.Warn().Err(err).Str("dst", dst.String()).Msg("send socket: write failed")
	}
}

func (c *Cache) getOrCreate(dst *net.UDPAddr) (*net.UDPConn, error) {
	key := dst.String()
	if v, ok := c.conns.Load(key); ok {
		return v.(*net.UDPConn), nil
	}

	conn, err := net.DialUDP("udp", nil, dst)
	if err != nil {
		return nil, err
	}

	actual, loaded := c.conns.LoadOrStore(key, conn)
	if loaded {
		// Lost the race to another goroutine dialing the same
		// destination concurrently; use theirs, close ours.
		conn.Close()
		return actual.(*net.UDPConn), nil
	}
	return conn, nil
}

// Remove closes and evicts the cached socket for dst, if any. The fan-out
// path and the registry never call it: removing a subscriber leaves its
// socket cached.
func (c *Cache) Remove(dst *net.UDPAddr) {
	key := dst.String()
	if v, ok := c.conns.LoadAndDelete(key); ok {
		v.(*net.UDPConn).Close()
	}
}

// Len returns the number of currently cached send sockets.
func (c *Cache) Len() int {
	n := 0
	c.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// SendErrors returns the cumulative count of failed sends.
func (c *Cache) SendErrors() uint64 { return c.sendErrors.Load() }

// Close closes every cached socket.
func (c *Cache) Close() {
	c.conns.Range(func(key, v any) bool {
		v.(*net.UDPConn).Close()
		c.conns.Delete(key)
		return true
	})
}
