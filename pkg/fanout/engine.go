// Package fanout drains the packet queue, replicates each packet to its
// session's subscriber set, and wires the ingress UDP socket into the
// codec and queue (SPEC_FULL.md §4.5/§4.6).
package fanout

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ottopia-tech/rtp-fanout-server/pkg/metrics"
	"github.com/ottopia-tech/rtp-fanout-server/pkg/queue"
	"github.com/ottopia-tech/rtp-fanout-server/pkg/registry"
	"github.com/ottopia-tech/rtp-fanout-server/pkg/rtp"
	"github.com/ottopia-tech/rtp-fanout-server/pkg/sockets"
)

// DefaultBatchSize is the number of packets drained per ProcessBatch call
// when a caller doesn't override it, matching the Rust original's
// BATCH_SIZE constant.
const DefaultBatchSize = 256

// Engine drains the packet queue and fans each packet out to its
// session's subscribers.
type Engine struct {
	Registry  *registry.Registry
	Queue     *queue.Queue
	Sockets   *sockets.Cache
	Metrics   *metrics.Metrics
	BatchSize int
}

// New constructs an Engine. batchSize <= 0 falls back to DefaultBatchSize.
func New(reg *registry.Registry, q *queue.Queue, sc *sockets.Cache, m *metrics.Metrics, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{Registry: reg, Queue: q, Sockets: sc, Metrics: m, BatchSize: batchSize}
}

// ProcessBatch drains up to e.BatchSize packets from e.Queue and fans each
// out. It blocks waiting for the first packet (or ctx cancellation) and
// then greedily consumes whatever else is immediately available, so a
// quiet queue doesn't busy-loop. Returns the number of packets processed.
func (e *Engine) ProcessBatch(ctx context.Context) int {
	return e.processBatchFrom(ctx, e.Queue)
}

func (e *Engine) processBatchFrom(ctx context.Context, q *queue.Queue) int {
	first, ok := q.Pop(ctx)
	if !ok {
		return 0
	}
	e.fanoutOne(first)
	processed := 1

	for processed < e.BatchSize {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		e.fanoutOne(item)
		processed++
	}
	return processed
}

func (e *Engine) fanoutOne(item queue.Item) {
	start := time.Now()
	defer e.Metrics.ObserveFanoutLatency(start)

	session, ok := e.Registry.GetBySSRC(item.SSRC)
	if !ok {
		// Control-plane-only session creation: an unrecognized SSRC is
		// simply dropped, never auto-created from the data path. Still
		// counted as received at ingress (see Ingress.Run) regardless of
		// whether a session exists for it.
		return
	}

	session.RecordPacket(len(item.Packet.Payload))

	data, err := rtp.Serialize(item.Packet)
	if err != nil {
		log.Warn().Err(err).Uint32("ssrc", item.SSRC).Msg("fanout: serialize failed")
		return
	}

	subscribers := session.SnapshotSubscribers()
	for _, sub := range subscribers {
		e.Sockets.Send(data, sub.Addr)
		sub.RecordSent(item.Packet.Sequence)
		e.Metrics.PacketsSent.Inc()
	}
}

// Run pops and processes batches from e.Queue until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.runFrom(ctx, e.Queue)
}

func (e *Engine) runFrom(ctx context.Context, q *queue.Queue) {
	for {
		if ctx.Err() != nil {
			return
		}
		e.processBatchFrom(ctx, q)
	}
}

// RunWorkers fans e.Queue out to n workers, sharded by `ssrc % n` onto
// per-worker input channels, and returns once all have exited (on ctx
// cancellation). Sharding by SSRC rather than letting every worker pop
// from the same shared queue is what makes the per-(SSRC,subscriber)
// ordering guarantee of SPEC_FULL.md §4.5/§8 hold when n > 1: two packets
// for the same SSRC always land on the same worker and are therefore
// never fanned out concurrently by two different goroutines.
func (e *Engine) RunWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	if n == 1 {
		e.Run(ctx)
		return
	}

	shardQueues := make([]*queue.Queue, n)
	for i := range shardQueues {
		shardQueues[i] = queue.New(e.Queue.Cap())
	}

	var wg sync.WaitGroup
	wg.Add(n + 1)

	go func() {
		defer wg.Done()
		e.dispatch(ctx, shardQueues)
	}()
	for i := 0; i < n; i++ {
		q := shardQueues[i]
		go func() {
			defer wg.Done()
			e.runFrom(ctx, q)
		}()
	}
	wg.Wait()
}

// dispatch pops from the shared input queue and routes each item to the
// shard queue for `ssrc % len(shardQueues)`. A full shard queue drops the
// item (counted via that shard's Queue.Dropped), same backpressure policy
// as the ingress-to-engine handoff.
func (e *Engine) dispatch(ctx context.Context, shardQueues []*queue.Queue) {
	n := uint32(len(shardQueues))
	for {
		item, ok := e.Queue.Pop(ctx)
		if !ok {
			return
		}
		shardQueues[item.SSRC%n].Push(item)
	}
}

// Ingress owns the UDP listen socket: read, parse, enqueue.
type Ingress struct {
	conn    udpReader
	Queue   *queue.Queue
	Metrics *metrics.Metrics
}

// udpReader is the subset of net.PacketConn Ingress needs, narrowed so
// tests can substitute an in-memory reader.
type udpReader interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	Close() error
}

// NewIngress constructs an Ingress reading from conn.
func NewIngress(conn udpReader, q *queue.Queue, m *metrics.Metrics) *Ingress {
	return &Ingress{conn: conn, Queue: q, Metrics: m}
}

// Run reads datagrams until ctx is cancelled or the socket errors. Parse
// failures are counted and otherwise ignored; a full queue drops the
// packet and counts it via Queue.Dropped — the ingress loop never blocks
// on a slow fan-out side.
func (ig *Ingress) Run(ctx context.Context) error {
	buf := make([]byte, 65536)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		ig.conn.Close()
		close(done)
	}()

	for {
		n, _, err := ig.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}

		packet, err := rtp.Parse(buf[:n])
		if err != nil {
			ig.Metrics.ParseErrors.Inc()
			continue
		}

		// Counted here, not in the fan-out path: a packet for an SSRC
		// with no session is still received, even though it's dropped
		// before any send is attempted.
		ig.Metrics.PacketsReceived.Inc()
		ig.Metrics.BytesReceived.Add(float64(len(packet.Payload)))

		ig.Queue.Push(queue.Item{SSRC: packet.SSRC, Packet: packet})
	}
}
