// Package receiver implements the receiver-side pipeline: receive datagrams,
// parse frames, validate/decode FEC, accumulate into per-message reassembly
// slots, and on completion dedup and push to the sink queue, expiring stale
// slots and stale dedup entries along the way.
//
// The receiver is single-threaded and cooperative: one UDP socket, one
// reassembly table, one dedup table, all owned by a single loop with no
// locking. Housekeeping (expiring stale slots and dedup entries) is
// piggy-backed on frame arrivals rather than run off a separate timer
// goroutine, since the loop has no other point at which to interleave work.
package receiver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/faanross/datadiode/internal/chunker"
	"github.com/faanross/datadiode/internal/digest"
	"github.com/faanross/datadiode/internal/fec"
	"github.com/faanross/datadiode/internal/frame"
	"github.com/faanross/datadiode/internal/queue"
)

// Default receiver tuning parameters.
const (
	DefaultBufferSize     = 4096
	DefaultSlotSoftLimit  = 20
	DefaultSlotTTL        = 5 * time.Second
	DefaultDedupSoftLimit = 1000
	DefaultDedupTTL       = 30 * time.Second
)

// ErrSocketBind is returned when the receiver cannot bind its UDP socket.
var ErrSocketBind = errors.New("receiver: socket bind failure")

// posStatus is the per-chunk-position state inside a reassembly slot.
type posStatus byte

const (
	posEmpty posStatus = iota
	posValid
	posCorrupt
)

// slotState is the reassembly slot's state machine: partial until every
// position is filled, then ready (all valid) or failed (some corrupt).
type slotState byte

const (
	statePartial slotState = iota
	stateReady
	stateFailed
)

type slot struct {
	total      uint32
	data       [][]byte
	status     []posStatus
	lastSeenAt time.Time
	state      slotState
}

// Stats tracks receiver-side counters.
type Stats struct {
	ParseErrors         int
	CorruptionErrors    int
	InconsistentFrames  int
	DuplicateFrames     int // msg_tag already delivered, frame dropped pre-slot
	DuplicateMessages   int // completed slot, but msg_tag already delivered
	FailedReassemblies  int
	ExpiredSlots        int
	QueueErrors         int
	MessagesDelivered   int
}

// Config configures a Receiver.
type Config struct {
	BindAddr       string
	BufferSize     int
	SlotSoftLimit  int
	SlotTTL        time.Duration
	DedupSoftLimit int
	DedupTTL       time.Duration
}

func (c *Config) setDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.SlotSoftLimit == 0 {
		c.SlotSoftLimit = DefaultSlotSoftLimit
	}
	if c.SlotTTL == 0 {
		c.SlotTTL = DefaultSlotTTL
	}
	if c.DedupSoftLimit == 0 {
		c.DedupSoftLimit = DefaultDedupSoftLimit
	}
	if c.DedupTTL == 0 {
		c.DedupTTL = DefaultDedupTTL
	}
}

// Receiver runs the single-threaded cooperative receiver loop. The UDP
// socket, the reassembly table, and the dedup table are all owned by this
// single loop; no locking is needed.
type Receiver struct {
	cfg   Config
	conn  *net.UDPConn
	sink  queue.Queue
	slots map[digest.MessageTag]*slot
	dedup map[digest.MessageTag]time.Time
	stats Stats
}

// New creates a Receiver bound to cfg.BindAddr, pushing delivered messages
// to sink.
func New(cfg Config, sink queue.Queue) (*Receiver, error) {
	cfg.setDefaults()

	laddr, err := net.ResolveUDPAddr("udp", cfg.BindAddr)
	if err != nil {
		return nil, ErrSocketBind
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, ErrSocketBind
	}

	return newReceiver(cfg, conn, sink), nil
}

func newReceiver(cfg Config, conn *net.UDPConn, sink queue.Queue) *Receiver {
	cfg.setDefaults()
	return &Receiver{
		cfg:   cfg,
		conn:  conn,
		sink:  sink,
		slots: make(map[digest.MessageTag]*slot),
		dedup: make(map[digest.MessageTag]time.Time),
	}
}

// Close releases the underlying UDP socket. Cancellation closes the socket,
// unblocking Run; any slot not yet ready is abandoned.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Stats returns a snapshot of receiver counters.
func (r *Receiver) Stats() Stats {
	return r.stats
}

// Run blocks receiving datagrams until ctx is cancelled (which must close
// the socket via Close, since a blocking ReadFromUDP cannot otherwise be
// interrupted).
func (r *Receiver) Run(ctx context.Context) error {
	buf := make([]byte, r.cfg.BufferSize)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		r.handleDatagram(raw)
	}
}

// handleDatagram parses one received datagram and feeds it to the
// reassembly pipeline.
func (r *Receiver) handleDatagram(raw []byte) {
	f, err := frame.Unmarshal(raw)
	if err != nil {
		r.stats.ParseErrors++
		return
	}
	r.handleFrame(f)
}

// handleFrame runs validation, slot upsert, completion check, and
// housekeeping for a single parsed frame. Split out from handleDatagram so
// tests can drive the reassembly pipeline directly with constructed frames.
func (r *Receiver) handleFrame(f frame.Frame) {
	decoded, valid := r.validateChunk(f)
	r.upsertSlot(f, decoded, valid)
	r.checkCompletion(f.MsgTag)
	r.housekeeping()
}

// validateChunk FEC-decodes the frame's payload and checks the decoded
// chunk's integrity against chunk_tag.
func (r *Receiver) validateChunk(f frame.Frame) ([]byte, bool) {
	decoded, err := fec.Decode(f.Payload)
	if err != nil {
		r.stats.CorruptionErrors++
		return nil, false
	}
	if digest.Chunk(decoded) != f.ChunkTag {
		r.stats.CorruptionErrors++
		return nil, false
	}
	return decoded, true
}

// upsertSlot creates the reassembly slot for f.MsgTag if needed and records
// this arrival, honoring the idempotent-write and slot-consistency rules.
func (r *Receiver) upsertSlot(f frame.Frame, decoded []byte, valid bool) {
	k := f.MsgTag

	s, exists := r.slots[k]
	if !exists {
		if _, delivered := r.dedup[k]; delivered {
			// Drop before slot creation rather than waiting until
			// completion time; functionally equivalent, just cheaper.
			r.stats.DuplicateFrames++
			return
		}
		s = &slot{
			total:  f.TotalChunks,
			data:   make([][]byte, f.TotalChunks),
			status: make([]posStatus, f.TotalChunks),
		}
		r.slots[k] = s
	}

	if f.TotalChunks != s.total {
		r.stats.InconsistentFrames++
		return
	}

	s.lastSeenAt = time.Now()

	idx := f.ChunkIndex
	if idx >= s.total {
		return
	}

	if s.status[idx] == posValid {
		return // idempotent: a valid write is never overwritten
	}
	if valid {
		s.data[idx] = decoded
		s.status[idx] = posValid
	} else {
		s.status[idx] = posCorrupt
	}
}

// checkCompletion scans the slot for k and, if every position is non-empty,
// resolves it to ready/failed and (if ready) delivers it.
func (r *Receiver) checkCompletion(k digest.MessageTag) {
	s, ok := r.slots[k]
	if !ok {
		return
	}

	anyCorrupt := false
	for _, st := range s.status {
		if st == posEmpty {
			return // still partial
		}
		if st == posCorrupt {
			anyCorrupt = true
		}
	}

	if anyCorrupt {
		s.state = stateFailed
		r.stats.FailedReassemblies++
		slog.Warn("reassembly failed, slot completed with a corrupt chunk", "msg_tag", string(k))
		delete(r.slots, k)
		return
	}

	s.state = stateReady
	r.deliver(k, s)
}

// deliver joins a ready slot's chunks, applies dedup, and pushes to the
// sink queue.
func (r *Receiver) deliver(k digest.MessageTag, s *slot) {
	defer delete(r.slots, k)

	if _, delivered := r.dedup[k]; delivered {
		r.stats.DuplicateMessages++
		return
	}

	msg, err := chunker.Join(s.data)
	if err != nil {
		// Every position is posValid at this point, so data has no gaps;
		// this would only happen if that invariant were ever violated.
		slog.Error("join failed for ready slot", "msg_tag", string(k), "error", err)
		return
	}

	if err := r.sink.Push(msg); err != nil {
		r.stats.QueueErrors++
		slog.Error("sink push failed", "msg_tag", string(k), "error", err)
		return
	}

	r.dedup[k] = time.Now()
	r.stats.MessagesDelivered++
}

// housekeeping purges stale reassembly slots and stale dedup entries once
// their respective tables exceed the configured soft limits. Piggy-backed
// on frame arrivals rather than a separate timer.
func (r *Receiver) housekeeping() {
	if len(r.slots) > r.cfg.SlotSoftLimit {
		now := time.Now()
		for k, s := range r.slots {
			if now.Sub(s.lastSeenAt) > r.cfg.SlotTTL {
				delete(r.slots, k)
				r.stats.ExpiredSlots++
			}
		}
	}

	if len(r.dedup) > r.cfg.DedupSoftLimit {
		now := time.Now()
		for k, deliveredAt := range r.dedup {
			if now.Sub(deliveredAt) > r.cfg.DedupTTL {
				delete(r.dedup, k)
			}
		}
	}
}
