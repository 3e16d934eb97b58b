// Package sender implements the sender-side pipeline: pop a message from the
// source queue, chunk it, FEC-encode each chunk, frame it, and emit every
// frame R times with pacing. The sender is single-threaded and cooperative,
// dialing the receiver once and writing fire-and-forget datagrams with no
// acknowledgement or retry.
package sender

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

// Default sender tuning parameters.
const (
	DefaultCopies    = 2
	DefaultIdleSleep = 2 * time.Second
	DefaultPace      = 1 * time.Millisecond
)

// ErrSocketBind is returned when the sender cannot dial the receiver.
var ErrSocketBind = errors.New("sender: socket bind failure")

// Config configures a Sender.
type Config struct {
	RemoteAddr string // receiver host:port
	Copies     uint16 // R, total whole-message redundant copies
	ChunkSize  int
	IdleSleep  time.Duration
	Pace       time.Duration
}

func (c *Config) setDefaults() {
	if c.Copies == 0 {
		c.Copies = DefaultCopies
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = chunker.DefaultChunkSize
	}
	if c.IdleSleep == 0 {
		c.IdleSleep = DefaultIdleSleep
	}
	if c.Pace == 0 {
		c.Pace = DefaultPace
	}
}

// Stats tracks sender-side counters.
type Stats struct {
	MessagesSent  int
	FramesEmitted int
	SendErrors    int
}

// Sender runs the single-threaded cooperative sender loop.
type Sender struct {
	cfg    Config
	conn   *net.UDPConn
	source queue.Queue
	stats  Stats
}

// New creates a Sender bound to source and dialed toward cfg.RemoteAddr.
func New(cfg Config, source queue.Queue) (*Sender, error) {
	cfg.setDefaults()

	raddr, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		return nil, ErrSocketBind
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, ErrSocketBind
	}

	return &Sender{cfg: cfg, conn: conn, source: source}, nil
}

// Close releases the underlying UDP socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

// Stats returns a snapshot of sender counters.
func (s *Sender) Stats() Stats {
	return s.stats
}

// Run pops messages from the source queue and sends them until ctx is
// cancelled. It never returns an error for ordinary send failures — those
// are logged and dropped; there is no retry and no queue rollback, since a
// one-way link gives the sender no way to learn whether a datagram arrived.
func (s *Sender) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, ok := s.source.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.IdleSleep):
			}
			continue
		}

		if len(msg) == 0 {
			slog.Warn("skipping zero-length message")
			continue
		}

		s.sendMessage(msg)
	}
}

// sendMessage chunks, FEC-encodes, frames, and emits one message R times.
func (s *Sender) sendMessage(msg []byte) {
	msgTag := digest.Message(msg)
	chunks := chunker.Split(msg, s.cfg.ChunkSize)
	total := uint32(len(chunks))

	encoded := make([][]byte, total)
	tags := make([]digest.ChunkTag, total)
	for i, c := range chunks {
		encoded[i] = fec.Encode(c)
		tags[i] = digest.Chunk(c)
	}

	for copyIndex := uint16(1); copyIndex <= s.cfg.Copies; copyIndex++ {
		for i := uint32(0); i < total; i++ {
			f, err := frame.Build(total, i, s.cfg.Copies, copyIndex, msgTag, tags[i], encoded[i])
			if err != nil {
				// Can't happen: i < total by construction above.
				slog.Error("frame build failed", "msg_tag", string(msgTag), "chunk_index", i, "error", err)
				continue
			}

			if _, err := s.conn.Write(f.Marshal()); err != nil {
				s.stats.SendErrors++
				slog.Error("datagram write failed", "msg_tag", string(msgTag), "chunk_index", i, "copy_index", copyIndex, "error", err)
				time.Sleep(s.cfg.Pace)
				continue
			}

			s.stats.FramesEmitted++
			time.Sleep(s.cfg.Pace)
		}
	}

	s.stats.MessagesSent++
}
