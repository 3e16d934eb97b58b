package sender

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/faanross/datadiode/internal/chunker"
	"github.com/faanross/datadiode/internal/digest"
	"github.com/faanross/datadiode/internal/fec"
	"github.com/faanross/datadiode/internal/frame"
	"github.com/faanross/datadiode/internal/queue"
)

// listenLoopback opens a UDP listener on an ephemeral port for the sender
// to dial against.
func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	return conn
}

func TestSendMessageEmitsExpectedFrameCount(t *testing.T) {
	listener := listenLoopback(t)
	defer listener.Close()

	source := queue.NewMemory()
	s, err := New(Config{RemoteAddr: listener.LocalAddr().String(), Copies: 2, ChunkSize: 8, Pace: 0}, source)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	msg := []byte("abcdefghijklmnopqrstuvwxyz") // 26 bytes / 8 => 4 chunks
	source.Push(msg)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	wantChunks := len(chunker.Split(msg, 8))
	wantFrames := wantChunks * 2

	got := make(map[string][]byte)
	buf := make([]byte, 2048)
	listener.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	for i := 0; i < wantFrames; i++ {
		n, _, err := listener.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("ReadFromUDP: %v (received %d of %d frames)", err, i, wantFrames)
		}
		f, err := frame.Unmarshal(buf[:n])
		if err != nil {
			t.Fatalf("frame.Unmarshal: %v", err)
		}
		decoded, err := fec.Decode(f.Payload)
		if err != nil {
			t.Fatalf("fec.Decode: %v", err)
		}
		key := string(f.MsgTag) + "-" + string(rune(f.ChunkIndex))
		got[key] = decoded
	}

	if len(got) != wantChunks {
		t.Fatalf("got %d distinct chunk positions, want %d", len(got), wantChunks)
	}

	expectedChunks := chunker.Split(msg, 8)
	for i, want := range expectedChunks {
		msgTag := digest.Message(msg)
		key := string(msgTag) + "-" + string(rune(uint32(i)))
		if gotChunk, ok := got[key]; !ok || !bytes.Equal(gotChunk, want) {
			t.Fatalf("chunk %d mismatch: got %q, want %q", i, gotChunk, want)
		}
	}

	// MessagesSent is incremented after the pacing sleep that follows the
	// last datagram, so read the counters only once Run has returned.
	<-done
	if s.Stats().MessagesSent != 1 {
		t.Fatalf("got %d messages sent, want 1", s.Stats().MessagesSent)
	}
	if s.Stats().FramesEmitted != wantFrames {
		t.Fatalf("got %d frames emitted, want %d", s.Stats().FramesEmitted, wantFrames)
	}
}

func TestRunSkipsZeroLengthMessages(t *testing.T) {
	listener := listenLoopback(t)
	defer listener.Close()

	source := queue.NewMemory()
	s, err := New(Config{RemoteAddr: listener.LocalAddr().String(), Copies: 1, Pace: 0, IdleSleep: 10 * time.Millisecond}, source)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	source.Push([]byte{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if s.Stats().MessagesSent != 0 {
		t.Fatalf("got %d messages sent, want 0 for a zero-length message", s.Stats().MessagesSent)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	listener := listenLoopback(t)
	defer listener.Close()

	source := queue.NewMemory()
	s, err := New(Config{RemoteAddr: listener.LocalAddr().String(), IdleSleep: 5 * time.Second}, source)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("got %v, want nil on clean cancellation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
}
