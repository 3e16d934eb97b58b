package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/faanross/datadiode/internal/queue"
	"github.com/faanross/datadiode/internal/receiver"
)

// ================================================================================
// DATA DIODE RECEIVER
// Listens for frames, reassembles and deduplicates whole messages, and
// drains completed messages to a sink directory, one file per message.
// ================================================================================

func main() {
	bind := flag.String("bind", ":9000", "UDP listen address")
	sinkDir := flag.String("sink-dir", "received", "Directory to write delivered messages into")
	slotTTL := flag.Duration("slot-ttl", receiver.DefaultSlotTTL, "Reassembly slot time-to-live")
	slotSoftLimit := flag.Int("slot-soft-limit", receiver.DefaultSlotSoftLimit, "Reassembly slot count above which stale slots are swept")
	dedupTTL := flag.Duration("dedup-ttl", receiver.DefaultDedupTTL, "Dedup table entry time-to-live")
	dedupSoftLimit := flag.Int("dedup-soft-limit", receiver.DefaultDedupSoftLimit, "Dedup entry count above which stale entries are swept")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fmt.Println("📥 DATA DIODE RECEIVER")
	fmt.Printf("   Bind: %s\n", *bind)
	fmt.Printf("   Sink: %s/\n", *sinkDir)

	if err := os.MkdirAll(*sinkDir, 0755); err != nil {
		log.Fatalf("Failed to create sink directory %s: %v", *sinkDir, err)
	}

	sink := queue.NewMemory()

	r, err := receiver.New(receiver.Config{
		BindAddr:       *bind,
		SlotTTL:        *slotTTL,
		SlotSoftLimit:  *slotSoftLimit,
		DedupTTL:       *dedupTTL,
		DedupSoftLimit: *dedupSoftLimit,
	}, sink)
	if err != nil {
		log.Fatalf("Failed to start receiver: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt)
		<-sigChan
		fmt.Println("\n🛑 Shutting down...")
		printStats(r)
		cancel()
		r.Close() // unblock the pending ReadFromUDP in Run
	}()

	go drainSink(ctx, sink, *sinkDir)

	fmt.Println("\n✅ Receiver ready, listening (Ctrl+C to stop)")

	if err := r.Run(ctx); err != nil {
		log.Fatalf("Receiver loop exited with error: %v", err)
	}

	printStats(r)
}

// drainSink pops delivered messages off sink and writes each as its own
// file under dir until ctx is cancelled.
func drainSink(ctx context.Context, sink *queue.Memory, dir string) {
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok := sink.Pop()
		if !ok {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		seq++
		name := filepath.Join(dir, fmt.Sprintf("message_%06d.bin", seq))
		if err := os.WriteFile(name, msg, 0644); err != nil {
			log.Printf("Failed to write %s: %v", name, err)
			continue
		}
		fmt.Printf("💾 Delivered message %d: %s (%d bytes)\n", seq, name, len(msg))
	}
}

func printStats(r *receiver.Receiver) {
	stats := r.Stats()
	fmt.Printf("\n📊 Receiver Statistics:\n")
	fmt.Printf("   Messages delivered:  %d\n", stats.MessagesDelivered)
	fmt.Printf("   Failed reassemblies: %d\n", stats.FailedReassemblies)
	fmt.Printf("   Expired slots:       %d\n", stats.ExpiredSlots)
	fmt.Printf("   Parse errors:        %d\n", stats.ParseErrors)
	fmt.Printf("   Corruption errors:   %d\n", stats.CorruptionErrors)
	fmt.Printf("   Inconsistent frames: %d\n", stats.InconsistentFrames)
	fmt.Printf("   Duplicate frames:    %d\n", stats.DuplicateFrames)
	fmt.Printf("   Duplicate messages:  %d\n", stats.DuplicateMessages)
	fmt.Printf("   Queue errors:        %d\n", stats.QueueErrors)
	fmt.Printf("   Stopped at:          %s\n", time.Now().Format(time.RFC3339))
}
