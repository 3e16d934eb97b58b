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
	"sort"
	"time"

	"github.com/faanross/datadiode/internal/queue"
	"github.com/faanross/datadiode/internal/sender"
)

// ================================================================================
// DATA DIODE SENDER
// Reads whole messages from a source queue and fires them one-way across
// UDP, R redundant copies per message, FEC-protected chunk by chunk.
// ================================================================================

func main() {
	remote := flag.String("remote", "127.0.0.1:9000", "Receiver address (host:port)")
	seedDir := flag.String("seed-dir", "", "Directory of files to seed into the source queue at startup (each file becomes one message)")
	copies := flag.Uint("copies", sender.DefaultCopies, "Number of redundant whole-message copies (R)")
	chunkSize := flag.Int("chunk-size", 0, "Chunk payload size in bytes (0 = package default)")
	idleSleep := flag.Duration("idle-sleep", sender.DefaultIdleSleep, "Sleep interval when the source queue is empty")
	pace := flag.Duration("pace", sender.DefaultPace, "Delay between consecutive frame writes")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fmt.Println("📤 DATA DIODE SENDER")
	fmt.Printf("   Remote: %s\n", *remote)
	fmt.Printf("   Copies: %d\n", *copies)
	fmt.Printf("   Pace: %v\n", *pace)

	source := queue.NewMemory()

	if *seedDir != "" {
		n, err := seedQueue(source, *seedDir)
		if err != nil {
			log.Fatalf("Failed to seed source queue from %s: %v", *seedDir, err)
		}
		fmt.Printf("📁 Seeded %d message(s) from %s\n", n, *seedDir)
	} else {
		fmt.Println("⚠️  No -seed-dir given: source queue starts empty; push messages into it yourself")
	}

	s, err := sender.New(sender.Config{
		RemoteAddr: *remote,
		Copies:     uint16(*copies),
		ChunkSize:  *chunkSize,
		IdleSleep:  *idleSleep,
		Pace:       *pace,
	}, source)
	if err != nil {
		log.Fatalf("Failed to start sender: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt)
		<-sigChan
		fmt.Println("\n🛑 Shutting down...")
		printStats(s)
		cancel()
	}()

	fmt.Println("\n✅ Sender ready, draining source queue (Ctrl+C to stop)")

	if err := s.Run(ctx); err != nil {
		log.Fatalf("Sender loop exited with error: %v", err)
	}

	printStats(s)
}

// seedQueue reads every regular file under dir, in name order, pushing each
// file's bytes as one message.
func seedQueue(q *queue.Memory, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", name, err)
		}
		if err := q.Push(data); err != nil {
			return 0, fmt.Errorf("seeding %s: %w", name, err)
		}
	}

	return len(names), nil
}

func printStats(s *sender.Sender) {
	stats := s.Stats()
	fmt.Printf("\n📊 Sender Statistics:\n")
	fmt.Printf("   Messages sent:  %d\n", stats.MessagesSent)
	fmt.Printf("   Frames emitted: %d\n", stats.FramesEmitted)
	fmt.Printf("   Send errors:    %d\n", stats.SendErrors)
	fmt.Printf("   Stopped at:     %s\n", time.Now().Format(time.RFC3339))
}
