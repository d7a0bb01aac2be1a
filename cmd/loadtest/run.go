package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/loadtest"
)

type rampOptions struct {
	url         string
	clients     int
	ramp        time.Duration
	concurrency int
}

func (o *rampOptions) bind(fs *flag.FlagSet, clients int) {
	fs.StringVar(&o.url, "url", "ws://localhost:8080/ws", "WebSocket server URL")
	fs.IntVar(&o.clients, "clients", clients, "Number of participants")
	fs.DurationVar(&o.ramp, "ramp", 10*time.Second, "Ramp-up duration")
	fs.IntVar(&o.concurrency, "concurrency", 50, "Maximum simultaneous connection attempts")
}

// rampUp connects and joins o.clients participants, spreading them over the
// fixed rooms. It stops early when ctx is cancelled.
func rampUp(ctx context.Context, o rampOptions, collector *loadtest.Collector) []*loadtest.Client {
	interval := max(o.ramp/time.Duration(max(o.clients, 1)), time.Millisecond)
	rooms := chat.Rooms()

	var (
		mu      sync.Mutex
		clients = make([]*loadtest.Client, 0, o.clients)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, o.concurrency)
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

launch:
	for i := 0; i < o.clients; i++ {
		select {
		case <-ctx.Done():
			break launch
		case <-ticker.C:
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := loadtest.Dial(dialCtx, o.url)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitForSession(dialCtx); err != nil {
				collector.AddError()
				_ = c.Close()
				return
			}
			if err := c.Join(fmt.Sprintf("lt-%d", i), rooms[i%len(rooms)]); err != nil {
				collector.AddError()
				_ = c.Close()
				return
			}
			collector.AddConnect(c.Metrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)

		if (i+1)%100 == 0 {
			fmt.Printf("  [connect] %d/%d  errors: %d\n", collector.Connections(), o.clients, collector.Errors())
		}
	}
	wg.Wait()
	return clients
}

func closeAll(clients []*loadtest.Client, collector *loadtest.Collector) {
	for _, c := range clients {
		_ = c.Close()
		collector.AddClient(c.Metrics())
	}
}

func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	var o rampOptions
	o.bind(fs, 1000)
	hold := fs.Duration("hold", 30*time.Second, "How long to hold the connections open")
	_ = fs.Parse(args)

	fmt.Printf("Saturate: %d clients to %s (ramp=%s, hold=%s)\n", o.clients, o.url, o.ramp, *hold)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadtest.NewCollector()
	clients := rampUp(ctx, o, collector)

	fmt.Printf("\n--- Holding %d connections ---\n", len(clients))
	dropped := 0
	select {
	case <-ctx.Done():
	case <-time.After(*hold):
	}
	for _, c := range clients {
		select {
		case <-c.Done():
			dropped++
		default:
		}
	}
	fmt.Printf("Dropped during hold: %d\n", dropped)

	closeAll(clients, collector)
	collector.Report(os.Stdout)
}

func runRooms(args []string) {
	fs := flag.NewFlagSet("rooms", flag.ExitOnError)
	var o rampOptions
	o.bind(fs, 300)
	duration := fs.Duration("duration", 30*time.Second, "How long participants chat")
	interval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per participant")
	size := fs.Int("msg-size", 128, "Message body size in bytes")
	_ = fs.Parse(args)

	fmt.Printf("Rooms: %d clients to %s (ramp=%s, duration=%s, interval=%s, size=%d)\n",
		o.clients, o.url, o.ramp, *duration, *interval, *size)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadtest.NewCollector()
	clients := rampUp(ctx, o, collector)

	fmt.Printf("\n--- Chatting with %d participants ---\n", len(clients))
	body := strings.Repeat("x", max(*size, 1))
	chatCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var wg sync.WaitGroup
	for _, c := range clients {
		c.OnDelivered(collector.AddDelivery)

		wg.Add(1)
		go func(c *loadtest.Client) {
			defer wg.Done()
			ticker := time.NewTicker(*interval)
			defer ticker.Stop()
			for {
				select {
				case <-chatCtx.Done():
					return
				case <-c.Done():
					return
				case <-ticker.C:
					_ = c.Typing(true)
					if err := c.SendMessage(body); err != nil {
						collector.AddError()
						return
					}
				}
			}
		}(c)
	}
	wg.Wait()

	// Let the last acknowledgements arrive.
	time.Sleep(time.Second)
	closeAll(clients, collector)
	collector.Report(os.Stdout)
}
