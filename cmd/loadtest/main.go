// Command loadtest connects many chat clients to a server and measures how
// long public messages take to come back as broadcasts.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aeolun/hsschat/pkg/client"
	"github.com/aeolun/hsschat/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur."

var loremWords = strings.Fields(strings.ToLower(strings.NewReplacer(",", "", ".", "").Replace(loremIpsum)))

const joinTimeout = 10 * time.Second

// Options controls one load run.
type Options struct {
	Server        string
	Clients       int
	Duration      time.Duration
	MinDelay      time.Duration
	MaxDelay      time.Duration
	PrivateChance float64
	ReportEvery   time.Duration
}

var opts = Options{}

var rootCmd = &cobra.Command{
	Use:          "loadtest",
	Short:        "Chat server load generator",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
		stats, err := runLoad(ctx, opts, logger)
		if err != nil {
			return err
		}
		stats.report(logger, opts)
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&opts.Server, "server", "localhost:8000", "server address")
	flags.IntVar(&opts.Clients, "clients", 10, "number of concurrent clients")
	flags.DurationVar(&opts.Duration, "duration", time.Minute, "test duration")
	flags.DurationVar(&opts.MinDelay, "min-delay", 100*time.Millisecond, "minimum delay between posts")
	flags.DurationVar(&opts.MaxDelay, "max-delay", time.Second, "maximum delay between posts")
	flags.Float64Var(&opts.PrivateChance, "private", 0.1, "fraction of posts sent as private messages")
	flags.DurationVar(&opts.ReportEvery, "report", 5*time.Second, "interval between progress lines")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Stats tracks performance metrics
type Stats struct {
	messagesPosted    atomic.Int64
	messagesFailed    atomic.Int64
	echoes            atomic.Int64
	totalEchoTime     atomic.Int64 // in microseconds
	privatePosted     atomic.Int64
	connectionErrors  atomic.Int64
	successfulClients atomic.Int64
	disconnections    atomic.Int64
	start             time.Time
}

func (s *Stats) recordEcho(latency time.Duration) {
	s.echoes.Add(1)
	s.totalEchoTime.Add(latency.Microseconds())
}

func (s *Stats) snapshot() (posted, failed, echoes int64, avgEchoUs float64) {
	posted = s.messagesPosted.Load()
	failed = s.messagesFailed.Load()
	echoes = s.echoes.Load()
	if echoes > 0 {
		avgEchoUs = float64(s.totalEchoTime.Load()) / float64(echoes)
	}
	return
}

func (s *Stats) report(logger zerolog.Logger, o Options) {
	posted, failed, echoes, avgUs := s.snapshot()
	elapsed := time.Since(s.start)
	logger.Info().
		Int("clients", o.Clients).
		Int64("connected", s.successfulClients.Load()).
		Int64("conn_errors", s.connectionErrors.Load()).
		Int64("disconnections", s.disconnections.Load()).
		Int64("posted", posted).
		Int64("private", s.privatePosted.Load()).
		Int64("failed", failed).
		Int64("echoes", echoes).
		Float64("rate_per_s", float64(posted)/elapsed.Seconds()).
		Float64("avg_echo_ms", avgUs/1000).
		Msg("Final results")
}

// runLoad ramps clients up over a quarter of the duration, lets them post
// until the duration ends, then disconnects them in reverse order.
func runLoad(ctx context.Context, o Options, logger zerolog.Logger) (*Stats, error) {
	if o.Clients <= 0 {
		return nil, fmt.Errorf("clients must be positive")
	}
	if o.MaxDelay <= o.MinDelay {
		o.MaxDelay = o.MinDelay + time.Millisecond
	}
	if o.ReportEvery <= 0 {
		o.ReportEvery = 5 * time.Second
	}

	stats := &Stats{start: time.Now()}
	rampUp := o.Duration / 4
	stagger := rampUp / time.Duration(o.Clients)
	if stagger < time.Millisecond {
		stagger = time.Millisecond
	}

	logger.Info().
		Str("server", o.Server).
		Int("clients", o.Clients).
		Dur("duration", o.Duration).
		Dur("ramp_up", rampUp).
		Msg("Starting load test")

	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	go func() {
		ticker := time.NewTicker(o.ReportEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				posted, failed, echoes, avgUs := stats.snapshot()
				logger.Info().
					Int64("posted", posted).
					Int64("failed", failed).
					Int64("echoes", echoes).
					Float64("avg_echo_ms", avgUs/1000).
					Int("goroutines", runtime.NumGoroutine()).
					Msg("Stats")
			case <-reportCtx.Done():
				return
			}
		}
	}()

	deadline := time.Now().Add(o.Duration)
	var wg sync.WaitGroup
	for i := 0; i < o.Clients; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		shutdownDelay := stagger * time.Duration(o.Clients-i-1)
		go func(id int) {
			defer wg.Done()
			bot := newBot(id, stats, logger)
			if err := bot.connect(o.Server); err != nil {
				stats.connectionErrors.Add(1)
				logger.Debug().Err(err).Int("bot", id).Msg("Connect failed")
				return
			}
			stats.successfulClients.Add(1)
			bot.run(ctx, deadline, o, shutdownDelay)
		}(i)

		select {
		case <-time.After(stagger):
		case <-ctx.Done():
		}
	}
	wg.Wait()
	return stats, nil
}

func randomName(id int) string {
	a := loremWords[rand.Intn(len(loremWords))]
	b := loremWords[rand.Intn(len(loremWords))]
	if len(a) > 5 {
		a = a[:5]
	}
	if len(b) > 5 {
		b = b[:5]
	}
	return fmt.Sprintf("%s%s%d", a, b, id)
}

func randomText(words int) string {
	out := make([]string, words)
	for i := range out {
		out[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(out, " ")
}

// loadBot is one simulated user.
type loadBot struct {
	id     int
	nick   string
	conn   *client.Connection
	stats  *Stats
	logger zerolog.Logger

	mu      sync.Mutex
	ownID   string
	peers   []string
	pending map[string]time.Time // token -> send time
	seq     int
}

func newBot(id int, stats *Stats, logger zerolog.Logger) *loadBot {
	return &loadBot{
		id:      id,
		nick:    randomName(id),
		stats:   stats,
		logger:  logger,
		pending: make(map[string]time.Time),
	}
}

// connect opens the connection and waits for the server to confirm the join.
func (b *loadBot) connect(server string) error {
	conn, err := client.NewConnection(server)
	if err != nil {
		return err
	}
	b.conn = conn
	if err := conn.Open(b.nick); err != nil {
		conn.Close()
		return err
	}

	timeout := time.After(joinTimeout)
	for {
		select {
		case ev, ok := <-conn.Incoming():
			if !ok {
				return fmt.Errorf("connection closed before join")
			}
			b.handle(ev)
			if b.identified() {
				return nil
			}
		case <-timeout:
			conn.Close()
			return fmt.Errorf("no joined event within %v", joinTimeout)
		}
	}
}

func (b *loadBot) identified() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ownID != ""
}

func (b *loadBot) handle(ev protocol.ServerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch e := ev.(type) {
	case *protocol.JoinedEvent:
		b.ownID = string(e.ID)
	case *protocol.UserListEvent:
		b.peers = b.peers[:0]
		for _, u := range e.Users {
			if string(u.ID) != b.ownID {
				b.peers = append(b.peers, string(u.ID))
			}
		}
	case *protocol.MessageEvent:
		if string(e.UserID) != b.ownID {
			return
		}
		token, _, _ := strings.Cut(e.Text, " ")
		if sent, ok := b.pending[token]; ok {
			delete(b.pending, token)
			b.stats.recordEcho(time.Since(sent))
		}
	}
}

func (b *loadBot) run(ctx context.Context, deadline time.Time, o Options, shutdownDelay time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range b.conn.Incoming() {
			b.handle(ev)
		}
	}()

	// Close sends the leave notice itself
	defer func() {
		b.conn.Close()
		<-done
	}()

	for time.Now().Before(deadline) {
		if !b.conn.IsConnected() {
			b.stats.disconnections.Add(1)
			return
		}
		b.post(o.PrivateChance)

		delay := o.MinDelay + time.Duration(rand.Int63n(int64(o.MaxDelay-o.MinDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	// Stagger shutdown to avoid a thundering herd of leave notices
	select {
	case <-time.After(shutdownDelay):
	case <-ctx.Done():
	}
}

func (b *loadBot) post(privateChance float64) {
	b.mu.Lock()
	b.seq++
	token := fmt.Sprintf("[%d-%d]", b.id, b.seq)
	to := protocol.ID(protocol.ChannelAll)
	if len(b.peers) > 0 && rand.Float64() < privateChance {
		to = protocol.ID(b.peers[rand.Intn(len(b.peers))])
	}
	b.pending[token] = time.Now()
	b.mu.Unlock()

	err := b.conn.Send(&protocol.SendMessageCommand{Text: token + " " + randomText(3+rand.Intn(8)), To: to})
	if err != nil {
		b.mu.Lock()
		delete(b.pending, token)
		b.mu.Unlock()
		b.stats.messagesFailed.Add(1)
		return
	}
	b.stats.messagesPosted.Add(1)
	if to != protocol.ChannelAll {
		b.stats.privatePosted.Add(1)
	}
}
