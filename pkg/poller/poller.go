package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/logging"
	"github.com/prepdeck/interviewkit/pkg/metrics"
	"github.com/prepdeck/interviewkit/pkg/transcript"
)

// HistorySource fetches the authoritative, cumulative message history.
type HistorySource interface {
	GetChatHistory(ctx context.Context, sessionID string) ([]interview.Message, error)
}

const DefaultInterval = 10 * time.Second

// Options configures a Poller.
type Options struct {
	Source       HistorySource
	Store        *transcript.Store
	Interval     time.Duration
	FetchTimeout time.Duration
	Logger       *slog.Logger
	Observer     metrics.Observer
}

// Poller periodically fetches the full message history and merges it
// into the transcript store. Fetch failures are logged and swallowed:
// history is authoritative and cumulative, so a missed tick loses
// nothing and the poller just tries again on its normal cadence.
type Poller struct {
	opts   Options
	logger *slog.Logger
	obs    metrics.Observer

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	interval  time.Duration
	resetCh   chan time.Duration
	lastCount int
}

func New(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	obs := opts.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Poller{
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "poller"),
		obs:      obs,
		interval: opts.Interval,
		resetCh:  make(chan time.Duration, 1),
	}
}

// Start begins polling for a session. A second Start while running is
// ignored. Polling stops when Stop is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.lastCount = -1
	go p.loop(runCtx, sessionID)
}

// Stop cancels the scheduled tick. In-flight fetches complete but their
// results are discarded by the context.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancel()
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SetInterval changes the polling cadence from the next tick on.
// Text-only sessions lean on polling for all updates, so the
// orchestrator shortens the interval while voice is disabled.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	select {
	case p.resetCh <- d:
	default:
	}
}

func (p *Poller) loop(ctx context.Context, sessionID string) {
	p.mu.Lock()
	interval := p.interval
	p.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Prime the transcript right away instead of waiting a full interval.
	p.tick(ctx, sessionID)

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.resetCh:
			ticker.Reset(d)
		case <-ticker.C:
			p.tick(ctx, sessionID)
		}
	}
}

// tick fetches the history and reconciles it into the store, but only
// when the message count changed since the last fetch: an unchanged
// count means there is no merge work to do.
func (p *Poller) tick(ctx context.Context, sessionID string) {
	fctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()

	history, err := p.opts.Source.GetChatHistory(fctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("history fetch failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		p.obs.RecordEvent(metrics.Event{
			Name: "poll_tick",
			Time: time.Now(),
			Tags: map[string]string{"session_id": sessionID, "result": "fetch_error"},
		})
		return
	}

	p.mu.Lock()
	unchanged := len(history) == p.lastCount
	p.lastCount = len(history)
	p.mu.Unlock()

	if unchanged {
		p.obs.RecordEvent(metrics.Event{
			Name: "poll_tick",
			Time: time.Now(),
			Tags: map[string]string{"session_id": sessionID, "result": "unchanged"},
		})
		return
	}

	var merged, dropped int
	for _, msg := range history {
		msg.Origin = interview.OriginPolled
		res := p.opts.Store.Append(msg)
		switch res.Outcome {
		case transcript.OutcomeAccepted, transcript.OutcomeSuperseded:
			merged++
		default:
			dropped++
		}
	}
	p.logger.Debug("history reconciled",
		slog.String("session_id", sessionID),
		slog.Int("fetched", len(history)),
		slog.Int("merged", merged),
		slog.Int("deduplicated", dropped))
	p.obs.RecordEvent(metrics.Event{
		Name:  "poll_tick",
		Time:  time.Now(),
		Value: float64(merged),
		Tags:  map[string]string{"session_id": sessionID, "result": "merged"},
	})
}
