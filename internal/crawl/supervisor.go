package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/petstay/hotel-scraper/internal/metrics"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = 1 * time.Second
	DefaultBackoffCap     = 10 * time.Second
	DefaultJitterMin      = 200 * time.Millisecond
	DefaultJitterMax      = 800 * time.Millisecond
	DefaultStallThreshold = 290 * time.Second
	DefaultStallInterval  = 10 * time.Second
)

// SupervisorConfig tunes retry and watchdog behavior. Zero fields fall
// back to the defaults above.
type SupervisorConfig struct {
	Brand          string
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	JitterMin      time.Duration
	JitterMax      time.Duration
	StallThreshold time.Duration
	StallInterval  time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.Brand == "" {
		c.Brand = "crawl"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.JitterMin <= 0 {
		c.JitterMin = DefaultJitterMin
	}
	if c.JitterMax < c.JitterMin {
		c.JitterMax = DefaultJitterMax
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = DefaultStallThreshold
	}
	if c.StallInterval <= 0 {
		c.StallInterval = DefaultStallInterval
	}
	return c
}

// Supervisor retries failing operations with capped exponential backoff
// and watches for stalls. Attempt delays follow
// min(cap, base*2^attempt) plus a uniform jitter, so repeated failures
// back off quickly but never wait unbounded.
//
// The watchdog side tracks the time of the last completed item via
// RecordSuccess. When nothing completes for longer than the stall
// threshold it reports a stall exactly once; the episode latch rearms on
// the next success.
type Supervisor struct {
	cfg     SupervisorConfig
	session Restarter
	metrics *metrics.CrawlMetrics
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	lastSuccess time.Time
	stallLatch  bool
}

// NewSupervisor builds a supervisor. session may be nil when there is no
// browser to restart on session-level failures, and m may be nil when
// metrics are not wired.
func NewSupervisor(cfg SupervisorConfig, session Restarter, m *metrics.CrawlMetrics, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		session: session,
		metrics: m,
		logger:  logger.With("component", "supervisor"),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run invokes op until it succeeds or MaxAttempts attempts are spent.
// Session-level failures trigger a session restart before the next
// attempt. The final error wraps the last failure from op.
func (s *Supervisor) Run(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("attempt failed",
			"op", name,
			"attempt", attempt+1,
			"max_attempts", s.cfg.MaxAttempts,
			"error", lastErr)
		if IsSessionFailure(lastErr) && s.session != nil {
			if rerr := s.session.Restart(ctx); rerr != nil {
				s.logger.Error("session restart failed", "op", name, "error", rerr)
			} else {
				s.metrics.SessionRestart(s.cfg.Brand)
				s.logger.Info("session restarted", "op", name)
			}
		}
		if attempt < s.cfg.MaxAttempts-1 {
			s.metrics.Retry(name)
			if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, s.cfg.MaxAttempts, lastErr)
}

// backoff returns the delay after the given 0-based failed attempt.
func (s *Supervisor) backoff(attempt int) time.Duration {
	d := s.cfg.BackoffBase << uint(attempt)
	if d > s.cfg.BackoffCap || d <= 0 {
		d = s.cfg.BackoffCap
	}
	return d + s.jitter()
}

func (s *Supervisor) jitter() time.Duration {
	span := s.cfg.JitterMax - s.cfg.JitterMin
	if span <= 0 {
		return s.cfg.JitterMin
	}
	return s.cfg.JitterMin + time.Duration(rand.Int63n(int64(span)))
}

// RecordSuccess marks forward progress and rearms the stall latch.
func (s *Supervisor) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSuccess = time.Now()
	s.stallLatch = false
}

// LastSuccess returns the time of the most recent recorded success.
func (s *Supervisor) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// Watch starts the stall watchdog and returns a channel that receives one
// StallError per stall episode. The goroutine stops when ctx is done.
func (s *Supervisor) Watch(ctx context.Context) <-chan *StallError {
	ch := make(chan *StallError, 1)
	s.mu.Lock()
	if s.lastSuccess.IsZero() {
		s.lastSuccess = time.Now()
	}
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.StallInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if stall := s.checkStall(); stall != nil {
					select {
					case ch <- stall:
					default:
					}
				}
			}
		}
	}()
	return ch
}

func (s *Supervisor) checkStall() *StallError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stallLatch {
		return nil
	}
	elapsed := time.Since(s.lastSuccess)
	if elapsed <= s.cfg.StallThreshold {
		return nil
	}
	s.stallLatch = true
	s.metrics.Stall(s.cfg.Brand)
	s.logger.Error("stall detected",
		"elapsed", elapsed.Round(time.Second),
		"threshold", s.cfg.StallThreshold)
	return &StallError{LastSuccess: s.lastSuccess, Elapsed: elapsed}
}
