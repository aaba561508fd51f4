package progress

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultInterval = 5 * time.Second

// Config controls a Reporter.
//   - Total: number of targets in the run.
//   - Interval: minimum gap between progress lines (default 5s).
//   - Now: clock used for rate limiting (defaults to time.Now).
type Config struct {
	Total    int
	Interval time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// Counts is a point-in-time view of the reporter counters.
type Counts struct {
	Total     int
	Processed int
	Succeeded int
	Failed    int
}

// Reporter counts finished tasks. It is safe for concurrent use.
type Reporter struct {
	cfg       Config
	limiter   rateLimiter
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewReporter builds a Reporter.
func NewReporter(cfg Config) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Reporter{cfg: cfg, limiter: rateLimiter{interval: cfg.Interval}}
}

// Done records one finished task. The last task of the run always logs.
func (r *Reporter) Done(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.succeeded.Add(1)
	} else {
		r.failed.Add(1)
	}
	processed := int(r.processed.Add(1))
	if processed == r.cfg.Total || r.limiter.Allow(r.cfg.Now()) {
		r.log(processed)
	}
}

// Counts returns the current counters.
func (r *Reporter) Counts() Counts {
	if r == nil {
		return Counts{}
	}
	return Counts{
		Total:     r.cfg.Total,
		Processed: int(r.processed.Load()),
		Succeeded: int(r.succeeded.Load()),
		Failed:    int(r.failed.Load()),
	}
}

func (r *Reporter) log(processed int) {
	c := r.Counts()
	r.cfg.Logger.Info("progress",
		zap.Int("processed", processed),
		zap.Int("total", c.Total),
		zap.Int("succeeded", c.Succeeded),
		zap.Int("failed", c.Failed),
	)
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
