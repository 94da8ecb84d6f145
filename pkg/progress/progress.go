// Package progress reports batch completion as units finish.
//
// A Reporter is purely observational: the dispatcher calls Start once with
// the unit count, Advance once per completed unit in arrival order, and
// Finish after the last unit. Implementations must not block.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Reporter receives completion signals from a batch.
type Reporter interface {
	Start(total int)
	Advance()
	Finish()
}

// Nop discards all signals.
type Nop struct{}

func (Nop) Start(int) {}
func (Nop) Advance()  {}
func (Nop) Finish()   {}

// Counter counts signals. The zero value is ready to use.
type Counter struct {
	total     atomic.Int64
	completed atomic.Int64
	finished  atomic.Bool
}

func (c *Counter) Start(total int) {
	c.total.Store(int64(total))
	c.completed.Store(0)
	c.finished.Store(false)
}

func (c *Counter) Advance() { c.completed.Add(1) }
func (c *Counter) Finish()  { c.finished.Store(true) }

// Total returns the count passed to Start.
func (c *Counter) Total() int { return int(c.total.Load()) }

// Completed returns the number of Advance calls since Start.
func (c *Counter) Completed() int { return int(c.completed.Load()) }

// Finished reports whether Finish was called.
func (c *Counter) Finished() bool { return c.finished.Load() }

// Func adapts a callback receiving (completed, total) to a Reporter.
// The callback is invoked once per Advance, serialized.
type Func func(completed, total int)

func (f Func) Reporter() Reporter {
	return &funcReporter{fn: f}
}

type funcReporter struct {
	mu        sync.Mutex
	fn        Func
	total     int
	completed int
}

func (r *funcReporter) Start(total int) {
	r.mu.Lock()
	r.total, r.completed = total, 0
	r.mu.Unlock()
}

func (r *funcReporter) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	r.fn(r.completed, r.total)
}

func (r *funcReporter) Finish() {}

// DefaultStep is the default logging interval in percent.
const DefaultStep = 10

// Log writes progress to a zerolog logger every Step percent.
type Log struct {
	logger zerolog.Logger
	step   int

	mu        sync.Mutex
	total     int
	completed int
	nextPct   int
	start     time.Time
}

// NewLog creates a logging reporter. A step <= 0 uses DefaultStep.
func NewLog(logger zerolog.Logger, step int) *Log {
	if step <= 0 || step > 100 {
		step = DefaultStep
	}
	return &Log{logger: logger, step: step}
}

func (l *Log) Start(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total, l.completed, l.nextPct = total, 0, l.step
	l.start = time.Now()

	l.logger.Info().
		Int("total", total).
		Msg("Batch started")
}

func (l *Log) Advance() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed++
	if l.total <= 0 {
		return
	}

	pct := l.completed * 100 / l.total
	if pct < l.nextPct {
		return
	}
	for l.nextPct <= pct {
		l.nextPct += l.step
	}

	l.logger.Info().
		Int("completed", l.completed).
		Int("total", l.total).
		Float64("progress_pct", float64(l.completed)/float64(l.total)*100).
		Msg("Batch progress")
}

func (l *Log) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.Info().
		Int("completed", l.completed).
		Int("total", l.total).
		Dur("duration", time.Since(l.start)).
		Msg("Batch complete")
}

var (
	_ Reporter = Nop{}
	_ Reporter = (*Counter)(nil)
	_ Reporter = (*Log)(nil)
	_ Reporter = (*funcReporter)(nil)
)
