package pipeline

import "time"

// Clock abstracts wall-clock access so runs can be driven in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker is the subset of *time.Ticker the orchestrator needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// StageFraction estimates how far into a stage a run probably is:
// elapsed / estimate, clamped to [0, 1]. It knows nothing about real
// completion.
func StageFraction(stage Stage, startedAt, now time.Time) float64 {
	estimate := stage.Estimate()
	if estimate <= 0 {
		return 1
	}

	elapsed := now.Sub(startedAt)
	if elapsed <= 0 {
		return 0
	}

	return min(float64(elapsed)/float64(estimate), 1)
}
