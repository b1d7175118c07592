package graph

import (
	"context"
	"math"
	"sync"
	"time"
)

// PacerConfig bounds the adaptive delay estimate.
type PacerConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Min     time.Duration `mapstructure:"min"`
	Max     time.Duration `mapstructure:"max"`
	Growth  float64       `mapstructure:"growth"`
	Decay   float64       `mapstructure:"decay"`
}

// DefaultPacerConfig starts at 100ms, doubles on throttling up to 5s and
// decays by 10% per success down to 100ms.
var DefaultPacerConfig = PacerConfig{
	Initial: 100 * time.Millisecond,
	Min:     100 * time.Millisecond,
	Max:     5000 * time.Millisecond,
	Growth:  2,
	Decay:   0.9,
}

// Pacer holds the adaptive delay estimate used to space sequential bulk
// requests. The executor adjusts it; it never waits on it.
type Pacer struct {
	mu      sync.Mutex
	delay   time.Duration
	cfg     PacerConfig
	observe func(time.Duration)
}

// NewPacer builds a pacer, filling unset fields from DefaultPacerConfig.
func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.Min <= 0 {
		cfg.Min = DefaultPacerConfig.Min
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultPacerConfig.Max
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if cfg.Growth <= 1 {
		cfg.Growth = DefaultPacerConfig.Growth
	}
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		cfg.Decay = DefaultPacerConfig.Decay
	}
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultPacerConfig.Initial
	}
	return &Pacer{delay: clampDuration(cfg.Initial, cfg.Min, cfg.Max), cfg: cfg}
}

// OnChange registers a callback invoked with the new estimate after each
// adjustment.
func (p *Pacer) OnChange(fn func(time.Duration)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.observe = fn
	p.mu.Unlock()
}

// Current returns the current estimate.
func (p *Pacer) Current() time.Duration {
	if p == nil {
		return DefaultPacerConfig.Initial
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

// Penalize grows the estimate after a 429, capped at the configured max.
func (p *Pacer) Penalize() time.Duration {
	return p.adjust(func(d time.Duration) time.Duration {
		return time.Duration(math.Round(float64(d) * p.cfg.Growth))
	})
}

// Relax shrinks the estimate after a non-429 response, floored at the
// configured min.
func (p *Pacer) Relax() time.Duration {
	return p.adjust(func(d time.Duration) time.Duration {
		return time.Duration(math.Round(float64(d) * p.cfg.Decay))
	})
}

// Reset restores the initial estimate.
func (p *Pacer) Reset() {
	p.adjust(func(time.Duration) time.Duration { return p.cfg.Initial })
}

// Wait blocks for the current estimate or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return SleepContext(ctx, p.Current())
}

func (p *Pacer) adjust(fn func(time.Duration) time.Duration) time.Duration {
	if p == nil {
		return DefaultPacerConfig.Initial
	}
	p.mu.Lock()
	p.delay = clampDuration(fn(p.delay), p.cfg.Min, p.cfg.Max)
	delay := p.delay
	observe := p.observe
	p.mu.Unlock()

	if observe != nil {
		observe(delay)
	}
	return delay
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// SleepContext sleeps for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
