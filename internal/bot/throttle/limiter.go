// Package throttle implements a per-user token bucket whose rate and burst
// adapt to observed handler latency and to how often users are blocked.
package throttle

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	initialBurstFactor = 2.0
	minBurstFactor     = 1.5
	maxBurstFactor     = 3.0

	tuneInterval   = 5 * time.Second
	maxSamples     = 1000
	targetPressure = 0.7
	targetBlock    = 0.1
	maxRateChange  = 0.1
)

type Options struct {
	InitialRPS     float64
	MaxRPS         float64
	MinRPS         float64
	CacheSize      int
	PressureWindow time.Duration
}

func DefaultOptions() Options {
	return Options{
		InitialRPS:     10,
		MaxRPS:         80,
		MinRPS:         4,
		CacheSize:      25_000,
		PressureWindow: 60 * time.Second,
	}
}

// Parameters is a point-in-time view of the limiter for monitoring.
type Parameters struct {
	RPS           float64 `json:"rps"`
	BurstCapacity float64 `json:"burst_capacity"`
	BurstFactor   float64 `json:"burst_factor"`
	Pressure      float64 `json:"pressure"`
	CacheUsage    float64 `json:"cache_usage"`
}

type bucket struct {
	tokens float64
	last   time.Time
}

type sample struct {
	at      time.Time
	latency time.Duration
}

type Limiter struct {
	mu sync.Mutex

	buckets   *lru.Cache[int64, bucket]
	cacheSize int
	window    time.Duration

	rps         float64
	minRPS      float64
	maxRPS      float64
	burstFactor float64

	total    int
	blocked  int
	samples  []sample
	pressure float64
	lastTune time.Time

	now func() time.Time
}

func New(opts Options) (*Limiter, error) {
	if opts.MinRPS <= 0 || opts.MaxRPS < opts.MinRPS {
		return nil, errors.New("throttle: invalid rps bounds")
	}
	if opts.CacheSize <= 0 {
		return nil, errors.New("throttle: cache size must be positive")
	}

	buckets, err := lru.New[int64, bucket](opts.CacheSize)
	if err != nil {
		return nil, err
	}

	l := &Limiter{
		buckets:     buckets,
		cacheSize:   opts.CacheSize,
		window:      opts.PressureWindow,
		rps:         clamp(opts.InitialRPS, opts.MinRPS, opts.MaxRPS),
		minRPS:      opts.MinRPS,
		maxRPS:      opts.MaxRPS,
		burstFactor: initialBurstFactor,
		now:         time.Now,
	}
	l.lastTune = l.now()
	return l, nil
}

func (l *Limiter) burstCapacity() float64 {
	return l.rps * l.burstFactor
}

// Allow consumes one token from userID's bucket. Unknown users start with a
// full bucket.
func (l *Limiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	burst := l.burstCapacity()

	b, ok := l.buckets.Get(userID)
	if !ok {
		b = bucket{tokens: burst, last: now}
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := math.Min(burst, b.tokens+elapsed*l.rps)

	if tokens >= 1 {
		l.buckets.Add(userID, bucket{tokens: tokens - 1, last: now})
		return true
	}

	l.buckets.Add(userID, bucket{tokens: tokens, last: now})
	return false
}

// Observe records one processed update.
func (l *Limiter) Observe(latency time.Duration, blocked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.samples = append(l.samples, sample{at: now, latency: latency})
	if len(l.samples) > maxSamples {
		l.samples = l.samples[len(l.samples)-maxSamples:]
	}
	l.total++
	if blocked {
		l.blocked++
	}
	l.pressure = l.calculatePressure(now)
}

// calculatePressure returns avg/p95 over the samples inside the window,
// capped at 1.
func (l *Limiter) calculatePressure(now time.Time) float64 {
	if l.window > 0 {
		cutoff := now.Add(-l.window)
		i := sort.Search(len(l.samples), func(i int) bool { return !l.samples[i].at.Before(cutoff) })
		l.samples = l.samples[i:]
	}
	if len(l.samples) == 0 {
		return 0
	}

	sorted := make([]float64, len(l.samples))
	var sum float64
	for i, s := range l.samples {
		sorted[i] = s.latency.Seconds()
		sum += sorted[i]
	}
	sort.Float64s(sorted)

	p95 := sorted[int(float64(len(sorted))*0.95)]
	if p95 == 0 {
		return 0
	}
	avg := sum / float64(len(sorted))
	return math.Min(1, avg/p95)
}

// Tune adjusts rate and burst factor, at most once per tune interval.
// It reports whether an adjustment happened.
func (l *Limiter) Tune() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastTune) < tuneInterval {
		return false
	}

	blockRate := 0.0
	if l.total > 0 {
		blockRate = float64(l.blocked) / float64(l.total)
	}

	pErr := targetPressure - l.pressure
	iErr := targetBlock - blockRate
	adjustment := 0.5*pErr + 0.01*iErr - 0.1*l.pressure
	rateChange := math.Tanh(adjustment) * maxRateChange

	var burstChange float64
	switch {
	case blockRate > 0.2:
		burstChange = -0.05
	case blockRate < 0.05:
		burstChange = 0.02
	}

	l.rps = clamp(l.rps*(1+rateChange), l.minRPS, l.maxRPS)
	l.burstFactor = clamp(l.burstFactor*(1+burstChange), minBurstFactor, maxBurstFactor)

	l.total = 0
	l.blocked = 0
	l.lastTune = now
	return true
}

func (l *Limiter) Parameters() Parameters {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Parameters{
		RPS:           l.rps,
		BurstCapacity: l.burstCapacity(),
		BurstFactor:   l.burstFactor,
		Pressure:      l.pressure,
		CacheUsage:    float64(l.buckets.Len()) / float64(l.cacheSize),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
