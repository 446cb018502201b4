package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

const defaultPollInterval = 5 * time.Second

// Config tunes a Monitor. Zero values use package defaults.
type Config struct {
	Sampler  Sampler
	Interval time.Duration
	Logger   *zerolog.Logger
	// now is overridable in tests.
	now func() time.Time
}

// Monitor polls a Sampler and publishes immutable snapshots.
type Monitor struct {
	sampler  Sampler
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	snap atomic.Pointer[Snapshot]

	mu         sync.Mutex
	onCritical []func(Snapshot)
	onChange   []func(old, cur Pressure)
}

// NewMonitor builds a Monitor and takes an initial sample. A failed initial
// sample leaves an empty snapshot, which refuses every allocation.
func NewMonitor(cfg Config) *Monitor {
	m := &Monitor{
		sampler:  cfg.Sampler,
		interval: cfg.Interval,
		now:      cfg.now,
		log:      zerolog.Nop(),
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "memory").Logger()
	}
	if m.interval <= 0 {
		m.interval = defaultPollInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	empty := Snapshot{}
	m.snap.Store(&empty)
	if m.sampler != nil {
		if raw, err := m.sampler.Sample(); err == nil {
			s := NewSnapshot(raw, m.now())
			m.snap.Store(&s)
			observe(s)
		} else {
			m.log.Warn().Err(err).Msg("initial memory sample failed")
		}
	}
	return m
}

// Snapshot returns the latest snapshot without locking.
func (m *Monitor) Snapshot() Snapshot { return *m.snap.Load() }

// EffectiveAvailableMB reports available RAM plus half of free swap.
func (m *Monitor) EffectiveAvailableMB() int64 { return m.Snapshot().EffectiveAvailableMB() }

// CanAllocateMB gates an allocation of requiredMB against the latest snapshot.
func (m *Monitor) CanAllocateMB(requiredMB int64) bool {
	return m.Snapshot().CanAllocateMB(requiredMB)
}

// TotalMB reports device physical memory from the latest snapshot.
func (m *Monitor) TotalMB() int64 { return m.Snapshot().TotalMB }

// OnCritical registers fn to run on every poll that observes critical
// pressure. Handlers must be idempotent.
func (m *Monitor) OnCritical(fn func(Snapshot)) {
	m.mu.Lock()
	m.onCritical = append(m.onCritical, fn)
	m.mu.Unlock()
}

// OnPressureChange registers fn to run whenever the classification changes.
func (m *Monitor) OnPressureChange(fn func(old, cur Pressure)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Refresh samples once, publishes the snapshot and runs callbacks. On a
// sampling error the previous snapshot is kept.
func (m *Monitor) Refresh() (Snapshot, error) {
	if m.sampler == nil {
		return m.Snapshot(), nil
	}
	raw, err := m.sampler.Sample()
	if err != nil {
		m.log.Warn().Err(err).Msg("memory sample failed")
		return m.Snapshot(), err
	}
	cur := NewSnapshot(raw, m.now())
	prev := m.snap.Swap(&cur)
	observe(cur)

	m.mu.Lock()
	changeFns := slices.Clone(m.onChange)
	criticalFns := slices.Clone(m.onCritical)
	m.mu.Unlock()

	if prev != nil && prev.Pressure != cur.Pressure {
		m.log.Info().
			Str("from", prev.Pressure.String()).
			Str("to", cur.Pressure.String()).
			Str("available", humanize.IBytes(uint64(cur.AvailableMB)<<20)).
			Msg("memory pressure changed")
		for _, fn := range changeFns {
			fn(prev.Pressure, cur.Pressure)
		}
	}
	if cur.Pressure == PressureCritical {
		m.log.Warn().Float64("used", cur.UsedPercent).Msg("critical memory pressure")
		for _, fn := range criticalFns {
			fn(cur)
		}
	}
	return cur, nil
}

// Run polls until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			_, _ = m.Refresh()
		}
	}
}
