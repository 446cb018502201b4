package memory

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyThresholds(t *testing.T) {
	cases := []struct {
		used float64
		want Pressure
	}{
		{0, PressureNormal},
		{0.7499, PressureNormal},
		{0.75, PressureModerate},
		{0.8999, PressureModerate},
		{0.90, PressureCritical},
		{1, PressureCritical},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.used), "used=%v", c.used)
	}
}

func TestNewSnapshotComputesUsedPercent(t *testing.T) {
	s := NewSnapshot(Raw{TotalMB: 8000, AvailableMB: 2000}, time.Unix(0, 0))
	assert.InDelta(t, 0.75, s.UsedPercent, 1e-9)
	assert.Equal(t, PressureModerate, s.Pressure)
	assert.False(t, s.LowMemory)

	s = NewSnapshot(Raw{TotalMB: 8000, AvailableMB: 400}, time.Unix(0, 0))
	assert.Equal(t, PressureCritical, s.Pressure)
	assert.True(t, s.LowMemory)
}

func TestEffectiveAvailableWeighsSwapAtHalf(t *testing.T) {
	s := NewSnapshot(Raw{TotalMB: 4096, AvailableMB: 1000, SwapTotalMB: 2048, SwapFreeMB: 600}, time.Now())
	assert.Equal(t, int64(1300), s.EffectiveAvailableMB())
}

func TestCanAllocateMBProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		raw := Raw{
			TotalMB:     int64(rng.Intn(16384) + 1),
			SwapFreeMB:  int64(rng.Intn(4096)),
			SwapTotalMB: 4096,
		}
		raw.AvailableMB = int64(rng.Intn(int(raw.TotalMB) + 1))
		s := NewSnapshot(raw, time.Now())
		eff := s.EffectiveAvailableMB()
		x := int64(rng.Intn(20000))
		if x >= eff-safetyMarginMB {
			require.False(t, s.CanAllocateMB(x), "x=%d eff=%d", x, eff)
		} else {
			require.True(t, s.CanAllocateMB(x), "x=%d eff=%d", x, eff)
		}
	}
}

func TestMonitorRefreshFiresCriticalEveryPoll(t *testing.T) {
	avail := atomic.Int64{}
	avail.Store(4000)
	m := NewMonitor(Config{Sampler: SamplerFunc(func() (Raw, error) {
		return Raw{TotalMB: 8000, AvailableMB: avail.Load()}, nil
	})})
	var critical atomic.Int32
	var changes []Pressure
	m.OnCritical(func(Snapshot) { critical.Add(1) })
	m.OnPressureChange(func(_, cur Pressure) { changes = append(changes, cur) })

	_, err := m.Refresh()
	require.NoError(t, err)
	assert.Equal(t, int32(0), critical.Load())

	avail.Store(100)
	for i := 0; i < 3; i++ {
		_, err = m.Refresh()
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), critical.Load())
	assert.Equal(t, []Pressure{PressureCritical}, changes)
	assert.True(t, m.Snapshot().LowMemory)
}

func TestMonitorCallbackMayRegisterCallbacks(t *testing.T) {
	m := NewMonitor(Config{Sampler: SamplerFunc(func() (Raw, error) {
		return Raw{TotalMB: 8000, AvailableMB: 100}, nil
	})})
	var late atomic.Int32
	m.OnCritical(func(Snapshot) {
		m.OnCritical(func(Snapshot) { late.Add(1) })
	})
	m.OnPressureChange(func(_, _ Pressure) {
		m.OnPressureChange(func(_, _ Pressure) {})
	})

	_, err := m.Refresh()
	require.NoError(t, err)
	assert.Equal(t, int32(0), late.Load(), "callbacks added during a refresh wait for the next one")

	_, err = m.Refresh()
	require.NoError(t, err)
	assert.Equal(t, int32(1), late.Load())
}

func TestMonitorKeepsSnapshotOnSampleError(t *testing.T) {
	fail := atomic.Bool{}
	m := NewMonitor(Config{Sampler: SamplerFunc(func() (Raw, error) {
		if fail.Load() {
			return Raw{}, errors.New("boom")
		}
		return Raw{TotalMB: 1000, AvailableMB: 900}, nil
	})})
	fail.Store(true)
	s, err := m.Refresh()
	require.Error(t, err)
	assert.Equal(t, int64(900), s.AvailableMB)
}

func TestMonitorWithoutSamplerRefusesAllocation(t *testing.T) {
	m := NewMonitor(Config{})
	assert.False(t, m.CanAllocateMB(1))
}

func TestMonitorRunPollsUntilCanceled(t *testing.T) {
	var n atomic.Int32
	m := NewMonitor(Config{
		Interval: 5 * time.Millisecond,
		Sampler: SamplerFunc(func() (Raw, error) {
			n.Add(1)
			return Raw{TotalMB: 1000, AvailableMB: 500}, nil
		}),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, n.Load(), int32(2))
}

func TestProcfsSamplerParsesMeminfo(t *testing.T) {
	dir := t.TempDir()
	meminfo := "MemTotal:        8192000 kB\n" +
		"MemFree:          512000 kB\n" +
		"MemAvailable:    2048000 kB\n" +
		"Buffers:          100000 kB\n" +
		"Cached:           900000 kB\n" +
		"SwapTotal:       1024000 kB\n" +
		"SwapFree:         512000 kB\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0o644))

	s, err := NewProcfsSampler(dir)
	require.NoError(t, err)
	raw, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, Raw{TotalMB: 8000, AvailableMB: 2000, SwapTotalMB: 1000, SwapFreeMB: 500}, raw)
}
