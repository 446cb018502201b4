package memory

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Sampler reads raw memory counters from the platform.
type Sampler interface {
	Sample() (Raw, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() (Raw, error)

func (f SamplerFunc) Sample() (Raw, error) { return f() }

// procfsSampler reads /proc/meminfo.
type procfsSampler struct {
	fs procfs.FS
}

// NewProcfsSampler returns a Sampler backed by the proc filesystem mounted at
// mountPoint. An empty mountPoint uses the default /proc.
func NewProcfsSampler(mountPoint string) (Sampler, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return procfsSampler{fs: fs}, nil
}

func (s procfsSampler) Sample() (Raw, error) {
	mi, err := s.fs.Meminfo()
	if err != nil {
		return Raw{}, fmt.Errorf("read meminfo: %w", err)
	}
	r := Raw{
		TotalMB:     kbToMB(mi.MemTotal),
		AvailableMB: kbToMB(mi.MemAvailable),
		SwapTotalMB: kbToMB(mi.SwapTotal),
		SwapFreeMB:  kbToMB(mi.SwapFree),
	}
	// Older kernels lack MemAvailable.
	if mi.MemAvailable == nil {
		r.AvailableMB = kbToMB(mi.MemFree) + kbToMB(mi.Cached) + kbToMB(mi.Buffers)
	}
	return r, nil
}

func kbToMB(v *uint64) int64 {
	if v == nil {
		return 0
	}
	return int64(*v / 1024)
}
