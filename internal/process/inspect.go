package process

import (
	"context"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of a running process.
type Usage struct {
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	NumThreads int32     `json:"num_threads"`
	CreatedAt  time.Time `json:"created_at"`
}

// Inspect samples pid via gopsutil. Fields the platform cannot report are
// left zero; an error is returned only when the process cannot be found.
func Inspect(ctx context.Context, pid int) (Usage, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		u.RSSBytes = mi.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		u.NumThreads = n
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		u.CreatedAt = time.UnixMilli(ms)
	}
	return u, nil
}

// Alive reports whether pid exists and is not a zombie.
func Alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	st, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, s := range st {
		if s == gopsproc.Zombie {
			return false
		}
	}
	return true
}

// Children returns the pids of pid's direct children.
func Children(ctx context.Context, pid int) []int {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}
	kids, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return nil
	}
	out := make([]int, 0, len(kids))
	for _, k := range kids {
		out = append(out, int(k.Pid))
	}
	return out
}
