package scheduler

import "github.com/shirou/gopsutil/v3/cpu"

// defaultMaxConcurrency picks a worker cap when settings don't set one
// explicitly, mirroring the teacher's habit of sizing worker pools off
// the host's logical CPU count rather than a fixed constant.
func defaultMaxConcurrency() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return 4
	}
	if n > 16 {
		return 16
	}
	return n
}
