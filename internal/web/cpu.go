package web

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// processCPU returns the CPU usage of this process since it started, in percent
// of one core. A busy-waiting loop shows up here as ~100.
func processCPU() (float64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	return p.CPUPercent()
}
