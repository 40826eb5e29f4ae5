package service

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mediascribe/mediascribe/internal/core"
)

// Preflight thresholds. Runs producing thousands of artifacts need headroom
// on the runs volume; local inference needs free memory.
const (
	minFreeDiskBytes   = 500 * 1024 * 1024
	minFreeMemoryBytes = 256 * 1024 * 1024
)

// PreflightResult holds the outcome of resource checks.
type PreflightResult struct {
	OK       bool
	Errors   []string
	Warnings []string
}

// RunPreflight checks local resources before a run starts dispatching.
// Disk exhaustion mid-run would corrupt artifacts, so it is an error;
// low memory only degrades local inference, so it is a warning.
func RunPreflight(runsDir string) *PreflightResult {
	res := &PreflightResult{OK: true}

	if usage, err := disk.Usage(runsDir); err == nil {
		if usage.Free < minFreeDiskBytes {
			res.OK = false
			res.Errors = append(res.Errors,
				fmt.Sprintf("only %d MB free on the runs volume (%d MB required)",
					usage.Free/(1024*1024), minFreeDiskBytes/(1024*1024)))
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		if vm.Available < minFreeMemoryBytes {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("low available memory: %d MB", vm.Available/(1024*1024)))
		}
	}

	return res
}

// PreflightError converts a failed preflight into a setup error.
func PreflightError(res *PreflightResult) error {
	if res.OK {
		return nil
	}
	return core.ErrSetup(core.CodeInvalidConfig,
		fmt.Sprintf("preflight failed: %v", res.Errors))
}
