package lstack

import (
	"errors"
	"fmt"
)

// Job-fatal conditions. Everything else that goes wrong mid-pipeline
// is recoverable-local: the offending frame/AP is recorded in the
// diagnostics and dropped, and the job carries on.
var (
	// No frame passed global registration.
	ErrNoValidFrames = errors.New("no valid frames")

	// Every alignment point was pruned or lost its frames.
	ErrNoAlignmentPoints = errors.New("no alignment points survived pruning")

	// The reference frame has no region with measurable 2-D structure.
	ErrNoStructure = errors.New("no detectable structure in reference frame")
)

// fatal tags a job-fatal error with the phase it failed in, so the
// caller always learns where and why - never a silently degraded
// image.
func fatal(phase Phase, err error) error {
	return fmt.Errorf("phase %s: %w", phase, err)
}
