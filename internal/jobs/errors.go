package jobs

import "errors"

// Sentinel classification errors for the build pipeline. They are
// wrapped with contextual information at the failure site and converted
// into the job's terminal Failed state at the worker boundary; none of
// them ever propagate out of the queue.
var (
	ErrStaging   = errors.New("e4e: config staging error")
	ErrSync      = errors.New("e4e: tree sync error")
	ErrBuild     = errors.New("e4e: build command error")
	ErrPackaging = errors.New("e4e: artifact packaging error")
)
