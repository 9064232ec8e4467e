package domain

import "errors"

var (
	// ErrPermissionDenied means the OS refuses screen capture. Fatal to the scheduler.
	ErrPermissionDenied = errors.New("screen capture permission denied")

	// ErrCaptureFailed is a transient capture failure handled by the recovery ladder.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrCaptureFatal is returned once every recovery phase has been exhausted.
	ErrCaptureFatal = errors.New("capture recovery exhausted")

	// ErrAnalysisFailed wraps any failure of the analysis service.
	ErrAnalysisFailed = errors.New("analysis service failed")

	// ErrInvalidAnalysis means the service answered with JSON that breaks the schema.
	ErrInvalidAnalysis = errors.New("invalid analysis result")

	// ErrStaleResult marks a result for a frame older than the last processed one.
	ErrStaleResult = errors.New("stale analysis result")

	// ErrAlreadyRunning is returned when starting a component twice.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning is returned when no daemon state is recorded.
	ErrNotRunning = errors.New("not running")
)
