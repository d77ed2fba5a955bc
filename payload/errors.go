package payload

import "errors"

// Sentinel errors for the Payload Driver's own failure modes, distinct from
// whatever the injected Builder/StateProvider may return.
var (
	ErrNotOurTurn         = errors.New("not our turn to propose")
	ErrParentNotFound     = errors.New("parent header not found")
	ErrGasLimitMissing    = errors.New("gas limit missing from payload attributes")
	ErrParallelExecution  = errors.New("parallel pass failed")
)

// BuilderError wraps a failure surfaced by the injected Builder, keeping the
// originating transaction index for diagnostics.
type BuilderError struct {
	TxIndex int
	Err     error
}

func (e *BuilderError) Error() string { return e.Err.Error() }
func (e *BuilderError) Unwrap() error { return e.Err }
