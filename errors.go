package queue

import "errors"

// codedError is a sentinel error carrying the numeric contract code from
// ERROR HANDLING DESIGN §7. Declared once per kind and returned directly
// (never wrapped) so errors.Is keeps working across the package boundary.
type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() int     { return e.code }

var (
	// ErrMissingJob: job hash absent on a transition that requires it (-1).
	ErrMissingJob = &codedError{code: -1, msg: "jobqueue: missing job"}
	// ErrMissingLock: a token was supplied but no lock exists (-2).
	ErrMissingLock = &codedError{code: -2, msg: "jobqueue: missing lock"}
	// ErrNotActive: job not found in active, or not in delayed for promote (-3).
	ErrNotActive = &codedError{code: -3, msg: "jobqueue: job not active"}
	// ErrPendingDependencies: <job>:dependencies nonempty on finish (-4).
	ErrPendingDependencies = &codedError{code: -4, msg: "jobqueue: job has pending dependencies"}
	// ErrMissingParent: referenced parent job does not exist (-5).
	ErrMissingParent = &codedError{code: -5, msg: "jobqueue: missing parent"}
	// ErrLockMismatch: supplied token does not own the lock (-6).
	ErrLockMismatch = &codedError{code: -6, msg: "jobqueue: lock mismatch"}
	// ErrReservedJobID: a caller supplied a job ID using the marker prefix.
	ErrReservedJobID = errors.New("jobqueue: job id \"0:\" prefix is reserved for markers")
)

// Code extracts the §7 numeric code from err, if any, returning (0,
// false) for errors outside this package's sentinel set.
func Code(err error) (int, bool) {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code, true
	}
	return 0, false
}
