package hostcall

import "fmt"

// TrapError is returned by a host call when the guest has violated its
// contract (spec §7 "Guest contract violation"): out-of-bounds memory, a
// missing or wrong-kind resource id, malformed params, a non-UTF-8 name, or
// an unknown type tag. The caller (runtimeglue.Executor) is expected to
// turn this into an actual engine trap; the driver loop then observes the
// process's guest future resolve as normal(error), and linked peers
// receive LinkDied(..., Failure) (spec §7).
type TrapError struct {
	Reason string
}

func (e *TrapError) Error() string { return fmt.Sprintf("hostcall: trap: %s", e.Reason) }

func trap(format string, args ...any) error {
	return &TrapError{Reason: fmt.Sprintf(format, args...)}
}

// IsTrap reports whether err is (or wraps) a TrapError.
func IsTrap(err error) bool {
	_, ok := err.(*TrapError)
	return ok
}
