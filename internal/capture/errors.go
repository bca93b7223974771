package capture

import (
	"errors"
	"fmt"
	"os"

	"firestige.xyz/dnsniff/internal/core"
)

// CaptureError describes a failure of a capture operation on one ring.
type CaptureError struct {
	Op        string // socket, setsockopt, mmap, bind, fanout, filter, poll, stats, lookup, open
	Interface string
	Ring      int
	Err       error
}

func (e *CaptureError) Error() string {
	if e.Ring < 0 {
		return fmt.Sprintf("capture %s %s: %v", e.Op, e.Interface, e.Err)
	}
	return fmt.Sprintf("capture %s %s ring %d: %v", e.Op, e.Interface, e.Ring, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// newError builds a CaptureError, tagging privilege failures with core.ErrPermission.
func newError(op, iface string, ring int, err error) *CaptureError {
	if errors.Is(err, os.ErrPermission) && !errors.Is(err, core.ErrPermission) {
		err = fmt.Errorf("%w: %w", core.ErrPermission, err)
	}
	return &CaptureError{Op: op, Interface: iface, Ring: ring, Err: err}
}
