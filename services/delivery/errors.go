package delivery

import "fmt"

// PersistenceError reports a failure after the device already accepted the
// pack: the push landed but snapshotting or bookkeeping did not. The device
// state has diverged from the records until the next accepted operation.
type PersistenceError struct {
	Device string
	Op     string
	Stage  string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %s failed after push: %v", e.Op, e.Device, e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
