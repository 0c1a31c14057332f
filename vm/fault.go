package vm

import "fmt"

// Fault is a fatal VM error: the robot that raised it dies immediately and
// the simulation continues without it. Fault is never retried.
type Fault struct {
	Op  string // instruction or site that raised the fault, e.g. "div", "dispatch"
	Msg string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Op, f.Msg)
}

func faultf(op, format string, args ...interface{}) *Fault {
	return &Fault{Op: op, Msg: fmt.Sprintf(format, args...)}
}
