// Package pcierr defines the error kinds the PCI fuzzer's core components
// report, and a Handler type for reporting them.
//
// The original C sources (rcvalle/pcifuzzer) route every error through a
// single process-wide handler pointer registered per translation unit
// (pci_device_set_error_handler, pci_fuzzer_set_error_handler, ...) and
// abort on anything construction-related. Go's idiom is explicit error
// returns, so each kind below is carried by an *Error; callers use
// KindOf(err) (or errors.As and a Kind comparison) the way they would check
// an errno. Abort-on-error exists only as an opt-in Handler policy (see
// AbortOn) rather than a baked-in behavior.
package pcierr

import (
	"errors"
	"fmt"
)

// Kind classifies why a core operation failed.
type Kind int

const (
	// InvalidArgument marks an out-of-range bus/device/function, region
	// index, or offset.
	InvalidArgument Kind = iota
	// NoSuchDevice marks a configuration read that returned vendor 0xFFFF.
	NoSuchDevice
	// UnsupportedHeader marks a header_type whose low 7 bits aren't 0, 1, or 2.
	UnsupportedHeader
	// MappingFailed marks a /dev/mem mapping failure other than permission.
	MappingFailed
	// PermissionDenied marks a /dev/mem mapping failure due to permissions;
	// the region is left unmapped but device construction still succeeds.
	PermissionDenied
	// InputExhausted marks an input stream that returned fewer bytes than
	// requested; this is the normal end-of-run signal for a corpus-driven
	// fuzz iteration, not necessarily a bug.
	InputExhausted
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NoSuchDevice:
		return "NoSuchDevice"
	case UnsupportedHeader:
		return "UnsupportedHeader"
	case MappingFailed:
		return "MappingFailed"
	case PermissionDenied:
		return "PermissionDenied"
	case InputExhausted:
		return "InputExhausted"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried by core components. Op names the
// failing operation (e.g. "pci.NewDevice"), Kind classifies it, and Err, if
// non-nil, wraps the underlying cause (an *os.PathError from a mmap, etc).
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same Kind, so callers can
// write errors.Is(err, pcierr.New("", pcierr.NoSuchDevice, nil)) or, more
// idiomatically, errors.As plus a Kind comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New constructs an *Error.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf reports the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Handler is a callback that receives an *Error. A nil Handler is valid and
// means "don't report." No constructor in this module accepts a Handler:
// pci.NewDevice, fuzzer.New and fuzzinput.NewDecoder report errors only
// through their return values, and nothing calls a Handler on their behalf.
type Handler func(*Error)

// AbortOn installs the C sources' original behavior as an explicit, opt-in
// policy: log to the given Handler (if any) and then panic, turning every
// reported error into a process-visible crash. Most callers should not use
// this; it exists so a host that wants libFuzzer-style "abort on first
// anomaly" semantics can ask for them without that being every caller's
// default.
func AbortOn(h Handler) Handler {
	return func(e *Error) {
		if h != nil {
			h(e)
		}
		panic(e)
	}
}
