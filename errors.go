package govuc

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way callers actually need to branch on it
// (spec §7), independent of which transport or device produced it.
type Kind int

const (
	KindOther Kind = iota
	KindAccess
	KindNotFound
	KindBusy
	KindInvalidParam
	KindInvalidDevice
	KindIO
	KindTimeout
	KindNoMem
	KindInvalidMode
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindNotFound:
		return "not_found"
	case KindBusy:
		return "busy"
	case KindInvalidParam:
		return "invalid_param"
	case KindInvalidDevice:
		return "invalid_device"
	case KindIO:
		return "io"
	case KindTimeout:
		return "timeout"
	case KindNoMem:
		return "no_mem"
	case KindInvalidMode:
		return "invalid_mode"
	default:
		return "other"
	}
}

// Error is the concrete error type returned across the package boundary.
// Control-path errors are returned immediately to the caller (spec §7);
// the library keeps no latched error state anywhere.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("govuc: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("govuc: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func errf(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

var (
	errNoSuitableAltSetting = errors.New("no alternate setting supports the negotiated payload size")
	errUnknownFormat        = errors.New("format index not present in device model")
	errUnknownFrame         = errors.New("frame index not present in format")
	errNoStreamingInterface = errors.New("no streaming interface owns the negotiated format")
)

// Is reports whether err is, or wraps, a *Error of the given kind, so
// callers can write govuc.Is(err, govuc.KindTimeout) instead of
// unwrapping and comparing Kind themselves.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
