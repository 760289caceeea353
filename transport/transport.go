// Package transport is the USB transport capability boundary consumed by
// the govuc core (spec §4.A). It knows nothing about UVC: it enumerates
// USB devices, hands back raw configuration-descriptor bytes, and pumps
// control/bulk/isochronous transfers. Everything UVC-specific (descriptor
// parsing, probe/commit, payload reassembly) lives one level up in govuc
// and is built purely against the interfaces here.
package transport

import (
	"errors"
	"time"
)

// Sentinel errors a Device/Handle implementation should return (or wrap)
// so the govuc core can classify failures without depending on any one
// transport's concrete error types.
var (
	ErrNotFound       = errors.New("transport: device not found")
	ErrAccessDenied   = errors.New("transport: permission denied")
	ErrBusy           = errors.New("transport: device busy")
	ErrNoDevice       = errors.New("transport: no device")
	ErrIO             = errors.New("transport: I/O error")
	ErrTimeout        = errors.New("transport: timed out")
	ErrInvalidParam   = errors.New("transport: invalid parameter")
	ErrNotSupported   = errors.New("transport: not supported")
)

// TransferType mirrors the USB transfer type field; the core only ever
// submits Isochronous or Bulk transfers through this package, but Control
// is included for completeness since Handle.ControlTransfer is
// logically the same request shape.
type TransferType uint8

const (
	TransferTypeControl TransferType = iota
	TransferTypeIsochronous
	TransferTypeBulk
	TransferTypeInterrupt
)

// TransferStatus is the outcome surfaced on a completed Transfer.
type TransferStatus int

const (
	TransferCompleted TransferStatus = iota
	TransferError
	TransferTimedOut
	TransferCancelled
	TransferStall
	TransferNoDevice
	TransferOverflow
)

// IsoPacketResult is the per-packet completion status for an isochronous
// transfer, one entry per submitted packet.
type IsoPacketResult struct {
	Length       int
	ActualLength int
	Status       TransferStatus
}

// Transfer is a submitted iso/bulk transfer. Submit populates Buffer with
// request data (on the way out, unused for IN endpoints) and the
// completion callback reads Status/ActualLength/IsoPackets/Buffer back out
// of the same value. A Transfer must not be reused concurrently with an
// in-flight Submit.
type Transfer struct {
	Endpoint     uint8
	Type         TransferType
	Buffer       []byte
	IsoPacketLen int // per-packet size; 0 for non-iso transfers

	Status       TransferStatus
	ActualLength int
	IsoPackets   []IsoPacketResult

	native any // transport-private bookkeeping
}

// Callback is invoked once per transfer completion, on a transport-owned
// goroutine. The core must treat callback invocations for a given Handle
// as serialized but concurrent with everything else happening on the
// caller's goroutines (spec §5).
type Callback func(*Transfer)

// Info is the static identity of an enumerated device, cheap to read
// without opening it.
type Info struct {
	Bus     uint8
	Address uint8
	Path    string

	VendorID  uint16
	ProductID uint16

	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8
}

// Device is a discovered-but-not-opened USB device (spec §4.A "transport
// device").
type Device interface {
	Info() Info
	// GetActiveConfig returns the raw bytes of the active USB configuration
	// descriptor, exactly as the device returned them over the wire.
	GetActiveConfig() ([]byte, error)
	// Open claims exclusive access to the device. Returns ErrBusy if
	// already open, ErrAccessDenied on a permissions failure.
	Open() (Handle, error)
}

// Handle is an opened device (spec §4.A). All methods are safe to call
// concurrently with a running transfer pump unless documented otherwise.
type Handle interface {
	ControlTransfer(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte, timeout time.Duration) (int, error)

	ClaimInterface(iface uint8) error
	ReleaseInterface(iface uint8) error
	SetAltSetting(iface, altSetting uint8) error

	// DetachKernelDriver/AttachKernelDriver are best-effort: a transport
	// that doesn't support kernel-driver detachment (or runs on an OS
	// without the concept) returns ErrNotSupported rather than failing
	// Open/ClaimInterface outright.
	DetachKernelDriver(iface uint8) error
	AttachKernelDriver(iface uint8) error

	GetStringDescriptor(index uint8) (string, error)

	// NewTransfer allocates a Transfer bound to this handle. bufSize is
	// the total buffer size; for isochronous transfers isoPackets>0
	// slices Buffer into that many equal packets.
	NewTransfer(kind TransferType, endpoint uint8, bufSize int, isoPackets int) *Transfer
	SubmitTransfer(t *Transfer, cb Callback) error
	CancelTransfer(t *Transfer) error
	FreeTransfer(t *Transfer)

	Close() error
}

// Enumerate lists USB devices visible to the host. Implemented per
// platform (see linux.go); a platform with no implementation returns
// ErrNotSupported.
var Enumerate func() ([]Device, error) = enumerateUnsupported

func enumerateUnsupported() ([]Device, error) {
	return nil, ErrNotSupported
}
