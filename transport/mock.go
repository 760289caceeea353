package transport

import (
	"sync"
	"time"
)

// MockDevice is a synthetic transport.Device for tests: it hands back a
// fixed configuration descriptor and a MockHandle that fakes control
// transfers and transfer submission without any real hardware, the same
// role the teacher's AsyncTransfer simulation played for its own tests.
type MockDevice struct {
	DeviceInfo Info
	ConfigData []byte

	// ControlHandler, if set, answers ControlTransfer calls on handles
	// opened from this device. Returning (0, nil) with data written into
	// data simulates a successful GET; SET calls ignore the return value.
	ControlHandler func(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) (int, error)
}

func (d *MockDevice) Info() Info { return d.DeviceInfo }

func (d *MockDevice) GetActiveConfig() ([]byte, error) {
	return d.ConfigData, nil
}

func (d *MockDevice) Open() (Handle, error) {
	return &MockHandle{device: d, poppedCB: make(map[*Transfer]Callback)}, nil
}

// MockHandle is the Handle counterpart of MockDevice. Submitted transfers
// are queued; a test drives reassembly by calling DeliverPayload or
// DeliverIso with canned
// payload bytes, which synchronously invokes the registered callback —
// there is no background goroutine pretending to be hardware.
type MockHandle struct {
	device *MockDevice

	mu      sync.Mutex
	claimed map[uint8]bool
	closed  bool

	queue    []queuedTransfer
	poppedCB map[*Transfer]Callback
}

type queuedTransfer struct {
	t  *Transfer
	cb Callback
}

func (h *MockHandle) ControlTransfer(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte, timeout time.Duration) (int, error) {
	if h.device.ControlHandler != nil {
		return h.device.ControlHandler(bmRequestType, bRequest, wValue, wIndex, data)
	}
	return len(data), nil
}

func (h *MockHandle) ClaimInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.claimed == nil {
		h.claimed = make(map[uint8]bool)
	}
	h.claimed[iface] = true
	return nil
}

func (h *MockHandle) ReleaseInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.claimed, iface)
	return nil
}

func (h *MockHandle) SetAltSetting(iface, altSetting uint8) error { return nil }
func (h *MockHandle) DetachKernelDriver(iface uint8) error        { return nil }
func (h *MockHandle) AttachKernelDriver(iface uint8) error        { return nil }

func (h *MockHandle) GetStringDescriptor(index uint8) (string, error) {
	return "", nil
}

func (h *MockHandle) NewTransfer(kind TransferType, endpoint uint8, bufSize int, isoPackets int) *Transfer {
	t := &Transfer{Endpoint: endpoint, Type: kind, Buffer: make([]byte, bufSize)}
	if kind == TransferTypeIsochronous && isoPackets > 0 {
		t.IsoPacketLen = bufSize / isoPackets
		t.IsoPackets = make([]IsoPacketResult, isoPackets)
	}
	return t
}

func (h *MockHandle) SubmitTransfer(t *Transfer, cb Callback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrNoDevice
	}
	h.queue = append(h.queue, queuedTransfer{t: t, cb: cb})
	return nil
}

func (h *MockHandle) CancelTransfer(t *Transfer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, q := range h.queue {
		if q.t == t {
			h.queue = append(h.queue[:i], h.queue[i+1:]...)
			t.Status = TransferCancelled
			go q.cb(t)
			return nil
		}
	}
	return nil
}

func (h *MockHandle) FreeTransfer(t *Transfer) {}

func (h *MockHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// DeliverPayload pops the oldest queued transfer, writes payload into its
// buffer as a single bulk completion, and invokes its callback inline. It
// is meant for bulk-style tests; isochronous reassembly tests should use
// DeliverIso instead.
func (h *MockHandle) DeliverPayload(payload []byte) bool {
	h.mu.Lock()
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return false
	}
	q := h.queue[0]
	h.queue = h.queue[1:]
	h.mu.Unlock()

	n := copy(q.t.Buffer, payload)
	q.t.ActualLength = n
	q.t.Status = TransferCompleted
	q.cb(q.t)
	return true
}

// DeliverIso pops the oldest queued transfer and completes it as an
// isochronous transfer whose packets are the given payloads in order.
func (h *MockHandle) DeliverIso(payloads [][]byte) bool {
	h.mu.Lock()
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return false
	}
	q := h.queue[0]
	h.queue = h.queue[1:]
	h.mu.Unlock()

	off := 0
	for i, p := range payloads {
		if i >= len(q.t.IsoPackets) {
			break
		}
		n := copy(q.t.Buffer[off:], p)
		q.t.IsoPackets[i] = IsoPacketResult{Length: q.t.IsoPacketLen, ActualLength: n, Status: TransferCompleted}
		off += q.t.IsoPacketLen
	}
	q.t.Status = TransferCompleted
	q.cb(q.t)
	return true
}

// PopForRawCompletion removes the oldest queued transfer without
// completing it, letting a test set Status/ActualLength itself before
// calling CompleteRaw. Used to simulate a transport-level failure (e.g.
// TransferNoDevice) rather than a normal data completion.
func (h *MockHandle) PopForRawCompletion() *Transfer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return nil
	}
	q := h.queue[0]
	h.queue = h.queue[1:]
	h.poppedCB[q.t] = q.cb
	return q.t
}

// CompleteRaw invokes the callback registered for a transfer previously
// removed via PopForRawCompletion.
func (h *MockHandle) CompleteRaw(t *Transfer) {
	h.mu.Lock()
	cb, ok := h.poppedCB[t]
	delete(h.poppedCB, t)
	h.mu.Unlock()
	if ok {
		cb(t)
	}
}

// QueueLen reports how many transfers are currently queued, useful for
// assertions that StartStreaming submitted the expected pool size.
func (h *MockHandle) QueueLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}
