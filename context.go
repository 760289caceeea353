package govuc

import (
	"sync"

	"github.com/govuc/govuc/transport"
)

// Context is the root handle onto the host's USB transport (spec §4.G).
// It owns no device state itself beyond the list of devices opened
// through it, so that Close can unwind anything the caller forgot to.
type Context struct {
	mu      sync.Mutex
	devices []*Device
}

// NewContext creates a context bound to the process-wide transport
// (spec §4.A/§4.G: the library supports exactly one transport at a time,
// selected by the transport package's platform build).
func NewContext() *Context {
	return &Context{}
}

// Enumerate lists the USB devices visible to the transport. Devices
// are not filtered by class here: callers inspect DeviceInfo after
// Open to decide whether a device is actually a UVC function, since the
// class/subclass check requires descriptor bytes only Open fetches.
func (c *Context) Enumerate() ([]*Device, error) {
	tds, err := transport.Enumerate()
	if err != nil {
		return nil, errf(classifyTransportErr(err), "Enumerate", err)
	}
	out := make([]*Device, 0, len(tds))
	for _, td := range tds {
		out = append(out, &Device{ctx: c, td: td})
	}
	return out, nil
}

// Close closes every handle this context's devices have open. It does
// not invalidate Device values returned by Enumerate; Open may be called
// again afterward.
func (c *Context) Close() error {
	c.mu.Lock()
	devices := append([]*Device(nil), c.devices...)
	c.mu.Unlock()

	var firstErr error
	for _, d := range devices {
		if err := d.closeOpenHandle(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Context) trackOpen(d *Device) {
	c.mu.Lock()
	c.devices = append(c.devices, d)
	c.mu.Unlock()
}

// Device is a discovered USB device, not yet opened (spec §4.G).
type Device struct {
	ctx *Context
	td  transport.Device

	mu     sync.Mutex
	handle *DeviceHandle
}

// Info returns the device's static USB identity.
func (d *Device) Info() transport.Info {
	return d.td.Info()
}

// Open claims the device, fetches and parses its active configuration
// descriptor, and returns a DeviceHandle ready to issue control requests
// and start streaming (spec §4.G). Open returns a *Error wrapping
// KindBusy if the device is already open through this Device value.
func (d *Device) Open() (*DeviceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != nil {
		return nil, errf(KindBusy, "Open", nil)
	}

	th, err := d.td.Open()
	if err != nil {
		return nil, errf(classifyTransportErr(err), "Open", err)
	}

	raw, err := d.td.GetActiveConfig()
	if err != nil {
		th.Close()
		return nil, errf(classifyTransportErr(err), "Open: get configuration", err)
	}

	info, err := ParseDeviceInfo(raw)
	if err != nil {
		th.Close()
		return nil, err
	}

	dh := &DeviceHandle{
		device: d,
		th:     th,
		info:   info,
	}
	dh.transactor = NewControlTransactor(th, info.ControlInterfaceNumber)

	d.handle = dh
	d.ctx.trackOpen(d)

	return dh, nil
}

func (d *Device) closeOpenHandle() error {
	d.mu.Lock()
	dh := d.handle
	d.mu.Unlock()
	if dh == nil {
		return nil
	}
	return dh.Close()
}

func (d *Device) clearHandle() {
	d.mu.Lock()
	d.handle = nil
	d.mu.Unlock()
}

// DeviceHandle is an opened UVC device (spec §4.G). All exported methods
// are safe for concurrent use; StartStreaming/StopStreaming serialize
// against each other and against Close.
type DeviceHandle struct {
	device *Device
	th     transport.Handle
	info   *DeviceInfo

	transactor *ControlTransactor

	mu     sync.Mutex
	stream *StreamHandle
}

// Info returns the parsed device model.
func (h *DeviceHandle) Info() *DeviceInfo { return h.info }

// Controls builds a typed control front end bound to the given camera
// terminal and processing unit. Most single-camera devices have exactly
// one of each, reachable via Info().InputTerminals[0].TerminalID and
// Info().ProcessingUnits[0].UnitID.
func (h *DeviceHandle) Controls(cameraTerminalID, processingUnitID uint8) *Controls {
	return NewControls(h.transactor, cameraTerminalID, processingUnitID)
}

// Probe negotiates (but does not commit) a stream configuration for the
// given format and frame at the desired interval (100ns units).
func (h *DeviceHandle) Probe(format *FormatDesc, frame *FrameDesc, desiredInterval uint32) (*StreamCtrl, error) {
	iface := h.info.StreamingInterfaceForFormat(format)
	if iface == nil {
		return nil, errf(KindInvalidDevice, "Probe", errNoStreamingInterface)
	}
	n := NewNegotiator(h.transactor, h.info.BcdUVC, iface.InterfaceNumber)
	return n.Probe(format, frame, desiredInterval)
}

// StartStreaming commits the given (already-probed) stream configuration
// and begins delivering reassembled frames to cb until StopStreaming or
// Close is called. Returns a *Error wrapping KindBusy if a stream is
// already active on this handle.
func (h *DeviceHandle) StartStreaming(ctrl *StreamCtrl, cb FrameCallback) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stream != nil {
		return errf(KindBusy, "StartStreaming", nil)
	}

	format := h.info.FindFormat(ctrl.FormatIndex)
	if format == nil {
		return errf(KindInvalidParam, "StartStreaming", errUnknownFormat)
	}
	frame := format.FindFrame(ctrl.FrameIndex)
	if frame == nil {
		return errf(KindInvalidParam, "StartStreaming", errUnknownFrame)
	}
	iface := h.info.StreamingInterfaceForFormat(format)
	if iface == nil {
		return errf(KindInvalidDevice, "StartStreaming", errNoStreamingInterface)
	}

	n := NewNegotiator(h.transactor, h.info.BcdUVC, iface.InterfaceNumber)
	if err := n.Commit(ctrl); err != nil {
		return err
	}

	s, err := startStreaming(h.th, ctrl, startStreamingOptions{
		format: format,
		frame:  frame,
		iface:  iface,
		isight: false,
	}, cb)
	if err != nil {
		return err
	}

	h.stream = s
	return nil
}

// StopStreaming stops any active stream started by StartStreaming. It is
// a no-op if no stream is active.
func (h *DeviceHandle) StopStreaming() {
	h.mu.Lock()
	s := h.stream
	h.stream = nil
	h.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}

// Close stops any active stream and releases the underlying transport
// handle. Close is idempotent.
func (h *DeviceHandle) Close() error {
	h.StopStreaming()

	h.mu.Lock()
	th := h.th
	h.th = nil
	h.mu.Unlock()

	h.device.clearHandle()

	if th == nil {
		return nil
	}
	if err := th.Close(); err != nil {
		return errf(classifyTransportErr(err), "Close", err)
	}
	return nil
}

func classifyTransportErr(err error) Kind {
	switch {
	case err == transport.ErrNotFound:
		return KindNotFound
	case err == transport.ErrAccessDenied:
		return KindAccess
	case err == transport.ErrBusy:
		return KindBusy
	case err == transport.ErrNoDevice:
		return KindInvalidDevice
	case err == transport.ErrTimeout:
		return KindTimeout
	case err == transport.ErrInvalidParam:
		return KindInvalidParam
	case err == transport.ErrNotSupported:
		return KindInvalidMode
	default:
		return KindIO
	}
}
