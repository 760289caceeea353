package transport

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux usbfs ioctl numbers (see linux/usbdevice_fs.h). Grounded on the
// teacher's device.go/isochronous.go constants, carried over verbatim
// since they are kernel ABI, not a design choice.
const (
	usbdevfsControl          = 0xc0185500
	usbdevfsBulk             = 0xc0185502
	usbdevfsClaimInterface   = 0x8004550f
	usbdevfsReleaseInterface = 0x80045510
	usbdevfsSetInterface     = 0x80085504
	usbdevfsSubmitURB        = 0x8038550a
	usbdevfsDiscardURB       = 0x0000550b
	usbdevfsReapURB          = 0x4008550c
	usbdevfsDisconnect       = 0x00005516
	usbdevfsConnect          = 0x00005517
	usbdevfsDisconnectClaim  = 0x8108551b
)

const (
	urbTypeIso  uint8 = 0
	urbTypeBulk uint8 = 3
)

const urbFlagIsoASAP uint32 = 0x02

func init() {
	Enumerate = enumerateLinux
}

// --- enumeration -----------------------------------------------------------

type linuxDevice struct {
	info Info
}

func enumerateLinux() ([]Device, error) {
	const root = "/sys/bus/usb/devices"
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("transport: read %s: %w", root, err)
	}

	var devices []Device
	for _, entry := range entries {
		name := entry.Name()
		if strings.Contains(name, ":") {
			continue // interface, not a device
		}
		if !strings.Contains(name, "-") && !strings.HasPrefix(name, "usb") {
			continue
		}
		info, err := readSysfsInfo(filepath.Join(root, name))
		if err != nil {
			continue
		}
		devices = append(devices, &linuxDevice{info: info})
	}
	return devices, nil
}

func readSysfsInfo(path string) (Info, error) {
	readDec := func(name string) uint8 {
		b, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return 0
		}
		v, _ := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 8)
		return uint8(v)
	}
	readHex16 := func(name string) uint16 {
		b, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return 0
		}
		v, _ := strconv.ParseUint(strings.TrimSpace(string(b)), 16, 16)
		return uint16(v)
	}

	bus := readDec("busnum")
	dev := readDec("devnum")
	if bus == 0 || dev == 0 {
		return Info{}, fmt.Errorf("transport: %s missing busnum/devnum", path)
	}

	return Info{
		Bus:            bus,
		Address:        dev,
		Path:           fmt.Sprintf("/dev/bus/usb/%03d/%03d", bus, dev),
		VendorID:       readHex16("idVendor"),
		ProductID:      readHex16("idProduct"),
		DeviceClass:    readDec("bDeviceClass"),
		DeviceSubClass: readDec("bDeviceSubClass"),
		DeviceProtocol: readDec("bDeviceProtocol"),
	}, nil
}

func (d *linuxDevice) Info() Info { return d.info }

func (d *linuxDevice) GetActiveConfig() ([]byte, error) {
	fd, err := unix.Open(d.info.Path, unix.O_RDWR, 0)
	if err != nil {
		return nil, mapErrno(err)
	}
	defer unix.Close(fd)

	buf := make([]byte, 4096)
	n, err := controlTransfer(fd, 0x80, 0x06, 0x0200, 0, buf, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (d *linuxDevice) Open() (Handle, error) {
	fd, err := unix.Open(d.info.Path, unix.O_RDWR, 0)
	if err != nil {
		return nil, mapErrno(err)
	}
	h := &linuxHandle{
		fd:      fd,
		info:    d.info,
		claimed: make(map[uint8]bool),
		pending: make(map[uintptr]*pendingURB),
		stopCh:  make(chan struct{}),
	}
	h.wg.Add(1)
	go h.reapLoop()
	return h, nil
}

// --- handle ------------------------------------------------------------

type pendingURB struct {
	xfer *Transfer
	cb   Callback
	buf  []byte // urb header + iso packet descriptors + data, kept alive
}

type linuxHandle struct {
	fd      int
	info    Info
	mu      sync.Mutex
	claimed map[uint8]bool
	closed  bool

	pendingMu sync.Mutex
	pending   map[uintptr]*pendingURB

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func controlTransfer(fd int, bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte, timeout time.Duration) (int, error) {
	var dataPtr unsafe.Pointer
	if len(data) > 0 {
		dataPtr = unsafe.Pointer(&data[0])
	}
	// Field order matches struct usbdevfs_ctrltransfer; Go's natural
	// alignment inserts the same padding before Timeout/Data as the
	// kernel header does on LP64.
	ctrl := struct {
		RequestType uint8
		Request     uint8
		Value       uint16
		Index       uint16
		Length      uint16
		Timeout     uint32
		Data        unsafe.Pointer
	}{
		RequestType: bmRequestType,
		Request:     bRequest,
		Value:       wValue,
		Index:       wIndex,
		Length:      uint16(len(data)),
		Timeout:     uint32(timeout.Milliseconds()),
		Data:        dataPtr,
	}
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), usbdevfsControl, uintptr(unsafe.Pointer(&ctrl)))
	if errno != 0 {
		return 0, mapErrno(errno)
	}
	return int(ret), nil
}

func (h *linuxHandle) ControlTransfer(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte, timeout time.Duration) (int, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, ErrNoDevice
	}
	return controlTransfer(h.fd, bmRequestType, bRequest, wValue, wIndex, data, timeout)
}

func (h *linuxHandle) ClaimInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrNoDevice
	}
	if h.claimed[iface] {
		return nil
	}
	n := uint32(iface)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsClaimInterface, uintptr(unsafe.Pointer(&n)))
	if errno != 0 {
		return mapErrno(errno)
	}
	h.claimed[iface] = true
	return nil
}

func (h *linuxHandle) ReleaseInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrNoDevice
	}
	if !h.claimed[iface] {
		return nil
	}
	n := uint32(iface)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsReleaseInterface, uintptr(unsafe.Pointer(&n)))
	if errno != 0 {
		return mapErrno(errno)
	}
	delete(h.claimed, iface)
	return nil
}

func (h *linuxHandle) SetAltSetting(iface, altSetting uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrNoDevice
	}
	req := struct{ Interface, AltSetting uint32 }{uint32(iface), uint32(altSetting)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsSetInterface, uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		return mapErrno(errno)
	}
	return nil
}

func (h *linuxHandle) DetachKernelDriver(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrNoDevice
	}
	disc := struct {
		Interface uint32
		Flags     uint32
		Driver    [256]int8
	}{Interface: uint32(iface), Flags: 0x01}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsDisconnectClaim, uintptr(unsafe.Pointer(&disc))); errno == 0 {
		return nil
	}
	n := uint32(iface)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsDisconnect, uintptr(unsafe.Pointer(&n)))
	if errno != 0 && errno != unix.ENODATA {
		return mapErrno(errno)
	}
	return nil
}

func (h *linuxHandle) AttachKernelDriver(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrNoDevice
	}
	n := uint32(iface)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsConnect, uintptr(unsafe.Pointer(&n)))
	if errno != 0 && errno != unix.ENODATA && errno != unix.EBUSY {
		return mapErrno(errno)
	}
	return nil
}

func (h *linuxHandle) GetStringDescriptor(index uint8) (string, error) {
	if index == 0 {
		return "", nil
	}
	buf := make([]byte, 256)
	n, err := h.ControlTransfer(0x80, 0x06, (0x03<<8)|uint16(index), 0x0409, buf, time.Second)
	if err != nil {
		return "", err
	}
	if n < 2 {
		return "", fmt.Errorf("transport: short string descriptor")
	}
	length := int(buf[0])
	if length > n {
		length = n
	}
	var runes []rune
	for i := 2; i+1 < length; i += 2 {
		v := binary.LittleEndian.Uint16(buf[i : i+2])
		if v == 0 {
			break
		}
		runes = append(runes, rune(v))
	}
	return string(runes), nil
}

// urbHeader mirrors struct usbdevfs_urb from linux/usbdevice_fs.h. The
// NumberOfPackets/StreamID union only ever carries NumberOfPackets here;
// the core never uses USB 3 bulk streams.
type urbHeader struct {
	Type            uint8
	Endpoint        uint8
	Status          int32
	Flags           uint32
	Buffer          uintptr
	BufferLength    int32
	ActualLength    int32
	StartFrame      int32
	NumberOfPackets int32
	ErrorCount      int32
	SignalNumber    uint32
	UserContext     uintptr
}

type isoPacketDesc struct {
	Length       uint32
	ActualLength uint32
	Status       uint32
}

func (h *linuxHandle) NewTransfer(kind TransferType, endpoint uint8, bufSize int, isoPackets int) *Transfer {
	t := &Transfer{Endpoint: endpoint, Type: kind, Buffer: make([]byte, bufSize)}
	if kind == TransferTypeIsochronous && isoPackets > 0 {
		t.IsoPacketLen = bufSize / isoPackets
		t.IsoPackets = make([]IsoPacketResult, isoPackets)
	}
	return t
}

func (h *linuxHandle) SubmitTransfer(t *Transfer, cb Callback) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrNoDevice
	}

	numPackets := len(t.IsoPackets)
	headerSize := int(unsafe.Sizeof(urbHeader{}))
	descSize := int(unsafe.Sizeof(isoPacketDesc{}))
	urbBuf := make([]byte, headerSize+numPackets*descSize)

	hdr := (*urbHeader)(unsafe.Pointer(&urbBuf[0]))
	if t.Type == TransferTypeIsochronous {
		hdr.Type = urbTypeIso
		hdr.Flags = urbFlagIsoASAP
		hdr.StartFrame = -1
		hdr.NumberOfPackets = int32(numPackets)
		descs := unsafe.Slice((*isoPacketDesc)(unsafe.Pointer(&urbBuf[headerSize])), numPackets)
		for i := range descs {
			descs[i] = isoPacketDesc{Length: uint32(t.IsoPacketLen)}
		}
	} else {
		hdr.Type = urbTypeBulk
	}
	hdr.Endpoint = t.Endpoint
	if len(t.Buffer) > 0 {
		hdr.Buffer = uintptr(unsafe.Pointer(&t.Buffer[0]))
	}
	hdr.BufferLength = int32(len(t.Buffer))

	key := uintptr(unsafe.Pointer(&urbBuf[0]))
	h.pendingMu.Lock()
	h.pending[key] = &pendingURB{xfer: t, cb: cb, buf: urbBuf}
	h.pendingMu.Unlock()

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsSubmitURB, uintptr(unsafe.Pointer(hdr)))
	if errno != 0 {
		h.pendingMu.Lock()
		delete(h.pending, key)
		h.pendingMu.Unlock()
		return mapErrno(errno)
	}
	t.native = key
	return nil
}

func (h *linuxHandle) CancelTransfer(t *Transfer) error {
	key, ok := t.native.(uintptr)
	if !ok {
		return nil
	}
	h.pendingMu.Lock()
	p, ok := h.pending[key]
	h.pendingMu.Unlock()
	if !ok {
		return nil
	}
	hdr := (*urbHeader)(unsafe.Pointer(&p.buf[0]))
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsDiscardURB, uintptr(unsafe.Pointer(hdr)))
	if errno != 0 && errno != unix.EINVAL {
		return mapErrno(errno)
	}
	return nil
}

func (h *linuxHandle) FreeTransfer(t *Transfer) {
	if key, ok := t.native.(uintptr); ok {
		h.pendingMu.Lock()
		delete(h.pending, key)
		h.pendingMu.Unlock()
	}
}

// reapLoop is the transport-owned event thread (spec §5): it blocks on
// USBDEVFS_REAPURB and dispatches each completion to its registered
// callback. Exactly one of these runs per open handle.
func (h *linuxHandle) reapLoop() {
	defer h.wg.Done()
	for {
		var retp uintptr
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsReapURB, uintptr(unsafe.Pointer(&retp)))
		if errno != 0 {
			select {
			case <-h.stopCh:
				return
			default:
			}
			if errno == unix.EAGAIN || errno == unix.EINTR {
				continue
			}
			// Device gone or fd closed: complete remaining pending transfers
			// with TransferNoDevice so callers waiting on them don't hang forever.
			h.drainPending(TransferNoDevice)
			return
		}

		h.pendingMu.Lock()
		p, ok := h.pending[retp]
		if ok {
			delete(h.pending, retp)
		}
		h.pendingMu.Unlock()
		if !ok {
			continue
		}

		hdr := (*urbHeader)(unsafe.Pointer(&p.buf[0]))
		p.xfer.Status = statusFromErrno(hdr.Status)
		p.xfer.ActualLength = int(hdr.ActualLength)
		if n := len(p.xfer.IsoPackets); n > 0 {
			headerSize := int(unsafe.Sizeof(urbHeader{}))
			descs := unsafe.Slice((*isoPacketDesc)(unsafe.Pointer(&p.buf[headerSize])), n)
			for i := range descs {
				p.xfer.IsoPackets[i] = IsoPacketResult{
					Length:       int(descs[i].Length),
					ActualLength: int(descs[i].ActualLength),
					Status:       statusFromErrno(int32(descs[i].Status)),
				}
			}
		}
		p.cb(p.xfer)
	}
}

func (h *linuxHandle) drainPending(status TransferStatus) {
	h.pendingMu.Lock()
	pending := h.pending
	h.pending = make(map[uintptr]*pendingURB)
	h.pendingMu.Unlock()
	for _, p := range pending {
		p.xfer.Status = status
		p.cb(p.xfer)
	}
}

func (h *linuxHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for iface := range h.claimed {
		n := uint32(iface)
		unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsReleaseInterface, uintptr(unsafe.Pointer(&n)))
	}
	fd := h.fd
	h.mu.Unlock()

	close(h.stopCh)
	unix.Close(fd)
	h.wg.Wait()
	return nil
}

func statusFromErrno(status int32) TransferStatus {
	switch -status {
	case 0:
		return TransferCompleted
	case int32(unix.ECONNRESET), int32(unix.ENOENT):
		return TransferCancelled
	case int32(unix.ENODEV), int32(unix.ESHUTDOWN):
		return TransferNoDevice
	case int32(unix.EPIPE):
		return TransferStall
	case int32(unix.EOVERFLOW):
		return TransferOverflow
	case int32(unix.ETIMEDOUT):
		return TransferTimedOut
	default:
		return TransferError
	}
}

func mapErrno(err error) error {
	errno, ok := err.(unix.Errno)
	if !ok {
		return err
	}
	switch errno {
	case unix.ENOENT, unix.ENODEV:
		return ErrNotFound
	case unix.EACCES, unix.EPERM:
		return ErrAccessDenied
	case unix.EBUSY:
		return ErrBusy
	case unix.ETIMEDOUT:
		return ErrTimeout
	case unix.EINVAL:
		return ErrInvalidParam
	case unix.ENOSYS, unix.ENOTTY:
		return ErrNotSupported
	default:
		return fmt.Errorf("transport: %w", err)
	}
}
