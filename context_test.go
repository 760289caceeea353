package govuc

import (
	"os"
	"testing"

	"github.com/govuc/govuc/transport"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	data, err := os.ReadFile("testdata/descriptor_logitech_c920.bin")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	td := &transport.MockDevice{
		DeviceInfo: transport.Info{VendorID: 0x046d, ProductID: 0x082d},
		ConfigData: data,
	}
	return &Device{ctx: NewContext(), td: td}
}

func TestDeviceOpen_ParsesModel(t *testing.T) {
	d := newTestDevice(t)
	h, err := d.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if h.Info().BcdUVC != 0x0110 {
		t.Errorf("BcdUVC = 0x%04x, want 0x0110", h.Info().BcdUVC)
	}
}

func TestDeviceOpen_BusyOnSecondOpen(t *testing.T) {
	d := newTestDevice(t)
	h, err := d.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if _, err := d.Open(); !Is(err, KindBusy) {
		t.Errorf("second Open error = %v, want KindBusy", err)
	}
}

func TestDeviceHandleClose_AllowsReopen(t *testing.T) {
	d := newTestDevice(t)
	h, err := d.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := d.Open(); err != nil {
		t.Fatalf("reopen after Close: %v", err)
	}
}

func TestStartStreaming_BusyWhenAlreadyStreaming(t *testing.T) {
	d := newTestDevice(t)
	// Answer each GET_CUR with the block of the last SET_CUR, the way a
	// device that accepts the proposed probe block echoes it back.
	var lastSet []byte
	d.td.(*transport.MockDevice).ControlHandler = func(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) (int, error) {
		switch bRequest {
		case reqSetCur:
			lastSet = append(lastSet[:0], data...)
		case reqGetCur:
			copy(data, lastSet)
		}
		return len(data), nil
	}
	h, err := d.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	format := h.Info().FirstFormat()
	if format == nil {
		t.Fatal("fixture has no formats")
	}
	frame := format.Frames[0]

	ctrl, err := h.Probe(format, frame, frame.DefaultFrameInterval)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if err := h.StartStreaming(ctrl, func(*Frame) {}); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	defer h.StopStreaming()

	if err := h.StartStreaming(ctrl, func(*Frame) {}); !Is(err, KindBusy) {
		t.Errorf("second StartStreaming error = %v, want KindBusy", err)
	}
}
