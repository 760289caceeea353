package govuc

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/govuc/govuc/transport"
)

func newTestTransactor(t *testing.T, handler func(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) (int, error)) *ControlTransactor {
	t.Helper()
	dev := &transport.MockDevice{ControlHandler: handler}
	th, err := dev.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return &ControlTransactor{Handle: th, InterfaceNumber: 0, Timeout: time.Second, MaxRetries: 2}
}

func TestControls_BrightnessRoundTrip(t *testing.T) {
	var stored uint16 = 128
	transactor := newTestTransactor(t, func(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) (int, error) {
		selector := uint8(wValue >> 8)
		if selector != puBrightnessControl {
			t.Fatalf("unexpected selector 0x%02x", selector)
		}
		switch bRequest {
		case reqGetCur:
			binary.LittleEndian.PutUint16(data, stored)
		case reqSetCur:
			stored = binary.LittleEndian.Uint16(data)
		}
		return len(data), nil
	})

	c := NewControls(transactor, 1, 2)
	if v, err := c.Brightness(); err != nil || v != 128 {
		t.Fatalf("Brightness() = %d, %v, want 128, nil", v, err)
	}
	if err := c.SetBrightness(64); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}
	if v, err := c.Brightness(); err != nil || v != 64 {
		t.Fatalf("Brightness() after set = %d, %v, want 64, nil", v, err)
	}
}

func TestControls_PanTiltAbsolute(t *testing.T) {
	var pan, tilt int32
	transactor := newTestTransactor(t, func(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) (int, error) {
		switch bRequest {
		case reqGetCur:
			binary.LittleEndian.PutUint32(data[0:4], uint32(pan))
			binary.LittleEndian.PutUint32(data[4:8], uint32(tilt))
		case reqSetCur:
			pan = int32(binary.LittleEndian.Uint32(data[0:4]))
			tilt = int32(binary.LittleEndian.Uint32(data[4:8]))
		}
		return len(data), nil
	})

	c := NewControls(transactor, 1, 2)
	if err := c.SetPanTiltAbsolute(PanTilt{Pan: -100, Tilt: 200}); err != nil {
		t.Fatalf("SetPanTiltAbsolute: %v", err)
	}
	got, err := c.PanTiltAbsolute()
	if err != nil {
		t.Fatalf("PanTiltAbsolute: %v", err)
	}
	if got.Pan != -100 || got.Tilt != 200 {
		t.Errorf("PanTiltAbsolute = %+v, want {-100 200}", got)
	}
}

func TestCapabilities(t *testing.T) {
	transactor := newTestTransactor(t, func(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) (int, error) {
		if bRequest != reqGetInfo {
			t.Fatalf("expected GET_INFO, got 0x%02x", bRequest)
		}
		data[0] = byte(ControlCapGet | ControlCapSet)
		return 1, nil
	})
	caps, err := transactor.Capabilities(puBrightnessControl, 2)
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if caps&ControlCapGet == 0 || caps&ControlCapSet == 0 {
		t.Errorf("Capabilities = %v, want GET|SET", caps)
	}
}

func TestTransact_RetriesThenFails(t *testing.T) {
	attempts := 0
	transactor := newTestTransactor(t, func(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) (int, error) {
		attempts++
		return 0, transport.ErrIO
	})
	transactor.MaxRetries = 3

	if _, err := transactor.transact(reqGetCur, puBrightnessControl, 2, make([]byte, 2)); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestTransact_TimeoutNotRetried(t *testing.T) {
	attempts := 0
	transactor := newTestTransactor(t, func(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) (int, error) {
		attempts++
		return 0, transport.ErrTimeout
	})
	transactor.MaxRetries = 3

	_, err := transactor.transact(reqGetCur, puBrightnessControl, 2, make([]byte, 2))
	if !Is(err, KindTimeout) {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (timeout is not retried)", attempts)
	}
}
