package govuc

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/govuc/govuc/transport"
)

// TestProbeCommit_Echo drives Probe/Commit against a mock transport that
// echoes back the probe block with dwMaxPayloadTransferSize and
// dwMaxVideoFrameSize overridden, the way a real device reports its
// chosen bandwidth (spec S2).
func TestProbeCommit_Echo(t *testing.T) {
	const (
		echoedPayloadSize = 3072
		echoedFrameSize   = 614400
	)

	commits := 0
	var lastSet []byte

	dev := &transport.MockDevice{
		ControlHandler: func(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) (int, error) {
			selector := uint8(wValue >> 8)
			switch {
			case bRequest == reqSetCur && selector == vsProbeControl:
				lastSet = append([]byte(nil), data...)
				return len(data), nil
			case bRequest == reqGetCur && selector == vsProbeControl:
				copy(data, lastSet)
				binary.LittleEndian.PutUint32(data[22:26], echoedPayloadSize)
				binary.LittleEndian.PutUint32(data[18:22], echoedFrameSize)
				return len(data), nil
			case bRequest == reqSetCur && selector == vsCommitControl:
				commits++
				return len(data), nil
			}
			return len(data), nil
		},
	}
	th, err := dev.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	transactor := &ControlTransactor{Handle: th, InterfaceNumber: 0, Timeout: time.Second, MaxRetries: 1}
	n := NewNegotiator(transactor, 0x0110, 1)

	format := &FormatDesc{FormatIndex: 1}
	frame := &FrameDesc{FrameIndex: 1, DefaultFrameInterval: 333333, MinFrameInterval: 333333, MaxFrameInterval: 333333}

	ctrl, err := n.Probe(format, frame, 333333)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if ctrl.MaxPayloadTransferSize != echoedPayloadSize {
		t.Errorf("MaxPayloadTransferSize = %d, want %d", ctrl.MaxPayloadTransferSize, echoedPayloadSize)
	}
	if ctrl.MaxVideoFrameSize != echoedFrameSize {
		t.Errorf("MaxVideoFrameSize = %d, want %d", ctrl.MaxVideoFrameSize, echoedFrameSize)
	}
	if ctrl.FormatIndex != 1 || ctrl.FrameIndex != 1 {
		t.Errorf("negotiated format/frame = %d/%d, want 1/1", ctrl.FormatIndex, ctrl.FrameIndex)
	}

	if err := n.Commit(ctrl); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commits != 1 {
		t.Errorf("commits = %d, want 1", commits)
	}
}

func TestMatchInterval_Discrete(t *testing.T) {
	frame := &FrameDesc{DiscreteIntervals: []uint32{166666, 333333, 666666}}
	if got := matchInterval(frame, 300000); got != 333333 {
		t.Errorf("matchInterval = %d, want 333333 (nearest discrete)", got)
	}
}

func TestMatchInterval_SteppedRange(t *testing.T) {
	frame := &FrameDesc{MinFrameInterval: 100000, MaxFrameInterval: 500000, FrameIntervalStep: 50000}
	if got := matchInterval(frame, 260000); got != 250000 {
		t.Errorf("matchInterval = %d, want 250000 (rounded down to step)", got)
	}
	if got := matchInterval(frame, 10); got != 100000 {
		t.Errorf("matchInterval below range = %d, want clamped to 100000", got)
	}
	if got := matchInterval(frame, 999999); got != 500000 {
		t.Errorf("matchInterval above range = %d, want clamped to 500000", got)
	}
}

func TestProbeLen(t *testing.T) {
	cases := map[uint16]int{0x0100: 26, 0x0110: 34, 0x0150: 48}
	for bcd, want := range cases {
		if got := probeLen(bcd); got != want {
			t.Errorf("probeLen(0x%04x) = %d, want %d", bcd, got, want)
		}
	}
}
