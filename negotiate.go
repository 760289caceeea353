package govuc

import (
	"encoding/binary"
	"fmt"
)

// StreamCtrl mirrors the UVC Probe/Commit control structure (spec §4.E,
// §6). Its wire length depends on bcdUVC: 26 bytes for 1.0, 34 for 1.1,
// 48 for 1.5, each version a strict extension of the previous one's
// layout.
type StreamCtrl struct {
	Hint        uint16
	FormatIndex uint8
	FrameIndex  uint8

	FrameInterval uint32

	KeyFrameRate uint16
	PFrameRate   uint16

	CompQuality    uint16
	CompWindowSize uint16

	Delay uint16

	MaxVideoFrameSize     uint32
	MaxPayloadTransferSize uint32

	ClockFrequency uint32
	FramingInfo    uint8

	PreferredVersion uint8
	MinVersion       uint8
	MaxVersion       uint8

	bcdUVC uint16
}

func probeLen(bcdUVC uint16) int {
	switch {
	case bcdUVC >= 0x0150:
		return 48
	case bcdUVC >= 0x0110:
		return 34
	default:
		return 26
	}
}

func (s *StreamCtrl) marshal() []byte {
	n := probeLen(s.bcdUVC)
	buf := make([]byte, n)
	binary.LittleEndian.PutUint16(buf[0:2], s.Hint)
	buf[2] = s.FormatIndex
	buf[3] = s.FrameIndex
	binary.LittleEndian.PutUint32(buf[4:8], s.FrameInterval)
	binary.LittleEndian.PutUint16(buf[8:10], s.KeyFrameRate)
	binary.LittleEndian.PutUint16(buf[10:12], s.PFrameRate)
	binary.LittleEndian.PutUint16(buf[12:14], s.CompQuality)
	binary.LittleEndian.PutUint16(buf[14:16], s.CompWindowSize)
	binary.LittleEndian.PutUint16(buf[16:18], s.Delay)
	binary.LittleEndian.PutUint32(buf[18:22], s.MaxVideoFrameSize)
	binary.LittleEndian.PutUint32(buf[22:26], s.MaxPayloadTransferSize)
	if n >= 34 {
		binary.LittleEndian.PutUint32(buf[26:30], s.ClockFrequency)
		buf[30] = s.FramingInfo
		buf[31] = s.PreferredVersion
		buf[32] = s.MinVersion
		buf[33] = s.MaxVersion
	}
	return buf
}

func (s *StreamCtrl) unmarshal(buf []byte) error {
	if len(buf) < 26 {
		return fmt.Errorf("probe/commit payload too short: %d bytes", len(buf))
	}
	s.Hint = binary.LittleEndian.Uint16(buf[0:2])
	s.FormatIndex = buf[2]
	s.FrameIndex = buf[3]
	s.FrameInterval = binary.LittleEndian.Uint32(buf[4:8])
	s.KeyFrameRate = binary.LittleEndian.Uint16(buf[8:10])
	s.PFrameRate = binary.LittleEndian.Uint16(buf[10:12])
	s.CompQuality = binary.LittleEndian.Uint16(buf[12:14])
	s.CompWindowSize = binary.LittleEndian.Uint16(buf[14:16])
	s.Delay = binary.LittleEndian.Uint16(buf[16:18])
	s.MaxVideoFrameSize = binary.LittleEndian.Uint32(buf[18:22])
	s.MaxPayloadTransferSize = binary.LittleEndian.Uint32(buf[22:26])
	if len(buf) >= 34 {
		s.ClockFrequency = binary.LittleEndian.Uint32(buf[26:30])
		s.FramingInfo = buf[30]
		s.PreferredVersion = buf[31]
		s.MinVersion = buf[32]
		s.MaxVersion = buf[33]
	}
	return nil
}

// Negotiator drives the two-phase Probe/Commit handshake (spec §4.E).
// VS_PROBE_CONTROL/VS_COMMIT_CONTROL are VideoStreaming requests: wIndex
// must carry the streaming interface's bInterfaceNumber, not the
// VideoControl interface ControlTransactor otherwise addresses requests to.
type Negotiator struct {
	t      *ControlTransactor
	bcdUVC uint16
}

// NewNegotiator builds a Negotiator that issues Probe/Commit requests
// against vsInterfaceNumber, reusing base's handle, timeout, and retry
// budget.
func NewNegotiator(base *ControlTransactor, bcdUVC uint16, vsInterfaceNumber uint8) *Negotiator {
	t := &ControlTransactor{
		Handle:          base.Handle,
		InterfaceNumber: vsInterfaceNumber,
		Timeout:         base.Timeout,
		MaxRetries:      base.MaxRetries,
	}
	return &Negotiator{t: t, bcdUVC: bcdUVC}
}

// Probe negotiates a stream configuration for the given format/frame and
// desired interval, returning the device's actual negotiated parameters.
// It does not commit: StartStreaming must call Commit with the result
// before submitting transfers (spec §4.E).
func (n *Negotiator) Probe(format *FormatDesc, frame *FrameDesc, desiredInterval uint32) (*StreamCtrl, error) {
	interval := matchInterval(frame, desiredInterval)

	ctrl := &StreamCtrl{
		bcdUVC:        n.bcdUVC,
		FormatIndex:   format.FormatIndex,
		FrameIndex:    frame.FrameIndex,
		FrameInterval: interval,
	}

	if err := n.setProbe(ctrl); err != nil {
		return nil, err
	}
	negotiated, err := n.getProbe()
	if err != nil {
		return nil, err
	}
	return negotiated, nil
}

// Commit finalizes the negotiated parameters, after which the streaming
// interface's isochronous endpoint is ready to be activated.
func (n *Negotiator) Commit(ctrl *StreamCtrl) error {
	buf := ctrl.marshal()
	_, err := n.t.transact(reqSetCur, vsCommitControl, 0, buf)
	return err
}

func (n *Negotiator) setProbe(ctrl *StreamCtrl) error {
	buf := ctrl.marshal()
	_, err := n.t.transact(reqSetCur, vsProbeControl, 0, buf)
	return err
}

func (n *Negotiator) getProbe() (*StreamCtrl, error) {
	buf := make([]byte, probeLen(n.bcdUVC))
	if _, err := n.t.transact(reqGetCur, vsProbeControl, 0, buf); err != nil {
		return nil, err
	}
	out := &StreamCtrl{bcdUVC: n.bcdUVC}
	if err := out.unmarshal(buf); err != nil {
		return nil, errf(KindIO, "probe", err)
	}
	return out, nil
}

// matchInterval snaps a desired frame interval (100ns units) onto one the
// frame descriptor actually supports: the nearest discrete value if the
// frame enumerates discrete intervals, otherwise the value clamped to
// [Min,Max] and rounded down to a step boundary.
func matchInterval(frame *FrameDesc, desired uint32) uint32 {
	if len(frame.DiscreteIntervals) > 0 {
		best := frame.DiscreteIntervals[0]
		bestDiff := diffU32(best, desired)
		for _, v := range frame.DiscreteIntervals[1:] {
			if d := diffU32(v, desired); d < bestDiff {
				best, bestDiff = v, d
			}
		}
		return best
	}
	if frame.MaxFrameInterval == 0 {
		return frame.DefaultFrameInterval
	}
	v := desired
	if v < frame.MinFrameInterval {
		v = frame.MinFrameInterval
	}
	if v > frame.MaxFrameInterval {
		v = frame.MaxFrameInterval
	}
	if frame.FrameIntervalStep > 0 {
		steps := (v - frame.MinFrameInterval) / frame.FrameIntervalStep
		v = frame.MinFrameInterval + steps*frame.FrameIntervalStep
	}
	return v
}

func diffU32(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
