package govuc

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/govuc/govuc/transport"
)

// FrameCallback receives one reassembled frame at a time. It runs on the
// library's delivery goroutine, serialized with respect to itself but
// never with respect to the caller's other goroutines (spec §4.F, §5).
type FrameCallback func(*Frame)

const defaultTransferPoolSize = 5

// StreamHandle drives isochronous (or bulk) transfer submission, payload
// header reassembly, and frame delivery for one active stream (spec
// §4.F). Fields above the delivery-loop comment are touched only by the
// transport's completion callbacks, which the transport guarantees are
// serialized per handle; fields below are protected by cbMu and shared
// with the delivery goroutine.
type StreamHandle struct {
	handle transport.Handle
	ctrl   StreamCtrl
	cb     FrameCallback
	isight bool

	ifaceNum uint8
	altSet   uint8

	// --- touched only by transfer-completion callbacks ---
	outbuf   []byte
	gotBytes int
	fid      uint8
	fidSet   bool
	pts      uint32
	hasPTS   bool
	scr      [2]uint32
	hasSCR   bool
	seq      uint64
	errored  bool

	// --- delivery loop state, guarded by cbMu/cbCond ---
	cbMu    sync.Mutex
	cbCond  *sync.Cond
	holdBuf []byte

	holdBytes     int
	holdSeq       uint64
	holdPTS       uint32
	holdHasPTS    bool
	holdSCR       [2]uint32
	holdHasSCR    bool
	holdErrored   bool
	lastPolledSeq uint64
	stop          bool

	width  uint16
	height uint16
	fourCC [4]byte

	transfers []*transport.Transfer
	wg        sync.WaitGroup
	xferWG    sync.WaitGroup
	stopOnce  sync.Once
}

// startStreamingOptions bundles the parameters StartStreaming needs
// beyond the negotiated StreamCtrl.
type startStreamingOptions struct {
	format *FormatDesc
	frame  *FrameDesc
	iface  *StreamingInterface
	isight bool
}

// startStreaming claims the streaming interface, selects the alternate
// setting whose isochronous endpoint can carry dwMaxPayloadTransferSize,
// allocates a pool of transfers sized to the negotiated payload, and
// begins pumping transfers and delivering reassembled frames to cb (spec
// §4.F).
func startStreaming(h transport.Handle, ctrl *StreamCtrl, opts startStreamingOptions, cb FrameCallback) (*StreamHandle, error) {
	alt, err := pickAltSetting(opts.iface, ctrl.MaxPayloadTransferSize)
	if err != nil {
		return nil, err
	}

	if err := h.ClaimInterface(opts.iface.InterfaceNumber); err != nil {
		return nil, errf(KindBusy, "StartStreaming: claim interface", err)
	}
	if err := h.SetAltSetting(opts.iface.InterfaceNumber, alt.AlternateSetting); err != nil {
		h.ReleaseInterface(opts.iface.InterfaceNumber)
		return nil, errf(KindIO, "StartStreaming: set alt setting", err)
	}

	bufSize := int(ctrl.MaxVideoFrameSize)
	if bufSize == 0 {
		bufSize = int(ctrl.MaxPayloadTransferSize) * 32
	}

	s := &StreamHandle{
		handle:   h,
		ctrl:     *ctrl,
		cb:       cb,
		isight:   opts.isight,
		ifaceNum: opts.iface.InterfaceNumber,
		altSet:   alt.AlternateSetting,
		outbuf:   make([]byte, bufSize),
		holdBuf:  make([]byte, bufSize),
		seq:      1,
		width:    opts.frame.Width,
		height:   opts.frame.Height,
		fourCC:   opts.format.FourCC,
	}
	s.cbCond = sync.NewCond(&s.cbMu)

	packetLen := int(alt.MaxPacketSize)
	isoPackets := 0
	kind := transport.TransferTypeBulk
	if alt.Attributes&endpointAttrTransferMask == 0x01 { // isochronous
		kind = transport.TransferTypeIsochronous
		isoPackets = 32
	}

	poolBuf := packetLen
	if isoPackets > 0 {
		poolBuf = packetLen * isoPackets
	}

	for i := 0; i < defaultTransferPoolSize; i++ {
		t := h.NewTransfer(kind, opts.iface.EndpointAddr, poolBuf, isoPackets)
		s.transfers = append(s.transfers, t)
	}

	s.wg.Add(1)
	go s.deliveryLoop()

	var g errgroup.Group
	for _, t := range s.transfers {
		t := t
		g.Go(func() error { return s.submit(t) })
	}
	if err := g.Wait(); err != nil {
		s.Stop()
		return nil, errf(KindIO, "StartStreaming: submit transfer", err)
	}

	return s, nil
}

func pickAltSetting(iface *StreamingInterface, minPayload uint32) (*AltSetting, error) {
	var best *AltSetting
	for i := range iface.AltSettings {
		alt := &iface.AltSettings[i]
		if alt.AlternateSetting == 0 {
			continue
		}
		if uint32(alt.MaxPacketSize) >= minPayload {
			if best == nil || alt.MaxPacketSize < best.MaxPacketSize {
				best = alt
			}
		}
	}
	if best == nil {
		return nil, errf(KindInvalidParam, "pickAltSetting", errNoSuitableAltSetting)
	}
	return best, nil
}

func (s *StreamHandle) submit(t *transport.Transfer) error {
	s.xferWG.Add(1)
	return s.handle.SubmitTransfer(t, s.onTransferComplete)
}

// onTransferComplete parses the payload header (if any) out of the
// completed transfer's buffer, appends payload bytes to the in-progress
// frame, and detects frame boundaries via the FID toggle or EOF bit
// (spec §4.F, §6). It then resubmits the transfer unless the stream is
// stopping.
func (s *StreamHandle) onTransferComplete(t *transport.Transfer) {
	defer s.xferWG.Done()

	switch t.Status {
	case transport.TransferCancelled:
		return
	case transport.TransferNoDevice:
		go s.triggerTeardown()
		return
	case transport.TransferCompleted:
		s.consumePayloads(t)
	default:
		// Error/timeout/stall/overflow on a single transfer is not fatal
		// to the stream; drop this payload and keep pumping.
	}

	s.cbMu.Lock()
	stopping := s.stop
	s.cbMu.Unlock()
	if stopping {
		return
	}
	if err := s.submit(t); err != nil {
		go s.triggerTeardown()
	}
}

func (s *StreamHandle) consumePayloads(t *transport.Transfer) {
	if t.Type == transport.TransferTypeIsochronous {
		off := 0
		for _, pkt := range t.IsoPackets {
			if pkt.ActualLength > 0 && pkt.Status == transport.TransferCompleted {
				s.consumePayload(t.Buffer[off : off+pkt.ActualLength])
			}
			off += pkt.Length
		}
		return
	}
	s.consumePayload(t.Buffer[:t.ActualLength])
}

func (s *StreamHandle) consumePayload(payload []byte) {
	if len(payload) == 0 {
		return
	}

	hdrLen := int(payload[0])
	firstFragment := !s.gotAnyBytes()

	var info uint8
	body := payload
	if hdrLen > 0 && hdrLen <= len(payload) && (!s.isight || firstFragment) {
		info = payload[1]
		body = payload[hdrLen:]

		fid := info & hdrFID
		if !s.fidSet {
			s.fid = fid
			s.fidSet = true
		} else if fid != s.fid {
			s.completeFrame()
			s.fid = fid
		}

		if info&hdrERR != 0 {
			s.errored = true
		}
		// PTS and SCR are each independently optional, so SCR's offset
		// depends on whether PTS actually precedes it in this header
		// rather than sitting at a fixed byte position.
		off := 2
		if info&hdrPTS != 0 && off+4 <= hdrLen {
			s.pts = leU32(payload[off : off+4])
			s.hasPTS = true
			off += 4
		}
		if info&hdrSCR != 0 && off+6 <= hdrLen {
			s.scr[0] = leU32(payload[off : off+4])
			s.scr[1] = uint32(payload[off+4]) | uint32(payload[off+5])<<8
			s.hasSCR = true
		}
	}

	if len(body) > 0 {
		s.appendBody(body)
	}

	if hdrLen > 0 && hdrLen <= len(payload) && info&hdrEOF != 0 {
		s.completeFrame()
	}
}

func (s *StreamHandle) gotAnyBytes() bool { return s.gotBytes > 0 }

func (s *StreamHandle) appendBody(body []byte) {
	room := len(s.outbuf) - s.gotBytes
	if room <= 0 {
		return
	}
	if len(body) > room {
		body = body[:room]
	}
	copy(s.outbuf[s.gotBytes:], body)
	s.gotBytes += len(body)
}

// completeFrame swaps the scratch buffer into the hold buffer for the
// delivery goroutine and resets per-frame reassembly state (spec §4.F
// double-buffer handoff).
func (s *StreamHandle) completeFrame() {
	if s.gotBytes == 0 {
		return
	}

	s.cbMu.Lock()
	s.outbuf, s.holdBuf = s.holdBuf, s.outbuf
	s.holdBytes = s.gotBytes
	s.holdSeq = s.seq
	s.holdPTS = s.pts
	s.holdHasPTS = s.hasPTS
	s.holdSCR = s.scr
	s.holdHasSCR = s.hasSCR
	s.holdErrored = s.errored
	s.seq++
	s.cbCond.Signal()
	s.cbMu.Unlock()

	s.gotBytes = 0
	s.pts = 0
	s.hasPTS = false
	s.hasSCR = false
	s.errored = false
}

// deliveryLoop is the consumer side of the double buffer: it blocks until
// a new frame is ready, copies the held frame into its own buffer under
// cbMu, invokes cb, then waits again. If frames complete faster than cb
// can run, the newest frame simply overwrites the hold buffer before
// delivery catches up (spec §5 coalescing, no queue growth). After Stop,
// a completed frame not yet delivered is delivered before the loop exits.
func (s *StreamHandle) deliveryLoop() {
	defer s.wg.Done()

	var buf []byte
	s.cbMu.Lock()
	for {
		for !s.stop && s.lastPolledSeq == s.holdSeq {
			s.cbCond.Wait()
		}
		if s.lastPolledSeq == s.holdSeq {
			// Stopping, and the last completed frame was already delivered.
			s.cbMu.Unlock()
			return
		}

		buf = append(buf[:0], s.holdBuf[:s.holdBytes]...)
		frame := &Frame{
			Width:       s.width,
			Height:      s.height,
			FourCC:      s.fourCC,
			Data:        buf,
			DataBytes:   s.holdBytes,
			Seq:         s.holdSeq,
			PTS:         s.holdPTS,
			HasPTS:      s.holdHasPTS,
			SourceClock: SourceClock{STC: s.holdSCR[0], SOF: uint16(s.holdSCR[1])},
			HasSCR:      s.holdHasSCR,
			Errored:     s.holdErrored,
			CapturedAt:  time.Now(),
		}
		s.lastPolledSeq = s.holdSeq
		s.cbMu.Unlock()

		s.cb(frame)

		s.cbMu.Lock()
	}
}

func (s *StreamHandle) triggerTeardown() {
	s.Stop()
}

// Stop cancels all in-flight transfers, waits for them to drain, joins
// the delivery goroutine, and releases the streaming interface. It is
// safe to call more than once (spec §4.F). Called from inside the
// FrameCallback it never returns, since it waits for the delivery
// goroutine that is running the callback.
func (s *StreamHandle) Stop() {
	s.stopOnce.Do(func() {
		s.cbMu.Lock()
		s.stop = true
		s.cbCond.Broadcast()
		s.cbMu.Unlock()

		var g errgroup.Group
		for _, t := range s.transfers {
			t := t
			g.Go(func() error { return s.handle.CancelTransfer(t) })
		}
		g.Wait()
		s.xferWG.Wait()

		s.wg.Wait()

		for _, t := range s.transfers {
			s.handle.FreeTransfer(t)
		}
		s.handle.ReleaseInterface(s.ifaceNum)
	})
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
