package govuc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/govuc/govuc/transport"
)

// buildPayload constructs one bulk-style payload: a 2-byte header (FID/EOF
// in bmHeaderInfo) followed by body bytes.
func buildPayload(fid bool, eof bool, body []byte) []byte {
	info := byte(hdrEOH)
	if fid {
		info |= hdrFID
	}
	if eof {
		info |= hdrEOF
	}
	return append([]byte{2, info}, body...)
}

func newTestStream(t *testing.T, cb FrameCallback) (*StreamHandle, *transport.MockHandle) {
	t.Helper()
	dev := &transport.MockDevice{}
	th, err := dev.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mh := th.(*transport.MockHandle)

	iface := &StreamingInterface{
		InterfaceNumber: 1,
		EndpointAddr:    0x81,
		AltSettings:     []AltSetting{{AlternateSetting: 1, MaxPacketSize: 1024, Attributes: 3}},
	}
	ctrl := &StreamCtrl{MaxVideoFrameSize: 65536, MaxPayloadTransferSize: 1024}
	format := &FormatDesc{FormatIndex: 1}
	frame := &FrameDesc{FrameIndex: 1, Width: 8, Height: 8}

	s, err := startStreaming(th, ctrl, startStreamingOptions{format: format, frame: frame, iface: iface}, cb)
	if err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	return s, mh
}

// TestStreamReassembly_TenFrames is S3: 60 fragments forming 10 frames
// with alternating FID must produce exactly 10 callback invocations with
// sequence numbers 1..10.
func TestStreamReassembly_TenFrames(t *testing.T) {
	var (
		mu   sync.Mutex
		seqs []uint64
	)
	done := make(chan struct{})
	var count int32

	cb := func(f *Frame) {
		mu.Lock()
		seqs = append(seqs, f.Seq)
		mu.Unlock()
		if atomic.AddInt32(&count, 1) == 10 {
			close(done)
		}
	}

	s, mh := newTestStream(t, cb)
	defer s.Stop()

	fid := false
	for frameN := 0; frameN < 10; frameN++ {
		for fragN := 0; fragN < 6; fragN++ {
			eof := fragN == 5
			body := []byte{byte(frameN), byte(fragN)}
			mh.DeliverPayload(buildPayload(fid, eof, body))
		}
		fid = !fid
		// Wait for this frame's callback before sending the next frame, so
		// the delivery loop never coalesces two frames of the transcript.
		for deadline := time.Now().Add(5 * time.Second); atomic.LoadInt32(&count) < int32(frameN+1); time.Sleep(time.Millisecond) {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for frame %d", frameN+1)
			}
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for 10 frames")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 10 {
		t.Fatalf("got %d frames, want 10: %v", len(seqs), seqs)
	}
	for i, s := range seqs {
		want := uint64(i + 1)
		if s != want {
			t.Errorf("frame %d has seq %d, want %d", i, s, want)
		}
	}
}

// TestStreamReassembly_SlowCallback is S4: fragments arrive quickly but
// the callback is slow, so some frames are coalesced. At least one and at
// most ten callbacks fire, and the last one delivered must be the final
// frame (seq 10).
func TestStreamReassembly_SlowCallback(t *testing.T) {
	var (
		mu       sync.Mutex
		lastSeen uint64
		calls    int
	)
	cb := func(f *Frame) {
		mu.Lock()
		lastSeen = f.Seq
		calls++
		mu.Unlock()
		time.Sleep(100 * time.Millisecond)
	}

	s, mh := newTestStream(t, cb)

	fid := false
	for frameN := 0; frameN < 10; frameN++ {
		for fragN := 0; fragN < 6; fragN++ {
			eof := fragN == 5
			mh.DeliverPayload(buildPayload(fid, eof, []byte{byte(frameN), byte(fragN)}))
		}
		fid = !fid
	}
	// Fragments delivered essentially instantaneously here (no real
	// transport latency in the mock); the important property under test
	// is the coalescing behavior of the delivery loop, not wall-clock
	// timing of fragment arrival.

	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls < 1 || calls > 10 {
		t.Fatalf("calls = %d, want between 1 and 10", calls)
	}
	if lastSeen != 10 {
		t.Errorf("last delivered seq = %d, want 10", lastSeen)
	}
	if s.lastPolledSeq != 10 {
		t.Errorf("lastPolledSeq = %d, want 10", s.lastPolledSeq)
	}
}

// TestStreamReassembly_NoDeviceMidStream is S5: a no-device transfer
// status mid-transcript must drain cleanly without hanging Stop.
func TestStreamReassembly_NoDeviceMidStream(t *testing.T) {
	var mu sync.Mutex
	var seqs []uint64
	cb := func(f *Frame) {
		mu.Lock()
		seqs = append(seqs, f.Seq)
		mu.Unlock()
	}

	s, mh := newTestStream(t, cb)

	fid := false
	fragTotal := 0
	for frameN := 0; frameN < 10 && fragTotal < 25; frameN++ {
		for fragN := 0; fragN < 6 && fragTotal < 25; fragN++ {
			fragTotal++
			eof := fragN == 5
			if fragTotal == 25 {
				// Simulate the transport losing the device on this
				// transfer instead of completing it normally.
				t2 := popQueued(mh)
				if t2 != nil {
					t2.Status = transport.TransferNoDevice
					mh.CompleteRaw(t2)
				}
				continue
			}
			mh.DeliverPayload(buildPayload(fid, eof, []byte{byte(frameN), byte(fragN)}))
		}
		fid = !fid
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after a no-device transfer")
	}
}

func popQueued(mh *transport.MockHandle) *transport.Transfer {
	// DeliverPayload with an empty payload pops and completes a transfer
	// as TransferCompleted with zero bytes; callers that need to set a
	// different status use CompleteRaw on the same popped transfer.
	return mh.PopForRawCompletion()
}
