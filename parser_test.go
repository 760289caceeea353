package govuc

import (
	"encoding/binary"
	"os"
	"testing"
)

func TestParseDeviceInfo_LogitechC920(t *testing.T) {
	data, err := os.ReadFile("testdata/descriptor_logitech_c920.bin")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	info, err := ParseDeviceInfo(data)
	if err != nil {
		t.Fatalf("ParseDeviceInfo: %v", err)
	}
	if len(info.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", info.Warnings)
	}

	if info.BcdUVC != 0x0110 {
		t.Errorf("BcdUVC = 0x%04x, want 0x0110", info.BcdUVC)
	}

	if len(info.InputTerminals) != 1 {
		t.Fatalf("InputTerminals = %d, want 1", len(info.InputTerminals))
	}
	if info.InputTerminals[0].TerminalType != 0x0201 {
		t.Errorf("TerminalType = 0x%04x, want 0x0201", info.InputTerminals[0].TerminalType)
	}
	if info.InputTerminals[0].CameraControls == nil {
		t.Error("CameraControls should be populated for a camera terminal")
	}

	if len(info.ProcessingUnits) != 1 {
		t.Fatalf("ProcessingUnits = %d, want 1", len(info.ProcessingUnits))
	}

	if len(info.StreamingInterfaces) != 1 {
		t.Fatalf("StreamingInterfaces = %d, want 1", len(info.StreamingInterfaces))
	}
	si := info.StreamingInterfaces[0]
	if len(si.Formats) != 2 {
		t.Fatalf("Formats = %d, want 2", len(si.Formats))
	}

	mjpeg := info.FindFormat(1)
	if mjpeg == nil {
		t.Fatal("FindFormat(1) returned nil")
	}
	if mjpeg.Subtype != FormatMJPEG {
		t.Errorf("format 1 subtype = %v, want FormatMJPEG", mjpeg.Subtype)
	}

	yuy2 := info.FindFormat(2)
	if yuy2 == nil {
		t.Fatal("FindFormat(2) returned nil")
	}
	if yuy2.Subtype != FormatUncompressed {
		t.Errorf("format 2 subtype = %v, want FormatUncompressed", yuy2.Subtype)
	}
	if string(yuy2.FourCC[:]) != "YUY2" {
		t.Errorf("format 2 FourCC = %q, want YUY2", yuy2.FourCC[:])
	}

	frame := mjpeg.FindFrame(1)
	if frame == nil {
		t.Fatal("FindFrame(1) on MJPEG format returned nil")
	}
	if frame.Width != 640 || frame.Height != 480 {
		t.Errorf("frame dims = %dx%d, want 640x480", frame.Width, frame.Height)
	}
	if frame.DefaultFrameInterval != 333333 {
		t.Errorf("DefaultFrameInterval = %d, want 333333", frame.DefaultFrameInterval)
	}

	if got := info.StreamingInterfaceForFormat(mjpeg); got != &info.StreamingInterfaces[0] {
		t.Error("StreamingInterfaceForFormat did not resolve back to the owning interface")
	}
}

// TestParseDeviceInfo_NonZeroControlInterface guards against
// ControlInterfaceNumber silently defaulting to 0: the VideoControl
// interface here is interface 2, so a parser that never assigns the
// field would pass only by coincidence on a device whose VC interface
// happens to be 0 (like the C920 fixture).
func TestParseDeviceInfo_NonZeroControlInterface(t *testing.T) {
	data := append([]byte{9, 2, 0, 0, 1, 1, 0, 0xA0, 50},
		// VC interface descriptor, bInterfaceNumber = 2.
		[]byte{9, descTypeInterface, 2, 0, 0, classVideo, subclassVideoControl, 0, 0}...)
	data = append(data,
		// VC_HEADER class-specific descriptor, bcdUVC = 0x0110.
		[]byte{12, descTypeCSInterface, vcHeader, 0x10, 0x01, 0, 0, 0, 0, 0, 0, 0}...)

	info, err := ParseDeviceInfo(data)
	if err != nil {
		t.Fatalf("ParseDeviceInfo: %v", err)
	}
	if info.ControlInterfaceNumber != 2 {
		t.Errorf("ControlInterfaceNumber = %d, want 2", info.ControlInterfaceNumber)
	}
}

// TestParseDeviceInfo_FrameBased guards the Frame Based frame descriptor
// layout, which has no dwMaxVideoFrameBufferSize field and places
// dwDefaultFrameInterval four bytes earlier than the Uncompressed/MJPEG
// layout: reusing that layout's offsets would read dwBytesPerLine (or
// garbage) as the frame interval instead.
func TestParseDeviceInfo_FrameBased(t *testing.T) {
	data := append([]byte{}, []byte{9, 2, 0, 0, 1, 1, 0, 0xA0, 50}...)
	data = append(data,
		// VS interface descriptor, bInterfaceNumber = 1.
		[]byte{9, descTypeInterface, 1, 0, 0, classVideo, subclassVideoStreaming, 0, 0}...)
	data = append(data,
		// VS_INPUT_HEADER: bNumFormats, wTotalLength, bEndpointAddress,
		// bmInfo, bTerminalLink, ...
		[]byte{14, descTypeCSInterface, vsInputHeader, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0}...)

	format := make([]byte, 28)
	format[0] = 28
	format[1] = descTypeCSInterface
	format[2] = vsFormatFrameBased
	format[3] = 1 // bFormatIndex
	copy(format[5:9], []byte{'H', '2', '6', '4'})
	format[22] = 1 // bDefaultFrameIndex
	data = append(data, format...)

	frame := make([]byte, 38)
	frame[0] = 38
	frame[1] = descTypeCSInterface
	frame[2] = vsFrameFrameBased
	frame[3] = 1 // bFrameIndex
	binary.LittleEndian.PutUint16(frame[5:7], 640)
	binary.LittleEndian.PutUint16(frame[7:9], 480)
	binary.LittleEndian.PutUint32(frame[17:21], 500000) // dwDefaultFrameInterval
	frame[21] = 0                                       // bFrameIntervalType: continuous
	binary.LittleEndian.PutUint32(frame[22:26], 1280)   // dwBytesPerLine
	binary.LittleEndian.PutUint32(frame[26:30], 500000) // dwMinFrameInterval
	binary.LittleEndian.PutUint32(frame[30:34], 500000) // dwMaxFrameInterval
	binary.LittleEndian.PutUint32(frame[34:38], 0)      // dwFrameIntervalStep
	data = append(data, frame...)

	info, err := ParseDeviceInfo(data)
	if err != nil {
		t.Fatalf("ParseDeviceInfo: %v", err)
	}
	if len(info.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", info.Warnings)
	}

	f := info.FindFormat(1)
	if f == nil {
		t.Fatal("FindFormat(1) returned nil")
	}
	if f.Subtype != FormatFrameBased {
		t.Errorf("subtype = %v, want FormatFrameBased", f.Subtype)
	}
	fr := f.FindFrame(1)
	if fr == nil {
		t.Fatal("FindFrame(1) returned nil")
	}
	if fr.Width != 640 || fr.Height != 480 {
		t.Errorf("dims = %dx%d, want 640x480", fr.Width, fr.Height)
	}
	if fr.DefaultFrameInterval != 500000 {
		t.Errorf("DefaultFrameInterval = %d, want 500000", fr.DefaultFrameInterval)
	}
	if fr.MaxBytesPerFrame != 0 {
		t.Errorf("MaxBytesPerFrame = %d, want 0 (no such field in a frame-based descriptor)", fr.MaxBytesPerFrame)
	}
	if fr.MinFrameInterval != 500000 || fr.MaxFrameInterval != 500000 {
		t.Errorf("interval range = [%d,%d], want [500000,500000]", fr.MinFrameInterval, fr.MaxFrameInterval)
	}
}

func TestParseDeviceInfo_Truncated(t *testing.T) {
	if _, err := ParseDeviceInfo([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a too-short configuration descriptor")
	}

	// A config header followed by a descriptor claiming a length that
	// overruns the buffer should warn, not panic or error.
	data := append([]byte{9, 2, 20, 0, 1, 1, 0, 0xA0, 50}, []byte{20, 0x24, 0x01}...)
	info, err := ParseDeviceInfo(data)
	if err != nil {
		t.Fatalf("ParseDeviceInfo should tolerate truncation, got error: %v", err)
	}
	if len(info.Warnings) == 0 {
		t.Error("expected a warning for the truncated descriptor")
	}
}
