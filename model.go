package govuc

// DeviceInfo is the parsed device model (spec §3, §4.C): everything the
// core needs to drive controls and negotiate a stream, derived once from
// the raw configuration descriptor and never mutated afterward.
type DeviceInfo struct {
	BcdUVC uint16

	ControlInterfaceNumber uint8
	ControlEndpointAddr    uint8

	InputTerminals  []InputTerminal
	ProcessingUnits []ProcessingUnit
	ExtensionUnits  []ExtensionUnit

	StreamingInterfaces []StreamingInterface

	// Warnings collects non-fatal parse anomalies (truncated or too-short
	// descriptors) instead of failing the whole parse; unrecognized
	// descriptors are skipped without a warning (SPEC_FULL §5).
	Warnings []string
}

// InputTerminal is a VideoControl Input Terminal descriptor (spec §3).
type InputTerminal struct {
	TerminalID    uint8
	TerminalType  uint16
	AssocTerminal uint8

	// CameraControls is non-nil only for camera terminals (TerminalType ==
	// 0x0201), which carry the extra objective/ocular focal length fields
	// and the controls bitmap.
	CameraControls *CameraTerminalControls
}

// CameraTerminalControls holds the Camera Terminal-specific fields of an
// Input Terminal descriptor (spec §3).
type CameraTerminalControls struct {
	ObjectiveFocalLengthMin uint16
	ObjectiveFocalLengthMax uint16
	OcularFocalLength       uint16
	ControlsBitmap          uint64
}

// ProcessingUnit is a VideoControl Processing Unit descriptor (spec §3).
type ProcessingUnit struct {
	UnitID        uint8
	SourceID      uint8
	MaxMultiplier uint16

	ControlsBitmap uint64
}

// ExtensionUnit is a VideoControl Extension Unit descriptor (spec §3). Its
// controls bitmap is vendor-defined and variable length, so it is kept as
// raw bytes rather than a fixed bitfield.
type ExtensionUnit struct {
	UnitID      uint8
	GUID        [16]byte
	NumControls uint8
	SourceIDs   []uint8

	ControlsBitmap []byte
}

// StreamingInterface is one VideoStreaming interface (spec §3): its
// available formats plus the alternate settings needed to pick a
// transfer-size-compatible isochronous endpoint at stream startup
// (spec §4.F).
type StreamingInterface struct {
	InterfaceNumber uint8
	EndpointAddr    uint8
	TerminalLink    uint8

	Formats []*FormatDesc

	AltSettings []AltSetting
}

// AltSetting describes one alternate setting of a streaming interface's
// isochronous (or bulk) endpoint.
type AltSetting struct {
	AlternateSetting uint8
	MaxPacketSize    uint16
	Attributes       uint8
}

// FormatSubtype identifies which of the UVC payload formats a FormatDesc
// describes.
type FormatSubtype int

const (
	FormatUnknown FormatSubtype = iota
	FormatUncompressed
	FormatMJPEG
	FormatFrameBased
)

// FormatDesc is a VideoStreaming Format descriptor together with its child
// Frame descriptors (spec §3, §4.C).
type FormatDesc struct {
	Subtype FormatSubtype

	FormatIndex       uint8
	DefaultFrameIndex uint8

	// FourCC is the four-character code identifying the pixel format:
	// decoded from the format GUID for uncompressed/frame-based formats,
	// or the literal "MJPG" for MJPEG.
	FourCC [4]byte

	Uncompressed *UncompressedFormat
	MJPEG        *MJPEGFormat

	Frames []*FrameDesc
}

// UncompressedFormat holds the fields specific to a Format Uncompressed
// descriptor.
type UncompressedFormat struct {
	GUID         [16]byte
	BitsPerPixel uint8
}

// MJPEGFormat holds the fields specific to a Format MJPEG descriptor.
type MJPEGFormat struct {
	Flags uint8
}

// FrameDesc is a VideoStreaming Frame descriptor (spec §3). Interval
// fields are expressed in 100ns units, matching the wire format.
type FrameDesc struct {
	FrameIndex uint8

	Width  uint16
	Height uint16

	MaxBytesPerFrame uint32

	DefaultFrameInterval uint32
	MinFrameInterval     uint32
	MaxFrameInterval     uint32
	FrameIntervalStep    uint32

	// DiscreteIntervals is non-empty for frame descriptors that enumerate
	// discrete intervals instead of a continuous min/max/step range.
	DiscreteIntervals []uint32
}

// FirstFormat returns the first format of the first streaming interface,
// or nil if the device has no streaming interfaces or formats at all.
func (d *DeviceInfo) FirstFormat() *FormatDesc {
	for _, si := range d.StreamingInterfaces {
		if len(si.Formats) > 0 {
			return si.Formats[0]
		}
	}
	return nil
}

// FindFormat looks up a format by its index, searching across every
// streaming interface on the device. The original interface signature
// this is derived from does not scope the search to one interface, and
// real devices typically expose only one VideoStreaming interface, so a
// device-wide search is the conservative reading (DESIGN.md).
func (d *DeviceInfo) FindFormat(formatIndex uint8) *FormatDesc {
	for _, si := range d.StreamingInterfaces {
		for _, f := range si.Formats {
			if f.FormatIndex == formatIndex {
				return f
			}
		}
	}
	return nil
}

// FindFrame looks up a frame descriptor by index within this format.
func (f *FormatDesc) FindFrame(frameIndex uint8) *FrameDesc {
	for _, fr := range f.Frames {
		if fr.FrameIndex == frameIndex {
			return fr
		}
	}
	return nil
}

// StreamingInterfaceForFormat finds which streaming interface owns a given
// format by scanning, rather than storing a back-pointer on FormatDesc
// (spec §9 Design Notes: avoid parent pointers in the descriptor tree).
func (d *DeviceInfo) StreamingInterfaceForFormat(f *FormatDesc) *StreamingInterface {
	for i := range d.StreamingInterfaces {
		si := &d.StreamingInterfaces[i]
		for _, cand := range si.Formats {
			if cand == f {
				return si
			}
		}
	}
	return nil
}
