package govuc

// USB descriptor types relevant to the parser (spec §6).
const (
	descTypeInterface   = 0x04
	descTypeEndpoint    = 0x05
	descTypeCSInterface = 0x24
)

// Video interface class/subclass codes.
const (
	classVideo             = 0x0E
	subclassVideoControl   = 0x01
	subclassVideoStreaming = 0x02
)

// VideoControl interface descriptor subtypes.
const (
	vcHeader          = 0x01
	vcInputTerminal   = 0x02
	vcOutputTerminal  = 0x03
	vcSelectorUnit    = 0x04
	vcProcessingUnit  = 0x05
	vcExtensionUnit   = 0x06
)

// VideoStreaming interface descriptor subtypes.
const (
	vsInputHeader        = 0x01
	vsOutputHeader       = 0x02
	vsStillImageFrame    = 0x03
	vsFormatUncompressed = 0x04
	vsFrameUncompressed  = 0x05
	vsFormatMJPEG        = 0x06
	vsFrameMJPEG         = 0x07
	vsFormatMPEG2TS      = 0x0A
	vsFormatDV           = 0x0C
	vsColorformat        = 0x0D
	vsFormatFrameBased   = 0x10
	vsFrameFrameBased    = 0x11
	vsFormatStreamBased  = 0x12
)

// Terminal types (the ones the parser inspects).
const (
	terminalTypeCamera = 0x0201
)

// Endpoint attribute transfer-type mask and interrupt marker.
const (
	endpointAttrTransferMask = 0x03
	endpointAttrInterrupt    = 0x03
)

// UVC control-request codes (spec §4.D/§6). The high bit distinguishes
// device-to-host (GET_*) from host-to-device (SET_CUR).
const (
	reqSetCur  = 0x01
	reqGetCur  = 0x81
	reqGetMin  = 0x82
	reqGetMax  = 0x83
	reqGetRes  = 0x84
	reqGetLen  = 0x85
	reqGetInfo = 0x86
	reqGetDef  = 0x87
)

// VideoControl interface control selectors.
const (
	vcControlUndefined       = 0x00
	vcVideoPowerModeControl  = 0x01
	vcRequestErrorCodeControl = 0x02
)

// VideoStreaming interface control selectors (spec §6), including the
// still-image and dynamic-format-change selectors that the streaming
// engine does not reassemble frames for but which are wired for
// completeness (SPEC_FULL §4, Non-goals).
const (
	vsProbeControl              = 0x01
	vsCommitControl             = 0x02
	vsStillProbeControl         = 0x03
	vsStillCommitControl        = 0x04
	vsStillImageTriggerControl  = 0x05
	vsStreamErrorCodeControl    = 0x06
	vsGenerateKeyFrameControl   = 0x07
	vsUpdateFrameSegmentControl = 0x08
	vsSyncDelayControl          = 0x09
)

// Camera Terminal control selectors.
const (
	ctScanningModeControl         = 0x01
	ctAEModeControl               = 0x02
	ctAEPriorityControl           = 0x03
	ctExposureTimeAbsoluteControl = 0x04
	ctExposureTimeRelativeControl = 0x05
	ctFocusAbsoluteControl        = 0x06
	ctFocusRelativeControl        = 0x07
	ctFocusAutoControl            = 0x08
	ctIrisAbsoluteControl         = 0x09
	ctIrisRelativeControl         = 0x0A
	ctZoomAbsoluteControl         = 0x0B
	ctZoomRelativeControl         = 0x0C
	ctPanTiltAbsoluteControl      = 0x0D
	ctPanTiltRelativeControl      = 0x0E
	ctRollAbsoluteControl         = 0x0F
	ctRollRelativeControl         = 0x10
)

// Processing Unit control selectors.
const (
	puBacklightCompensationControl       = 0x01
	puBrightnessControl                  = 0x02
	puContrastControl                    = 0x03
	puGainControl                        = 0x04
	puPowerLineFrequencyControl          = 0x05
	puHueControl                         = 0x06
	puSaturationControl                  = 0x07
	puSharpnessControl                   = 0x08
	puGammaControl                       = 0x09
	puWhiteBalanceTemperatureControl     = 0x0A
	puWhiteBalanceTemperatureAutoControl = 0x0B
	puDigitalMultiplierControl           = 0x0E
	puDigitalMultiplierLimitControl      = 0x0F
	puHueAutoControl                     = 0x10
)

// ControlCaps is the GET_INFO capabilities bitfield (spec §6).
type ControlCaps uint8

const (
	ControlCapGet      ControlCaps = 0x01
	ControlCapSet      ControlCaps = 0x02
	ControlCapDisabled ControlCaps = 0x04
	ControlCapAutoUpdate ControlCaps = 0x08
	ControlCapAsync    ControlCaps = 0x10
)

// Payload header bitfield (spec §6).
const (
	hdrFID = 0x01
	hdrEOF = 0x02
	hdrPTS = 0x04
	hdrSCR = 0x08
	hdrRES = 0x10
	hdrSTI = 0x20
	hdrERR = 0x40
	hdrEOH = 0x80
)
