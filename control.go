package govuc

import (
	"encoding/binary"
	"time"

	"github.com/govuc/govuc/transport"
)

// ControlTransactor issues UVC class-specific control requests over a
// transport.Handle's control endpoint (spec §4.D). A failed transfer is
// attempted again, up to MaxRetries attempts in all, for any error other
// than a timeout; a timeout ends the call at once.
type ControlTransactor struct {
	Handle          transport.Handle
	InterfaceNumber uint8
	Timeout         time.Duration
	MaxRetries      int
}

// NewControlTransactor builds a transactor with the library's default
// timeout and retry budget.
func NewControlTransactor(h transport.Handle, interfaceNumber uint8) *ControlTransactor {
	return &ControlTransactor{
		Handle:          h,
		InterfaceNumber: interfaceNumber,
		Timeout:         time.Second,
		MaxRetries:      3,
	}
}

func (c *ControlTransactor) transact(request uint8, selector, unit uint8, data []byte) (int, error) {
	get := request&0x80 != 0
	bmRequestType := uint8(0x21) // host-to-device, class, interface
	if get {
		bmRequestType = 0xA1 // device-to-host, class, interface
	}
	wValue := uint16(selector) << 8
	wIndex := uint16(unit)<<8 | uint16(c.InterfaceNumber)

	var lastErr error
	retries := c.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		n, err := c.Handle.ControlTransfer(bmRequestType, request, wValue, wIndex, data, c.Timeout)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if err == transport.ErrTimeout {
			// Timeouts are fatal for this call, not transient: surface
			// immediately instead of retrying (spec §4.D).
			break
		}
	}
	return 0, errf(classifyTransportErr(lastErr), "control transact", lastErr)
}

// Capabilities issues GET_INFO for the given selector/unit and decodes the
// capabilities bitfield (spec §6).
func (c *ControlTransactor) Capabilities(selector, unit uint8) (ControlCaps, error) {
	buf := make([]byte, 1)
	if _, err := c.transact(reqGetInfo, selector, unit, buf); err != nil {
		return 0, err
	}
	return ControlCaps(buf[0]), nil
}

func (c *ControlTransactor) getU16(selector, unit uint8, request uint8) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := c.transact(request, selector, unit, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (c *ControlTransactor) setU16(selector, unit uint8, v uint16) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	_, err := c.transact(reqSetCur, selector, unit, buf)
	return err
}

func (c *ControlTransactor) getU8(selector, unit uint8, request uint8) (uint8, error) {
	buf := make([]byte, 1)
	if _, err := c.transact(request, selector, unit, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (c *ControlTransactor) setU8(selector, unit uint8, v uint8) error {
	_, err := c.transact(reqSetCur, selector, unit, []byte{v})
	return err
}

func (c *ControlTransactor) getU32(selector, unit uint8, request uint8) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := c.transact(request, selector, unit, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (c *ControlTransactor) setU32(selector, unit uint8, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err := c.transact(reqSetCur, selector, unit, buf)
	return err
}

// Controls is a typed front end over the Processing Unit and Camera
// Terminal control selectors (spec §4.D, §6). Every setter/getter funnels
// through ControlTransactor.transact so retries and error wrapping stay
// in one place.
type Controls struct {
	t *ControlTransactor

	cameraTerminalID uint8
	processingUnitID uint8
}

// NewControls builds a Controls bound to the given camera terminal and
// processing unit IDs, as resolved from the parsed device model.
func NewControls(t *ControlTransactor, cameraTerminalID, processingUnitID uint8) *Controls {
	return &Controls{t: t, cameraTerminalID: cameraTerminalID, processingUnitID: processingUnitID}
}

func (c *Controls) Brightness() (int16, error) {
	v, err := c.t.getU16(puBrightnessControl, c.processingUnitID, reqGetCur)
	return int16(v), err
}
func (c *Controls) SetBrightness(v int16) error {
	return c.t.setU16(puBrightnessControl, c.processingUnitID, uint16(v))
}

func (c *Controls) Contrast() (uint16, error) {
	return c.t.getU16(puContrastControl, c.processingUnitID, reqGetCur)
}
func (c *Controls) SetContrast(v uint16) error {
	return c.t.setU16(puContrastControl, c.processingUnitID, v)
}

func (c *Controls) Saturation() (uint16, error) {
	return c.t.getU16(puSaturationControl, c.processingUnitID, reqGetCur)
}
func (c *Controls) SetSaturation(v uint16) error {
	return c.t.setU16(puSaturationControl, c.processingUnitID, v)
}

func (c *Controls) Sharpness() (uint16, error) {
	return c.t.getU16(puSharpnessControl, c.processingUnitID, reqGetCur)
}
func (c *Controls) SetSharpness(v uint16) error {
	return c.t.setU16(puSharpnessControl, c.processingUnitID, v)
}

func (c *Controls) Gain() (uint16, error) {
	return c.t.getU16(puGainControl, c.processingUnitID, reqGetCur)
}
func (c *Controls) SetGain(v uint16) error {
	return c.t.setU16(puGainControl, c.processingUnitID, v)
}

func (c *Controls) Gamma() (uint16, error) {
	return c.t.getU16(puGammaControl, c.processingUnitID, reqGetCur)
}
func (c *Controls) SetGamma(v uint16) error {
	return c.t.setU16(puGammaControl, c.processingUnitID, v)
}

func (c *Controls) WhiteBalanceTemperature() (uint16, error) {
	return c.t.getU16(puWhiteBalanceTemperatureControl, c.processingUnitID, reqGetCur)
}
func (c *Controls) SetWhiteBalanceTemperature(v uint16) error {
	return c.t.setU16(puWhiteBalanceTemperatureControl, c.processingUnitID, v)
}
func (c *Controls) WhiteBalanceTemperatureAuto() (bool, error) {
	v, err := c.t.getU8(puWhiteBalanceTemperatureAutoControl, c.processingUnitID, reqGetCur)
	return v != 0, err
}
func (c *Controls) SetWhiteBalanceTemperatureAuto(v bool) error {
	return c.t.setU8(puWhiteBalanceTemperatureAutoControl, c.processingUnitID, boolToU8(v))
}

func (c *Controls) BacklightCompensation() (uint16, error) {
	return c.t.getU16(puBacklightCompensationControl, c.processingUnitID, reqGetCur)
}
func (c *Controls) SetBacklightCompensation(v uint16) error {
	return c.t.setU16(puBacklightCompensationControl, c.processingUnitID, v)
}

func (c *Controls) PowerLineFrequency() (uint8, error) {
	return c.t.getU8(puPowerLineFrequencyControl, c.processingUnitID, reqGetCur)
}
func (c *Controls) SetPowerLineFrequency(v uint8) error {
	return c.t.setU8(puPowerLineFrequencyControl, c.processingUnitID, v)
}

func (c *Controls) AutoExposureMode() (uint8, error) {
	return c.t.getU8(ctAEModeControl, c.cameraTerminalID, reqGetCur)
}
func (c *Controls) SetAutoExposureMode(v uint8) error {
	return c.t.setU8(ctAEModeControl, c.cameraTerminalID, v)
}

func (c *Controls) AutoExposurePriority() (uint8, error) {
	return c.t.getU8(ctAEPriorityControl, c.cameraTerminalID, reqGetCur)
}
func (c *Controls) SetAutoExposurePriority(v uint8) error {
	return c.t.setU8(ctAEPriorityControl, c.cameraTerminalID, v)
}

func (c *Controls) ExposureTimeAbsolute() (uint32, error) {
	return c.t.getU32(ctExposureTimeAbsoluteControl, c.cameraTerminalID, reqGetCur)
}
func (c *Controls) SetExposureTimeAbsolute(v uint32) error {
	return c.t.setU32(ctExposureTimeAbsoluteControl, c.cameraTerminalID, v)
}

func (c *Controls) FocusAbsolute() (uint16, error) {
	return c.t.getU16(ctFocusAbsoluteControl, c.cameraTerminalID, reqGetCur)
}
func (c *Controls) SetFocusAbsolute(v uint16) error {
	return c.t.setU16(ctFocusAbsoluteControl, c.cameraTerminalID, v)
}
func (c *Controls) FocusAuto() (bool, error) {
	v, err := c.t.getU8(ctFocusAutoControl, c.cameraTerminalID, reqGetCur)
	return v != 0, err
}
func (c *Controls) SetFocusAuto(v bool) error {
	return c.t.setU8(ctFocusAutoControl, c.cameraTerminalID, boolToU8(v))
}

func (c *Controls) ZoomAbsolute() (uint16, error) {
	return c.t.getU16(ctZoomAbsoluteControl, c.cameraTerminalID, reqGetCur)
}
func (c *Controls) SetZoomAbsolute(v uint16) error {
	return c.t.setU16(ctZoomAbsoluteControl, c.cameraTerminalID, v)
}

func (c *Controls) IrisAbsolute() (uint16, error) {
	return c.t.getU16(ctIrisAbsoluteControl, c.cameraTerminalID, reqGetCur)
}
func (c *Controls) SetIrisAbsolute(v uint16) error {
	return c.t.setU16(ctIrisAbsoluteControl, c.cameraTerminalID, v)
}

// PanTilt is the compound 8-byte Pan/Tilt (Absolute) control value.
type PanTilt struct {
	Pan  int32
	Tilt int32
}

func (c *Controls) PanTiltAbsolute() (PanTilt, error) {
	buf := make([]byte, 8)
	if _, err := c.t.transact(reqGetCur, ctPanTiltAbsoluteControl, c.cameraTerminalID, buf); err != nil {
		return PanTilt{}, err
	}
	return PanTilt{
		Pan:  int32(binary.LittleEndian.Uint32(buf[0:4])),
		Tilt: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

func (c *Controls) SetPanTiltAbsolute(v PanTilt) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(v.Pan))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(v.Tilt))
	_, err := c.t.transact(reqSetCur, ctPanTiltAbsoluteControl, c.cameraTerminalID, buf)
	return err
}

func boolToU8(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

func (k ControlCaps) String() string {
	s := ""
	if k&ControlCapGet != 0 {
		s += "GET|"
	}
	if k&ControlCapSet != 0 {
		s += "SET|"
	}
	if k&ControlCapDisabled != 0 {
		s += "DISABLED|"
	}
	if k&ControlCapAutoUpdate != 0 {
		s += "AUTOUPDATE|"
	}
	if k&ControlCapAsync != 0 {
		s += "ASYNC|"
	}
	if s == "" {
		return "NONE"
	}
	return s[:len(s)-1]
}
