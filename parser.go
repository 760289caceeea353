package govuc

import (
	"encoding/binary"
	"fmt"
)

// ParseDeviceInfo walks the raw configuration descriptor bytes handed back
// by the transport and builds a DeviceInfo (spec §4.B). It returns an
// error only when data is shorter than the 9-byte configuration header.
// A descriptor too short for its type is recorded in Warnings and skipped,
// and parsing continues with the next descriptor; a descriptor whose
// bLength overruns the buffer is recorded in Warnings and ends the parse.
// Unrecognized descriptors are skipped without a warning (DESIGN.md).
func ParseDeviceInfo(data []byte) (*DeviceInfo, error) {
	if len(data) < 9 {
		return nil, errf(KindInvalidParam, "ParseDeviceInfo", fmt.Errorf("configuration descriptor too short: %d bytes", len(data)))
	}

	info := &DeviceInfo{}

	var (
		curIfaceNum    uint8
		curIfaceClass  uint8
		curIfaceSub    uint8
		curAlt         uint8
		inControl      bool
		inStreaming    bool
		curStreamIdx   = -1
		curFormat      *FormatDesc
	)

	pos := 9
	for pos < len(data) {
		if pos+2 > len(data) {
			break
		}
		length := int(data[pos])
		descType := data[pos+1]

		if length < 2 || pos+length > len(data) {
			info.Warnings = append(info.Warnings, fmt.Sprintf("truncated descriptor at offset %d (length %d)", pos, length))
			break
		}
		body := data[pos : pos+length]

		switch descType {
		case descTypeInterface:
			if length < 9 {
				info.Warnings = append(info.Warnings, fmt.Sprintf("interface descriptor too short at offset %d", pos))
				pos += length
				continue
			}
			curIfaceNum = body[2]
			curAlt = body[3]
			curIfaceClass = body[5]
			curIfaceSub = body[6]

			inControl = curIfaceClass == classVideo && curIfaceSub == subclassVideoControl
			inStreaming = curIfaceClass == classVideo && curIfaceSub == subclassVideoStreaming
			curFormat = nil

			if inControl && curAlt == 0 {
				info.ControlInterfaceNumber = curIfaceNum
			}

			if inStreaming {
				curStreamIdx = findOrAddStreamingInterface(info, curIfaceNum)
				if curAlt != 0 {
					info.StreamingInterfaces[curStreamIdx].AltSettings = append(
						info.StreamingInterfaces[curStreamIdx].AltSettings,
						AltSetting{AlternateSetting: curAlt},
					)
				}
			} else {
				curStreamIdx = -1
			}

		case descTypeEndpoint:
			if length < 7 {
				info.Warnings = append(info.Warnings, fmt.Sprintf("endpoint descriptor too short at offset %d", pos))
				pos += length
				continue
			}
			epAddr := body[2]
			attrs := body[3]
			maxPacket := binary.LittleEndian.Uint16(body[4:6])

			if inControl && curAlt == 0 && attrs&endpointAttrTransferMask == endpointAttrInterrupt {
				info.ControlEndpointAddr = epAddr
			}
			if inStreaming && curStreamIdx >= 0 {
				si := &info.StreamingInterfaces[curStreamIdx]
				if si.EndpointAddr == 0 && epAddr&0x80 != 0 {
					si.EndpointAddr = epAddr
				}
				if n := len(si.AltSettings); n > 0 && si.AltSettings[n-1].AlternateSetting == curAlt {
					si.AltSettings[n-1].MaxPacketSize = maxPacket
					si.AltSettings[n-1].Attributes = attrs
				} else if curAlt == 0 {
					si.AltSettings = append(si.AltSettings, AltSetting{MaxPacketSize: maxPacket, Attributes: attrs})
				}
			}

		case descTypeCSInterface:
			if inControl && curAlt == 0 {
				parseControlDescriptor(info, body)
			} else if inStreaming && curStreamIdx >= 0 {
				curFormat = parseStreamingDescriptor(info, curStreamIdx, curFormat, body)
			}

		default:
			// Unrecognized descriptor; skip it, nothing to record.
		}

		pos += length
	}

	if len(info.StreamingInterfaces) == 0 && info.ControlInterfaceNumber == 0 && len(info.InputTerminals) == 0 {
		info.Warnings = append(info.Warnings, "no VideoControl or VideoStreaming interface found")
	}

	return info, nil
}

func findOrAddStreamingInterface(info *DeviceInfo, ifaceNum uint8) int {
	for i := range info.StreamingInterfaces {
		if info.StreamingInterfaces[i].InterfaceNumber == ifaceNum {
			return i
		}
	}
	info.StreamingInterfaces = append(info.StreamingInterfaces, StreamingInterface{InterfaceNumber: ifaceNum})
	return len(info.StreamingInterfaces) - 1
}

func parseControlDescriptor(info *DeviceInfo, body []byte) {
	if len(body) < 3 {
		info.Warnings = append(info.Warnings, "class-specific VC descriptor too short")
		return
	}
	subtype := body[2]

	switch subtype {
	case vcHeader:
		if len(body) < 12 {
			info.Warnings = append(info.Warnings, "VC header descriptor too short")
			return
		}
		info.BcdUVC = binary.LittleEndian.Uint16(body[3:5])

	case vcInputTerminal:
		if len(body) < 8 {
			info.Warnings = append(info.Warnings, "input terminal descriptor too short")
			return
		}
		it := InputTerminal{
			TerminalID:    body[3],
			TerminalType:  binary.LittleEndian.Uint16(body[4:6]),
			AssocTerminal: body[6],
		}
		if it.TerminalType == terminalTypeCamera && len(body) >= 18 {
			ctrlLen := int(body[14])
			bitmap := readBitmap(body[15:], ctrlLen)
			it.CameraControls = &CameraTerminalControls{
				ObjectiveFocalLengthMin: binary.LittleEndian.Uint16(body[8:10]),
				ObjectiveFocalLengthMax: binary.LittleEndian.Uint16(body[10:12]),
				OcularFocalLength:       binary.LittleEndian.Uint16(body[12:14]),
				ControlsBitmap:          bitmap,
			}
		}
		info.InputTerminals = append(info.InputTerminals, it)

	case vcProcessingUnit:
		if len(body) < 8 {
			info.Warnings = append(info.Warnings, "processing unit descriptor too short")
			return
		}
		ctrlLen := int(body[7])
		pu := ProcessingUnit{
			UnitID:        body[3],
			SourceID:      body[4],
			MaxMultiplier: binary.LittleEndian.Uint16(body[5:7]),
		}
		if 8+ctrlLen <= len(body) {
			pu.ControlsBitmap = readBitmap(body[8:], ctrlLen)
		}
		info.ProcessingUnits = append(info.ProcessingUnits, pu)

	case vcExtensionUnit:
		if len(body) < 22 {
			info.Warnings = append(info.Warnings, "extension unit descriptor too short")
			return
		}
		eu := ExtensionUnit{UnitID: body[3]}
		copy(eu.GUID[:], body[4:20])
		eu.NumControls = body[20]
		numInputPins := int(body[21])
		off := 22
		if off+numInputPins > len(body) {
			info.Warnings = append(info.Warnings, "extension unit descriptor truncated in source IDs")
			return
		}
		eu.SourceIDs = append(eu.SourceIDs, body[off:off+numInputPins]...)
		off += numInputPins
		if off >= len(body) {
			info.Warnings = append(info.Warnings, "extension unit descriptor truncated before bControlSize")
			return
		}
		// bControlSize precedes the bitmap itself.
		ctrlSize := int(body[off])
		off++
		if ctrlSize > 0 && off+ctrlSize <= len(body) {
			eu.ControlsBitmap = append([]byte(nil), body[off:off+ctrlSize]...)
		}
		info.ExtensionUnits = append(info.ExtensionUnits, eu)

	case vcOutputTerminal, vcSelectorUnit:
		// Not needed for control/negotiation; skip.
	}
}

func parseStreamingDescriptor(info *DeviceInfo, streamIdx int, curFormat *FormatDesc, body []byte) *FormatDesc {
	if len(body) < 3 {
		info.Warnings = append(info.Warnings, "class-specific VS descriptor too short")
		return curFormat
	}
	subtype := body[2]
	si := &info.StreamingInterfaces[streamIdx]

	switch subtype {
	case vsInputHeader:
		if len(body) < 14 {
			info.Warnings = append(info.Warnings, "VS input header too short")
			return nil
		}
		si.TerminalLink = body[8]
		return nil

	case vsFormatUncompressed:
		if len(body) < 27 {
			info.Warnings = append(info.Warnings, "format uncompressed descriptor too short")
			return nil
		}
		f := &FormatDesc{
			Subtype:           FormatUncompressed,
			FormatIndex:       body[3],
			DefaultFrameIndex: body[22],
			Uncompressed:      &UncompressedFormat{BitsPerPixel: body[21]},
		}
		copy(f.Uncompressed.GUID[:], body[5:21])
		copy(f.FourCC[:], body[5:9])
		si.Formats = append(si.Formats, f)
		return f

	case vsFrameUncompressed, vsFrameMJPEG, vsFrameFrameBased:
		return appendFrame(info, curFormat, subtype, body)

	case vsFormatMJPEG:
		if len(body) < 11 {
			info.Warnings = append(info.Warnings, "format MJPEG descriptor too short")
			return nil
		}
		f := &FormatDesc{
			Subtype:           FormatMJPEG,
			FormatIndex:       body[3],
			DefaultFrameIndex: body[6],
			MJPEG:             &MJPEGFormat{Flags: body[5]},
		}
		copy(f.FourCC[:], "MJPG")
		si.Formats = append(si.Formats, f)
		return f

	case vsFormatFrameBased:
		if len(body) < 28 {
			info.Warnings = append(info.Warnings, "format frame-based descriptor too short")
			return nil
		}
		f := &FormatDesc{
			Subtype:           FormatFrameBased,
			FormatIndex:       body[3],
			DefaultFrameIndex: body[22],
		}
		copy(f.FourCC[:], body[5:9])
		si.Formats = append(si.Formats, f)
		return f

	case vsColorformat, vsStillImageFrame:
		// Not needed for negotiation/streaming; skip.
		return curFormat
	}
	return curFormat
}

// appendFrame decodes a Frame descriptor's common leading fields (index,
// dimensions) and then branches on subtype: Uncompressed/MJPEG frame
// descriptors carry dwMaxVideoFrameBufferSize before dwDefaultFrameInterval,
// while Frame Based frame descriptors have no buffer-size field and instead
// put dwDefaultFrameInterval at offset 17, bFrameIntervalType at 21, and
// dwBytesPerLine at 22:26 (not modeled here, since nothing downstream needs
// it).
func appendFrame(info *DeviceInfo, curFormat *FormatDesc, subtype uint8, body []byte) *FormatDesc {
	if curFormat == nil {
		info.Warnings = append(info.Warnings, "frame descriptor with no preceding format descriptor")
		return nil
	}
	if len(body) < 26 {
		info.Warnings = append(info.Warnings, "frame descriptor too short")
		return curFormat
	}
	fr := &FrameDesc{
		FrameIndex: body[3],
		Width:      binary.LittleEndian.Uint16(body[5:7]),
		Height:     binary.LittleEndian.Uint16(body[7:9]),
	}

	var numIntervals int
	if subtype == vsFrameFrameBased {
		fr.DefaultFrameInterval = binary.LittleEndian.Uint32(body[17:21])
		numIntervals = int(body[21])
	} else {
		fr.MaxBytesPerFrame = binary.LittleEndian.Uint32(body[17:21])
		fr.DefaultFrameInterval = binary.LittleEndian.Uint32(body[21:25])
		numIntervals = int(body[25])
	}
	const fixed = 26
	if numIntervals == 0 {
		if len(body) >= fixed+12 {
			fr.MinFrameInterval = binary.LittleEndian.Uint32(body[fixed : fixed+4])
			fr.MaxFrameInterval = binary.LittleEndian.Uint32(body[fixed+4 : fixed+8])
			fr.FrameIntervalStep = binary.LittleEndian.Uint32(body[fixed+8 : fixed+12])
		}
	} else {
		for i := 0; i < numIntervals; i++ {
			off := fixed + i*4
			if off+4 > len(body) {
				info.Warnings = append(info.Warnings, "frame descriptor discrete interval list truncated")
				break
			}
			fr.DiscreteIntervals = append(fr.DiscreteIntervals, binary.LittleEndian.Uint32(body[off:off+4]))
		}
	}
	curFormat.Frames = append(curFormat.Frames, fr)
	return curFormat
}

// readBitmap decodes an n-byte little-endian bitmap (as UVC packs its
// control-support bitmaps) into a uint64, truncating anything beyond 8
// bytes since no defined UVC bitmap exceeds that width.
func readBitmap(b []byte, n int) uint64 {
	if n > 8 {
		n = 8
	}
	if n > len(b) {
		n = len(b)
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
