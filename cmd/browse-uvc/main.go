// Command browse-uvc enumerates USB Video Class devices, prints their
// parsed descriptor tree, and optionally streams a few frames from the
// first one found.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/govuc/govuc"
)

func main() {
	var (
		stream   = flag.Bool("stream", false, "negotiate and stream a few frames from the first device found")
		frames   = flag.Int("frames", 10, "number of frames to capture when -stream is set")
		vendorID = flag.Uint("vendor", 0, "restrict to a vendor ID (hex not required, e.g. -vendor=1133)")
	)
	flag.Parse()

	ctx := govuc.NewContext()
	defer ctx.Close()

	devices, err := ctx.Enumerate()
	if err != nil {
		log.Fatalf("enumerate: %v", err)
	}
	if len(devices) == 0 {
		fmt.Println("no USB devices found")
		return
	}

	found := false
	streamed := false
	for _, d := range devices {
		info := d.Info()
		if *vendorID != 0 && uint16(*vendorID) != info.VendorID {
			continue
		}

		h, err := d.Open()
		if err != nil {
			continue
		}
		uvcInfo := h.Info()
		if len(uvcInfo.StreamingInterfaces) == 0 {
			h.Close()
			continue
		}

		found = true
		fmt.Printf("device %04x:%04x (bus %d addr %d), UVC %x.%02x\n",
			info.VendorID, info.ProductID, info.Bus, info.Address, uvcInfo.BcdUVC>>8, uvcInfo.BcdUVC&0xff)
		describe(uvcInfo)

		if *stream && !streamed {
			streamed = true
			if err := runStream(h, uvcInfo, *frames); err != nil {
				log.Printf("stream: %v", err)
			}
		}
		h.Close()
	}

	if !found {
		fmt.Println("no UVC device found")
		os.Exit(1)
	}
}

func describe(info *govuc.DeviceInfo) {
	for _, it := range info.InputTerminals {
		fmt.Printf("  input terminal %d, type 0x%04x\n", it.TerminalID, it.TerminalType)
	}
	for _, pu := range info.ProcessingUnits {
		fmt.Printf("  processing unit %d <- %d\n", pu.UnitID, pu.SourceID)
	}
	for _, eu := range info.ExtensionUnits {
		fmt.Printf("  extension unit %d, guid %x\n", eu.UnitID, eu.GUID)
	}
	for _, si := range info.StreamingInterfaces {
		fmt.Printf("  streaming interface %d, endpoint 0x%02x\n", si.InterfaceNumber, si.EndpointAddr)
		for _, f := range si.Formats {
			fmt.Printf("    format %d: %s\n", f.FormatIndex, string(f.FourCC[:]))
			for _, fr := range f.Frames {
				fmt.Printf("      frame %d: %dx%d, default interval %d\n", fr.FrameIndex, fr.Width, fr.Height, fr.DefaultFrameInterval)
			}
		}
	}
	for _, w := range info.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

func runStream(h *govuc.DeviceHandle, info *govuc.DeviceInfo, count int) error {
	format := info.FirstFormat()
	if format == nil {
		return fmt.Errorf("device has no formats")
	}
	frame := format.Frames[0]

	ctrl, err := h.Probe(format, frame, frame.DefaultFrameInterval)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	got := make(chan struct{})
	n := 0
	cb := func(f *govuc.Frame) {
		n++
		fmt.Printf("frame %d: %d bytes, seq %d\n", n, f.DataBytes, f.Seq)
		if n >= count {
			select {
			case got <- struct{}{}:
			default:
			}
		}
	}

	if err := h.StartStreaming(ctrl, cb); err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}
	defer h.StopStreaming()

	select {
	case <-got:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for %d frames", count)
	}
	return nil
}
