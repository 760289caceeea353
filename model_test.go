package govuc

import "testing"

func TestDeviceInfoLookups_Empty(t *testing.T) {
	var info DeviceInfo
	if f := info.FirstFormat(); f != nil {
		t.Errorf("FirstFormat on empty device = %v, want nil", f)
	}
	if f := info.FindFormat(1); f != nil {
		t.Errorf("FindFormat on empty device = %v, want nil", f)
	}
}

func TestFindFrame(t *testing.T) {
	f := &FormatDesc{
		Frames: []*FrameDesc{
			{FrameIndex: 1, Width: 320, Height: 240},
			{FrameIndex: 2, Width: 640, Height: 480},
		},
	}
	if got := f.FindFrame(2); got == nil || got.Width != 640 {
		t.Fatalf("FindFrame(2) = %v", got)
	}
	if got := f.FindFrame(9); got != nil {
		t.Errorf("FindFrame(9) = %v, want nil", got)
	}
}
