package wire

import (
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := NewRequest(7, MethodAddWindowToken, AddWindowTokenRequest{
		Token: "tok-1", Type: 1, DisplayId: 0,
	})
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}

	frame, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	n, err := DecodeLength(frame[:4])
	if err != nil {
		t.Fatalf("DecodeLength() error: %v", err)
	}
	if n != len(frame)-4 {
		t.Fatalf("DecodeLength() = %d, want %d", n, len(frame)-4)
	}

	got, err := DecodeBody(frame[4:])
	if err != nil {
		t.Fatalf("DecodeBody() error: %v", err)
	}
	if got.Kind != KindRequest || got.Seq != 7 || got.Method != MethodAddWindowToken {
		t.Fatalf("decoded envelope = %+v", got)
	}

	var payload AddWindowTokenRequest
	if err := got.Unpack(&payload); err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	if payload.Token != "tok-1" || payload.Type != 1 {
		t.Fatalf("decoded payload = %+v", payload)
	}
}

func TestDecodeBody_RejectsUnknownKind(t *testing.T) {
	if _, err := DecodeBody([]byte(`{"kind":"oops"}`)); err == nil {
		t.Fatal("DecodeBody() accepted unknown kind")
	}
}

func TestDecodeLength_Bounds(t *testing.T) {
	if _, err := DecodeLength([]byte{0, 0, 0, 0}); err == nil {
		t.Fatal("DecodeLength() accepted zero length")
	}
	if _, err := DecodeLength([]byte{0xFF, 0xFF, 0xFF, 0xFF}); err == nil {
		t.Fatal("DecodeLength() accepted oversized length")
	}
}

func TestVsyncRequestNext(t *testing.T) {
	tests := []struct {
		in, want VsyncRequest
	}{
		{VsyncNone, VsyncNone},
		{VsyncSingle, VsyncNone},
		{VsyncPeriodic, VsyncPeriodic},
	}
	for _, tt := range tests {
		if got := tt.in.Next(); got != tt.want {
			t.Errorf("%v.Next() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPixelFormatStride(t *testing.T) {
	tests := []struct {
		format PixelFormat
		width  int32
		want   int32
	}{
		{FormatRGBA8888, 200, 800},
		{FormatRGB565, 201, 404}, // 402 rounded up
		{FormatRGB888, 5, 16},    // 15 rounded up
	}
	for _, tt := range tests {
		if got := tt.format.Stride(tt.width); got != tt.want {
			t.Errorf("format %d Stride(%d) = %d, want %d", tt.format, tt.width, got, tt.want)
		}
	}
}

func TestLayoutParamsHasInput(t *testing.T) {
	p := LayoutParams{Flags: FlagInputEnabled}
	if !p.HasInput() {
		t.Fatal("HasInput() = false with FlagInputEnabled set")
	}
	p.Flags = 0
	if p.HasInput() {
		t.Fatal("HasInput() = true with no flags")
	}
}
