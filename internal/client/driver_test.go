package client

import (
	"image"
	"image/color"
	"testing"

	"github.com/quartzwm/quartz/internal/buffer"
	"github.com/quartzwm/quartz/internal/wire"
)

func testItem(key int32, w, h int) *buffer.Item {
	return &buffer.Item{Key: key, Size: int32(w * h * 4), Data: make([]byte, w*h*4)}
}

func TestDummyDriver_CookieSurvivesRedequeue(t *testing.T) {
	d := NewDummyDriver(color.RGBA{R: 255, A: 255})
	d.UpdateResolution(4, 4, wire.FormatRGBA8888)

	item := testItem(1, 4, 4)
	d.OnDequeueBuffer(item)
	first := item.Cookie
	if first == nil {
		t.Fatal("no cookie attached on first dequeue")
	}

	d.DrawFrame(item)
	d.OnDequeueBuffer(item)
	if item.Cookie != first {
		t.Fatal("cookie replaced on re-dequeue")
	}
	cookie := item.Cookie.(*dummyCookie)
	if cookie.prepared != 2 || cookie.draws != 1 {
		t.Fatalf("cookie = %+v", cookie)
	}
}

func TestDummyDriver_FillsBuffer(t *testing.T) {
	d := NewDummyDriver(color.RGBA{R: 10, G: 20, B: 30, A: 255})
	d.UpdateResolution(2, 2, wire.FormatRGBA8888)

	item := testItem(1, 2, 2)
	d.DrawFrame(item)
	if !d.FinishDrawing() {
		t.Fatal("FinishDrawing() = false")
	}
	if item.Data[0] != 10 || item.Data[1] != 20 || item.Data[2] != 30 || item.Data[3] != 255 {
		t.Fatalf("pixel = %v", item.Data[:4])
	}
	if d.Frames() != 1 {
		t.Fatalf("Frames() = %d", d.Frames())
	}
}

func TestImageDriver_PaintsEachSlotOnceThenDeclines(t *testing.T) {
	d := NewImageDriver()
	d.UpdateResolution(8, 8, wire.FormatRGBA8888)

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x7f
	}
	d.SetImage(img)

	a, b := testItem(1, 8, 8), testItem(2, 8, 8)

	d.DrawFrame(a)
	if !d.FinishDrawing() {
		t.Fatal("first slot declined")
	}
	d.DrawFrame(b)
	if !d.FinishDrawing() {
		t.Fatal("second slot declined")
	}

	// Both slots carry the image; further frames decline until SetImage.
	d.DrawFrame(a)
	if d.FinishDrawing() {
		t.Fatal("unchanged image still redrawn")
	}

	d.SetImage(img)
	d.DrawFrame(a)
	if !d.FinishDrawing() {
		t.Fatal("fresh image declined")
	}
}

func TestImageDriver_ResetBufferInvalidatesSlots(t *testing.T) {
	d := NewImageDriver()
	d.UpdateResolution(4, 4, wire.FormatRGBA8888)
	d.SetImage(image.NewRGBA(image.Rect(0, 0, 4, 4)))

	item := testItem(1, 4, 4)
	d.DrawFrame(item)
	if !d.FinishDrawing() {
		t.Fatal("first draw declined")
	}
	d.ResetBuffer()
	d.DrawFrame(item)
	if !d.FinishDrawing() {
		t.Fatal("draw after reset declined")
	}
}
