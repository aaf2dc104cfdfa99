package scrolldetect

import (
	"image"
	"math"
	"testing"

	"github.com/driusan/p9drawbridge/internal/tilecodec"
)

const testStride = 512 * 4

func solidFrame(w, h int, color [3]byte) []byte {
	buf := make([]byte, testStride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*testStride + x*4
			buf[off], buf[off+1], buf[off+2] = color[0], color[1], color[2]
		}
	}
	return buf
}

// stripedFrame paints horizontal bands of alternating color so the
// content has real spatial structure for phase correlation to lock onto.
func stripedFrame(w, h, bandHeight int) []byte {
	buf := make([]byte, testStride*h)
	for y := 0; y < h; y++ {
		band := (y / bandHeight) % 2
		var c byte = 0x20
		if band == 1 {
			c = 0xD0
		}
		for x := 0; x < w; x++ {
			off := y*testStride + x*4
			buf[off], buf[off+1], buf[off+2] = c, c, c
		}
	}
	return buf
}

func shiftVertical(buf []byte, w, h, dy int) []byte {
	out := make([]byte, len(buf))
	for y := 0; y < h; y++ {
		srcY := y - dy
		if srcY < 0 || srcY >= h {
			continue
		}
		copy(out[y*testStride:y*testStride+w*4], buf[srcY*testStride:srcY*testStride+w*4])
	}
	return out
}

func TestGridInsetsMargin(t *testing.T) {
	rects := Grid(512, 512)
	if len(rects) == 0 {
		t.Fatal("expected at least one region")
	}
	for _, r := range rects {
		if r.Min.X < tilecodec.TileSize || r.Min.Y < tilecodec.TileSize {
			t.Fatalf("region %v violates margin", r)
		}
		if r.Max.X > 512-tilecodec.TileSize || r.Max.Y > 512-tilecodec.TileSize {
			t.Fatalf("region %v violates margin", r)
		}
	}
}

func TestDetectNoMotionOnIdenticalFrames(t *testing.T) {
	frame := stripedFrame(512, 512, 8)
	regions := Detect(frame, frame, testStride, 512, 512, nil)
	if len(regions) == 0 {
		t.Fatal("expected regions")
	}
	for _, r := range regions {
		if r.Detected {
			t.Fatalf("region %v falsely detected motion dx=%d dy=%d on identical frames", r.Rect, r.DX, r.DY)
		}
	}
}

func TestDetectFindsVerticalShift(t *testing.T) {
	const w, h = 512, 512
	prev := stripedFrame(w, h, 8)
	cur := shiftVertical(prev, w, h, 4)

	regions := Detect(cur, prev, testStride, w, h, nil)
	found := false
	for _, r := range regions {
		if r.Detected {
			found = true
			if math.Abs(float64(r.DY-4)) > 1 {
				t.Fatalf("region %v: dy = %d, want ~4", r.Rect, r.DY)
			}
		}
	}
	if !found {
		t.Fatal("expected at least one region to detect the vertical shift")
	}
}

func TestVerifyCostRejectsOnSolidFrame(t *testing.T) {
	c := tilecodec.NewCompressor()
	frame := solidFrame(512, 512, [3]byte{0x40, 0x40, 0x40})
	r := Region{Rect: image.Rect(32, 32, 288, 288), Detected: true, DX: 4, DY: 0}
	if VerifyCost(c, frame, frame, testStride, 512, 512, r) {
		t.Fatal("a solid frame has no content to justify a scroll hypothesis")
	}
}

func TestVerifyCostAcceptsMatchingShift(t *testing.T) {
	const w, h = 512, 512
	c := tilecodec.NewCompressor()
	prev := stripedFrame(w, h, 8)
	cur := shiftVertical(prev, w, h, 8)

	r := Region{Rect: image.Rect(32, 32, 288, 288), Detected: true, DX: 0, DY: 8}
	if !VerifyCost(c, cur, prev, testStride, w, h, r) {
		t.Fatal("expected a true shift to verify cheaply under the scroll hypothesis")
	}
}

// gradientFrame paints each row a distinct, non-periodic shade so a tile
// compared against the wrong row never accidentally matches by symmetry
// the way a short-period striped pattern can.
func gradientFrame(w, h int) []byte {
	buf := make([]byte, testStride*h)
	for y := 0; y < h; y++ {
		c := byte((y*37 + 13) % 256)
		for x := 0; x < w; x++ {
			off := y*testStride + x*4
			buf[off], buf[off+1], buf[off+2] = c, c, c
		}
	}
	return buf
}

// TestVerifyCostComparesCurAtOriginalPositionToPrevShifted pins down the
// two-offset fix directly: cur is prev shifted down by dy, so the correct
// scroll hypothesis (cur sampled at its real position, prev sampled
// shifted) reads identical content and must verify cheaply. Sampling cur
// at the shifted position too (the regression this guards against) reads
// prev two shifts back instead of one, which a non-periodic gradient
// guarantees differs, so that bug would make this verify fail.
func TestVerifyCostComparesCurAtOriginalPositionToPrevShifted(t *testing.T) {
	const w, h, dy = 512, 128, 6
	c := tilecodec.NewCompressor()
	prev := gradientFrame(w, h)
	cur := shiftVertical(prev, w, h, dy)

	r := Region{Rect: image.Rect(32, 32, 288, 96), Detected: true, DX: 0, DY: dy}
	if !VerifyCost(c, cur, prev, testStride, w, h, r) {
		t.Fatal("expected a genuine vertical shift of non-periodic content to verify cheaply")
	}
}

func TestApplyScrollFillsExposedBandWithSentinel(t *testing.T) {
	const w, h = 64, 64
	ref := solidFrame(w, h, [3]byte{0x11, 0x22, 0x33})
	ApplyScroll(ref, testStride, [4]int{0, 0, w, h}, 0, 4)

	for y := 0; y < 4; y++ {
		off := y*testStride + 0*4
		if !tilecodec.IsSentinelPixel(ref[off : off+4]) {
			t.Fatalf("row %d not sentinel-filled after downward scroll", y)
		}
	}
	off := 10*testStride + 0*4
	if tilecodec.IsSentinelPixel(ref[off : off+4]) {
		t.Fatal("row 10 should retain shifted content, not sentinel")
	}
}
