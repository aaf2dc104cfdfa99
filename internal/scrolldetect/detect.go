// Package scrolldetect implements FFT phase-correlation motion estimation
// per analysis region, followed by compression-cost verification against
// internal/tilecodec before a candidate scroll is trusted.
package scrolldetect

import (
	"image"
	"math"

	"github.com/driusan/p9drawbridge/internal/tilecodec"
)

// RegionSize is the side length of an analysis region in pixels. It must
// be a power of two for fft1D; 256 matches the "~256 px" figure the
// motion estimator is specified against.
const RegionSize = 256

// MinScrollPixels is the minimum absolute displacement in either axis for
// a candidate to be considered a scroll rather than noise.
const MinScrollPixels = 2

// Region is one analysis region's result.
type Region struct {
	Rect     image.Rectangle
	Detected bool
	DX, DY   int
}

// Grid partitions a width x height frame into non-overlapping RegionSize
// regions, insetting a one-tile margin from every edge so that padding
// artifacts at the frame boundary don't feed the transform.
func Grid(width, height int) []image.Rectangle {
	margin := tilecodec.TileSize
	var regions []image.Rectangle
	for y := margin; y+RegionSize <= height-margin; y += RegionSize {
		for x := margin; x+RegionSize <= width-margin; x += RegionSize {
			regions = append(regions, image.Rect(x, y, x+RegionSize, y+RegionSize))
		}
	}
	return regions
}

// extractWindowed reads an RegionSize x RegionSize real-valued buffer from
// an XRGB32 frame (luma-weighted, since phase correlation only needs a
// scalar field) and applies a separable Hann window to damp edge effects.
func extractWindowed(pix []byte, stride int, r image.Rectangle) *grid2D {
	g := newGrid2D(RegionSize)
	hann := make([]float64, RegionSize)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(RegionSize-1)))
	}
	for dy := 0; dy < RegionSize; dy++ {
		rowOff := (r.Min.Y+dy)*stride + r.Min.X*4
		wy := hann[dy]
		for dx := 0; dx < RegionSize; dx++ {
			off := rowOff + dx*4
			// XRGB32: low 24 bits carry color; weight channels evenly for
			// a cheap luma proxy, which is all phase correlation needs.
			lum := float64(pix[off]) + float64(pix[off+1]) + float64(pix[off+2])
			g.set(dx, dy, complex(lum*wy*hann[dx], 0))
		}
	}
	return g
}

// crossPowerSpectrum computes F-bar(u,v) . G(u,v) / |F-bar(u,v) . G(u,v)|
// in place into f, leaving g unmodified.
func crossPowerSpectrum(f, g *grid2D) {
	for i := range f.data {
		prod := cmplxConj(f.data[i]) * g.data[i]
		mag := cmplxAbs(prod)
		if mag < 1e-12 {
			f.data[i] = 0
			continue
		}
		f.data[i] = prod / complex(mag, 0)
	}
}

func cmplxConj(c complex128) complex128 { return complex(real(c), -imag(c)) }
func cmplxAbs(c complex128) float64     { return math.Hypot(real(c), imag(c)) }

// detectRegion runs phase correlation for one region and returns the
// candidate displacement, rejecting sub-threshold motion. The sign
// convention matches VerifyCost and ApplyScroll: content that moved down
// or right between prev and cur yields positive dy or dx.
func detectRegion(cur, prev []byte, stride int, r image.Rectangle) (dx, dy int, ok bool) {
	f := extractWindowed(prev, stride, r)
	g := extractWindowed(cur, stride, r)
	f.fft2D(false)
	g.fft2D(false)
	crossPowerSpectrum(f, g)
	f.fft2D(true)

	peakX, peakY := 0, 0
	peakMag := -1.0
	for y := 0; y < RegionSize; y++ {
		for x := 0; x < RegionSize; x++ {
			m := cmplxAbs(f.at(x, y))
			if m > peakMag {
				peakMag, peakX, peakY = m, x, y
			}
		}
	}

	dx = peakX
	if dx > RegionSize/2 {
		dx -= RegionSize
	}
	dy = peakY
	if dy > RegionSize/2 {
		dy -= RegionSize
	}

	if abs(dx) < MinScrollPixels && abs(dy) < MinScrollPixels {
		return 0, 0, false
	}
	return dx, dy, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Detect runs phase-correlation scroll detection over every analysis
// region of a width x height frame, given the current frame and the
// previous-frame reference at the given stride. fn, when non-nil, is used
// to fan the per-region work out (e.g. a *workerpool.Pool's Dispatch);
// when nil the regions are analyzed sequentially.
func Detect(cur, prev []byte, stride, width, height int, fn func(n int, f func(i int))) []Region {
	rects := Grid(width, height)
	regions := make([]Region, len(rects))
	work := func(i int) {
		dx, dy, ok := detectRegion(cur, prev, stride, rects[i])
		region := Region{Rect: rects[i], Detected: ok, DX: dx, DY: dy}
		if ok && !withinFrame(region, width, height) {
			region.Detected = false
		}
		regions[i] = region
	}
	if fn != nil {
		fn(len(rects), work)
	} else {
		for i := range rects {
			work(i)
		}
	}
	return regions
}
