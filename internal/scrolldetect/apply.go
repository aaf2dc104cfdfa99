package scrolldetect

import "github.com/driusan/p9drawbridge/internal/tilecodec"

// VerifyCost re-encodes every tile of region under both hypotheses — the
// previous-frame reference sampled at its original position (no scroll)
// and sampled shifted by (-dx,-dy) (scroll applied) — and reports whether
// the shifted hypothesis compresses cheaply enough to trust the
// phase-correlation candidate. A tile that would have to sample outside
// the frame under the shifted hypothesis is charged its raw size as a
// penalty instead of being skipped, so a scroll that only partially
// explains the region's content can't win on an artificially shrunk
// comparison. A tile whose previous-frame sample already equals the
// current pixels costs nothing under that hypothesis, since it would not
// be sent at all.
func VerifyCost(c *tilecodec.Compressor, cur, prev []byte, stride, frameW, frameH int, r Region) bool {
	var bytesNoScroll, bytesWithScroll int
	cost := func(t tilecodec.Tile) int {
		for row := 0; row < t.H; row++ {
			co, po := (t.CurY+row)*t.CurStride+t.CurX*4, (t.PrevY+row)*t.PrevStride+t.PrevX*4
			if string(t.Cur[co:co+t.W*4]) != string(t.Prev[po:po+t.W*4]) {
				_, signed := tilecodec.Adaptive(c, t)
				return abs(signed)
			}
		}
		return 0
	}

	for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y += tilecodec.TileSize {
		for x := r.Rect.Min.X; x < r.Rect.Max.X; x += tilecodec.TileSize {
			w := min(tilecodec.TileSize, r.Rect.Max.X-x)
			h := min(tilecodec.TileSize, r.Rect.Max.Y-y)

			noScroll := tilecodec.Tile{
				CurX: x, CurY: y, W: w, H: h,
				Cur: cur, CurStride: stride,
				Prev: prev, PrevStride: stride, PrevX: x, PrevY: y,
			}
			bytesNoScroll += cost(noScroll)

			sx, sy := x-r.DX, y-r.DY
			if sx < 0 || sy < 0 || sx+w > frameW || sy+h > frameH {
				bytesWithScroll += w * h * 4
				continue
			}
			// Cur stays read at (x,y) — only the previous-frame sample
			// moves to (sx,sy), matching the scroll hypothesis: "what's
			// here now" vs. "what was at the place this content came
			// from". Using (sx,sy) for Cur too would compare unrelated
			// content at the shifted location to itself.
			withScroll := tilecodec.Tile{
				CurX: x, CurY: y, W: w, H: h,
				Cur: cur, CurStride: stride,
				Prev: prev, PrevStride: stride, PrevX: sx, PrevY: sy,
			}
			bytesWithScroll += cost(withScroll)
		}
	}

	return bytesWithScroll*20 < bytesNoScroll*19
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ApplyScroll shifts ref (the previous-frame reference buffer, stride
// bytes per row) by (dx,dy) within rect, iterating rows and columns in
// the order that keeps reads ahead of writes for any sign of dx/dy so an
// in-place shift never reads data it has already overwritten. The band
// exposed by the shift (newly-uncovered rows or columns at the leading
// edge) is filled with the sentinel pixel to mark it undefined until the
// next full-frame update arrives.
func ApplyScroll(ref []byte, stride int, rect [4]int, dx, dy int) {
	minX, minY, maxX, maxY := rect[0], rect[1], rect[2], rect[3]

	rowRange := func() []int {
		rows := make([]int, 0, maxY-minY)
		if dy >= 0 {
			for y := maxY - 1; y >= minY; y-- {
				rows = append(rows, y)
			}
		} else {
			for y := minY; y < maxY; y++ {
				rows = append(rows, y)
			}
		}
		return rows
	}()

	colRange := func() []int {
		cols := make([]int, 0, maxX-minX)
		if dx >= 0 {
			for x := maxX - 1; x >= minX; x-- {
				cols = append(cols, x)
			}
		} else {
			for x := minX; x < maxX; x++ {
				cols = append(cols, x)
			}
		}
		return cols
	}()

	for _, y := range rowRange {
		srcY := y - dy
		for _, x := range colRange {
			srcX := x - dx
			dstOff := y*stride + x*4
			if srcX < minX || srcX >= maxX || srcY < minY || srcY >= maxY {
				tilecodec.PutSentinelPixel(ref[dstOff : dstOff+4])
				continue
			}
			srcOff := srcY*stride + srcX*4
			copy(ref[dstOff:dstOff+4], ref[srcOff:srcOff+4])
		}
	}
}
