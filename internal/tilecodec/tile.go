package tilecodec

// TileSize is the side length of a full tile in pixels; edge tiles may be
// smaller in either dimension.
const TileSize = 16

// compositeOverhead is the fixed byte cost of the composite-draw command a
// delta-encoded tile needs downstream to blend onto the main image (see
// internal/wire.LenComposite), charged against the delta encoding when the
// adaptive selector compares it to the direct encoding.
const compositeOverhead = 45

// Sentinel is the 4-byte pattern written into the previous-frame reference
// to mark scroll-exposed pixels whose content is undefined on the remote
// side. It must never be treated as legitimate pixel data by any encoding
// path; it appears only on the source (previous-frame) side, never on the
// wire.
var Sentinel = [4]byte{0xEF, 0xBE, 0xAD, 0xDE} // little-endian 0xDEADBEEF

// IsSentinelPixel reports whether px (a 4-byte XRGB32 pixel) equals the
// sentinel.
func IsSentinelPixel(px []byte) bool {
	return len(px) >= 4 && px[0] == Sentinel[0] && px[1] == Sentinel[1] && px[2] == Sentinel[2] && px[3] == Sentinel[3]
}

// PutSentinelPixel writes the sentinel into px.
func PutSentinelPixel(px []byte) {
	copy(px, Sentinel[:])
}

// Tag identifies which of the three encodings a Result holds.
type Tag int

const (
	TagDirect Tag = iota
	TagDelta
	TagRaw
)

// Result is the tagged output of encoding one tile. Buf is a slice the
// encoder allocated, sized to its actual content, and Len is its length,
// at most MaxTileBytes.
type Result struct {
	Buf []byte
	Len int
	Tag Tag
}

// MaxTileBytes is the worst-case size of an encoded tile: the raw pixel
// count plus slack for a pathological, incompressible LZ77-variant
// expansion.
const MaxTileBytes = TileSize*TileSize*4 + 256

// Tile describes one dirty-tile work item: pointers to the current and
// (optionally) previous-frame pixel arrays, their strides, and the tile's
// dimensions within the frame. CurX,CurY and PrevX,PrevY are independent
// offsets into Cur and Prev respectively: for an ordinary same-position
// diff they're equal, but a scroll-hypothesis comparison needs Cur read
// at its real position while Prev is sampled shifted, so the two buffers
// cannot share a single X,Y pair.
type Tile struct {
	W, H int

	Cur       []byte
	CurStride int
	CurX, CurY int

	// Prev is the previous-frame reference buffer, or nil if none exists
	// yet (forcing direct-only encoding).
	Prev         []byte
	PrevStride   int
	PrevX, PrevY int
}

func extractRect(buf []byte, stride, x, y, w, h int) []byte {
	out := make([]byte, w*h*4)
	for row := 0; row < h; row++ {
		srcOff := (y+row)*stride + x*4
		copy(out[row*w*4:(row+1)*w*4], buf[srcOff:srcOff+w*4])
	}
	return out
}

// PerimeterHasSentinel reports whether any pixel on the perimeter of the
// tile's footprint in the previous-frame reference equals the sentinel,
// in which case alpha-delta encoding is forbidden for this tile this
// frame.
func PerimeterHasSentinel(t Tile) bool {
	if t.Prev == nil {
		return false
	}
	rowAt := func(row int) bool {
		off := (t.PrevY+row)*t.PrevStride + t.PrevX*4
		for col := 0; col < t.W; col++ {
			if IsSentinelPixel(t.Prev[off+col*4 : off+col*4+4]) {
				return true
			}
		}
		return false
	}
	if rowAt(0) || (t.H > 1 && rowAt(t.H-1)) {
		return true
	}
	for row := 1; row < t.H-1; row++ {
		left := (t.PrevY+row)*t.PrevStride + t.PrevX*4
		right := (t.PrevY+row)*t.PrevStride + (t.PrevX+t.W-1)*4
		if IsSentinelPixel(t.Prev[left:left+4]) || IsSentinelPixel(t.Prev[right:right+4]) {
			return true
		}
	}
	return false
}

// buildDelta produces the ARGB32 overlay buffer: unchanged pixels (equal
// low 24 bits between current and previous) become fully transparent
// (0x00000000), changed pixels become fully opaque with the new color
// (0xFF000000 | new_color). It reports ok=false when no pixel changed or
// when more than 75% of pixels changed, either of which the caller should
// treat as "prefer direct".
func buildDelta(t Tile) (delta []byte, ok bool) {
	n := t.W * t.H
	delta = make([]byte, n*4)
	changed := 0
	for row := 0; row < t.H; row++ {
		curOff := (t.CurY+row)*t.CurStride + t.CurX*4
		prevOff := (t.PrevY+row)*t.PrevStride + t.PrevX*4
		dstOff := row * t.W * 4
		for col := 0; col < t.W; col++ {
			c := t.Cur[curOff+col*4 : curOff+col*4+4]
			p := t.Prev[prevOff+col*4 : prevOff+col*4+4]
			if c[0] == p[0] && c[1] == p[1] && c[2] == p[2] {
				// unchanged: leave zeroed (fully transparent)
				continue
			}
			changed++
			dst := delta[dstOff+col*4 : dstOff+col*4+4]
			dst[0], dst[1], dst[2] = c[0], c[1], c[2]
			dst[3] = 0xFF
		}
	}
	if changed == 0 || changed*4 > n*3 {
		return nil, false
	}
	return delta, true
}

// DirectEncode compresses the tile's current-frame pixels directly,
// falling back to the raw bytes when compression doesn't reach the
// 75%-of-raw acceptance bound.
func DirectEncode(c *Compressor, t Tile) Result {
	raw := extractRect(t.Cur, t.CurStride, t.CurX, t.CurY, t.W, t.H)
	comp := c.Compress(raw, t.W*4, t.H)
	if len(comp)*4 <= len(raw)*3 {
		return Result{Buf: comp, Len: len(comp), Tag: TagDirect}
	}
	return Result{Buf: raw, Len: len(raw), Tag: TagRaw}
}

// Adaptive computes both the direct and (when eligible) alpha-delta
// encodings and returns the smaller, accounting for the fixed
// compositeOverhead the delta encoding costs downstream. The returned int
// is signed: positive means delta was chosen, negative means direct, and
// zero means neither reached the 25%-of-raw savings bar (the caller should
// use the returned Result, which is then the raw fallback).
func Adaptive(c *Compressor, t Tile) (Result, int) {
	raw := extractRect(t.Cur, t.CurStride, t.CurX, t.CurY, t.W, t.H)
	rawSize := len(raw)
	bytesPerRow := t.W * 4

	directComp := c.Compress(raw, bytesPerRow, t.H)
	directSize := len(directComp)
	directBuf := directComp
	directTag := TagDirect
	if directSize*4 > rawSize*3 {
		directSize = rawSize
		directBuf = raw
		directTag = TagRaw
	}

	bestSigned := -directSize
	best := Result{Buf: directBuf, Len: directSize, Tag: directTag}

	if t.Prev != nil && !PerimeterHasSentinel(t) {
		if deltaBuf, ok := buildDelta(t); ok {
			deltaComp := c.Compress(deltaBuf, bytesPerRow, t.H)
			if len(deltaComp)*4 <= len(deltaBuf)*3 {
				total := len(deltaComp) + compositeOverhead
				if total < directSize {
					bestSigned = total
					best = Result{Buf: deltaComp, Len: len(deltaComp), Tag: TagDelta}
				}
			}
		}
	}

	mag := bestSigned
	if mag < 0 {
		mag = -mag
	}
	if mag*4 > rawSize*3 {
		return Result{Buf: raw, Len: rawSize, Tag: TagRaw}, 0
	}
	return best, bestSigned
}
