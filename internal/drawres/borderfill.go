package drawres

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// tileAlignedBorder recomputes the rectangle the remote side should paint
// with a flat fill color after a resize: the new bounds rounded down to
// the tile grid, so the thin strip beyond the last full tile on the
// right/bottom edge is left to the next real frame rather than carrying
// stale content. It mirrors the teacher's resize path, which always
// recomputes a uniform border by scaling a reference swatch with
// golang.org/x/image/draw's NearestNeighbor scaler rather than hand
// cropping, so a future border color or tile size change only has to
// change the swatch, not this geometry.
func tileAlignedBorder(bounds image.Rectangle, tile int, fill color.Color) *image.RGBA {
	w := (bounds.Dx() / tile) * tile
	h := (bounds.Dy() / tile) * tile
	if w == 0 || h == 0 {
		w, h = tile, tile
	}

	swatch := image.NewRGBA(image.Rect(0, 0, 1, 1))
	swatch.Set(0, 0, fill)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), swatch, swatch.Bounds(), draw.Src, nil)
	return dst
}
