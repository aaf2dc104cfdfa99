package scrolldetect

import "image"
import "golang.org/x/image/math/f64"

// translationAff3 returns the f64.Aff3 translation matrix for a
// phase-correlation displacement, in the same [a,b,c,d,e,f] row-major
// layout the teacher's window.go affineTransform consumes for
// src-to-dst coordinate mapping.
func translationAff3(dx, dy int) f64.Aff3 {
	return f64.Aff3{
		1, 0, float64(dx),
		0, 1, float64(dy),
	}
}

// mapRect applies an f64.Aff3 translation to r's corners, generalizing
// the teacher's affineTransform helper (which maps a source rectangle
// through an arbitrary affine transform into destination space) to the
// pure-translation case a scroll candidate produces.
func mapRect(m f64.Aff3, r image.Rectangle) image.Rectangle {
	mapPoint := func(p image.Point) image.Point {
		xf, yf := float64(p.X), float64(p.Y)
		return image.Point{
			X: int(xf*m[0] + yf*m[1] + m[2]),
			Y: int(xf*m[3] + yf*m[4] + m[5]),
		}
	}
	return image.Rectangle{Min: mapPoint(r.Min), Max: mapPoint(r.Max)}
}

// withinFrame reports whether a region's displacement, expressed as the
// affine translation the remote side would need to apply, keeps the
// mapped rectangle entirely within the frame bounds — the same
// in-bounds condition VerifyCost's per-tile sampling check enforces, but
// computed once for the whole region via the affine map rather than
// per tile.
func withinFrame(r Region, frameW, frameH int) bool {
	m := translationAff3(-r.DX, -r.DY)
	mapped := mapRect(m, r.Rect)
	bounds := image.Rect(0, 0, frameW, frameH)
	return mapped.In(bounds)
}
