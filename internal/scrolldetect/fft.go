package scrolldetect

import "math"

// fft1D is an in-place iterative radix-2 Cooley-Tukey transform. len(a)
// must be a power of two. No FFT library appears anywhere in the
// retrieval pack, so this stays on math/cmplx-equivalent complex128
// arithmetic from the standard library; see DESIGN.md.
func fft1D(a []complex128, invert bool) {
	n := len(a)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		ang := 2 * math.Pi / float64(length)
		if invert {
			ang = -ang
		}
		wlen := complex(math.Cos(ang), math.Sin(ang))
		for i := 0; i < n; i += length {
			w := complex(1.0, 0.0)
			half := length / 2
			for j := 0; j < half; j++ {
				u := a[i+j]
				v := a[i+j+half] * w
				a[i+j] = u + v
				a[i+j+half] = u - v
				w *= wlen
			}
		}
	}
	if invert {
		for i := range a {
			a[i] /= complex(float64(n), 0)
		}
	}
}

// grid2D is a square complex128 buffer of side n, stored row-major, used
// for the per-region 2-D FFT.
type grid2D struct {
	n    int
	data []complex128
}

func newGrid2D(n int) *grid2D {
	return &grid2D{n: n, data: make([]complex128, n*n)}
}

func (g *grid2D) at(x, y int) complex128     { return g.data[y*g.n+x] }
func (g *grid2D) set(x, y int, v complex128) { g.data[y*g.n+x] = v }

func (g *grid2D) row(y int) []complex128 { return g.data[y*g.n : (y+1)*g.n] }

func (g *grid2D) fft2D(invert bool) {
	for y := 0; y < g.n; y++ {
		fft1D(g.row(y), invert)
	}
	col := make([]complex128, g.n)
	for x := 0; x < g.n; x++ {
		for y := 0; y < g.n; y++ {
			col[y] = g.at(x, y)
		}
		fft1D(col, invert)
		for y := 0; y < g.n; y++ {
			g.set(x, y, col[y])
		}
	}
}
