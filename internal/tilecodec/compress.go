// Copyright 2016-2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tilecodec implements the LZ77-variant tile compressor: the token
// format is lifted from golang.org/x/exp/shiny/driver/devdrawdriver's
// compress/getLargestPrefix (image(6)'s compression scheme), generalized
// with a per-worker hash table, a row-repeat fast path, and the solid and
// alpha-delta special cases the teacher doesn't need.
package tilecodec

import "bytes"

// minMatch and maxMatch bound a back-reference's length field, which is
// encoded as length-3 in 5 bits (0..31 -> lengths 3..34).
const (
	minMatch = 3
	maxMatch = 34
	// maxOffset is the largest backward distance a back-reference can
	// encode (offset-1 fits 10 bits -> offsets 1..1024).
	maxOffset = 1024
)

// Compressor holds the per-worker scratch state (the hash table) used
// across many tiles without reallocating. It is not safe for concurrent
// use; internal/workerpool gives each worker its own Compressor.
type Compressor struct {
	ht hashTable
}

// NewCompressor returns a Compressor ready to use.
func NewCompressor() *Compressor { return &Compressor{} }

// Compress encodes rows rows of bytesPerRow bytes each from pix (so
// len(pix) == bytesPerRow*rows) using the LZ77-variant token stream. It
// dispatches to the solid fast path when every pixel in pix equals the
// first, and to the general matcher otherwise. The 75%-of-raw acceptance
// bound is enforced by the caller (tile.go), not here: Compress always
// returns its best attempt.
func (c *Compressor) Compress(pix []byte, bytesPerRow, rows int) []byte {
	if isSolid(pix) {
		return encodeSolid(pix, bytesPerRow, rows)
	}
	c.ht.Reset()
	return encodeLZ(pix, bytesPerRow, &c.ht)
}

// isSolid reports whether every 4-byte pixel in pix equals the first,
// covering both the solid-color and all-zero special cases (an all-zero
// tile is simply a solid tile whose color happens to be zero).
func isSolid(pix []byte) bool {
	if len(pix) < 4 {
		return true
	}
	first := pix[0:4]
	for i := 4; i+4 <= len(pix); i += 4 {
		if !bytes.Equal(pix[i:i+4], first) {
			return false
		}
	}
	return true
}

// encodeSolid emits a single 4-byte literal for the fill color, then fills
// the remainder of the first row and every subsequent row with
// back-references — the first row against the literal, every later row
// against the row above it — so the decoder reconstructs a uniformly
// colored rectangle using only the two token types.
func encodeSolid(pix []byte, bytesPerRow, rows int) []byte {
	val := []byte{0x80 | (4 - 1)}
	val = append(val, pix[0:4]...)

	remaining := bytesPerRow - 4
	for remaining > 0 {
		n := remaining
		if n > maxMatch {
			n = maxMatch
			if remaining-n < minMatch {
				n = remaining - minMatch
			}
		}
		val = appendBackref(val, 4, uint8(n))
		remaining -= n
	}
	for r := 1; r < rows; r++ {
		remaining := bytesPerRow
		for remaining > 0 {
			n := remaining
			if n > maxMatch {
				n = maxMatch
				if remaining-n < minMatch {
					n = remaining - minMatch
				}
			}
			val = appendBackref(val, uint16(bytesPerRow), uint8(n))
			remaining -= n
		}
	}
	return val
}

// encodeLZ is the general-purpose path: a row-repeat fast path (no hash
// lookups) followed by hash-table and above-pixel match search per
// position, falling back to literal runs when nothing matches.
func encodeLZ(pix []byte, bytesPerRow int, ht *hashTable) []byte {
	var val []byte
	n := len(pix)
	i := 0
	for i < n {
		if bytesPerRow > 0 && i%bytesPerRow == 0 && i >= bytesPerRow &&
			bytes.Equal(pix[i-bytesPerRow:i], pix[i:min(i+bytesPerRow, n)]) && i+bytesPerRow <= n {
			remaining := bytesPerRow
			for remaining > 0 {
				l := remaining
				if l > maxMatch {
					l = maxMatch
					if remaining-l < minMatch {
						l = remaining - minMatch
					}
				}
				val = appendBackref(val, uint16(bytesPerRow), uint8(l))
				remaining -= l
			}
			i += bytesPerRow
			continue
		}

		offset, length := findMatch(pix, i, bytesPerRow, ht)
		if length >= minMatch {
			val = appendBackref(val, offset, length)
			insertHash(ht, pix, i)
			i += int(length)
			continue
		}

		litStart := i
		insertHash(ht, pix, i)
		i++
		for i < n && i-litStart < 128 {
			if _, l := findMatch(pix, i, bytesPerRow, ht); l >= minMatch {
				break
			}
			insertHash(ht, pix, i)
			i++
		}
		litLen := i - litStart
		val = append(val, 0x80|byte(litLen-1))
		val = append(val, pix[litStart:i]...)
	}
	return val
}

// findMatch looks for the best back-reference starting at i: the
// hash-table candidate for the 3-byte hash at i, and the position exactly
// bytesPerRow behind (the pixel directly above, in tile coordinates).
// Ties are broken by the longer length, then the nearer offset.
func findMatch(pix []byte, i, bytesPerRow int, ht *hashTable) (offset uint16, length uint8) {
	n := len(pix)
	if i+minMatch > n {
		return 0, 0
	}
	if pos, ok := ht.lookup(hash3(pix[i], pix[i+1], pix[i+2])); ok {
		off := i - int(pos)
		if off >= 1 && off <= maxOffset {
			if l := matchLen(pix, int(pos), i, n); l >= minMatch {
				offset, length = uint16(off), l
			}
		}
	}
	if bytesPerRow > 0 && i-bytesPerRow >= 0 {
		if l := matchLen(pix, i-bytesPerRow, i, n); l >= minMatch {
			if l > length || (l == length && uint16(bytesPerRow) < offset) {
				offset, length = uint16(bytesPerRow), l
			}
		}
	}
	return offset, length
}

func matchLen(pix []byte, a, b, n int) uint8 {
	max := maxMatch
	if b+max > n {
		max = n - b
	}
	l := 0
	for l < max && pix[a+l] == pix[b+l] {
		l++
	}
	return uint8(l)
}

func insertHash(ht *hashTable, pix []byte, i int) {
	if i+3 <= len(pix) {
		ht.insert(hash3(pix[i], pix[i+1], pix[i+2]), int32(i))
	}
}

// appendBackref appends the two-byte back-reference token encoding length
// (3..34) and offset (1..1024), per image(6): the high 6 bits of the first
// byte carry length-3 and the high bits of offset-1, the second byte
// carries the low 8 bits of offset-1.
func appendBackref(val []byte, offset uint16, length uint8) []byte {
	encodedOffset := offset - 1
	b0 := (length - minMatch) << 2
	b0 |= byte((encodedOffset & 0x0300) >> 8)
	b1 := byte(encodedOffset & 0x00FF)
	return append(val, b0, b1)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
