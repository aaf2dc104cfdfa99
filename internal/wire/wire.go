// Copyright 2016-2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire builds and parses the fixed-layout command records that
// travel inside a transport write request's body. It mirrors the byte
// layouts that golang.org/x/exp/shiny/driver/devdrawdriver sends to
// /dev/draw/n/data, generalized to a message-oriented transport that isn't
// necessarily Plan 9's.
package wire

import (
	"encoding/binary"
	"errors"
	"image"
	"image/color"
)

// Opcodes, one byte each, prefixing every command record.
const (
	OpComposite      byte = 'd'
	OpAllocImage     byte = 'b'
	OpFreeImage      byte = 'f'
	OpNameLookup     byte = 'n'
	OpFlush          byte = 'v'
	OpLoadRaw        byte = 'y'
	OpLoadCompressed byte = 'Y'
	OpSetOp          byte = 'O'
)

// Record lengths in bytes, as tabulated in the wire codec design.
const (
	LenComposite  = 45
	LenAllocImage = 55
	LenFreeImage  = 5
	LenFlush      = 1
	LenLoadHeader = 21 // shared by OpLoadRaw and OpLoadCompressed
)

// ChannelFormat identifies the pixel layout of an allocated image.
type ChannelFormat uint32

const (
	ChannelXRGB32 ChannelFormat = iota
	ChannelARGB32
	ChannelGrey1
)

// replSentinel is the clip-rectangle magnitude used to mark a replicated
// (tiled) image, matching draw(3)'s convention for "infinite" clip bounds.
const replSentinel = 0x3FFFFFFF

// ErrNameTooLong is returned by PutNameLookup when name exceeds 255 bytes.
var ErrNameTooLong = errors.New("wire: name exceeds 255 bytes")

func putRect(buf []byte, r image.Rectangle) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(int32(r.Min.X)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(int32(r.Min.Y)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(int32(r.Max.X)))
	binary.LittleEndian.PutUint32(buf[12:], uint32(int32(r.Max.Y)))
}

func putPoint(buf []byte, p image.Point) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(int32(p.X)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(int32(p.Y)))
}

// PutComposite encodes a draw/composite command copying srcID through
// maskID into dstID's rectangle r, with the given source and mask origin
// points, into buf. buf must have at least LenComposite bytes. It returns
// the number of bytes written.
func PutComposite(buf []byte, dstID, srcID, maskID uint32, r image.Rectangle, srcp, maskp image.Point) int {
	buf[0] = OpComposite
	binary.LittleEndian.PutUint32(buf[1:], dstID)
	binary.LittleEndian.PutUint32(buf[5:], srcID)
	binary.LittleEndian.PutUint32(buf[9:], maskID)
	putRect(buf[13:], r)
	putPoint(buf[29:], srcp)
	putPoint(buf[37:], maskp)
	return LenComposite
}

// PutAllocImage encodes an allocate-image command into buf. When repl is
// true, the clip rectangle written to the wire uses the replSentinel
// magnitude to request tiling regardless of the clip rectangle passed in.
func PutAllocImage(buf []byte, id, screenID uint32, refresh byte, ch ChannelFormat, depth uint32, repl bool, r, clip image.Rectangle, fill color.Color) int {
	buf[0] = OpAllocImage
	binary.LittleEndian.PutUint32(buf[1:], id)
	binary.LittleEndian.PutUint32(buf[5:], screenID)
	buf[9] = refresh
	binary.LittleEndian.PutUint32(buf[10:], uint32(ch))
	binary.LittleEndian.PutUint32(buf[14:], depth)
	if repl {
		buf[18] = 1
		negRepl := int32(-replSentinel)
		binary.LittleEndian.PutUint32(buf[19:], uint32(negRepl))
		binary.LittleEndian.PutUint32(buf[23:], uint32(negRepl))
		binary.LittleEndian.PutUint32(buf[27:], uint32(replSentinel))
		binary.LittleEndian.PutUint32(buf[31:], uint32(replSentinel))
	} else {
		buf[18] = 0
		putRect(buf[19:], clip)
	}
	putRect(buf[35:], r)
	rd, g, b, a := fill.RGBA()
	buf[51] = byte(rd >> 8)
	buf[52] = byte(g >> 8)
	buf[53] = byte(b >> 8)
	buf[54] = byte(a >> 8)
	return LenAllocImage
}

// PutFreeImage encodes a free-image command for id into buf.
func PutFreeImage(buf []byte, id uint32) int {
	buf[0] = OpFreeImage
	binary.LittleEndian.PutUint32(buf[1:], id)
	return LenFreeImage
}

// PutNameLookup encodes a name-bind command into buf. It returns the
// number of bytes written, or an error if name is longer than 255 bytes.
func PutNameLookup(buf []byte, id uint32, name string) (int, error) {
	if len(name) > 255 {
		return 0, ErrNameTooLong
	}
	buf[0] = OpNameLookup
	binary.LittleEndian.PutUint32(buf[1:], id)
	buf[5] = byte(len(name))
	copy(buf[6:], name)
	return 6 + len(name), nil
}

// PutFlush encodes a flush command into buf.
func PutFlush(buf []byte) int {
	buf[0] = OpFlush
	return LenFlush
}

// PutLoadHeader encodes a load-raw or load-compressed header for the
// rectangle r of image id into buf. The caller appends the payload bytes
// (w*h*4 raw bytes, or the compressed byte stream) immediately after; the
// transport's own message-length framing delimits the payload, so no
// in-band length field is needed here.
func PutLoadHeader(buf []byte, compressed bool, id uint32, r image.Rectangle) int {
	if compressed {
		buf[0] = OpLoadCompressed
	} else {
		buf[0] = OpLoadRaw
	}
	binary.LittleEndian.PutUint32(buf[1:], id)
	putRect(buf[5:], r)
	return LenLoadHeader
}

// SetOpByte returns the wire encoding of a compositing operation, matching
// the draw(3) Porter-Duff bit mask: SinD|SoutD for Src, plus DoutS for
// Over.
func SetOpByte(over bool) byte {
	if over {
		return 11
	}
	return 10
}

// PutSetOp encodes the set-compositing-op command into buf.
func PutSetOp(buf []byte, over bool) int {
	buf[0] = OpSetOp
	buf[1] = SetOpByte(over)
	return 2
}
