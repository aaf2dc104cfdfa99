package wire

import (
	"image"
	"image/color"
	"testing"
)

func TestPutCompositeLength(t *testing.T) {
	buf := make([]byte, LenComposite)
	n := PutComposite(buf, 1, 2, 3, image.Rect(0, 0, 16, 16), image.Pt(0, 0), image.Pt(0, 0))
	if n != LenComposite {
		t.Fatalf("PutComposite returned %d, want %d", n, LenComposite)
	}
	if buf[0] != OpComposite {
		t.Fatalf("opcode = %q, want %q", buf[0], OpComposite)
	}
}

func TestPutAllocImageReplClip(t *testing.T) {
	buf := make([]byte, LenAllocImage)
	n := PutAllocImage(buf, 4, 1, 0, ChannelARGB32, 32, true, image.Rect(0, 0, 1, 1), image.Rect(0, 0, 1, 1), color.Black)
	if n != LenAllocImage {
		t.Fatalf("PutAllocImage returned %d, want %d", n, LenAllocImage)
	}
	if buf[18] != 1 {
		t.Fatalf("repl flag not set")
	}
	minX := int32(u32(buf[19:23]))
	if minX != -replSentinel {
		t.Fatalf("clip min X = %d, want %d", minX, -replSentinel)
	}
}

func TestPutNameLookupTooLong(t *testing.T) {
	buf := make([]byte, 6+256)
	if _, err := PutNameLookup(buf, 1, string(make([]byte, 256))); err != ErrNameTooLong {
		t.Fatalf("err = %v, want ErrNameTooLong", err)
	}
}

func TestPutNameLookupLength(t *testing.T) {
	buf := make([]byte, 6+5)
	n, err := PutNameLookup(buf, 1, "abcde")
	if err != nil {
		t.Fatal(err)
	}
	if n != 11 {
		t.Fatalf("n = %d, want 11", n)
	}
	if string(buf[6:11]) != "abcde" {
		t.Fatalf("name = %q, want abcde", buf[6:11])
	}
}

func TestPutLoadHeaderLength(t *testing.T) {
	buf := make([]byte, LenLoadHeader)
	n := PutLoadHeader(buf, false, 7, image.Rect(0, 0, 16, 16))
	if n != LenLoadHeader {
		t.Fatalf("n = %d, want %d", n, LenLoadHeader)
	}
	if buf[0] != OpLoadRaw {
		t.Fatalf("opcode = %q, want raw", buf[0])
	}
	n = PutLoadHeader(buf, true, 7, image.Rect(0, 0, 16, 16))
	if buf[0] != OpLoadCompressed || n != LenLoadHeader {
		t.Fatalf("compressed header mismatch")
	}
}

func u32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
