package rlp

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
)

func TestDecodeStringRoundTrip(t *testing.T) {
	tests := []string{"", "dog", "Lorem ipsum dolor sit amet, consectetur adipisicing elit"}
	for _, in := range tests {
		enc, err := EncodeToBytes(in)
		if err != nil {
			t.Fatal(err)
		}
		var out string
		if err := DecodeBytes(enc, &out); err != nil {
			t.Fatalf("decode %q: %v", in, err)
		}
		if out != in {
			t.Fatalf("got %q, want %q", out, in)
		}
	}
}

func TestDecodeUintRoundTrip(t *testing.T) {
	tests := []uint64{0, 1, 127, 128, 256, 1024, 1 << 32, ^uint64(0)}
	for _, in := range tests {
		enc, err := EncodeToBytes(in)
		if err != nil {
			t.Fatal(err)
		}
		var out uint64
		if err := DecodeBytes(enc, &out); err != nil {
			t.Fatalf("decode %d: %v", in, err)
		}
		if out != in {
			t.Fatalf("got %d, want %d", out, in)
		}
	}
}

func TestDecodeBigIntRoundTrip(t *testing.T) {
	tests := []*big.Int{big.NewInt(0), big.NewInt(1024), new(big.Int).Lsh(big.NewInt(1), 200)}
	for _, in := range tests {
		enc, err := EncodeToBytes(in)
		if err != nil {
			t.Fatal(err)
		}
		var out big.Int
		if err := DecodeBytes(enc, &out); err != nil {
			t.Fatalf("decode %v: %v", in, err)
		}
		if out.Cmp(in) != 0 {
			t.Fatalf("got %v, want %v", &out, in)
		}
	}
}

func TestDecodeByteSliceRoundTrip(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	enc, err := EncodeToBytes(in)
	if err != nil {
		t.Fatal(err)
	}
	var out []byte
	if err := DecodeBytes(enc, &out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("got %x, want %x", out, in)
	}
}

func TestDecodeStringListRoundTrip(t *testing.T) {
	in := []string{"cat", "dog"}
	enc, err := EncodeToBytes(in)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 2)
	if err := DecodeBytes(enc, &out); err != nil {
		t.Fatal(err)
	}
	if out[0] != "cat" || out[1] != "dog" {
		t.Fatalf("got %v, want %v", out, in)
	}
}

func TestDecodeStructRoundTrip(t *testing.T) {
	type pair struct {
		A uint64
		B string
	}
	in := pair{A: 5, B: "hi"}
	enc, err := EncodeToBytes(&in)
	if err != nil {
		t.Fatal(err)
	}
	var out pair
	if err := DecodeBytes(enc, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestDecodeBoolRoundTrip(t *testing.T) {
	for _, in := range []bool{true, false} {
		enc, err := EncodeToBytes(in)
		if err != nil {
			t.Fatal(err)
		}
		var out bool
		if err := DecodeBytes(enc, &out); err != nil {
			t.Fatal(err)
		}
		if out != in {
			t.Fatalf("got %v, want %v", out, in)
		}
	}
}

func TestDecodeRejectsNonCanonicalSingleByteString(t *testing.T) {
	// 0x81 0x00 encodes the single byte 0x00 with a one-byte string header,
	// which should have been the single-byte form 0x00 instead.
	var out []byte
	err := DecodeBytes([]byte{0x81, 0x00}, &out)
	if !errors.Is(err, ErrCanonSize) {
		t.Fatalf("err = %v, want ErrCanonSize", err)
	}
}

func TestDecodeRejectsNonCanonicalIntLeadingZero(t *testing.T) {
	// A two-byte string with a leading zero byte is not the minimal
	// big-endian encoding of the integer it represents.
	var out uint64
	err := DecodeBytes([]byte{0x82, 0x00, 0x01}, &out)
	if !errors.Is(err, ErrCanonInt) {
		t.Fatalf("err = %v, want ErrCanonInt", err)
	}
}

func TestDecodeRejectsUint64Overflow(t *testing.T) {
	big9 := make([]byte, 9)
	for i := range big9 {
		big9[i] = 0x01
	}
	enc := AppendBytes(nil, big9)
	var out uint64
	err := DecodeBytes(enc, &out)
	if !errors.Is(err, ErrUint64Range) {
		t.Fatalf("err = %v, want ErrUint64Range", err)
	}
}

func TestDecodeRejectsStringWhereListExpected(t *testing.T) {
	enc, _ := EncodeToBytes("dog")
	var out []uint64
	err := DecodeBytes(enc, &out)
	if err == nil {
		t.Fatal("expected an error decoding a string into a slice")
	}
}

func TestStreamKindPeeksWithoutConsuming(t *testing.T) {
	enc, _ := EncodeToBytes([]string{"cat", "dog"})
	s := newByteStream(enc)
	kind, size, err := s.Kind()
	if err != nil {
		t.Fatal(err)
	}
	if kind != List {
		t.Fatalf("kind = %v, want List", kind)
	}
	if size != 8 {
		t.Fatalf("size = %d, want 8", size)
	}
	// Kind must not have advanced the stream.
	n, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Fatalf("List() = %d, want 8", n)
	}
}

func TestStreamListAndListEnd(t *testing.T) {
	enc, _ := EncodeToBytes([]string{"cat", "dog"})
	s := newByteStream(enc)
	if _, err := s.List(); err != nil {
		t.Fatal(err)
	}
	first, err := s.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != "cat" {
		t.Fatalf("first = %q, want cat", first)
	}
	second, err := s.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(second) != "dog" {
		t.Fatalf("second = %q, want dog", second)
	}
	if err := s.ListEnd(); err != nil {
		t.Fatal(err)
	}
}

func TestStreamListEndRejectsUnconsumedItems(t *testing.T) {
	enc, _ := EncodeToBytes([]string{"cat", "dog"})
	s := newByteStream(enc)
	if _, err := s.List(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bytes(); err != nil {
		t.Fatal(err)
	}
	if err := s.ListEnd(); !errors.Is(err, ErrEOL) {
		t.Fatalf("err = %v, want ErrEOL", err)
	}
}

func TestStreamUint64AndBigInt(t *testing.T) {
	enc, _ := EncodeToBytes(uint64(300))
	s := newByteStream(enc)
	v, err := s.Uint64()
	if err != nil {
		t.Fatal(err)
	}
	if v != 300 {
		t.Fatalf("Uint64() = %d, want 300", v)
	}

	enc, _ = EncodeToBytes(big.NewInt(1024))
	s = newByteStream(enc)
	bi, err := s.BigInt()
	if err != nil {
		t.Fatal(err)
	}
	if bi.Cmp(big.NewInt(1024)) != 0 {
		t.Fatalf("BigInt() = %v, want 1024", bi)
	}
}

func TestAppendListHeaderMatchesWrapList(t *testing.T) {
	payload := []byte("some payload bytes")
	a := WrapList(payload)
	b := AppendListHeader(nil, len(payload))
	b = append(b, payload...)
	if !bytes.Equal(a, b) {
		t.Fatalf("AppendListHeader mismatch: got %x, want %x", b, a)
	}
}

func TestEstimateSizesAreUpperBounds(t *testing.T) {
	data := make([]byte, 200)
	enc := AppendBytes(nil, data)
	if got, want := len(enc), EstimateStringSize(len(data)); got > want {
		t.Fatalf("actual encoded size %d exceeds estimate %d", got, want)
	}

	var listPayload []byte
	for i := 0; i < 5; i++ {
		listPayload = AppendUint64(listPayload, uint64(i*1000))
	}
	listEnc := AppendListHeader(nil, len(listPayload))
	listEnc = append(listEnc, listPayload...)
	if got, want := len(listEnc), EstimateListSize(len(listPayload)); got > want {
		t.Fatalf("actual list size %d exceeds estimate %d", got, want)
	}
}
