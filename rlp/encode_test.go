package rlp

import (
	"bytes"
	"math/big"
	"testing"
)

func TestEncodeEmptyString(t *testing.T) {
	got, err := EncodeToBytes("")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("empty string: got %x, want %x", got, want)
	}
}

func TestEncodeDog(t *testing.T) {
	got, err := EncodeToBytes("dog")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x83, 0x64, 0x6f, 0x67}
	if !bytes.Equal(got, want) {
		t.Fatalf("\"dog\": got %x, want %x", got, want)
	}
}

func TestEncodeLongString(t *testing.T) {
	s := "Lorem ipsum dolor sit amet, consectetur adipisicing elit"
	got, err := EncodeToBytes(s)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0xb8 || got[1] != 0x38 {
		t.Fatalf("long string header: got %x", got[:2])
	}
	if !bytes.Equal(got[2:], []byte(s)) {
		t.Fatal("long string data mismatch")
	}
}

func TestEncodeUint(t *testing.T) {
	tests := []struct {
		name string
		val  uint64
		want []byte
	}{
		{"0", 0, []byte{0x80}},
		{"15", 15, []byte{0x0f}},
		{"127", 127, []byte{0x7f}},
		{"128", 128, []byte{0x81, 0x80}},
		{"256", 256, []byte{0x82, 0x01, 0x00}},
		{"1024", 1024, []byte{0x82, 0x04, 0x00}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeToBytes(tc.val)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("uint(%d): got %x, want %x", tc.val, got, tc.want)
			}
		})
	}
}

func TestEncodeBigInt(t *testing.T) {
	got, err := EncodeToBytes(big.NewInt(0))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x80}) {
		t.Fatalf("zero big.Int: got %x, want 80", got)
	}

	got, err = EncodeToBytes(big.NewInt(1024))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x82, 0x04, 0x00}) {
		t.Fatalf("1024 big.Int: got %x", got)
	}
}

func TestEncodeEmptyList(t *testing.T) {
	got, err := EncodeToBytes([]uint64{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xc0}) {
		t.Fatalf("empty list: got %x, want c0", got)
	}
}

func TestEncodeStringList(t *testing.T) {
	got, err := EncodeToBytes([]string{"cat", "dog"})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xc8, 0x83, 'c', 'a', 't', 0x83, 'd', 'o', 'g'}
	if !bytes.Equal(got, want) {
		t.Fatalf("[\"cat\",\"dog\"]: got %x, want %x", got, want)
	}
}

func TestEncodeStruct(t *testing.T) {
	type pair struct {
		A uint64
		B string
	}
	got, err := EncodeToBytes(&pair{A: 5, B: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	// list(payload = uint(5) + string("hi")) = c4 05 82 6869 -- string("hi")
	// is 2 bytes so it's 0x82 'h' 'i'; payload length = 1+3 = 4.
	want := []byte{0xc4, 0x05, 0x82, 'h', 'i'}
	if !bytes.Equal(got, want) {
		t.Fatalf("struct: got %x, want %x", got, want)
	}
}

func TestEncodeNilPointer(t *testing.T) {
	var p *uint64
	got, err := EncodeToBytes(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x80}) {
		t.Fatalf("nil pointer: got %x, want 80", got)
	}
}

func TestEncodeFixedByteArray(t *testing.T) {
	var addr [20]byte
	for i := range addr {
		addr[i] = byte(i)
	}
	got, err := EncodeToBytes(addr)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0x80+20 {
		t.Fatalf("20-byte array header: got %x", got[0])
	}
	if !bytes.Equal(got[1:], addr[:]) {
		t.Fatal("20-byte array payload mismatch")
	}
}

func TestWrapList(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	got := WrapList(payload)
	want := []byte{0xc3, 0x01, 0x02, 0x03}
	if !bytes.Equal(got, want) {
		t.Fatalf("WrapList: got %x, want %x", got, want)
	}
}

func TestEncoderPoolEncodeBatch(t *testing.T) {
	ep := NewEncoderPool()
	got, err := ep.EncodeBatch([]interface{}{uint64(1), "dog"})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xc5, 0x01, 0x83, 'd', 'o', 'g'}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeBatch: got %x, want %x", got, want)
	}
	snap := ep.Metrics().Snapshot()
	if snap.TotalEncodes != 2 {
		t.Fatalf("TotalEncodes = %d, want 2", snap.TotalEncodes)
	}
}

func TestEncodeUint64Helper(t *testing.T) {
	tests := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x80}},
		{127, []byte{0x7f}},
		{128, []byte{0x81, 0x80}},
	}
	for _, tc := range tests {
		if got := EncodeUint64(tc.v); !bytes.Equal(got, tc.want) {
			t.Fatalf("EncodeUint64(%d): got %x, want %x", tc.v, got, tc.want)
		}
	}
}

func TestAppendHelpersMatchEncodeToBytes(t *testing.T) {
	var dst []byte
	dst = AppendUint64(dst, 300)
	want, _ := EncodeToBytes(uint64(300))
	if !bytes.Equal(dst, want) {
		t.Fatalf("AppendUint64: got %x, want %x", dst, want)
	}

	dst = nil
	data := []byte("hello world, this needs more than fifty five bytes to exercise the long form")
	dst = AppendBytes(dst, data)
	want, _ = EncodeToBytes(data)
	if !bytes.Equal(dst, want) {
		t.Fatalf("AppendBytes: got %x, want %x", dst, want)
	}
}
