package crc

import "testing"

func TestCheckValues(t *testing.T) {
	msg := []byte("123456789")
	var tests = map[string]struct {
		crc  *CRC
		want uint32
	}{
		"crc24a": {CRC24A, 0xcde703},
		"crc24b": {CRC24B, 0x23ef52},
		"crc16":  {CRC16, 0x31c3},
	}
	for name, test := range tests {
		if got := test.crc.Bytes(msg); got != test.want {
			t.Fatalf("%s: got %#06x, want %#06x", name, got, test.want)
		}
	}
}

func TestBytesMatchesBits(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x42}
	for _, c := range []*CRC{CRC24A, CRC24B, CRC24C, CRC16, CRC11, CRC6} {
		if got, want := c.Bytes(data), c.Bits(Unpack(data)); got != want {
			t.Fatalf("order %d: Bytes %#x, Bits %#x", c.Order(), got, want)
		}
	}
}

func TestAttachCheck(t *testing.T) {
	bits := Unpack([]byte{0x12, 0x34, 0x56})[:21]
	for _, c := range []*CRC{CRC24A, CRC24B, CRC24C, CRC16, CRC11, CRC6} {
		withCRC := c.Attach(append([]uint8(nil), bits...))
		if len(withCRC) != len(bits)+c.Order() {
			t.Fatalf("order %d: length %d", c.Order(), len(withCRC))
		}
		if !c.Check(withCRC) {
			t.Fatalf("order %d: check failed on clean block", c.Order())
		}
		withCRC[3] ^= 1
		if c.Check(withCRC) {
			t.Fatalf("order %d: check passed on corrupted block", c.Order())
		}
	}
}

func TestPackUnpack(t *testing.T) {
	bits := Unpack([]byte{0x2a})
	want := []uint8{0, 0, 1, 0, 1, 0, 1, 0}
	for i := range want {
		if bits[i] != want[i] {
			t.Fatalf("bit %d is off: %v != %v", i, bits, want)
		}
	}
	if got := Pack(make([]byte, 2), []uint8{1, 0, 1, 1, 1, 1, 1, 0, 1}); len(got) != 2 || got[0] != 0xbe || got[1] != 0x80 {
		t.Fatalf("Pack got %x", got)
	}
}
