// Package crc implements the cyclic redundancy checks of the NR channel
// coding chain over unpacked bit sequences (one bit per byte, MSB first).
package crc

// CRC is a non-reflected CRC with zero initial value and no final XOR.
type CRC struct {
	poly  uint32 // generator without the leading term
	order uint
	mask  uint32
	table [256]uint32
}

// New returns a CRC for the generator polynomial poly, given with its leading
// D^order term.
func New(poly uint32, order uint) *CRC {
	c := &CRC{order: order, mask: 1<<order - 1}
	c.poly = poly & c.mask
	if order >= 8 {
		top := uint32(1) << (order - 1)
		for i := range c.table {
			reg := uint32(i) << (order - 8)
			for range 8 {
				if reg&top != 0 {
					reg = (reg << 1) ^ c.poly
				} else {
					reg <<= 1
				}
			}
			c.table[i] = reg & c.mask
		}
	}
	return c
}

// Generator polynomials of TS 38.212 section 5.1.
var (
	CRC24A = New(0x1864cfb, 24)
	CRC24B = New(0x1800063, 24)
	CRC24C = New(0x1b2b117, 24)
	CRC16  = New(0x11021, 16)
	CRC11  = New(0xe21, 11)
	CRC6   = New(0x61, 6)
)

// Order returns the number of parity bits.
func (c *CRC) Order() int { return int(c.order) }

// Bits returns the checksum of an unpacked bit sequence.
func (c *CRC) Bits(bits []uint8) uint32 {
	reg := uint32(0)
	top := c.order - 1
	for _, b := range bits {
		fb := (reg>>top)&1 ^ uint32(b&1)
		reg = (reg << 1) & c.mask
		if fb != 0 {
			reg ^= c.poly
		}
	}
	return reg
}

// Bytes returns the checksum of packed bytes, MSB first. It equals Bits of
// the unpacked sequence.
func (c *CRC) Bytes(data []byte) uint32 {
	if c.order < 8 {
		return c.Bits(Unpack(data))
	}
	reg := uint32(0)
	shift := c.order - 8
	for _, b := range data {
		reg = ((reg << 8) & c.mask) ^ c.table[byte(reg>>shift)^b]
	}
	return reg
}

// Attach appends the parity bits of bits, MSB first, and returns the
// extended slice.
func (c *CRC) Attach(bits []uint8) []uint8 {
	p := c.Bits(bits)
	for i := int(c.order) - 1; i >= 0; i-- {
		bits = append(bits, uint8(p>>i&1))
	}
	return bits
}

// Check reports whether the trailing parity bits of bits match the leading
// payload.
func (c *CRC) Check(bits []uint8) bool {
	if len(bits) < int(c.order) {
		return false
	}
	// Dividing payload and parity together leaves a zero remainder.
	return c.Bits(bits) == 0
}

// Unpack expands bytes into bits, MSB first.
func Unpack(data []byte) []uint8 {
	out := make([]uint8, 8*len(data))
	for i, b := range data {
		for j := range 8 {
			out[8*i+j] = b >> (7 - j) & 1
		}
	}
	return out
}

// Pack packs bits MSB first into dst, which must hold len(bits)/8 rounded up
// bytes, and returns the used part of dst.
func Pack(dst []byte, bits []uint8) []byte {
	n := (len(bits) + 7) / 8
	dst = dst[:n]
	clear(dst)
	for i, b := range bits {
		if b&1 != 0 {
			dst[i/8] |= 1 << (7 - i%8)
		}
	}
	return dst
}
