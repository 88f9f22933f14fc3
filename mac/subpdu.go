package mac

import (
	"encoding/binary"
	"fmt"

	"github.com/signalsfoundry/nrstack/model"
)

const (
	fBit     = 0x40
	lcidMask = 0x3f

	maxLen16 = 1<<16 - 1
	// maxCESize bounds the payload of the CEs built by this package: a long
	// BSR bitmap plus one buffer size per LCG.
	maxCESize = 1 + NofLCGs
	// ConResIDLen is the size of the UE contention resolution identity.
	ConResIDLen = 6
)

// SubPDU is one MAC subheader plus its payload. The payload is a view into
// storage owned by the caller (the parsed transport block, or the buffer
// handed to a setter) and must not be retained once that storage is reused.
type SubPDU struct {
	link      model.Link
	lcid      uint8
	f         bool
	headerLen int
	payload   []byte
}

// NewSubPDU returns an empty sub-PDU for link.
func NewSubPDU(link model.Link) SubPDU {
	return SubPDU{link: link}
}

func (s *SubPDU) Link() model.Link { return s.link }
func (s *SubPDU) LCID() uint8      { return s.lcid }
func (s *SubPDU) HeaderLen() int   { return s.headerLen }
func (s *SubPDU) SDULen() int      { return len(s.payload) }
func (s *SubPDU) TotalLen() int    { return s.headerLen + len(s.payload) }

// Payload returns the borrowed SDU or CE bytes.
func (s *SubPDU) Payload() []byte { return s.payload }

// IsSDU reports whether the sub-PDU carries a logical channel SDU.
func (s *SubPDU) IsSDU() bool { return IsSDU(s.lcid, s.link) }

// IsPadding reports whether the sub-PDU is padding.
func (s *SubPDU) IsPadding() bool { return s.lcid == LCIDPadding }

func (s *SubPDU) String() string {
	return fmt.Sprintf("%s lcid=%d (%s) hdr=%d len=%d", s.link, s.lcid, LCIDName(s.lcid, s.link), s.headerLen, len(s.payload))
}

// read parses one sub-PDU from the start of buf and returns the number of
// bytes consumed. Padding consumes all of buf.
func (s *SubPDU) read(link model.Link, buf []byte) (int, error) {
	*s = SubPDU{link: link}
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty subheader", ErrMalformedPDU)
	}
	lcid := buf[0] & lcidMask
	if !IsValidLCID(lcid, link) {
		return 0, fmt.Errorf("%w: reserved %s LCID %d", ErrMalformedPDU, link, lcid)
	}
	s.lcid = lcid
	s.headerLen = 1
	if lcid == LCIDPadding {
		s.payload = buf[1:]
		return len(buf), nil
	}

	n, fixed := FixedSize(lcid, link)
	if !fixed {
		s.f = buf[0]&fBit != 0
		if s.f {
			if len(buf) < 3 {
				return 0, fmt.Errorf("%w: truncated 16 bit L field", ErrMalformedPDU)
			}
			n = int(binary.BigEndian.Uint16(buf[1:3]))
			s.headerLen = 3
		} else {
			if len(buf) < 2 {
				return 0, fmt.Errorf("%w: truncated 8 bit L field", ErrMalformedPDU)
			}
			n = int(buf[1])
			s.headerLen = 2
		}
	}
	end := s.headerLen + n
	if end > len(buf) {
		return 0, fmt.Errorf("%w: %s needs %d bytes, %d left", ErrMalformedPDU, LCIDName(lcid, link), end, len(buf))
	}
	s.payload = buf[s.headerLen:end:end]
	return end, nil
}

// write serialises the sub-PDU into dst, which must hold TotalLen bytes.
func (s *SubPDU) write(dst []byte) int {
	switch s.headerLen {
	case 1:
		dst[0] = s.lcid
	case 2:
		dst[0] = s.lcid
		dst[1] = byte(len(s.payload))
	default:
		dst[0] = fBit | s.lcid
		binary.BigEndian.PutUint16(dst[1:3], uint16(len(s.payload)))
	}
	copy(dst[s.headerLen:], s.payload)
	return s.TotalLen()
}

func (s *SubPDU) bind(lcid uint8, payload []byte) {
	s.lcid = lcid
	s.f = false
	s.payload = payload
	if _, fixed := FixedSize(lcid, s.link); fixed || lcid == LCIDPadding {
		s.headerLen = 1
		return
	}
	s.headerLen = 2
	if len(payload) > 0xff {
		s.f = true
		s.headerLen = 3
	}
}

func (s *SubPDU) requireLink(link model.Link, what string) error {
	if s.link != link {
		return fmt.Errorf("%w: %s is not allowed on %s", ErrInvalidLCID, what, s.link)
	}
	return nil
}

func (s *SubPDU) mustBe(link model.Link, lcids ...uint8) {
	if s.link == link {
		for _, l := range lcids {
			if s.lcid == l {
				return
			}
		}
	}
	panic(fmt.Sprintf("mac: CE accessor used on %s", s))
}

func storage(dst []byte, n int) ([]byte, error) {
	if len(dst) < n {
		return nil, fmt.Errorf("%w: CE needs %d bytes, storage has %d", ErrNoSpace, n, len(dst))
	}
	return dst[:n:n], nil
}

// SetSDU binds a logical channel SDU. The payload is borrowed. An uplink
// CCCH SDU always has its standardised fixed size and no L field: a longer
// payload is truncated, a shorter one is rejected.
func (s *SubPDU) SetSDU(lcid uint8, payload []byte) error {
	if !IsValidLCID(lcid, s.link) || !IsSDU(lcid, s.link) {
		return fmt.Errorf("%w: %d is not an SDU LCID on %s", ErrInvalidLCID, lcid, s.link)
	}
	if n, fixed := FixedSize(lcid, s.link); fixed {
		if len(payload) < n {
			return fmt.Errorf("%w: %s SDU of %d bytes, need %d", ErrInvalidCE, LCIDName(lcid, s.link), len(payload), n)
		}
		payload = payload[:n:n]
	}
	if len(payload) > maxLen16 {
		return fmt.Errorf("%w: SDU of %d bytes", ErrInvalidCE, len(payload))
	}
	s.bind(lcid, payload)
	return nil
}

// SetPadding turns the sub-PDU into padding over dst, which is zeroed.
func (s *SubPDU) SetPadding(dst []byte) {
	clear(dst)
	s.bind(LCIDPadding, dst)
}

// SetCRNTI writes a C-RNTI CE into dst.
func (s *SubPDU) SetCRNTI(dst []byte, rnti uint16) error {
	if err := s.requireLink(model.Uplink, "C-RNTI CE"); err != nil {
		return err
	}
	p, err := storage(dst, 2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(p, rnti)
	s.bind(LCIDCRNTI, p)
	return nil
}

// CRNTI returns the C-RNTI carried by the CE.
func (s *SubPDU) CRNTI() uint16 {
	s.mustBe(model.Uplink, LCIDCRNTI)
	return binary.BigEndian.Uint16(s.payload)
}

// SetSEPHR writes a single entry power headroom CE. Both fields are 6 bit
// indexes.
func (s *SubPDU) SetSEPHR(dst []byte, ph, pcmax uint8) error {
	if err := s.requireLink(model.Uplink, "single entry PHR CE"); err != nil {
		return err
	}
	if ph > lcidMask || pcmax > lcidMask {
		return fmt.Errorf("%w: PHR ph=%d pcmax=%d", ErrInvalidCE, ph, pcmax)
	}
	p, err := storage(dst, 2)
	if err != nil {
		return err
	}
	p[0], p[1] = ph, pcmax
	s.bind(LCIDSEPHR, p)
	return nil
}

// SEPHR returns the power headroom and P_CMAX,f,c indexes.
func (s *SubPDU) SEPHR() (ph, pcmax uint8) {
	s.mustBe(model.Uplink, LCIDSEPHR)
	return s.payload[0] & lcidMask, s.payload[1] & lcidMask
}

// SetShortBSR writes a short BSR CE, or a short truncated BSR when truncated
// is set.
func (s *SubPDU) SetShortBSR(dst []byte, r LCGReport, truncated bool) error {
	if err := s.requireLink(model.Uplink, "short BSR CE"); err != nil {
		return err
	}
	if r.LCG >= NofLCGs || r.Index > MaxShortBSRIndex {
		return fmt.Errorf("%w: short BSR lcg=%d index=%d", ErrInvalidCE, r.LCG, r.Index)
	}
	p, err := storage(dst, 1)
	if err != nil {
		return err
	}
	p[0] = r.LCG<<5 | r.Index&MaxShortBSRIndex
	lcid := LCIDShortBSR
	if truncated {
		lcid = LCIDShortTruncBSR
	}
	s.bind(lcid, p)
	return nil
}

// ShortBSR returns the report of a short or short truncated BSR.
func (s *SubPDU) ShortBSR() LCGReport {
	s.mustBe(model.Uplink, LCIDShortBSR, LCIDShortTruncBSR)
	return LCGReport{LCG: s.payload[0] >> 5, Index: s.payload[0] & MaxShortBSRIndex}
}

// SetLongBSR writes a long BSR CE with one buffer size per report. Reports
// are emitted in ascending LCG order.
func (s *SubPDU) SetLongBSR(dst []byte, reports []LCGReport) error {
	var bitmap uint8
	for _, r := range reports {
		if r.LCG < NofLCGs {
			bitmap |= 1 << r.LCG
		}
	}
	return s.setLongBSR(dst, LCIDLongBSR, bitmap, reports)
}

// SetLongTruncBSR writes a long truncated BSR: bitmap flags every LCG with
// data, reports carries the buffer sizes that fit.
func (s *SubPDU) SetLongTruncBSR(dst []byte, bitmap uint8, reports []LCGReport) error {
	return s.setLongBSR(dst, LCIDLongTruncBSR, bitmap, reports)
}

func (s *SubPDU) setLongBSR(dst []byte, lcid, bitmap uint8, reports []LCGReport) error {
	if err := s.requireLink(model.Uplink, "long BSR CE"); err != nil {
		return err
	}
	var present [NofLCGs]bool
	var values [NofLCGs]uint8
	for _, r := range reports {
		if r.LCG >= NofLCGs || bitmap&(1<<r.LCG) == 0 || present[r.LCG] {
			return fmt.Errorf("%w: long BSR report for lcg %d with bitmap %08b", ErrInvalidCE, r.LCG, bitmap)
		}
		present[r.LCG] = true
		values[r.LCG] = r.Index
	}
	p, err := storage(dst, 1+len(reports))
	if err != nil {
		return err
	}
	p[0] = bitmap
	i := 1
	for lcg := range NofLCGs {
		if present[lcg] {
			p[i] = values[lcg]
			i++
		}
	}
	s.bind(lcid, p)
	return nil
}

// LongBSR decodes a long or long truncated BSR into one report per LCG
// flagged in the bitmap. Buffer sizes missing from a truncated BSR are
// reported as TruncatedBSRDefault; a plain long BSR must carry all of them.
func (s *SubPDU) LongBSR() ([]LCGReport, error) {
	s.mustBe(model.Uplink, LCIDLongBSR, LCIDLongTruncBSR)
	if len(s.payload) == 0 {
		return nil, fmt.Errorf("%w: long BSR without bitmap", ErrInvalidCE)
	}
	bitmap, values := s.payload[0], s.payload[1:]
	var out []LCGReport
	i := 0
	for lcg := range uint8(NofLCGs) {
		if bitmap&(1<<lcg) == 0 {
			continue
		}
		r := LCGReport{LCG: lcg, Index: TruncatedBSRDefault}
		switch {
		case i < len(values):
			r.Index = values[i]
		case s.lcid == LCIDLongBSR:
			return nil, fmt.Errorf("%w: long BSR bitmap %08b with %d buffer sizes", ErrInvalidCE, bitmap, len(values))
		}
		i++
		out = append(out, r)
	}
	if len(values) > i {
		return nil, fmt.Errorf("%w: long BSR bitmap %08b with %d buffer sizes", ErrInvalidCE, bitmap, len(values))
	}
	return out, nil
}

// SetUEConResID writes a UE contention resolution identity CE.
func (s *SubPDU) SetUEConResID(dst []byte, id [ConResIDLen]byte) error {
	if err := s.requireLink(model.Downlink, "contention resolution CE"); err != nil {
		return err
	}
	p, err := storage(dst, ConResIDLen)
	if err != nil {
		return err
	}
	copy(p, id[:])
	s.bind(LCIDUEConResID, p)
	return nil
}

// UEConResID returns the contention resolution identity.
func (s *SubPDU) UEConResID() [ConResIDLen]byte {
	s.mustBe(model.Downlink, LCIDUEConResID)
	var id [ConResIDLen]byte
	copy(id[:], s.payload)
	return id
}

// SetTACmd writes a timing advance command for timing advance group tag.
func (s *SubPDU) SetTACmd(dst []byte, tag, ta uint8) error {
	if err := s.requireLink(model.Downlink, "TA command CE"); err != nil {
		return err
	}
	if tag > 3 || ta > lcidMask {
		return fmt.Errorf("%w: TA command tag=%d ta=%d", ErrInvalidCE, tag, ta)
	}
	p, err := storage(dst, 1)
	if err != nil {
		return err
	}
	p[0] = tag<<6 | ta
	s.bind(LCIDTACmd, p)
	return nil
}

// TACmd returns the timing advance group and command.
func (s *SubPDU) TACmd() (tag, ta uint8) {
	s.mustBe(model.Downlink, LCIDTACmd)
	return s.payload[0] >> 6, s.payload[0] & lcidMask
}

// SetDRXCmd turns the sub-PDU into a DRX command, or a long DRX command.
func (s *SubPDU) SetDRXCmd(long bool) error {
	if err := s.requireLink(model.Downlink, "DRX command CE"); err != nil {
		return err
	}
	lcid := LCIDDRXCmd
	if long {
		lcid = LCIDLongDRXCmd
	}
	s.bind(lcid, nil)
	return nil
}
