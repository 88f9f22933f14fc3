package mac

import (
	"fmt"

	"github.com/signalsfoundry/nrstack/model"
)

// PDU is a MAC PDU over a caller-owned transport block buffer. It is either
// built with Init, the Add methods and Pack, or parsed with Unpack. Sub-PDU
// payloads returned by SubPDUs point into the buffer.
type PDU struct {
	link    model.Link
	buf     []byte
	offset  int
	subPDUs []SubPDU
	scratch [maxCESize]byte
}

// Init prepares p to build a transport block of len(buf) bytes for link.
func (p *PDU) Init(buf []byte, link model.Link) {
	p.link = link
	p.buf = buf
	p.offset = 0
	p.subPDUs = p.subPDUs[:0]
}

func (p *PDU) Link() model.Link { return p.link }

// Len returns the transport block size in bytes.
func (p *PDU) Len() int { return len(p.buf) }

// Remaining returns the unused transport block budget in bytes.
func (p *PDU) Remaining() int { return len(p.buf) - p.offset }

// SubPDUs returns the sub-PDUs in wire order.
func (p *PDU) SubPDUs() []SubPDU { return p.subPDUs }

// Unpack parses buf as a PDU received on link. Any invalid subheader aborts
// the whole parse with ErrMalformedPDU and leaves p empty.
func (p *PDU) Unpack(buf []byte, link model.Link) error {
	p.Init(buf, link)
	for p.offset < len(buf) {
		var sp SubPDU
		n, err := sp.read(link, buf[p.offset:])
		if err != nil {
			err = fmt.Errorf("sub-PDU %d at offset %d: %w", len(p.subPDUs), p.offset, err)
			p.Init(nil, link)
			return err
		}
		p.subPDUs = append(p.subPDUs, sp)
		p.offset += n
	}
	return nil
}

// AddSubPDU serialises sp at the current position. The subheader keeps the
// L field width of sp, so a parsed sub-PDU is reproduced byte for byte.
func (p *PDU) AddSubPDU(sp SubPDU) error {
	if sp.link != p.link {
		return fmt.Errorf("%w: %s sub-PDU in %s PDU", ErrInvalidLCID, sp.link, p.link)
	}
	if sp.headerLen == 0 || sp.IsPadding() {
		return fmt.Errorf("%w: %s cannot be added", ErrInvalidLCID, LCIDName(sp.lcid, sp.link))
	}
	n := sp.TotalLen()
	if n > p.Remaining() {
		return fmt.Errorf("%w: %s needs %d bytes, %d left", ErrNoSpace, LCIDName(sp.lcid, sp.link), n, p.Remaining())
	}
	sp.write(p.buf[p.offset:])
	sp.payload = p.buf[p.offset+sp.headerLen : p.offset+n : p.offset+n]
	p.subPDUs = append(p.subPDUs, sp)
	p.offset += n
	return nil
}

// AddSDU appends a logical channel SDU.
func (p *PDU) AddSDU(lcid uint8, payload []byte) error {
	sp := NewSubPDU(p.link)
	if err := sp.SetSDU(lcid, payload); err != nil {
		return err
	}
	return p.AddSubPDU(sp)
}

func (p *PDU) AddCRNTI(rnti uint16) error {
	sp := NewSubPDU(p.link)
	if err := sp.SetCRNTI(p.scratch[:], rnti); err != nil {
		return err
	}
	return p.AddSubPDU(sp)
}

func (p *PDU) AddSEPHR(ph, pcmax uint8) error {
	sp := NewSubPDU(p.link)
	if err := sp.SetSEPHR(p.scratch[:], ph, pcmax); err != nil {
		return err
	}
	return p.AddSubPDU(sp)
}

func (p *PDU) AddShortBSR(r LCGReport, truncated bool) error {
	sp := NewSubPDU(p.link)
	if err := sp.SetShortBSR(p.scratch[:], r, truncated); err != nil {
		return err
	}
	return p.AddSubPDU(sp)
}

func (p *PDU) AddLongBSR(reports []LCGReport) error {
	sp := NewSubPDU(p.link)
	if err := sp.SetLongBSR(p.scratch[:], reports); err != nil {
		return err
	}
	return p.AddSubPDU(sp)
}

func (p *PDU) AddLongTruncBSR(bitmap uint8, reports []LCGReport) error {
	sp := NewSubPDU(p.link)
	if err := sp.SetLongTruncBSR(p.scratch[:], bitmap, reports); err != nil {
		return err
	}
	return p.AddSubPDU(sp)
}

func (p *PDU) AddUEConResID(id [ConResIDLen]byte) error {
	sp := NewSubPDU(p.link)
	if err := sp.SetUEConResID(p.scratch[:], id); err != nil {
		return err
	}
	return p.AddSubPDU(sp)
}

func (p *PDU) AddTACmd(tag, ta uint8) error {
	sp := NewSubPDU(p.link)
	if err := sp.SetTACmd(p.scratch[:], tag, ta); err != nil {
		return err
	}
	return p.AddSubPDU(sp)
}

func (p *PDU) AddDRXCmd(long bool) error {
	sp := NewSubPDU(p.link)
	if err := sp.SetDRXCmd(long); err != nil {
		return err
	}
	return p.AddSubPDU(sp)
}

// Pack fills the unused budget with a single zeroed padding sub-PDU, or
// none when the budget is exactly used, and returns the transport block.
func (p *PDU) Pack() []byte {
	if p.Remaining() > 0 {
		var pad SubPDU
		pad.link = p.link
		pad.SetPadding(p.buf[p.offset+1:])
		pad.write(p.buf[p.offset:])
		p.subPDUs = append(p.subPDUs, pad)
		p.offset = len(p.buf)
	}
	return p.buf
}
