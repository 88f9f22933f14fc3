package sch

import (
	"fmt"
	"slices"

	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/crc"
	"github.com/signalsfoundry/nrstack/phy/fec"
)

// Params describes one codeword for the transport channel.
type Params struct {
	TBS    uint32
	R      float64
	Qm     uint32
	Layers uint32
	RV     uint32
	G      uint32 // rate-matched bits
}

// ParamsFromTB fills Params from a derived transport block, using all of its
// coded bits.
func ParamsFromTB(tb model.TB) Params {
	return Params{
		TBS:    tb.TBS,
		R:      tb.R,
		Qm:     tb.Mod.BitsPerSymbol(),
		Layers: tb.Layers,
		RV:     tb.RV,
		G:      tb.NofBits(),
	}
}

// Result is the outcome of decoding one codeword. A CRC failure is a normal
// outcome, not an error.
type Result struct {
	CRC      bool
	BlocksOK int
	Seg      Segmentation
}

// Codec runs the transport channel chain around a channel coder.
type Codec struct {
	coder fec.Coder
}

// NewCodec returns a codec using coder, or the repetition reference coder
// when coder is nil.
func NewCodec(coder fec.Coder) *Codec {
	if coder == nil {
		coder = fec.Repetition{}
	}
	return &Codec{coder: coder}
}

func (c *Codec) block(seg Segmentation, rv uint32) fec.Block {
	return fec.Block{BaseGraph: seg.BaseGraph, Zc: seg.Zc, K: seg.K, KPrime: seg.KPrime, RV: rv}
}

func (p Params) check(n int) error {
	if p.Qm == 0 || p.Layers == 0 {
		return fmt.Errorf("%w: qm=%d layers=%d", ErrParams, p.Qm, p.Layers)
	}
	if uint32(n) != p.G || p.G%(p.Qm*p.Layers) != 0 {
		return fmt.Errorf("%w: buffer %d for G=%d (qm=%d layers=%d)", ErrLength, n, p.G, p.Qm, p.Layers)
	}
	return nil
}

// Encode turns a transport block of TBS/8 bytes into G interleaved coded
// bits.
func (c *Codec) Encode(payload []byte, p Params, out []uint8) error {
	if err := p.check(len(out)); err != nil {
		return err
	}
	if uint32(len(payload))*8 != p.TBS {
		return fmt.Errorf("%w: %d bytes for %d bits", ErrTBSize, len(payload), p.TBS)
	}
	seg, err := Segment(p.TBS, p.R)
	if err != nil {
		return err
	}
	bits := TBCRC(p.TBS).Attach(crc.Unpack(payload))
	lengths := RateMatchLengths(p.G, p.Layers, p.Qm, seg.C)
	blk := c.block(seg, p.RV)
	cb := make([]uint8, 0, seg.KPrime)
	e := make([]uint8, 0, slices.Max(lengths))
	off := 0
	for r := 0; r < seg.C; r++ {
		cb = append(cb[:0], bits[r*seg.InfoBits():(r+1)*seg.InfoBits()]...)
		if seg.CBCRC > 0 {
			cb = crc.CRC24B.Attach(cb)
		}
		e = e[:lengths[r]]
		if err := c.coder.Encode(cb, blk, e); err != nil {
			return fmt.Errorf("code block %d: %w", r, err)
		}
		Interleave(e, int(p.Qm), out[off:off+lengths[r]])
		off += lengths[r]
	}
	return nil
}

// Decode recovers the transport block from G soft bits into payload, which
// must hold TBS/8 bytes.
func (c *Codec) Decode(llr []float32, p Params, payload []byte) (Result, error) {
	if err := p.check(len(llr)); err != nil {
		return Result{}, err
	}
	if uint32(len(payload))*8 != p.TBS {
		return Result{}, fmt.Errorf("%w: %d bytes for %d bits", ErrTBSize, len(payload), p.TBS)
	}
	seg, err := Segment(p.TBS, p.R)
	if err != nil {
		return Result{}, err
	}
	res := Result{Seg: seg}
	lengths := RateMatchLengths(p.G, p.Layers, p.Qm, seg.C)
	blk := c.block(seg, p.RV)
	bits := make([]uint8, 0, seg.B)
	cb := make([]uint8, seg.KPrime)
	e := make([]float32, 0, slices.Max(lengths))
	off := 0
	for r := 0; r < seg.C; r++ {
		e = e[:lengths[r]]
		Deinterleave(llr[off:off+lengths[r]], int(p.Qm), e)
		off += lengths[r]
		converged, err := c.coder.Decode(e, blk, cb)
		if err != nil {
			return res, fmt.Errorf("code block %d: %w", r, err)
		}
		if converged && (seg.CBCRC == 0 || crc.CRC24B.Check(cb)) {
			res.BlocksOK++
		}
		bits = append(bits, cb[:seg.InfoBits()]...)
	}
	res.CRC = res.BlocksOK == seg.C && TBCRC(p.TBS).Check(bits)
	crc.Pack(payload, bits[:p.TBS])
	return res, nil
}
