// Package pusch encodes and decodes the uplink shared channel, multiplexing
// HARQ-ACK and CSI reports with UL-SCH data.
package pusch

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/nrstack/internal/logging"
	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/dmrs"
	"github.com/signalsfoundry/nrstack/phy/fec"
	"github.com/signalsfoundry/nrstack/phy/modem"
	"github.com/signalsfoundry/nrstack/phy/re"
	"github.com/signalsfoundry/nrstack/phy/sch"
	"github.com/signalsfoundry/nrstack/phy/seq"
	"github.com/signalsfoundry/nrstack/phy/uci"
)

var (
	ErrGrid = errors.New("pusch: resource grid mismatch")
	ErrUCI  = errors.New("pusch: UCI payload does not match configuration")
	ErrTB   = errors.New("pusch: invalid transport block")
)

// CInit returns the data scrambling initialisation.
func CInit(rnti uint16, nID uint32) uint32 {
	return uint32((uint64(rnti)<<15 + uint64(nID)) % (1 << 31))
}

// UCI holds the control bits carried on a PUSCH, one bit per element.
type UCI struct {
	ACK  []uint8
	CSI1 []uint8
	CSI2 []uint8
}

func (u UCI) matches(cfg model.UCIConfig) bool {
	return uint32(len(u.ACK)) == cfg.NofACK && uint32(len(u.CSI1)) == cfg.NofCSI1 && uint32(len(u.CSI2)) == cfg.NofCSI2
}

// Resources derives what the transmission of cfg offers UCI.
func Resources(cfg *model.SchCfg, plan *re.Plan) (uci.Resources, error) {
	g := &cfg.Grant
	tb := g.TB[0]
	res := uci.Resources{Layers: g.NofLayers, Qm: tb.Mod.BitsPerSymbol(), R: tb.R}
	seenDMRS := false
	res.L0 = g.S + g.L
	for l := g.S; l < g.S+g.L; l++ {
		if plan.IsDMRS(l) {
			seenDMRS = true
			continue
		}
		res.UCI[l] = plan.SymbolCount(l)
		if seenDMRS && res.L0 == g.S+g.L {
			res.L0 = l
		}
	}
	if tb.Enabled {
		seg, err := sch.Segment(tb.TBS, tb.R)
		if err != nil {
			return uci.Resources{}, err
		}
		res.SumKr = uint32(seg.C * seg.K)
	}
	return res, nil
}

// layout validates cfg against grids and computes the RE plan and bit
// multiplexing of the transmission.
func layout(cfg *model.SchCfg, grids [][]complex64) (*re.Plan, Mux, error) {
	g := &cfg.Grant
	tb := g.TB[0]
	if tb.Mod.BitsPerSymbol() == 0 || g.NofLayers == 0 {
		return nil, Mux{}, fmt.Errorf("%w: %s on %d layers", ErrTB, tb.Mod, g.NofLayers)
	}
	if tb.Enabled && tb.Layers != g.NofLayers {
		return nil, Mux{}, fmt.Errorf("%w: codeword on %d layers, grant %d", ErrTB, tb.Layers, g.NofLayers)
	}
	if !tb.Enabled && !cfg.UCI.HasUCI() {
		return nil, Mux{}, fmt.Errorf("%w: neither UL-SCH nor UCI", ErrTB)
	}
	if uint32(len(grids)) < g.NofLayers {
		return nil, Mux{}, fmt.Errorf("%w: %d grids for %d layers", ErrGrid, len(grids), g.NofLayers)
	}
	for i := range g.NofLayers {
		if len(grids[i]) != cfg.Carrier.GridSize() {
			return nil, Mux{}, fmt.Errorf("%w: layer %d has %d REs, want %d", ErrGrid, i, len(grids[i]), cfg.Carrier.GridSize())
		}
	}
	plan, err := re.NewPlan(cfg)
	if err != nil {
		return nil, Mux{}, err
	}
	if tb.Enabled {
		if err := plan.Verify(tb.NofRE); err != nil {
			return nil, Mux{}, err
		}
	}
	total := plan.Count() * g.NofLayers * tb.Mod.BitsPerSymbol()
	if !cfg.UCI.HasUCI() {
		return plan, ULSCHOnly(total), nil
	}
	res, err := Resources(cfg, plan)
	if err != nil {
		return nil, Mux{}, err
	}
	sizes, err := uci.Compute(cfg.UCI, res)
	if err != nil {
		return nil, Mux{}, err
	}
	mux, err := GenMux(plan, res, sizes, cfg.UCI.NofACK)
	if err != nil {
		return nil, Mux{}, err
	}
	return plan, mux, nil
}

// smallACK reports whether HARQ-ACK uses the placeholder code.
func smallACK(cfg model.UCIConfig) bool { return cfg.NofACK > 0 && cfg.NofACK <= uci.MaxSmall }

// Encoder maps UL-SCH data and UCI onto per-layer resource grids.
type Encoder struct {
	gen   *seq.Generator
	codec *sch.Codec
	block uci.BlockCoder
	log   logging.Logger
}

// NewEncoder returns an encoder. Nil coders select the reference
// repetition coders.
func NewEncoder(gen *seq.Generator, coder fec.Coder, block uci.BlockCoder, log logging.Logger) *Encoder {
	if block == nil {
		block = uci.RepetitionBlock{}
	}
	return &Encoder{gen: gen, codec: sch.NewCodec(coder), block: block, log: logging.OrNoop(log)}
}

// Encode writes payload (TBS/8 bytes, ignored when the transport block is
// disabled) and u into grids, one per layer, together with the DMRS.
func (e *Encoder) Encode(ctx context.Context, cfg *model.SchCfg, slot uint32, payload []byte, u UCI, grids [][]complex64) error {
	if !u.matches(cfg.UCI) {
		return fmt.Errorf("%w: ack=%d csi1=%d csi2=%d", ErrUCI, len(u.ACK), len(u.CSI1), len(u.CSI2))
	}
	plan, mux, err := layout(cfg, grids)
	if err != nil {
		e.log.Warn(ctx, "pusch encode rejected", logging.RNTI(cfg.Grant.RNTI), logging.Err(err))
		return err
	}
	g := &cfg.Grant
	tb := g.TB[0]
	qm := tb.Mod.BitsPerSymbol()
	bits := make([]uint8, mux.Total())

	if tb.Enabled {
		p := sch.ParamsFromTB(tb)
		p.G = uint32(len(mux.ULSCH))
		coded := make([]uint8, p.G)
		if err := e.codec.Encode(payload, p, coded); err != nil {
			return fmt.Errorf("ul-sch: %w", err)
		}
		scatter(bits, mux.ULSCH, coded)
	}
	if len(u.ACK) > 0 {
		coded := make([]uint8, len(mux.ACK))
		if smallACK(cfg.UCI) {
			err = uci.EncodeSmall(u.ACK, qm, coded)
		} else {
			err = e.block.Encode(u.ACK, coded)
		}
		if err != nil {
			return fmt.Errorf("harq-ack: %w", err)
		}
		scatter(bits, mux.ACK, coded)
	}
	for _, part := range []struct {
		name string
		in   []uint8
		pos  []uint32
	}{{"csi1", u.CSI1, mux.CSI1}, {"csi2", u.CSI2, mux.CSI2}} {
		if len(part.in) == 0 {
			continue
		}
		coded := make([]uint8, len(part.pos))
		if err := e.block.Encode(part.in, coded); err != nil {
			return fmt.Errorf("%s: %w", part.name, err)
		}
		scatter(bits, part.pos, coded)
	}

	c := e.gen.Bits(CInit(g.RNTI, cfg.ScramblingID), len(bits))
	if smallACK(cfg.UCI) {
		seq.ScrambleMarked(bits, c, mux.ACK)
	} else {
		seq.Scramble(bits, c)
	}

	symbols := make([]complex64, len(bits)/int(qm))
	if err := modem.Modulate(tb.Mod, bits, symbols); err != nil {
		return err
	}
	for l := range g.NofLayers {
		layer := make([]complex64, plan.Count())
		for i := range layer {
			layer[i] = symbols[uint32(i)*g.NofLayers+l]
		}
		if err := plan.Put(grids[l], layer); err != nil {
			return err
		}
		if err := dmrs.Put(e.gen, cfg, slot, grids[l]); err != nil {
			return err
		}
	}
	e.log.Debug(ctx, "pusch encoded", logging.RNTI(g.RNTI), logging.Int("ulsch_bits", len(mux.ULSCH)),
		logging.Int("ack_bits", len(mux.ACK)), logging.Int("csi1_bits", len(mux.CSI1)), logging.Int("csi2_bits", len(mux.CSI2)))
	return nil
}

func scatter(dst []uint8, pos []uint32, src []uint8) {
	for i, p := range pos {
		dst[p] = src[i]
	}
}

func gather(src []float32, pos []uint32) []float32 {
	out := make([]float32, len(pos))
	for i, p := range pos {
		out[i] = src[p]
	}
	return out
}

// DecoderConfig tunes the decoder.
type DecoderConfig struct {
	// MinSNRdB is the estimated SNR below which decoding is skipped.
	MinSNRdB float32
}

// DefaultDecoderConfig returns the decoder settings used by the simulator.
func DefaultDecoderConfig() DecoderConfig { return DecoderConfig{MinSNRdB: -10} }

// Result is the outcome of decoding one PUSCH. Valid is false when the SNR
// gate skipped decoding. The *Valid flags report the UCI CRC of each part;
// parts without a CRC are always valid once decoded.
type Result struct {
	Valid     bool
	SNRdB     float32
	ULSCH     sch.Result
	UCI       UCI
	ACKValid  bool
	CSI1Valid bool
	CSI2Valid bool
}

// Decoder recovers UL-SCH data and UCI from per-layer resource grids.
type Decoder struct {
	cfg   DecoderConfig
	gen   *seq.Generator
	codec *sch.Codec
	block uci.BlockCoder
	log   logging.Logger
}

// NewDecoder returns a decoder matching NewEncoder's arguments.
func NewDecoder(cfg DecoderConfig, gen *seq.Generator, coder fec.Coder, block uci.BlockCoder, log logging.Logger) *Decoder {
	if block == nil {
		block = uci.RepetitionBlock{}
	}
	return &Decoder{cfg: cfg, gen: gen, codec: sch.NewCodec(coder), block: block, log: logging.OrNoop(log)}
}

// Decode recovers UL-SCH data into payload, which must hold TBS/8 bytes
// when the transport block is enabled, and the configured UCI.
func (d *Decoder) Decode(ctx context.Context, cfg *model.SchCfg, est dmrs.Estimate, grids [][]complex64, payload []byte) (Result, error) {
	res := Result{SNRdB: est.SNRdB}
	plan, mux, err := layout(cfg, grids)
	if err != nil {
		d.log.Warn(ctx, "pusch decode rejected", logging.RNTI(cfg.Grant.RNTI), logging.Err(err))
		return res, err
	}
	if est.SNRdB < d.cfg.MinSNRdB {
		d.log.Debug(ctx, "pusch below snr gate", logging.Any("snr_db", est.SNRdB))
		return res, nil
	}
	res.Valid = true

	g := &cfg.Grant
	tb := g.TB[0]
	layers := make([][]complex64, g.NofLayers)
	for l := range layers {
		layers[l] = make([]complex64, plan.Count())
		if err := plan.Get(grids[l], layers[l]); err != nil {
			return res, err
		}
	}
	noiseVar := re.Equalize(plan, est, layers)
	symbols := make([]complex64, plan.Count()*g.NofLayers)
	for i := range symbols {
		symbols[i] = layers[uint32(i)%g.NofLayers][uint32(i)/g.NofLayers]
	}
	llr := make([]float32, mux.Total())
	if err := modem.Demodulate(tb.Mod, symbols, noiseVar, llr); err != nil {
		return res, err
	}
	seq.DescrambleLLR(llr, d.gen.Bits(CInit(g.RNTI, cfg.ScramblingID), len(llr)))

	if tb.Enabled {
		p := sch.ParamsFromTB(tb)
		p.G = uint32(len(mux.ULSCH))
		if res.ULSCH, err = d.codec.Decode(gather(llr, mux.ULSCH), p, payload); err != nil {
			return res, fmt.Errorf("ul-sch: %w", err)
		}
	}
	if n := cfg.UCI.NofACK; n > 0 {
		res.UCI.ACK = make([]uint8, n)
		soft := gather(llr, mux.ACK)
		if smallACK(cfg.UCI) {
			err = uci.DecodeSmall(soft, tb.Mod.BitsPerSymbol(), res.UCI.ACK)
			res.ACKValid = err == nil
		} else {
			res.ACKValid, err = d.block.Decode(soft, res.UCI.ACK)
		}
		if err != nil {
			return res, fmt.Errorf("harq-ack: %w", err)
		}
	}
	if n := cfg.UCI.NofCSI1; n > 0 {
		res.UCI.CSI1 = make([]uint8, n)
		if res.CSI1Valid, err = d.block.Decode(gather(llr, mux.CSI1), res.UCI.CSI1); err != nil {
			return res, fmt.Errorf("csi1: %w", err)
		}
	}
	if n := cfg.UCI.NofCSI2; n > 0 {
		res.UCI.CSI2 = make([]uint8, n)
		if res.CSI2Valid, err = d.block.Decode(gather(llr, mux.CSI2), res.UCI.CSI2); err != nil {
			return res, fmt.Errorf("csi2: %w", err)
		}
	}
	if tb.Enabled && !res.ULSCH.CRC {
		d.log.Debug(ctx, "pusch crc failure", logging.RNTI(g.RNTI), logging.Int("blocks_ok", res.ULSCH.BlocksOK))
	}
	return res, nil
}
