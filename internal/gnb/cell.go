// Package gnb runs the per-cell slot engine: UE selection and PRB
// allocation, grant derivation from DCI, MAC PDU assembly and the PDSCH and
// PUSCH loopback over a simulated channel.
package gnb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/signalsfoundry/nrstack/internal/config"
	"github.com/signalsfoundry/nrstack/internal/logging"
	"github.com/signalsfoundry/nrstack/internal/observability"
	"github.com/signalsfoundry/nrstack/kb"
	"github.com/signalsfoundry/nrstack/mac"
	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/dmrs"
	"github.com/signalsfoundry/nrstack/phy/fec"
	"github.com/signalsfoundry/nrstack/phy/pdsch"
	"github.com/signalsfoundry/nrstack/phy/pusch"
	"github.com/signalsfoundry/nrstack/phy/seq"
	"github.com/signalsfoundry/nrstack/phy/uci"
	"github.com/signalsfoundry/nrstack/ra"
	"github.com/signalsfoundry/nrstack/rb"
	"github.com/signalsfoundry/nrstack/timectrl"
)

const (
	drbLCID       = 4
	taPeriodSlots = 320
	srPeriodSlots = 8
	fadingSigmaDB = 1.0
	maxPending    = 1 << 24
	seqCacheSize  = 256
	firstRNTI     = 0x4601
)

// Deps carries the ambient collaborators of a cell.
type Deps struct {
	Log     logging.Logger
	Metrics *observability.SlotCollector
	Seed    uint64
}

// Stats are the cumulative counters of one cell.
type Stats struct {
	Slots                        uint64
	DLAck, DLNack, DLSkipped     uint64
	ULAck, ULNack, ULSkipped     uint64
	UCIErrors, MACErrors         uint64
	DLBytes, ULBytes             uint64
	DLGrantErrors, ULGrantErrors uint64
}

// terminal is the UE side of the loopback: what the UE knows and holds.
type terminal struct {
	snrdB    float64 // mean link SNR
	ulBuffer uint32  // bytes waiting for an uplink grant
	ack      []uint8 // HARQ-ACK to report on the next PUSCH
	cqi      uint32  // CQI measured on the last PDSCH
}

// Cell is one simulated cell. ProcessSlot is not safe for concurrent use;
// different cells may run concurrently.
type Cell struct {
	cfg     config.CellConfig
	carrier model.Carrier
	bwp     rb.BWP
	dlHL    *model.SchHLConfig
	ulHL    *model.SchHLConfig
	dlTable model.MCSTable
	ulTable model.MCSTable

	dlMap *rb.BWPBitmap
	ulMap *rb.BWPBitmap

	pool      *kb.RNTIPool
	ues       *kb.Store
	terminals map[uint16]*terminal

	pdschTx *pdsch.Encoder
	pdschRx *pdsch.Decoder
	puschTx *pusch.Encoder
	puschRx *pusch.Decoder
	ch      *channel

	dlGrids [][]complex64
	ulGrids [][]complex64

	rr      uint64
	stats   Stats
	log     logging.Logger
	metrics *observability.SlotCollector
}

// NewCoder returns the channel coder selected by c.
func NewCoder(c config.CoderConfig) (fec.Coder, error) {
	switch c.Kind {
	case "", config.CoderRepetition:
		return fec.Repetition{}, nil
	case config.CoderRaptorQ:
		return fec.NewRaptorQ(c.SymbolSize, c.Threshold), nil
	}
	return nil, fmt.Errorf("%w: coder %q", config.ErrInvalid, c.Kind)
}

// NewCell builds a cell and attaches cfg.UEs UEs to it.
func NewCell(cfg config.CellConfig, deps Deps) (*Cell, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	coder, err := NewCoder(cfg.Coder)
	if err != nil {
		return nil, err
	}
	gen, err := seq.NewGenerator(seqCacheSize)
	if err != nil {
		return nil, err
	}
	log := logging.OrNoop(deps.Log).With(logging.PCI(cfg.PCI))
	phyLog := logging.Component(log, "phy")

	c := &Cell{
		cfg:       cfg,
		carrier:   cfg.Carrier(),
		bwp:       rb.BWP{NofPRB: cfg.NofPRB},
		dlHL:      cfg.HLConfig(),
		ulHL:      cfg.HLConfig(),
		pool:      &kb.RNTIPool{},
		terminals: make(map[uint16]*terminal),
		pdschTx:   pdsch.NewEncoder(gen, coder, phyLog),
		pdschRx:   pdsch.NewDecoder(pdsch.DefaultDecoderConfig(), gen, coder, phyLog),
		puschTx:   pusch.NewEncoder(gen, coder, nil, phyLog),
		puschRx:   pusch.NewDecoder(pusch.DefaultDecoderConfig(), gen, coder, nil, phyLog),
		ch:        newChannel(deps.Seed, uint64(cfg.PCI)),
		log:       logging.Component(log, "sched"),
		metrics:   deps.Metrics,
	}
	betas := model.DefaultBetaOffsets()
	c.ulHL.BetaOffsets = &betas
	c.dlMap = rb.NewBWPBitmap(c.bwp)
	c.ulMap = rb.NewBWPBitmap(c.bwp)
	c.dlTable = ra.SelectMCSTable(model.Downlink, c.dlHL.MCSTable, model.DCIFormat11, model.SearchSpaceUE, model.RNTITypeC)
	c.ulTable = ra.SelectMCSTable(model.Uplink, c.ulHL.MCSTable, model.DCIFormat01, model.SearchSpaceUE, model.RNTITypeC)

	c.dlGrids = make([][]complex64, cfg.MaxLayers)
	for i := range c.dlGrids {
		c.dlGrids[i] = make([]complex64, c.carrier.GridSize())
	}
	c.ulGrids = [][]complex64{make([]complex64, c.carrier.GridSize())}

	if err := c.pool.Init(firstRNTI, cfg.UEs); err != nil {
		return nil, err
	}
	c.ues = kb.NewStore(c.pool, cfg.UEs)
	for i := range cfg.UEs {
		if _, err := c.AddUE(cfg.SNRdB - 2*float64(i%4)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// PCI returns the physical cell id.
func (c *Cell) PCI() uint32 { return c.cfg.PCI }

// Stats returns the cumulative counters.
func (c *Cell) Stats() Stats { return c.stats }

// UEs returns a snapshot of the UE contexts.
func (c *Cell) UEs() []kb.UE { return c.ues.List() }

// Store exposes the UE context store.
func (c *Cell) Store() *kb.Store { return c.ues }

// AddUE attaches a UE whose link runs at a mean SNR of snrdB.
func (c *Cell) AddUE(snrdB float64) (kb.UE, error) {
	cqi := measureCQI(cqiTableFor(c.dlTable), snrdB)
	ue, err := c.ues.Add(kb.UE{CQI: max(cqi, 1)})
	if err != nil {
		return kb.UE{}, err
	}
	c.terminals[ue.RNTI] = &terminal{snrdB: snrdB, cqi: ue.CQI}
	return ue, nil
}

// RemoveUE detaches a UE and frees its RNTI.
func (c *Cell) RemoveUE(rnti uint16) error {
	if err := c.ues.Remove(rnti); err != nil {
		return err
	}
	delete(c.terminals, rnti)
	return nil
}

// Close releases the RNTI slab.
func (c *Cell) Close() { c.pool.Teardown() }

// ProcessSlot runs one slot: traffic arrival, downlink scheduling and
// loopback, then uplink scheduling and loopback carrying the HARQ-ACK and
// CSI of the downlink.
func (c *Cell) ProcessSlot(ctx context.Context, sp timectrl.SlotPoint) error {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "gnb.slot", observability.SlotAttrs(c.cfg.PCI, sp)...)
	defer span.End()
	ctx = logging.ContextWithSlot(ctx, sp.Index())
	log := c.log

	c.arrivals()
	c.dlMap.Reset()
	c.ulMap.Reset()

	if err := c.downlink(ctx, log, sp); err != nil {
		return observability.Fail(span, err)
	}
	if err := c.uplink(ctx, log, sp); err != nil {
		return observability.Fail(span, err)
	}
	c.rr++
	c.stats.Slots++

	nof := float64(c.cfg.NofPRB)
	c.metrics.SetUtilization(c.cfg.PCI, "dl", float64(c.dlMap.PRBs().Count())/nof)
	c.metrics.SetUtilization(c.cfg.PCI, "ul", float64(c.ulMap.PRBs().Count())/nof)
	c.metrics.ObserveSlot(c.cfg.PCI, time.Since(start))
	return nil
}

func (c *Cell) arrivals() {
	for _, ue := range c.ues.List() {
		_ = c.ues.Update(ue.RNTI, func(u *kb.UE) {
			u.DLPending = min(u.DLPending+c.cfg.Traffic.DLBytesPerSlot, maxPending)
		})
		t := c.terminals[ue.RNTI]
		t.ulBuffer = min(t.ulBuffer+c.cfg.Traffic.ULBytesPerSlot, maxPending)
	}
}

func (c *Cell) downlink(ctx context.Context, log logging.Logger, sp timectrl.SlotPoint) error {
	var cands []kb.UE
	for _, ue := range c.ues.List() {
		if ue.DLPending > 0 && ue.DLInFlight == 0 {
			cands = append(cands, ue)
		}
	}
	chosen := roundRobin(cands, c.rr, int(c.cfg.MaxUEsPerSlot))
	if len(chosen) == 0 {
		return nil
	}
	share := c.cfg.NofPRB / uint32(len(chosen))
	ctx, span := observability.StartSpan(ctx, "gnb.downlink", observability.AttrUEs.Int(len(chosen)))
	defer span.End()
	for _, ue := range chosen {
		if err := c.serveDL(ctx, log, sp, ue, share); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cell) serveDL(ctx context.Context, log logging.Logger, sp timectrl.SlotPoint, ue kb.UE, share uint32) error {
	_, field, ok := allocate(c.dlMap, c.dlHL.RAType, share)
	if !ok {
		return nil
	}
	mcs := mcsForCQI(cqiTableFor(c.dlTable), ue.CQI)
	layers := c.cfg.MaxLayers
	cfg, err := ra.DLDCIToGrant(ra.Request{
		Carrier: c.carrier,
		BWP:     c.bwp,
		HL:      c.dlHL,
		DCI: model.DCI{
			Format: model.DCIFormat11, RNTI: ue.RNTI, RNTIType: model.RNTITypeC,
			SearchSpace: model.SearchSpaceUE, FreqField: field,
			MCS: mcs, MCS2: mcs, Enable2ndTB: layers > 4, NofLayers: layers, NDI: ue.NDI,
		},
	})
	if err != nil {
		c.stats.DLGrantErrors++
		log.Warn(ctx, "downlink grant derivation failed", logging.RNTI(ue.RNTI), logging.Err(err))
		return nil
	}
	g := &cfg.Grant

	var tx, rx [model.MaxCodewords][]byte
	var sent uint32
	for q, tb := range g.TB {
		if !tb.Enabled {
			continue
		}
		tx[q] = make([]byte, tb.TBS/8)
		rx[q] = make([]byte, tb.TBS/8)
		n, err := c.buildDL(tx[q], sp, q, ue.DLPending-sent)
		if err != nil {
			return fmt.Errorf("rnti 0x%04x: %w", ue.RNTI, err)
		}
		sent += n
	}

	grids := c.dlGrids[:g.NofLayers]
	for _, grid := range grids {
		clear(grid)
	}
	if err := c.pdschTx.Encode(ctx, &cfg, sp.Slot, tx, grids); err != nil {
		return fmt.Errorf("pdsch encode rnti 0x%04x: %w", ue.RNTI, err)
	}
	term := c.terminals[ue.RNTI]
	n0 := noiseVar(c.ch.fade(term.snrdB, fadingSigmaDB))
	c.ch.awgn(grids, n0)

	res, err := c.pdschRx.Decode(ctx, &cfg, dmrs.Flat(n0), grids, rx)
	if err != nil {
		return fmt.Errorf("pdsch decode rnti 0x%04x: %w", ue.RNTI, err)
	}

	// UE side: HARQ-ACK per codeword and a fresh CQI measurement.
	term.ack = term.ack[:0]
	for q, tb := range g.TB {
		if !tb.Enabled {
			continue
		}
		crc := res.Valid && res.CW[q].CRC
		c.metrics.IncPDSCH(observability.TBResult(res.Valid, res.CW[q].CRC))
		switch {
		case !res.Valid:
			c.stats.DLSkipped++
		case crc:
			c.stats.DLAck++
		default:
			c.stats.DLNack++
		}
		if crc {
			var pdu mac.PDU
			if err := pdu.Unpack(rx[q], model.Downlink); err != nil {
				c.stats.MACErrors++
				c.metrics.IncMACError("dl")
				log.Warn(ctx, "malformed downlink MAC PDU", logging.RNTI(ue.RNTI), logging.Err(err))
				crc = false
			}
		}
		term.ack = append(term.ack, boolBit(crc))
	}
	if res.Valid {
		term.cqi = measureCQI(cqiTableFor(c.dlTable), float64(res.SNRdB))
	}

	_ = c.ues.Update(ue.RNTI, func(u *kb.UE) { u.DLInFlight = sent })
	if c.cfg.UCI.ACKBits == 0 {
		// Without HARQ-ACK feedback the outcome is applied directly.
		c.applyACK(ue.RNTI, term.ack)
		term.ack = term.ack[:0]
	}
	log.Debug(ctx, "pdsch", logging.RNTI(ue.RNTI), logging.Uint32("mcs", mcs),
		logging.Uint32("tbs", g.TB[0].TBS), logging.Uint32("prb", g.NofPRB()),
		logging.Bool("crc", res.CRC(g)))
	return nil
}

// buildDL assembles one downlink transport block and returns the SDU bytes
// it carries.
func (c *Cell) buildDL(buf []byte, sp timectrl.SlotPoint, q int, pending uint32) (uint32, error) {
	var pdu mac.PDU
	pdu.Init(buf, model.Downlink)
	if q == 0 && sp.Index()%taPeriodSlots == 0 {
		if err := pdu.AddTACmd(0, 31); err != nil && !errors.Is(err, mac.ErrNoSpace) {
			return 0, err
		}
	}
	n := min(uint32(sduRoom(pdu.Remaining())), pending)
	if n > 0 {
		sdu := make([]byte, n)
		c.ch.fill(sdu)
		if err := pdu.AddSDU(drbLCID, sdu); err != nil {
			return 0, err
		}
	}
	pdu.Pack()
	return n, nil
}

// applyACK settles the in-flight downlink data of rnti.
func (c *Cell) applyACK(rnti uint16, ack []uint8) {
	ok := len(ack) > 0
	for _, b := range ack {
		ok = ok && b == 1
	}
	_ = c.ues.Update(rnti, func(u *kb.UE) {
		if ok {
			u.DLPending -= min(u.DLPending, u.DLInFlight)
			u.Stats.DLBytes += uint64(u.DLInFlight)
			u.Stats.DLAck++
			u.NDI ^= 1
			c.stats.DLBytes += uint64(u.DLInFlight)
		} else {
			u.Stats.DLNack++
		}
		u.DLInFlight = 0
	})
}

func (c *Cell) uplink(ctx context.Context, log logging.Logger, sp timectrl.SlotPoint) error {
	var withACK, rest []kb.UE
	for _, ue := range c.ues.List() {
		switch {
		case len(c.terminals[ue.RNTI].ack) > 0:
			withACK = append(withACK, ue)
		case ue.ULPending > 0, sp.Index()%srPeriodSlots == uint64(ue.RNTI)%srPeriodSlots:
			rest = append(rest, ue)
		}
	}
	room := max(int(c.cfg.MaxUEsPerSlot)-len(withACK), 0)
	chosen := append(withACK, roundRobin(rest, c.rr, room)...)
	if len(chosen) == 0 {
		return nil
	}
	share := c.cfg.NofPRB / uint32(len(chosen))
	ctx, span := observability.StartSpan(ctx, "gnb.uplink", observability.AttrUEs.Int(len(chosen)))
	defer span.End()
	for _, ue := range chosen {
		if err := c.serveUL(ctx, log, sp, ue, share); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cell) serveUL(ctx context.Context, log logging.Logger, sp timectrl.SlotPoint, ue kb.UE, share uint32) error {
	term := c.terminals[ue.RNTI]
	_, field, ok := allocate(c.ulMap, c.ulHL.RAType, share)
	if !ok {
		return nil
	}
	mcs := mcsForCQI(cqiTableFor(c.ulTable), ue.CQI)
	cfg, err := ra.ULDCIToGrant(ra.Request{
		Carrier: c.carrier,
		BWP:     c.bwp,
		HL:      c.ulHL,
		DCI: model.DCI{
			Format: model.DCIFormat01, RNTI: ue.RNTI, RNTIType: model.RNTITypeC,
			SearchSpace: model.SearchSpaceUE, FreqField: field, MCS: mcs, NofLayers: 1,
		},
	})
	if err != nil {
		c.stats.ULGrantErrors++
		c.dropACK(ue.RNTI, term)
		log.Warn(ctx, "uplink grant derivation failed", logging.RNTI(ue.RNTI), logging.Err(err))
		return nil
	}

	u, nofACK := c.uciFor(term)
	if err := ra.SetULGrantUCI(c.ulHL, &cfg, uint32(len(u.ACK)), uint32(len(u.CSI1)), uint32(len(u.CSI2))); err != nil {
		return fmt.Errorf("uci rnti 0x%04x: %w", ue.RNTI, err)
	}

	tb := cfg.Grant.TB[0]
	tx := make([]byte, tb.TBS/8)
	sent, err := c.buildUL(tx, term)
	if err != nil {
		return fmt.Errorf("rnti 0x%04x: %w", ue.RNTI, err)
	}

	grids := c.ulGrids
	clear(grids[0])
	if err := c.puschTx.Encode(ctx, &cfg, sp.Slot, tx, u, grids); err != nil {
		if errors.Is(err, uci.ErrCapacity) {
			c.stats.ULGrantErrors++
			c.dropACK(ue.RNTI, term)
			log.Warn(ctx, "uplink grant too small for UCI", logging.RNTI(ue.RNTI), logging.Err(err))
			return nil
		}
		return fmt.Errorf("pusch encode rnti 0x%04x: %w", ue.RNTI, err)
	}
	n0 := noiseVar(c.ch.fade(term.snrdB, fadingSigmaDB))
	c.ch.awgn(grids, n0)

	rx := make([]byte, len(tx))
	res, err := c.puschRx.Decode(ctx, &cfg, dmrs.Flat(n0), grids, rx)
	if err != nil {
		return fmt.Errorf("pusch decode rnti 0x%04x: %w", ue.RNTI, err)
	}
	term.ack = term.ack[:0]

	c.metrics.IncPUSCH(observability.TBResult(res.Valid, res.ULSCH.CRC))
	switch {
	case !res.Valid:
		c.stats.ULSkipped++
	case res.ULSCH.CRC:
		c.stats.ULAck++
		term.ulBuffer -= min(term.ulBuffer, sent)
		c.receiveUL(ctx, log, ue.RNTI, rx)
	default:
		c.stats.ULNack++
		_ = c.ues.Update(ue.RNTI, func(x *kb.UE) { x.Stats.ULNack++ })
	}
	c.receiveUCI(ue.RNTI, u, nofACK, res)

	log.Debug(ctx, "pusch", logging.RNTI(ue.RNTI), logging.Uint32("mcs", mcs),
		logging.Uint32("tbs", tb.TBS), logging.Uint32("prb", cfg.Grant.NofPRB()),
		logging.Bool("crc", res.ULSCH.CRC), logging.Int("ack_bits", len(u.ACK)))
	return nil
}

// uciFor builds the UCI a terminal multiplexes on its next PUSCH. The
// HARQ-ACK payload holds one bit per received codeword, zero padded up to
// the configured size; the second result is the number of codeword bits.
func (c *Cell) uciFor(term *terminal) (pusch.UCI, int) {
	var u pusch.UCI
	nofACK := len(term.ack)
	if n := int(c.cfg.UCI.ACKBits); n > 0 && nofACK > 0 {
		u.ACK = make([]uint8, max(n, nofACK))
		copy(u.ACK, term.ack)
	} else {
		nofACK = 0
	}
	if n := c.cfg.UCI.CSI1Bits; n > 0 {
		u.CSI1 = cqiBits(term.cqi, n)
		if m := c.cfg.UCI.CSI2Bits; m > 0 {
			u.CSI2 = make([]uint8, m)
		}
	}
	return u, nofACK
}

// buildUL assembles the uplink transport block of a terminal: data first,
// then a short BSR for what is left and a power headroom report.
func (c *Cell) buildUL(buf []byte, term *terminal) (uint32, error) {
	const ceBytes = 2 + 3 // short BSR and single entry PHR with subheaders
	var pdu mac.PDU
	pdu.Init(buf, model.Uplink)
	n := min(uint32(sduRoom(pdu.Remaining()-ceBytes)), term.ulBuffer)
	if n > 0 {
		sdu := make([]byte, n)
		c.ch.fill(sdu)
		if err := pdu.AddSDU(drbLCID, sdu); err != nil {
			return 0, err
		}
	}
	report := mac.LCGReport{LCG: 0, Index: mac.BufferSizeToIndex(term.ulBuffer - n)}
	if err := pdu.AddShortBSR(report, false); err != nil && !errors.Is(err, mac.ErrNoSpace) {
		return 0, err
	}
	if err := pdu.AddSEPHR(40, 30); err != nil && !errors.Is(err, mac.ErrNoSpace) {
		return 0, err
	}
	pdu.Pack()
	return n, nil
}

// dropACK discards a HARQ-ACK that could not be carried; the gNB sees DTX.
func (c *Cell) dropACK(rnti uint16, term *terminal) {
	if len(term.ack) == 0 {
		return
	}
	term.ack = term.ack[:0]
	c.applyACK(rnti, nil)
}

// receiveUL parses an uplink transport block at the gNB.
func (c *Cell) receiveUL(ctx context.Context, log logging.Logger, rnti uint16, buf []byte) {
	var pdu mac.PDU
	if err := pdu.Unpack(buf, model.Uplink); err != nil {
		c.stats.MACErrors++
		c.metrics.IncMACError("ul")
		log.Warn(ctx, "malformed uplink MAC PDU", logging.RNTI(rnti), logging.Err(err))
		return
	}
	_ = c.ues.Update(rnti, func(u *kb.UE) {
		u.Stats.ULAck++
		for _, sp := range pdu.SubPDUs() {
			switch {
			case sp.IsSDU():
				u.Stats.ULBytes += uint64(sp.SDULen())
				c.stats.ULBytes += uint64(sp.SDULen())
			case sp.LCID() == mac.LCIDShortBSR:
				u.ULPending = mac.IndexToBufferSize(sp.ShortBSR().Index)
				if sp.ShortBSR().Index == 0 {
					u.ULPending = 0
				}
			case sp.LCID() == mac.LCIDSEPHR:
				u.PH, _ = sp.SEPHR()
			}
		}
	})
}

// receiveUCI applies the decoded HARQ-ACK and CSI of one PUSCH. Only the
// first nofACK HARQ-ACK bits report codewords; padding is ignored.
func (c *Cell) receiveUCI(rnti uint16, sent pusch.UCI, nofACK int, res pusch.Result) {
	if len(sent.ACK) > 0 {
		got := res.UCI.ACK
		if !res.ACKValid {
			got = nil // DTX: treated as NACK
		}
		ok := slices.Equal(got, sent.ACK)
		c.metrics.IncUCI("ack", ok)
		if !ok {
			c.stats.UCIErrors++
		}
		if len(got) < nofACK {
			got = nil
		}
		c.applyACK(rnti, got[:min(len(got), nofACK)])
	}
	if len(sent.CSI1) > 0 {
		ok := res.CSI1Valid && slices.Equal(res.UCI.CSI1, sent.CSI1)
		c.metrics.IncUCI("csi1", ok)
		if !ok {
			c.stats.UCIErrors++
			return
		}
		if cqi := cqiFromBits(res.UCI.CSI1); cqi > 0 {
			_ = c.ues.Update(rnti, func(u *kb.UE) { u.CQI = cqi })
		}
	}
	if len(sent.CSI2) > 0 {
		c.metrics.IncUCI("csi2", res.CSI2Valid && slices.Equal(res.UCI.CSI2, sent.CSI2))
	}
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
