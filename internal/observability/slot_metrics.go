package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transport block outcome labels.
const (
	ResultACK     = "ack"
	ResultNACK    = "nack"
	ResultSkipped = "skipped"
)

// SlotCollector exposes per-slot Prometheus metrics of the slot engine.
type SlotCollector struct {
	Slots          *prometheus.CounterVec
	SlotDuration   prometheus.Histogram
	PDSCHBlocks    *prometheus.CounterVec
	PUSCHBlocks    *prometheus.CounterVec
	UCIReports     *prometheus.CounterVec
	MACErrors      *prometheus.CounterVec
	PRBUtilization *prometheus.GaugeVec
}

// NewSlotCollector registers slot metrics against the provided registerer.
func NewSlotCollector(reg prometheus.Registerer) (*SlotCollector, error) {
	reg, _ = registryOrDefault(reg)

	slots, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nrstack_slots_total",
		Help: "Slots processed, labeled by cell.",
	}, []string{"pci"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nrstack_slot_duration_seconds",
		Help:    "Wall time spent processing one slot of one cell.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	}))
	if err != nil {
		return nil, err
	}

	pdsch, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nrstack_pdsch_tb_total",
		Help: "PDSCH transport blocks, labeled by decode result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	pusch, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nrstack_pusch_tb_total",
		Help: "PUSCH transport blocks, labeled by decode result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	uciReports, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nrstack_pusch_uci_total",
		Help: "UCI parts carried on PUSCH, labeled by part and whether they decoded correctly.",
	}, []string{"part", "result"}))
	if err != nil {
		return nil, err
	}

	macErrors, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nrstack_mac_pdu_errors_total",
		Help: "MAC PDUs that failed to parse, labeled by direction.",
	}, []string{"dir"}))
	if err != nil {
		return nil, err
	}

	util, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nrstack_prb_utilization",
		Help: "Fraction of the BWP allocated in the last slot, labeled by cell and direction.",
	}, []string{"pci", "dir"}))
	if err != nil {
		return nil, err
	}

	return &SlotCollector{
		Slots:          slots,
		SlotDuration:   duration,
		PDSCHBlocks:    pdsch,
		PUSCHBlocks:    pusch,
		UCIReports:     uciReports,
		MACErrors:      macErrors,
		PRBUtilization: util,
	}, nil
}

// ObserveSlot counts one processed slot of cell pci and its duration.
func (c *SlotCollector) ObserveSlot(pci uint32, d time.Duration) {
	if c == nil {
		return
	}
	c.Slots.WithLabelValues(strconv.FormatUint(uint64(pci), 10)).Inc()
	c.SlotDuration.Observe(d.Seconds())
}

// IncPDSCH counts a PDSCH transport block outcome.
func (c *SlotCollector) IncPDSCH(result string) {
	if c == nil {
		return
	}
	c.PDSCHBlocks.WithLabelValues(result).Inc()
}

// IncPUSCH counts a PUSCH transport block outcome.
func (c *SlotCollector) IncPUSCH(result string) {
	if c == nil {
		return
	}
	c.PUSCHBlocks.WithLabelValues(result).Inc()
}

// IncUCI counts one decoded UCI part.
func (c *SlotCollector) IncUCI(part string, ok bool) {
	if c == nil {
		return
	}
	result := ResultACK
	if !ok {
		result = ResultNACK
	}
	c.UCIReports.WithLabelValues(part, result).Inc()
}

// IncMACError counts a MAC PDU that failed to parse.
func (c *SlotCollector) IncMACError(dir string) {
	if c == nil {
		return
	}
	c.MACErrors.WithLabelValues(dir).Inc()
}

// SetUtilization records the allocated fraction of a BWP, clamped to [0, 1].
func (c *SlotCollector) SetUtilization(pci uint32, dir string, ratio float64) {
	if c == nil {
		return
	}
	ratio = min(max(ratio, 0), 1)
	c.PRBUtilization.WithLabelValues(strconv.FormatUint(uint64(pci), 10), dir).Set(ratio)
}

// TBResult maps a decode outcome onto a result label.
func TBResult(valid, crc bool) string {
	switch {
	case !valid:
		return ResultSkipped
	case crc:
		return ResultACK
	}
	return ResultNACK
}
