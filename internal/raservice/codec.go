package raservice

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/nrstack/internal/config"
	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/ra"
)

// fields reads typed values out of a google.protobuf.Struct.
type fields struct {
	path string
	m    map[string]*structpb.Value
}

func fieldsOf(path string, s *structpb.Struct) fields {
	if s == nil {
		return fields{path: path}
	}
	return fields{path: path, m: s.GetFields()}
}

func (f fields) name(key string) string {
	if f.path == "" {
		return key
	}
	return f.path + "." + key
}

func (f fields) has(key string) bool {
	_, ok := f.m[key]
	return ok
}

// uint returns a non-negative integral number, or def when absent.
func (f fields) u32(key string, def uint32) (uint32, error) {
	v, ok := f.m[key]
	if !ok {
		return def, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a number", ErrBadRequest, f.name(key))
	}
	x := n.NumberValue
	if x < 0 || x > math.MaxUint32 || x != math.Trunc(x) {
		return 0, fmt.Errorf("%w: %s = %v", ErrBadRequest, f.name(key), x)
	}
	return uint32(x), nil
}

func (f fields) num(key string, def float64) (float64, error) {
	v, ok := f.m[key]
	if !ok {
		return def, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a number", ErrBadRequest, f.name(key))
	}
	return n.NumberValue, nil
}

func (f fields) flag(key string) (bool, error) {
	v, ok := f.m[key]
	if !ok {
		return false, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: %s is not a bool", ErrBadRequest, f.name(key))
	}
	return b.BoolValue, nil
}

func (f fields) str(key, def string) (string, error) {
	v, ok := f.m[key]
	if !ok {
		return def, nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a string", ErrBadRequest, f.name(key))
	}
	return s.StringValue, nil
}

func (f fields) sub(key string) (fields, error) {
	v, ok := f.m[key]
	if !ok {
		return fields{path: f.name(key)}, nil
	}
	s, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return fields{}, fmt.Errorf("%w: %s is not an object", ErrBadRequest, f.name(key))
	}
	return fieldsOf(f.name(key), s.StructValue), nil
}

// grantRequest is a decoded DeriveGrant request.
type grantRequest struct {
	link model.Link
	req  ra.Request
	uci  [3]uint32 // HARQ-ACK, CSI part 1, CSI part 2 bits
}

// parseCell decodes the "cell" object with the field names and defaults of
// the YAML cell configuration.
func parseCell(s *structpb.Struct) (config.CellConfig, error) {
	var cell config.CellConfig
	raw, err := yaml.Marshal(s.AsMap())
	if err != nil {
		return cell, fmt.Errorf("%w: cell: %v", ErrBadRequest, err)
	}
	if err := yaml.Unmarshal(raw, &cell); err != nil {
		return cell, fmt.Errorf("%w: cell: %v", ErrBadRequest, err)
	}
	if err := cell.Validate(); err != nil {
		return cell, err
	}
	return cell, nil
}

var (
	dciFormats = map[string]model.DCIFormat{
		"0_0": model.DCIFormat00, "0_1": model.DCIFormat01,
		"1_0": model.DCIFormat10, "1_1": model.DCIFormat11,
	}
	rntiTypes = map[string]model.RNTIType{
		"c": model.RNTITypeC, "tc": model.RNTITypeTC, "cs": model.RNTITypeCS,
		"sp-csi": model.RNTITypeSPCSI, "mcs-c": model.RNTITypeMCSC,
		"ra": model.RNTITypeRA, "p": model.RNTITypeP, "si": model.RNTITypeSI,
	}
	searchSpaces = map[string]model.SearchSpaceType{
		"common0": model.SearchSpaceCommon0, "common0a": model.SearchSpaceCommon0A,
		"common1": model.SearchSpaceCommon1, "common2": model.SearchSpaceCommon2,
		"common3": model.SearchSpaceCommon3, "ue": model.SearchSpaceUE,
	}
)

func lookup[T any](table map[string]T, f fields, key, def string) (T, error) {
	var zero T
	name, err := f.str(key, def)
	if err != nil {
		return zero, err
	}
	v, ok := table[strings.ToLower(name)]
	if !ok {
		return zero, fmt.Errorf("%w: %s = %q", ErrBadRequest, f.name(key), name)
	}
	return v, nil
}

func parseGrantRequest(s *structpb.Struct) (grantRequest, error) {
	var out grantRequest
	top := fieldsOf("", s)

	link, err := top.str("link", "dl")
	if err != nil {
		return out, err
	}
	switch strings.ToLower(link) {
	case "dl":
		out.link = model.Downlink
	case "ul":
		out.link = model.Uplink
	default:
		return out, fmt.Errorf("%w: link = %q", ErrBadRequest, link)
	}

	cellObj := &structpb.Struct{}
	if v, ok := top.m["cell"]; ok {
		sv, ok := v.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return out, fmt.Errorf("%w: cell is not an object", ErrBadRequest)
		}
		cellObj = sv.StructValue
	}
	cell, err := parseCell(cellObj)
	if err != nil {
		return out, err
	}
	out.req.Carrier = cell.Carrier()
	out.req.HL = cell.HLConfig()
	if out.link == model.Uplink {
		betas := model.DefaultBetaOffsets()
		out.req.HL.BetaOffsets = &betas
	}

	bwp, err := top.sub("bwp")
	if err != nil {
		return out, err
	}
	if out.req.BWP.Start, err = bwp.u32("start", 0); err != nil {
		return out, err
	}
	if out.req.BWP.Start >= cell.NofPRB {
		return out, fmt.Errorf("%w: bwp start %d outside %d PRBs", ErrBadRequest, out.req.BWP.Start, cell.NofPRB)
	}
	if out.req.BWP.NofPRB, err = bwp.u32("nofPrb", cell.NofPRB-out.req.BWP.Start); err != nil {
		return out, err
	}
	if out.req.BWP.Start+out.req.BWP.NofPRB > cell.NofPRB || out.req.BWP.NofPRB == 0 {
		return out, fmt.Errorf("%w: bwp %d+%d outside %d PRBs", ErrBadRequest, out.req.BWP.Start, out.req.BWP.NofPRB, cell.NofPRB)
	}

	if out.req.DCI, err = parseDCI(top, out.link); err != nil {
		return out, err
	}

	if prev, ok := top.m["prevTbs"]; ok {
		list := prev.GetListValue()
		if list == nil || len(list.GetValues()) > model.MaxCodewords {
			return out, fmt.Errorf("%w: prevTbs must list at most %d sizes", ErrBadRequest, model.MaxCodewords)
		}
		for i, v := range list.GetValues() {
			out.req.PrevTBS[i] = uint32(v.GetNumberValue())
		}
	}

	u, err := top.sub("uci")
	if err != nil {
		return out, err
	}
	for i, key := range []string{"ack", "csi1", "csi2"} {
		if out.uci[i], err = u.u32(key, 0); err != nil {
			return out, err
		}
	}
	if out.link == model.Downlink && out.uci != [3]uint32{} {
		return out, fmt.Errorf("%w: uci on a downlink grant", ErrBadRequest)
	}
	return out, nil
}

func parseDCI(top fields, link model.Link) (model.DCI, error) {
	var dci model.DCI
	f, err := top.sub("dci")
	if err != nil {
		return dci, err
	}
	defFormat := "1_1"
	if link == model.Uplink {
		defFormat = "0_1"
	}
	if dci.Format, err = lookup(dciFormats, f, "format", defFormat); err != nil {
		return dci, err
	}
	if dci.RNTIType, err = lookup(rntiTypes, f, "rntiType", "c"); err != nil {
		return dci, err
	}
	if dci.SearchSpace, err = lookup(searchSpaces, f, "searchSpace", "ue"); err != nil {
		return dci, err
	}
	if !f.has("rnti") {
		return dci, fmt.Errorf("%w: dci.rnti is required", ErrBadRequest)
	}
	rnti, err := f.u32("rnti", 0)
	if err != nil {
		return dci, err
	}
	if rnti == 0 || rnti > 0xffff {
		return dci, fmt.Errorf("%w: dci.rnti = %d", ErrBadRequest, rnti)
	}
	dci.RNTI = uint16(rnti)

	numbers := []struct {
		key string
		dst *uint32
		def uint32
	}{
		{"timeIdx", &dci.TimeIdx, 0},
		{"freqField", &dci.FreqField, 0},
		{"mcs", &dci.MCS, 0},
		{"mcs2", &dci.MCS2, 0},
		{"ndi", &dci.NDI, 0},
		{"rv", &dci.RV, 0},
		{"harqPid", &dci.HARQPid, 0},
		{"nofLayers", &dci.NofLayers, 1},
		{"cdmGroupsWithoutData", &dci.CDMGroupsWithoutData, 0},
		{"tbScaling", &dci.TBScaling, 0},
	}
	for _, n := range numbers {
		if *n.dst, err = f.u32(n.key, n.def); err != nil {
			return dci, err
		}
	}
	if dci.Enable2ndTB, err = f.flag("enable2ndTb"); err != nil {
		return dci, err
	}
	if link == model.Downlink && dci.Format != model.DCIFormat10 && dci.Format != model.DCIFormat11 {
		return dci, fmt.Errorf("%w: format %s on a downlink grant", ErrBadRequest, dci.Format)
	}
	if link == model.Uplink && dci.Format != model.DCIFormat00 && dci.Format != model.DCIFormat01 {
		return dci, fmt.Errorf("%w: format %s on an uplink grant", ErrBadRequest, dci.Format)
	}
	return dci, nil
}

// grantStruct renders a derived grant.
func grantStruct(cfg *model.SchCfg) (*structpb.Struct, error) {
	g := &cfg.Grant
	prbs := make([]any, 0, g.NofPRB())
	for _, p := range g.PRBs.Indices() {
		prbs = append(prbs, p)
	}
	var tbs []any
	for q, tb := range g.TB {
		if !tb.Enabled {
			continue
		}
		tbs = append(tbs, map[string]any{
			"codeword":   q,
			"mcs":        tb.MCS,
			"modulation": tb.Mod.String(),
			"r":          tb.R,
			"tbs":        tb.TBS,
			"rv":         tb.RV,
			"ndi":        tb.NDI,
			"nofRe":      tb.NofRE,
			"layers":     tb.Layers,
			"nofBits":    tb.NofBits(),
		})
	}
	out := map[string]any{
		"link":                 g.Link.String(),
		"rnti":                 uint32(g.RNTI),
		"rntiType":             g.RNTIType.String(),
		"dciFormat":            g.DCIFormat.String(),
		"k":                    g.K,
		"s":                    g.S,
		"l":                    g.L,
		"mapping":              g.Mapping.String(),
		"prbs":                 prbs,
		"nofPrb":               g.NofPRB(),
		"nofLayers":            g.NofLayers,
		"cdmGroupsWithoutData": g.CDMGroupsWithoutData,
		"betaDmrs":             g.BetaDMRS,
		"scramblingId":         cfg.ScramblingID,
		"mcsTable":             cfg.MCSTable.String(),
		"dmrs": map[string]any{
			"type":     int(cfg.DMRS.Type),
			"addPos":   int(cfg.DMRS.AddPos),
			"length":   int(cfg.DMRS.Length),
			"typeAPos": int(cfg.DMRS.TypeAPos),
		},
		"tb": tbs,
	}
	if cfg.UCI.HasUCI() {
		out["uci"] = map[string]any{
			"ack":      cfg.UCI.NofACK,
			"csi1":     cfg.UCI.NofCSI1,
			"csi2":     cfg.UCI.NofCSI2,
			"alpha":    cfg.UCI.Alpha,
			"betaAck":  cfg.UCI.BetaACK,
			"betaCsi1": cfg.UCI.BetaCSI1,
			"betaCsi2": cfg.UCI.BetaCSI2,
		}
	}
	return structpb.NewStruct(out)
}

// tbsRequest is a decoded TransportBlockSize request.
type tbsRequest struct {
	table      model.MCSTable
	mcs        uint32
	nofPRB     uint32
	symbols    uint32
	dmrsPerPRB uint32
	xOverhead  uint32
	layers     uint32
	scaling    float64
}

var mcsTables = map[string]model.MCSTable{
	"qam64": model.MCSTable1, "qam256": model.MCSTable2, "qam64lowse": model.MCSTable3,
}

func parseTBSRequest(s *structpb.Struct) (tbsRequest, error) {
	f := fieldsOf("", s)
	var out tbsRequest
	var err error
	if out.table, err = lookup(mcsTables, f, "mcsTable", "qam64"); err != nil {
		return out, err
	}
	numbers := []struct {
		key string
		dst *uint32
		def uint32
	}{
		{"mcs", &out.mcs, 0},
		{"nofPrb", &out.nofPRB, 0},
		{"symbols", &out.symbols, 12},
		{"dmrsPerPrb", &out.dmrsPerPRB, 12},
		{"xOverhead", &out.xOverhead, 0},
		{"layers", &out.layers, 1},
	}
	for _, n := range numbers {
		if *n.dst, err = f.u32(n.key, n.def); err != nil {
			return out, err
		}
	}
	if out.scaling, err = f.num("scaling", 1); err != nil {
		return out, err
	}
	switch {
	case out.nofPRB == 0 || out.nofPRB > 275:
		return out, fmt.Errorf("%w: nofPrb = %d", ErrBadRequest, out.nofPRB)
	case out.symbols == 0 || out.symbols > model.NofSymbolsPerSlot:
		return out, fmt.Errorf("%w: symbols = %d", ErrBadRequest, out.symbols)
	case out.layers == 0 || out.layers > 8:
		return out, fmt.Errorf("%w: layers = %d", ErrBadRequest, out.layers)
	}
	return out, nil
}

// transportBlockSize computes the TBS of an allocation for one MCS.
func transportBlockSize(r tbsRequest) (*structpb.Struct, error) {
	entry, err := ra.MCSInfo(r.table, r.mcs)
	if err != nil {
		return nil, err
	}
	if entry.Reserved {
		return nil, fmt.Errorf("%w: mcs %d is reserved for retransmissions", ra.ErrInvalidMCS, r.mcs)
	}
	nre := ra.NofREForTBS(r.nofPRB, r.symbols, r.dmrsPerPRB, r.xOverhead, 0)
	p := ra.TBSParams{NRE: nre, Scaling: r.scaling, R: entry.R(), Qm: entry.Mod.BitsPerSymbol(), Layers: r.layers}
	tbs, err := ra.TBS(p)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"tbs":        tbs,
		"nre":        nre,
		"ninfo":      p.NInfo(),
		"r":          p.R,
		"qm":         p.Qm,
		"modulation": entry.Mod.String(),
		"se":         entry.SE(),
	})
}
