package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/signalsfoundry/nrstack/mac"
	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/ra"
	"github.com/signalsfoundry/nrstack/rb"
)

var (
	okText   = color.New(color.FgGreen).SprintFunc()
	badText  = color.New(color.FgRed, color.Bold).SprintFunc()
	headText = color.New(color.Bold, color.FgCyan).SprintfFunc()
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_RIGHT)
	return t
}

func parseMCSTable(name string) (model.MCSTable, error) {
	switch strings.ToLower(name) {
	case "qam64", "1":
		return model.MCSTable1, nil
	case "qam256", "2":
		return model.MCSTable2, nil
	case "qam64lowse", "3":
		return model.MCSTable3, nil
	}
	return 0, fmt.Errorf("unknown MCS table %q", name)
}

func parseLink(name string) (model.Link, error) {
	switch strings.ToLower(name) {
	case "dl":
		return model.Downlink, nil
	case "ul":
		return model.Uplink, nil
	}
	return 0, fmt.Errorf("unknown link %q", name)
}

func nonNegative(c *cli.Context, names ...string) error {
	for _, n := range names {
		if c.Int(n) < 0 {
			return fmt.Errorf("--%s must not be negative", n)
		}
	}
	return nil
}

func mcsTable(c *cli.Context) error {
	table, err := parseMCSTable(c.String("table"))
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintln(w, headText("MCS table %s", table))
	t := newTable(w, "MCS", "Modulation", "R x 1024", "SE")
	for i := uint32(0); i <= 31; i++ {
		e, err := ra.MCSInfo(table, i)
		if err != nil {
			break
		}
		if e.Reserved {
			t.Append([]string{strconv.Itoa(int(i)), e.Mod.String(), "reserved", "-"})
			continue
		}
		t.Append([]string{strconv.Itoa(int(i)), e.Mod.String(), fmt.Sprintf("%.1f", e.R1024), fmt.Sprintf("%.4f", e.SE())})
	}
	t.Render()
	return nil
}

func tbsTable(c *cli.Context) error {
	if err := nonNegative(c, "prb", "symbols", "dmrs", "xoverhead", "layers"); err != nil {
		return err
	}
	table, err := parseMCSTable(c.String("table"))
	if err != nil {
		return err
	}
	nre := ra.NofREForTBS(uint32(c.Int("prb")), uint32(c.Int("symbols")), uint32(c.Int("dmrs")), uint32(c.Int("xoverhead")), 0)
	w := c.App.Writer
	fmt.Fprintln(w, headText("%d PRBs, %d REs for TBS, %d layer(s)", c.Int("prb"), nre, c.Int("layers")))
	t := newTable(w, "MCS", "Modulation", "N_info", "TBS")
	for i := uint32(0); i <= 31; i++ {
		e, err := ra.MCSInfo(table, i)
		if err != nil {
			break
		}
		if e.Reserved {
			continue
		}
		p := ra.TBSParams{NRE: nre, R: e.R(), Qm: e.Mod.BitsPerSymbol(), Layers: uint32(c.Int("layers"))}
		tbs, err := ra.TBS(p)
		if err != nil {
			return err
		}
		t.Append([]string{strconv.Itoa(int(i)), e.Mod.String(), fmt.Sprintf("%.0f", p.NInfo()), strconv.Itoa(int(tbs))})
	}
	t.Render()
	return nil
}

func cqiTable(c *cli.Context) error {
	n := c.Int("table")
	if n < 1 || n > 3 {
		return fmt.Errorf("unknown CQI table %d", n)
	}
	table := model.CQITable(n)
	mcsTab := ra.MCSTableForCQI(table)
	w := c.App.Writer
	fmt.Fprintln(w, headText("CQI table %d, scheduled from MCS table %s", n, mcsTab))
	t := newTable(w, "CQI", "SE", "MCS")
	for cqi := uint32(1); cqi < 16; cqi++ {
		se, err := ra.CQIToSE(table, cqi)
		if err != nil {
			return err
		}
		mcs, err := ra.CQIToMCS(table, cqi)
		if err != nil {
			return err
		}
		t.Append([]string{strconv.Itoa(int(cqi)), fmt.Sprintf("%.4f", se), strconv.Itoa(int(mcs))})
	}
	t.Render()
	return nil
}

func riv(c *cli.Context) error {
	if err := nonNegative(c, "prb", "start", "len"); err != nil {
		return err
	}
	n := uint32(c.Int("prb"))
	w := c.App.Writer
	if v := c.Int("riv"); v >= 0 {
		iv, err := ra.RIVToInterval(uint32(v), n)
		if err != nil {
			fmt.Fprintln(w, badText(err.Error()))
			return err
		}
		fmt.Fprintf(w, "riv %d -> prbs %s (start %d, len %d)\n", v, iv, iv.Start(), iv.Len())
		return nil
	}
	start, length := uint32(c.Int("start")), uint32(c.Int("len"))
	if length == 0 || start+length > n {
		return fmt.Errorf("interval %d+%d does not fit %d PRBs", start, length, n)
	}
	iv := rb.NewInterval(start, start+length)
	fmt.Fprintf(w, "prbs %s -> riv %d (%d bits)\n", iv, ra.IntervalToRIV(iv, n), ra.RIVBits(n))
	return nil
}

// parseRanges reads "a-b,c,d-e" inclusive PRB ranges into a bitmap.
func parseRanges(ranges string, size uint32) (rb.Bitmap, error) {
	used := rb.NewBitmap(size)
	for _, part := range strings.Split(ranges, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, found := strings.Cut(part, "-")
		first, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return used, fmt.Errorf("bad range %q", part)
		}
		last := first
		if found {
			if last, err = strconv.ParseUint(hi, 10, 32); err != nil {
				return used, fmt.Errorf("bad range %q", part)
			}
		}
		if last < first || last >= uint64(size) {
			return used, fmt.Errorf("range %q outside %d PRBs", part, size)
		}
		used.SetRange(uint32(first), uint32(last)+1)
	}
	return used, nil
}

func interval(c *cli.Context) error {
	if err := nonNegative(c, "prb", "len", "from"); err != nil {
		return err
	}
	size := uint32(c.Int("prb"))
	if size == 0 || size > rb.MaxPRB {
		return fmt.Errorf("--prb must be 1..%d", rb.MaxPRB)
	}
	used, err := parseRanges(c.Args().First(), size)
	if err != nil {
		return err
	}
	w := c.App.Writer
	want := uint32(c.Int("len"))
	iv := rb.FindEmptyIntervalOfLength(used, want, uint32(c.Int("from")))
	switch {
	case iv.Empty():
		fmt.Fprintln(w, badText("no free PRBs"))
	case iv.Len() < want:
		fmt.Fprintf(w, "%s largest free run %s (%d PRBs)\n", badText("short:"), iv, iv.Len())
	default:
		fmt.Fprintf(w, "%s %s\n", okText("found:"), iv)
	}
	fmt.Fprintf(w, "used %s\n", used)
	return nil
}

// describe renders the content of the sub-PDUs nrtool knows how to read.
func describe(sp *mac.SubPDU, link model.Link) string {
	lcid := sp.LCID()
	switch {
	case sp.IsPadding():
		return "padding"
	case sp.IsSDU():
		return fmt.Sprintf("sdu % x", sp.Payload()[:min(8, sp.SDULen())])
	case link == model.Uplink && (lcid == mac.LCIDShortBSR || lcid == mac.LCIDShortTruncBSR):
		r := sp.ShortBSR()
		return fmt.Sprintf("lcg %d index %d (<= %d bytes)", r.LCG, r.Index, mac.IndexToBufferSize(r.Index))
	case link == model.Uplink && lcid == mac.LCIDSEPHR:
		ph, pcmax := sp.SEPHR()
		return fmt.Sprintf("ph %d pcmax %d", ph, pcmax)
	case link == model.Uplink && lcid == mac.LCIDCRNTI:
		return fmt.Sprintf("c-rnti 0x%04x", sp.CRNTI())
	case link == model.Downlink && lcid == mac.LCIDTACmd:
		tag, ta := sp.TACmd()
		return fmt.Sprintf("tag %d ta %d", tag, ta)
	}
	return fmt.Sprintf("% x", sp.Payload())
}

func macDecode(c *cli.Context) error {
	link, err := parseLink(c.String("link"))
	if err != nil {
		return err
	}
	raw := strings.Join(c.Args(), "")
	raw = strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(raw)
	buf, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("bad hex: %w", err)
	}

	w := c.App.Writer
	var pdu mac.PDU
	err = pdu.Unpack(buf, link)
	fmt.Fprintln(w, headText("%s MAC PDU, %d bytes", strings.ToUpper(link.String()), len(buf)))
	t := newTable(w, "#", "LCID", "Name", "Header", "Length", "Content")
	for i, sp := range pdu.SubPDUs() {
		t.Append([]string{
			strconv.Itoa(i),
			strconv.Itoa(int(sp.LCID())),
			mac.LCIDName(sp.LCID(), link),
			strconv.Itoa(sp.HeaderLen()),
			strconv.Itoa(sp.SDULen()),
			describe(&sp, link),
		})
	}
	t.Render()
	if err != nil {
		fmt.Fprintln(w, badText("parse error: "+err.Error()))
		return err
	}
	fmt.Fprintln(w, okText("ok"))
	return nil
}
