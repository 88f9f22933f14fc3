// Package mac implements the NR MAC PDU codec: sub-PDU headers, logical
// channel SDUs and the MAC control elements exchanged on DL-SCH and UL-SCH.
package mac

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/nrstack/model"
)

var (
	// ErrMalformedPDU is returned when a transport block cannot be parsed.
	// Sub-PDU boundaries past the failure point cannot be trusted, so the
	// whole PDU is rejected.
	ErrMalformedPDU = errors.New("malformed MAC PDU")
	// ErrNoSpace is returned when a sub-PDU does not fit the remaining
	// transport block budget.
	ErrNoSpace = errors.New("no space left in MAC PDU")
	// ErrInvalidLCID is returned for an LCID that is reserved or not usable
	// for the requested operation.
	ErrInvalidLCID = errors.New("invalid LCID")
	// ErrInvalidCE is returned when control element content is out of range.
	ErrInvalidCE = errors.New("invalid MAC CE")
)

// Shared LCIDs.
const (
	LCIDCCCH    uint8 = 0
	LCIDMinDRB  uint8 = 1
	LCIDMaxLCH  uint8 = 32
	LCIDPadding uint8 = 63
)

// Downlink LCIDs.
const (
	LCIDRecommendedBitRate uint8 = 47
	LCIDSPZPCSIRS          uint8 = 48
	LCIDPUCCHSpatialRel    uint8 = 49
	LCIDSPSRS              uint8 = 50
	LCIDSPCSIReportPUCCH   uint8 = 51
	LCIDTCIStatePDCCH      uint8 = 52
	LCIDTCIStatesPDSCH     uint8 = 53
	LCIDAPCSITrigger       uint8 = 54
	LCIDSPCSIRSCSIIM       uint8 = 55
	LCIDDuplication        uint8 = 56
	LCIDSCellActivation4   uint8 = 57
	LCIDSCellActivation1   uint8 = 58
	LCIDLongDRXCmd         uint8 = 59
	LCIDDRXCmd             uint8 = 60
	LCIDTACmd              uint8 = 61
	LCIDUEConResID         uint8 = 62
)

// Uplink LCIDs. LCID 0 on UL-SCH is the 64 bit CCCH.
const (
	LCIDCCCH64             uint8 = 0
	LCIDCCCH48             uint8 = 52
	LCIDBitRateQuery       uint8 = 53
	LCIDMultiPHR4          uint8 = 54
	LCIDConfiguredGrantAck uint8 = 55
	LCIDMultiPHR1          uint8 = 56
	LCIDSEPHR              uint8 = 57
	LCIDCRNTI              uint8 = 58
	LCIDShortTruncBSR      uint8 = 59
	LCIDLongTruncBSR       uint8 = 60
	LCIDShortBSR           uint8 = 61
	LCIDLongBSR            uint8 = 62
)

// varLen marks a sub-PDU carrying an L field.
const varLen = -1

var dlSizes = map[uint8]int{
	LCIDRecommendedBitRate: 2,
	LCIDSPZPCSIRS:          varLen,
	LCIDPUCCHSpatialRel:    varLen,
	LCIDSPSRS:              varLen,
	LCIDSPCSIReportPUCCH:   varLen,
	LCIDTCIStatePDCCH:      2,
	LCIDTCIStatesPDSCH:     varLen,
	LCIDAPCSITrigger:       varLen,
	LCIDSPCSIRSCSIIM:       varLen,
	LCIDDuplication:        1,
	LCIDSCellActivation4:   4,
	LCIDSCellActivation1:   1,
	LCIDLongDRXCmd:         0,
	LCIDDRXCmd:             0,
	LCIDTACmd:              1,
	LCIDUEConResID:         6,
	LCIDPadding:            0,
}

var ulSizes = map[uint8]int{
	LCIDCCCH64:             8,
	LCIDCCCH48:             6,
	LCIDBitRateQuery:       2,
	LCIDMultiPHR4:          varLen,
	LCIDConfiguredGrantAck: 0,
	LCIDMultiPHR1:          varLen,
	LCIDSEPHR:              2,
	LCIDCRNTI:              2,
	LCIDShortTruncBSR:      1,
	LCIDLongTruncBSR:       varLen,
	LCIDShortBSR:           1,
	LCIDLongBSR:            varLen,
	LCIDPadding:            0,
}

var lcidNames = map[model.Link]map[uint8]string{
	model.Downlink: {
		LCIDCCCH:               "CCCH",
		LCIDRecommendedBitRate: "RECOMMENDED_BIT_RATE",
		LCIDSPZPCSIRS:          "SP_ZP_CSI_RS",
		LCIDPUCCHSpatialRel:    "PUCCH_SPATIAL_REL",
		LCIDSPSRS:              "SP_SRS",
		LCIDSPCSIReportPUCCH:   "SP_CSI_REPORT_PUCCH",
		LCIDTCIStatePDCCH:      "TCI_STATE_PDCCH",
		LCIDTCIStatesPDSCH:     "TCI_STATES_PDSCH",
		LCIDAPCSITrigger:       "AP_CSI_TRIGGER",
		LCIDSPCSIRSCSIIM:       "SP_CSI_RS_CSI_IM",
		LCIDDuplication:        "DUPLICATION",
		LCIDSCellActivation4:   "SCELL_ACT_4",
		LCIDSCellActivation1:   "SCELL_ACT_1",
		LCIDLongDRXCmd:         "LONG_DRX_CMD",
		LCIDDRXCmd:             "DRX_CMD",
		LCIDTACmd:              "TA_CMD",
		LCIDUEConResID:         "CON_RES_ID",
		LCIDPadding:            "PADDING",
	},
	model.Uplink: {
		LCIDCCCH64:             "CCCH_SIZE_64",
		LCIDCCCH48:             "CCCH_SIZE_48",
		LCIDBitRateQuery:       "BIT_RATE_QUERY",
		LCIDMultiPHR4:          "MULTI_PHR_4",
		LCIDConfiguredGrantAck: "CG_CONFIRM",
		LCIDMultiPHR1:          "MULTI_PHR_1",
		LCIDSEPHR:              "SE_PHR",
		LCIDCRNTI:              "CRNTI",
		LCIDShortTruncBSR:      "SHORT_TRUNC_BSR",
		LCIDLongTruncBSR:       "LONG_TRUNC_BSR",
		LCIDShortBSR:           "SHORT_BSR",
		LCIDLongBSR:            "LONG_BSR",
		LCIDPadding:            "PADDING",
	},
}

// IsValidLCID reports whether lcid may appear on the given link. The
// reserved ranges differ: 33..46 on DL-SCH and 33..51 on UL-SCH.
func IsValidLCID(lcid uint8, link model.Link) bool {
	if lcid > LCIDPadding {
		return false
	}
	if lcid <= LCIDMaxLCH {
		return true
	}
	if link == model.Uplink {
		return lcid >= LCIDCCCH48
	}
	return lcid >= LCIDRecommendedBitRate
}

// IsSDU reports whether lcid carries a logical channel SDU rather than a
// control element.
func IsSDU(lcid uint8, link model.Link) bool {
	return lcid <= LCIDMaxLCH || (link == model.Uplink && lcid == LCIDCCCH48)
}

// IsCCCH reports whether lcid is a common control channel.
func IsCCCH(lcid uint8, link model.Link) bool {
	if link == model.Uplink {
		return lcid == LCIDCCCH64 || lcid == LCIDCCCH48
	}
	return lcid == LCIDCCCH
}

// FixedSize returns the payload size of a sub-PDU without an L field, or
// ok=false when the sub-PDU carries one. Only valid LCIDs are accepted.
func FixedSize(lcid uint8, link model.Link) (size int, ok bool) {
	if link == model.Uplink && IsCCCH(lcid, link) {
		return ulSizes[lcid], true
	}
	if lcid <= LCIDMaxLCH {
		return 0, false
	}
	sizes := dlSizes
	if link == model.Uplink {
		sizes = ulSizes
	}
	n, found := sizes[lcid]
	if !found || n == varLen {
		return 0, false
	}
	return n, true
}

// LCIDName returns a human readable name for lcid.
func LCIDName(lcid uint8, link model.Link) string {
	if name, ok := lcidNames[link][lcid]; ok {
		return name
	}
	if lcid <= LCIDMaxLCH {
		return fmt.Sprintf("LCH%d", lcid)
	}
	return fmt.Sprintf("RESERVED(%d)", lcid)
}
