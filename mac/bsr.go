package mac

const (
	// NofLCGs is the number of logical channel groups.
	NofLCGs = 8
	// MaxShortBSRIndex is the largest 5 bit buffer size index.
	MaxShortBSRIndex = 31
	// TruncatedBSRDefault is assumed for an LCG flagged in a long truncated
	// BSR whose buffer size did not fit.
	TruncatedBSRDefault = 63
)

// LCGReport is the buffer size index reported for one logical channel
// group.
type LCGReport struct {
	LCG   uint8
	Index uint8
}

// Upper bounds in bytes of the 5 bit buffer size levels. Index 31 means more
// than the last bound.
var bsr5Bounds = [MaxShortBSRIndex]uint32{
	0, 10, 14, 20, 28, 38, 53, 74, 102, 142, 198, 276, 384, 535, 745, 1038,
	1446, 2014, 2806, 3909, 5446, 7587, 10570, 14726, 20516, 28581, 39818,
	55474, 77284, 107669, 150000,
}

// BufferSizeToIndex returns the smallest 5 bit index whose level covers
// bytes.
func BufferSizeToIndex(bytes uint32) uint8 {
	for i, bound := range bsr5Bounds {
		if bytes <= bound {
			return uint8(i)
		}
	}
	return MaxShortBSRIndex
}

// IndexToBufferSize returns the upper bound of a 5 bit buffer size level.
// Index 31 returns the first value above the last bound.
func IndexToBufferSize(idx uint8) uint32 {
	if int(idx) < len(bsr5Bounds) {
		return bsr5Bounds[idx]
	}
	return bsr5Bounds[len(bsr5Bounds)-1] + 1
}
