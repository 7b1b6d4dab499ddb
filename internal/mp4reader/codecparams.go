package mp4reader

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// firstAVCSPS extracts the first Sequence Parameter Set from an avcC
// configuration record (ISO/IEC 14496-15). Returns nil if the record is
// malformed or carries no SPS; callers treat that as "no fallback available"
// rather than a parse failure, since width/height from tkhd are normally
// present.
func firstAVCSPS(avcC []byte) []byte {
	if len(avcC) < 6 {
		return nil
	}
	numSPS := int(avcC[5] & 0x1F)
	if numSPS == 0 {
		return nil
	}
	pos := 6
	for i := 0; i < numSPS; i++ {
		if pos+2 > len(avcC) {
			return nil
		}
		length := int(avcC[pos])<<8 | int(avcC[pos+1])
		pos += 2
		if pos+length > len(avcC) {
			return nil
		}
		if i == 0 {
			return avcC[pos : pos+length]
		}
		pos += length
	}
	return nil
}

// avcDimensions parses the first SPS in an avcC record and returns the
// decoded picture width/height, using mediacommon's H.264 SPS parser.
func avcDimensions(avcC []byte) (width, height uint16, ok bool) {
	sps := firstAVCSPS(avcC)
	if sps == nil {
		return 0, 0, false
	}
	var spsp h264.SPS
	if err := spsp.Unmarshal(sps); err != nil {
		return 0, 0, false
	}
	return uint16(spsp.Width()), uint16(spsp.Height()), true
}

// firstHEVCSPS extracts the first SPS NAL unit from an hvcC configuration
// record (ISO/IEC 14496-15 §8.3.3.1). The record carries one or more arrays,
// each tagged with a NAL unit type; we scan for the SPS array (type 33).
func firstHEVCSPS(hvcC []byte) []byte {
	const hevcNALTypeSPS = 33
	if len(hvcC) < 23 {
		return nil
	}
	numArrays := int(hvcC[22])
	pos := 23
	for i := 0; i < numArrays; i++ {
		if pos+3 > len(hvcC) {
			return nil
		}
		nalType := hvcC[pos] & 0x3F
		numNALUs := int(hvcC[pos+1])<<8 | int(hvcC[pos+2])
		pos += 3
		for j := 0; j < numNALUs; j++ {
			if pos+2 > len(hvcC) {
				return nil
			}
			length := int(hvcC[pos])<<8 | int(hvcC[pos+1])
			pos += 2
			if pos+length > len(hvcC) {
				return nil
			}
			if nalType == hevcNALTypeSPS && j == 0 {
				return hvcC[pos : pos+length]
			}
			pos += length
		}
	}
	return nil
}

// hevcDimensions parses the first SPS in an hvcC record using mediacommon's
// H.265 SPS parser.
func hevcDimensions(hvcC []byte) (width, height uint16, ok bool) {
	sps := firstHEVCSPS(hvcC)
	if sps == nil {
		return 0, 0, false
	}
	var spsp h265.SPS
	if err := spsp.Unmarshal(sps); err != nil {
		return 0, 0, false
	}
	return uint16(spsp.Width()), uint16(spsp.Height()), true
}
