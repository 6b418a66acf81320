// Package muxer converts H.264 between Annex-B and AVCC framing and builds
// the FLV tag bodies RTMP and FLV recordings carry.
package muxer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// H.264 NAL unit types
const (
	NALUnitTypeNonIDR = 1
	NALUnitTypeIDR    = 5
	NALUnitTypeSEI    = 6
	NALUnitTypeSPS    = 7
	NALUnitTypePPS    = 8
	NALUnitTypeAUD    = 9
)

// AnnexB start codes
var (
	// 4-byte start code (used for first NAL or after SPS/PPS)
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	// 3-byte start code (used for most NALs)
	StartCode3 = []byte{0x00, 0x00, 0x01}
)

var (
	ErrEmptyData   = errors.New("empty H.264 data")
	ErrNoNALUnits  = errors.New("no NAL units found")
	ErrNoParamSets = errors.New("no SPS or PPS found")
)

// ConvertAVCCToAnnexB converts H.264 from AVCC format (length-prefixed NAL units)
// to Annex-B format (start-code-prefixed NAL units).
//
// AVCC format (used by RTMP/FLV/MP4):
//
//	[4-byte length][NAL unit][4-byte length][NAL unit]...
//
// Annex-B format (used by raw H.264 streams, MPEG-TS):
//
//	[0x00 0x00 0x00 0x01][NAL unit][0x00 0x00 0x00 0x01][NAL unit]...
func ConvertAVCCToAnnexB(avccData []byte) ([]byte, error) {
	if len(avccData) == 0 {
		return nil, ErrEmptyData
	}

	var annexB bytes.Buffer
	offset := 0
	nalCount := 0

	for offset+4 <= len(avccData) {
		nalSize := binary.BigEndian.Uint32(avccData[offset : offset+4])
		offset += 4

		if nalSize == 0 {
			continue
		}
		if offset+int(nalSize) > len(avccData) {
			return nil, fmt.Errorf("invalid NAL size %d at offset %d (exceeds buffer)", nalSize, offset-4)
		}

		nalUnit := avccData[offset : offset+int(nalSize)]
		offset += int(nalSize)

		// 4-byte start codes for SPS/PPS/IDR, 3-byte for others
		nalType := nalUnit[0] & 0x1F
		if nalType == NALUnitTypeSPS || nalType == NALUnitTypePPS || nalType == NALUnitTypeIDR {
			annexB.Write(StartCode4)
		} else {
			annexB.Write(StartCode3)
		}

		annexB.Write(nalUnit)
		nalCount++
	}

	if nalCount == 0 {
		return nil, ErrNoNALUnits
	}
	return annexB.Bytes(), nil
}

// SplitAnnexB returns the NAL units of an Annex-B stream without their
// start codes
func SplitAnnexB(data []byte) [][]byte {
	var nalus [][]byte

	start := -1
	i := 0
	for i+3 <= len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				nalus = appendNALU(nalus, data[start:i])
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nalus = appendNALU(nalus, data[start:])
	}
	return nalus
}

// appendNALU drops the zero byte a 4-byte start code leaves at the end of
// the previous unit
func appendNALU(nalus [][]byte, nalu []byte) [][]byte {
	for len(nalu) > 0 && nalu[len(nalu)-1] == 0 {
		nalu = nalu[:len(nalu)-1]
	}
	if len(nalu) == 0 {
		return nalus
	}
	return append(nalus, nalu)
}

// ConvertAnnexBToAVCC converts Annex-B data to 4-byte length-prefixed NAL
// units. Parameter sets and access unit delimiters are left out, since AVCC
// streams carry them in the decoder configuration record.
func ConvertAnnexBToAVCC(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	nalus := SplitAnnexB(data)
	if len(nalus) == 0 {
		return nil, ErrNoNALUnits
	}

	var out bytes.Buffer
	var size [4]byte
	for _, nalu := range nalus {
		switch nalu[0] & 0x1F {
		case NALUnitTypeSPS, NALUnitTypePPS, NALUnitTypeAUD:
			continue
		}
		binary.BigEndian.PutUint32(size[:], uint32(len(nalu)))
		out.Write(size[:])
		out.Write(nalu)
	}

	if out.Len() == 0 {
		return nil, ErrNoNALUnits
	}
	return out.Bytes(), nil
}

// IsAVCCFormat detects if data is in AVCC format by checking for length prefix
func IsAVCCFormat(data []byte) bool {
	if len(data) < 5 {
		return false
	}

	nalSize := binary.BigEndian.Uint32(data[0:4])
	if nalSize == 0 || nalSize >= uint32(len(data)) {
		return false
	}

	// NAL header: forbidden_zero_bit(1) + nal_ref_idc(2) + nal_unit_type(5)
	nalHeader := data[4]
	forbiddenBit := (nalHeader >> 7) & 0x01
	nalType := nalHeader & 0x1F
	return forbiddenBit == 0 && nalType >= 1 && nalType <= 21
}

// IsAnnexBFormat detects if data is in Annex-B format by checking for start codes
func IsAnnexBFormat(data []byte) bool {
	if len(data) >= 4 && bytes.Equal(data[0:4], StartCode4) {
		return true
	}
	return len(data) >= 3 && bytes.Equal(data[0:3], StartCode3)
}

// ExtractSPSandPPS returns the first SPS and PPS NAL units of AVCC or
// Annex-B data, without start codes
func ExtractSPSandPPS(data []byte) (sps, pps []byte, err error) {
	annexB := data
	// a 4-byte start code also reads as a 1-byte AVCC length
	if !IsAnnexBFormat(data) && IsAVCCFormat(data) {
		annexB, err = ConvertAVCCToAnnexB(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to convert to Annex-B: %w", err)
		}
	}

	for _, nalu := range SplitAnnexB(annexB) {
		switch nalu[0] & 0x1F {
		case NALUnitTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case NALUnitTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
		if sps != nil && pps != nil {
			return sps, pps, nil
		}
	}

	if sps == nil || pps == nil {
		return sps, pps, ErrNoParamSets
	}
	return sps, pps, nil
}

// GetNALUnitType returns the type of the first NAL unit in the data
func GetNALUnitType(data []byte) (nalType uint8, err error) {
	if IsAnnexBFormat(data) {
		startCodeLen := 4
		if bytes.Equal(data[0:3], StartCode3) {
			startCodeLen = 3
		}
		if len(data) <= startCodeLen {
			return 0, fmt.Errorf("data too short after start code")
		}
		return data[startCodeLen] & 0x1F, nil
	}

	if IsAVCCFormat(data) {
		return data[4] & 0x1F, nil
	}

	return 0, fmt.Errorf("unknown format")
}

// ContainsIDR reports whether Annex-B data carries an IDR slice
func ContainsIDR(data []byte) bool {
	for _, nalu := range SplitAnnexB(data) {
		if nalu[0]&0x1F == NALUnitTypeIDR {
			return true
		}
	}
	return false
}
