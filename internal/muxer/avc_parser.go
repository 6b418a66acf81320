package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// AVCDecoderConfigurationRecord represents the AVC configuration from FLV/RTMP
// This is sent as the first video packet when a stream starts
type AVCDecoderConfigurationRecord struct {
	ConfigurationVersion uint8
	AVCProfileIndication uint8
	ProfileCompatibility uint8
	AVCLevelIndication   uint8
	NALUnitLength        uint8
	SPS                  [][]byte // Sequence Parameter Sets
	PPS                  [][]byte // Picture Parameter Sets
}

// NewAVCDecoderConfigurationRecord builds the record for one SPS/PPS pair
// with 4-byte NAL length prefixes
func NewAVCDecoderConfigurationRecord(sps, pps []byte) (*AVCDecoderConfigurationRecord, error) {
	if len(sps) < 4 || len(pps) == 0 {
		return nil, ErrNoParamSets
	}

	return &AVCDecoderConfigurationRecord{
		ConfigurationVersion: 1,
		AVCProfileIndication: sps[1],
		ProfileCompatibility: sps[2],
		AVCLevelIndication:   sps[3],
		NALUnitLength:        4,
		SPS:                  [][]byte{sps},
		PPS:                  [][]byte{pps},
	}, nil
}

// Bytes serializes the record
func (r *AVCDecoderConfigurationRecord) Bytes() []byte {
	var buf bytes.Buffer

	buf.WriteByte(r.ConfigurationVersion)
	buf.WriteByte(r.AVCProfileIndication)
	buf.WriteByte(r.ProfileCompatibility)
	buf.WriteByte(r.AVCLevelIndication)
	buf.WriteByte(0xFC | ((r.NALUnitLength - 1) & 0x03))

	buf.WriteByte(0xE0 | byte(len(r.SPS)&0x1F))
	for _, sps := range r.SPS {
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(sps)))
		buf.Write(sps)
	}

	buf.WriteByte(byte(len(r.PPS)))
	for _, pps := range r.PPS {
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(pps)))
		buf.Write(pps)
	}

	return buf.Bytes()
}

// ParseAVCDecoderConfigurationRecord parses the AVCC structure from FLV video data
// This is called when we receive a video packet with AVCPacketType = 0 (sequence header)
func ParseAVCDecoderConfigurationRecord(data []byte) (*AVCDecoderConfigurationRecord, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("data too short for AVCDecoderConfigurationRecord: %d bytes", len(data))
	}

	record := &AVCDecoderConfigurationRecord{
		ConfigurationVersion: data[0],
		AVCProfileIndication: data[1],
		ProfileCompatibility: data[2],
		AVCLevelIndication:   data[3],
		NALUnitLength:        (data[4] & 0x03) + 1,
	}
	r := bytes.NewReader(data[5:])

	// reserved (3 bits) + number of SPS (5 bits)
	numOfSPS, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	record.SPS, err = readParameterSets(r, int(numOfSPS&0x1F))
	if err != nil {
		return nil, fmt.Errorf("failed to read SPS: %w", err)
	}

	numOfPPS, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	record.PPS, err = readParameterSets(r, int(numOfPPS))
	if err != nil {
		return nil, fmt.Errorf("failed to read PPS: %w", err)
	}

	return record, nil
}

func readParameterSets(r *bytes.Reader, n int) ([][]byte, error) {
	sets := make([][]byte, n)
	for i := range sets {
		var length uint16
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, err
		}

		set := make([]byte, length)
		if _, err := io.ReadFull(r, set); err != nil {
			return nil, err
		}
		sets[i] = set
	}
	return sets, nil
}

// PrependSPSPPSAnnexB prepends SPS and PPS to frame data in Annex-B format
func PrependSPSPPSAnnexB(frameData []byte, sps, pps [][]byte) []byte {
	var buf bytes.Buffer

	for _, s := range sps {
		buf.Write(StartCode4)
		buf.Write(s)
	}
	for _, p := range pps {
		buf.Write(StartCode4)
		buf.Write(p)
	}
	buf.Write(frameData)

	return buf.Bytes()
}
