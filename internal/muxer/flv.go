package muxer

import (
	"encoding/binary"
	"fmt"
)

// FLV tag types
const (
	TagTypeAudio  = 8
	TagTypeVideo  = 9
	TagTypeScript = 18
)

const (
	codecIDAVC   = 7
	soundFmtAAC  = 10
	frameKey     = 1
	frameInter   = 2
	avcSeqHeader = 0
	avcNALU      = 1
	aacSeqHeader = 0
	aacRaw       = 1
	aacAudioFlag = soundFmtAAC<<4 | 3<<2 | 1<<1 | 1 // 44 kHz, 16 bit, stereo as FLV requires for AAC
)

// FileHeader returns the FLV file header followed by the zero
// PreviousTagSize0 field
func FileHeader(hasVideo, hasAudio bool) []byte {
	var flags byte
	if hasAudio {
		flags |= 0x04
	}
	if hasVideo {
		flags |= 0x01
	}
	return []byte{'F', 'L', 'V', 0x01, flags, 0, 0, 0, 9, 0, 0, 0, 0}
}

// AppendTag appends a complete FLV tag (header, body and trailing
// PreviousTagSize) to dst
func AppendTag(dst []byte, tagType uint8, timestampMs uint32, body []byte) []byte {
	size := len(body)

	dst = append(dst,
		tagType,
		byte(size>>16), byte(size>>8), byte(size),
		byte(timestampMs>>16), byte(timestampMs>>8), byte(timestampMs), byte(timestampMs>>24),
		0, 0, 0, // stream id
	)
	dst = append(dst, body...)
	return binary.BigEndian.AppendUint32(dst, uint32(11+size))
}

// VideoSequenceHeader wraps a serialized AVCDecoderConfigurationRecord in an
// AVC sequence header tag body
func VideoSequenceHeader(record []byte) []byte {
	body := []byte{frameKey<<4 | codecIDAVC, avcSeqHeader, 0, 0, 0}
	return append(body, record...)
}

// VideoTagBody wraps AVCC data in an AVC NALU tag body. compositionMs is
// PTS minus DTS.
func VideoTagBody(keyframe bool, compositionMs int32, avcc []byte) []byte {
	frameType := byte(frameInter)
	if keyframe {
		frameType = frameKey
	}

	cts := uint32(compositionMs) & 0xFFFFFF
	body := make([]byte, 0, 5+len(avcc))
	body = append(body, frameType<<4|codecIDAVC, avcNALU, byte(cts>>16), byte(cts>>8), byte(cts))
	return append(body, avcc...)
}

// AudioSequenceHeader wraps an AAC AudioSpecificConfig in a tag body
func AudioSequenceHeader(asc []byte) []byte {
	return append([]byte{aacAudioFlag, aacSeqHeader}, asc...)
}

// AudioTagBody wraps a raw AAC frame in a tag body
func AudioTagBody(raw []byte) []byte {
	body := make([]byte, 0, 2+len(raw))
	body = append(body, aacAudioFlag, aacRaw)
	return append(body, raw...)
}

// ParseFLVVideoPacket extracts codec data and frame type from FLV video packet
// Returns: isSequenceHeader, isKeyFrame, avcData, error
func ParseFLVVideoPacket(data []byte) (isSequenceHeader bool, isKeyFrame bool, avcData []byte, err error) {
	if len(data) < 5 {
		return false, false, nil, fmt.Errorf("video packet too short: %d bytes", len(data))
	}

	// Byte 0: Frame type (4 bits) + Codec ID (4 bits)
	frameType := (data[0] >> 4) & 0x0F
	codecID := data[0] & 0x0F
	if codecID != codecIDAVC {
		return false, false, nil, fmt.Errorf("not H.264/AVC codec: %d", codecID)
	}

	// Byte 1: AVCPacketType, bytes 2-4: composition time
	return data[1] == avcSeqHeader, frameType == frameKey, data[5:], nil
}

// CompositionTime returns the signed 24-bit composition offset of an AVC
// tag body in milliseconds
func CompositionTime(data []byte) int32 {
	if len(data) < 5 {
		return 0
	}
	cts := int32(data[2])<<16 | int32(data[3])<<8 | int32(data[4])
	if cts&0x800000 != 0 {
		cts -= 1 << 24
	}
	return cts
}

// ParseFLVAudioPacket splits an AAC audio tag body
func ParseFLVAudioPacket(data []byte) (isSequenceHeader bool, raw []byte, err error) {
	if len(data) < 2 {
		return false, nil, fmt.Errorf("audio packet too short: %d bytes", len(data))
	}
	if format := data[0] >> 4; format != soundFmtAAC {
		return false, nil, fmt.Errorf("not AAC audio: %d", format)
	}
	return data[1] == aacSeqHeader, data[2:], nil
}
