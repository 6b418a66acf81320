package sink

import (
	"errors"
	"fmt"

	"rapidoutput/internal/muxer"
	"rapidoutput/pkg/models"
)

var errNoVideoHeader = errors.New("video encoder has no parameter sets")

// flvTag is one tag ready to be written to an FLV file or an RTMP stream
type flvTag struct {
	Type        uint8
	TimestampMs uint32
	Body        []byte
	Keyframe    bool
}

// tagger turns packets of one session into FLV tags with timestamps
// relative to the first packet
type tagger struct {
	videoHeader []byte
	audioHeader []byte

	baseUsec int64
	hasBase  bool
}

// newTagger builds the sequence headers from the extra data of the encoders
// bound to host
func newTagger(host Host, flags models.OutputFlags) (*tagger, error) {
	t := &tagger{}

	if flags.Has(models.FlagVideo) {
		if venc := host.VideoEncoder(); venc != nil {
			sps, pps, err := muxer.ExtractSPSandPPS(venc.ExtraData())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errNoVideoHeader, err)
			}
			rec, err := muxer.NewAVCDecoderConfigurationRecord(sps, pps)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errNoVideoHeader, err)
			}
			t.videoHeader = muxer.VideoSequenceHeader(rec.Bytes())
		}
	}
	if flags.Has(models.FlagAudio) {
		if aenc := host.AudioEncoder(0); aenc != nil && len(aenc.ExtraData()) > 0 {
			t.audioHeader = muxer.AudioSequenceHeader(aenc.ExtraData())
		}
	}
	return t, nil
}

func (t *tagger) hasVideo() bool { return t.videoHeader != nil }

func (t *tagger) hasAudio() bool { return t.audioHeader != nil }

// sequenceHeaders returns the tags a decoder needs before any media tag
func (t *tagger) sequenceHeaders() []flvTag {
	var tags []flvTag
	if t.videoHeader != nil {
		tags = append(tags, flvTag{Type: muxer.TagTypeVideo, Body: t.videoHeader, Keyframe: true})
	}
	if t.audioHeader != nil {
		tags = append(tags, flvTag{Type: muxer.TagTypeAudio, Body: t.audioHeader})
	}
	return tags
}

// tag converts p. Packets of extra audio tracks and video packets without
// slice data are skipped.
func (t *tagger) tag(p *models.Packet) (flvTag, bool) {
	if p.Type == models.TrackAudio && p.TrackIdx != 0 {
		return flvTag{}, false
	}

	if !t.hasBase {
		t.baseUsec = p.DTSUsec
		t.hasBase = true
	}
	rel := (p.DTSUsec - t.baseUsec) / 1000
	if rel < 0 {
		rel = 0
	}

	switch p.Type {
	case models.TrackVideo:
		if t.videoHeader == nil {
			return flvTag{}, false
		}
		avcc, err := muxer.ConvertAnnexBToAVCC(p.Data)
		if err != nil {
			return flvTag{}, false
		}
		cts := models.ToMilliseconds(p.PTS-p.DTS, p.TimebaseNum, p.TimebaseDen)
		return flvTag{
			Type:        muxer.TagTypeVideo,
			TimestampMs: uint32(rel),
			Body:        muxer.VideoTagBody(p.Keyframe, int32(cts), avcc),
			Keyframe:    p.Keyframe,
		}, true
	case models.TrackAudio:
		if t.audioHeader == nil {
			return flvTag{}, false
		}
		return flvTag{
			Type:        muxer.TagTypeAudio,
			TimestampMs: uint32(rel),
			Body:        muxer.AudioTagBody(p.Data),
		}, true
	}
	return flvTag{}, false
}
