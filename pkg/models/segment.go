package models

import "time"

// Segment represents a recorded FLV segment
type Segment struct {
	OutputName  string    `json:"outputName"`  // Output this segment belongs to
	SequenceNum uint64    `json:"sequenceNum"` // Segment sequence number
	Duration    float64   `json:"duration"`    // Duration in seconds
	Packets     int       `json:"packets"`     // Number of media tags in the segment
	FilePath    string    `json:"filePath"`    // Path to segment file (local or GCS)
	FileSize    int64     `json:"fileSize"`    // Size in bytes
	CreatedAt   time.Time `json:"createdAt"`   // When segment was created
}

// SegmentIndex represents the sliding window of recorded segments
type SegmentIndex struct {
	OutputName    string     `json:"outputName"`    // Output this index belongs to
	MediaSequence uint64     `json:"mediaSequence"` // Sequence number of the first segment
	Segments      []*Segment `json:"segments"`      // Segments in the window
	MaxSegments   int        `json:"maxSegments"`   // Max segments to keep (0 keeps all)
	LastUpdated   time.Time  `json:"lastUpdated"`   // Last time the index was updated
}

// AddSegment adds a new segment to the index and maintains the sliding window.
// It returns the segment that fell out of the window, if any.
func (idx *SegmentIndex) AddSegment(seg *Segment) *Segment {
	if len(idx.Segments) == 0 {
		idx.MediaSequence = seg.SequenceNum
	}
	idx.Segments = append(idx.Segments, seg)
	idx.LastUpdated = time.Now()

	if idx.MaxSegments > 0 && len(idx.Segments) > idx.MaxSegments {
		old := idx.Segments[0]
		idx.Segments = idx.Segments[1:]
		idx.MediaSequence = idx.Segments[0].SequenceNum
		return old
	}

	return nil
}
