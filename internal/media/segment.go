package media

import (
	"errors"
	"fmt"
)

// MinSegmentBytes is the size at or below which a segment file is treated as
// empty or corrupt. A 16kHz mono PCM WAV header alone is 44 bytes.
const MinSegmentBytes = 1024

// Segment is one normalized audio slice of the source, in index order.
type Segment struct {
	Index    int     `json:"index"`
	Path     string  `json:"-"`
	Start    float64 `json:"start"`    // seconds into the source
	Duration float64 `json:"duration"` // nominal seconds
	Size     int64   `json:"size"`
}

// End returns the nominal end offset in seconds.
func (s Segment) End() float64 { return s.Start + s.Duration }

func (s Segment) String() string {
	return fmt.Sprintf("segment %d: %.1fs-%.1fs", s.Index, s.Start, s.End())
}

// ErrNoSegments is returned (wrapped in a SegmentationError) when the media
// engine finished but left no usable segment files.
var ErrNoSegments = errors.New("no valid segments produced")

// SegmentationError means no usable audio could be produced from the source.
type SegmentationError struct {
	Source string
	Detail string // engine stderr tail, if any
	Err    error
}

func (e *SegmentationError) Error() string {
	msg := fmt.Sprintf("segmentation of %s failed: %v", e.Source, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *SegmentationError) Unwrap() error { return e.Err }
