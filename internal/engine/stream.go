package engine

import (
	"io"
)

// sliceStream adapts a fully materialized segment slice to the Stream
// interface, for backends that produce their output all at once.
type sliceStream struct {
	segments []Segment
	pos      int
}

// NewSliceStream wraps an in-memory segment slice as a Stream.
func NewSliceStream(segments []Segment) Stream {
	return &sliceStream{segments: segments}
}

func (s *sliceStream) Next() (Segment, error) {
	if s.pos >= len(s.segments) {
		return Segment{}, io.EOF
	}
	seg := s.segments[s.pos]
	s.pos++
	return seg, nil
}

func (s *sliceStream) Close() error {
	return nil
}
