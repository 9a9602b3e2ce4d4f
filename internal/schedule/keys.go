package schedule

import "github.com/koster-lab/kso-agent/internal/catalog"

// KeySet is a set of exclusion keys.
type KeySet[K comparable] map[K]struct{}

func NewKeySet[K comparable](keys ...K) KeySet[K] {
	s := make(KeySet[K], len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s KeySet[K]) Add(k K) {
	s[k] = struct{}{}
}

func (s KeySet[K]) Has(k K) bool {
	_, ok := s[k]
	return ok
}

// FrameKey identifies a frame subject.
type FrameKey struct {
	MovieID    int64
	FrameIndex int64
	SpeciesID  int64
}

func UploadedFrameKeys(frames []catalog.UploadedFrame) KeySet[FrameKey] {
	s := make(KeySet[FrameKey], len(frames))
	for _, f := range frames {
		s.Add(FrameKey{MovieID: f.MovieID, FrameIndex: f.FrameIndex, SpeciesID: f.SpeciesID})
	}
	return s
}

// Interval is a half-open time range [Start, End) in seconds.
type Interval struct {
	Start float64
	End   float64
}

func (a Interval) Overlaps(b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// Intervals keeps the uploaded clip ranges of one movie.
type Intervals []Interval

func UploadedClipIntervals(movieID int64, clips []catalog.UploadedClip) Intervals {
	var out Intervals
	for _, c := range clips {
		if c.MovieID != movieID {
			continue
		}
		out = append(out, Interval{Start: c.Start, End: c.End})
	}
	return out
}

func (iv Intervals) Overlaps(x Interval) bool {
	for _, other := range iv {
		if x.Overlaps(other) {
			return true
		}
	}
	return false
}
