package logging

import "strings"

// ProgressSampler suppresses repetitive progress events while preserving
// signal when the step changes or the percentage crosses a bucket boundary.
type ProgressSampler struct {
	bucketSize float64
	lastStep   string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent. Non-positive widths default to 5.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldEmit reports whether a progress event for step at percent should be
// surfaced. Negative percentages mean unknown and only emit on a step change.
func (s *ProgressSampler) ShouldEmit(step string, percent float64) bool {
	if s == nil {
		return true
	}
	emit := false
	if step = strings.TrimSpace(step); step != "" && step != s.lastStep {
		s.lastStep = step
		s.lastBucket = -1
		emit = true
	}
	if percent < 0 {
		return emit
	}
	if percent > 100 {
		percent = 100
	}
	if bucket := int(percent / s.bucketSize); bucket > s.lastBucket {
		s.lastBucket = bucket
		emit = true
	}
	return emit
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastStep = ""
	s.lastBucket = -1
}
