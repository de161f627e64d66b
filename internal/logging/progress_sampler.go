package logging

import "strings"

// ProgressSampler thins progress output to one line per percentage bucket.
// Buckets are tracked per key, so interleaved activities such as write and
// sync each keep their own cadence. It is not safe for concurrent use.
type ProgressSampler struct {
	bucketSize float64
	buckets    map[string]int
}

// NewProgressSampler returns a sampler with bucketSize-percent buckets. A
// non-positive size selects 10.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, buckets: make(map[string]int)}
}

// ShouldLog reports whether a sample for key at percent deserves a line: the
// first sample of a key always does, later ones only when they enter a
// higher bucket. A negative percent means the total is unknown and only the
// first sample of the key is logged. A nil sampler logs everything.
func (s *ProgressSampler) ShouldLog(percent float64, key string) bool {
	if s == nil {
		return true
	}
	key = strings.TrimSpace(key)
	last, seen := s.buckets[key]
	bucket := -1
	if percent >= 0 {
		bucket = int(min(percent, 100) / s.bucketSize)
	}
	if seen && bucket <= last {
		return false
	}
	s.buckets[key] = bucket
	return true
}

// Percent converts a byte count into a percentage, or -1 when total is unknown.
func Percent(done, total int64) float64 {
	if total <= 0 {
		return -1
	}
	return float64(done) * 100 / float64(total)
}

// Reset forgets every key.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	clear(s.buckets)
}
