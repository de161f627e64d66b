package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	if s := NewProgressSampler(0); s.bucketSize != 10 {
		t.Fatalf("bucketSize = %v, want 10", s.bucketSize)
	}
	if s := NewProgressSampler(25); s.bucketSize != 25 || len(s.buckets) != 0 {
		t.Fatalf("unexpected sampler state: %+v", s)
	}
}

func TestProgressSamplerNilAlwaysLogs(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "Writing") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	steps := []struct {
		percent float64
		phase   string
		want    bool
	}{
		{0, "Writing", true},
		{4, "Writing", false},
		{10, "Writing", true},
		{19.9, "Writing", false},
		{35, "Writing", true},
		{100, "Writing", true},
		{120, "Writing", false},
		{0, "Verifying", true},
		{-1, "Verifying", false},
		{50, "Writing", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.phase); got != step.want {
			t.Fatalf("step %d (%v%% %s): got %v want %v", i, step.percent, step.phase, got, step.want)
		}
	}
}

func TestProgressSamplerKeysAreIndependent(t *testing.T) {
	s := NewProgressSampler(10)
	if !s.ShouldLog(12, "write") || !s.ShouldLog(12, "sync") {
		t.Fatal("first sample of each key should log")
	}
	if s.ShouldLog(15, "write") || s.ShouldLog(18, "sync") {
		t.Fatal("alternating keys inside one bucket should stay quiet")
	}
	if !s.ShouldLog(21, "sync") {
		t.Fatal("expected log on bucket change")
	}
}

func TestProgressSamplerUnknownTotalLogsOnce(t *testing.T) {
	s := NewProgressSampler(10)
	if !s.ShouldLog(-1, "download") {
		t.Fatal("first unknown-total sample should log")
	}
	if s.ShouldLog(-1, "download") {
		t.Fatal("repeated unknown-total samples should stay quiet")
	}
	if !s.ShouldLog(5, "download") {
		t.Fatal("a known percentage after an unknown one should log")
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(10)
	s.ShouldLog(50, "Writing")
	s.Reset()
	if !s.ShouldLog(50, "Writing") {
		t.Fatal("expected log after reset")
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(50, 200); got != 25 {
		t.Fatalf("Percent = %v", got)
	}
	if got := Percent(50, -1); got != -1 {
		t.Fatalf("unknown total should be -1, got %v", got)
	}
}
