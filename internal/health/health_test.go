package health

import "testing"

func TestSamplerSampleReturnsOwnPID(t *testing.T) {
	s, err := NewSampler()
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	snap := s.Sample()
	if snap.PID == 0 {
		t.Fatalf("expected nonzero pid")
	}
	if snap.NumCPU < 1 {
		t.Fatalf("expected at least 1 cpu, got %d", snap.NumCPU)
	}
}

func TestSampleOnNilSamplerDegradesToZeroValues(t *testing.T) {
	var s *Sampler
	snap := s.Sample()
	if snap.CPUPercent != 0 || snap.MemoryRSS != 0 {
		t.Fatalf("expected zero-value snapshot for nil sampler, got %+v", snap)
	}
}
