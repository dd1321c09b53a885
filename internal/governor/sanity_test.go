package governor

import "testing"

func TestSanityTracker_StartsHealthy(t *testing.T) {
	tr := newSanityTracker()
	if tr.Score() != 1.0 {
		t.Fatalf("expected fresh tracker to score 1.0, got %f", tr.Score())
	}
}

func TestSanityTracker_DegradesWithPoorSamples(t *testing.T) {
	tr := newSanityTracker()
	for i := 0; i < sanityWindowSize; i++ {
		tr.Observe(0.0)
	}
	if tr.Score() != 0.0 {
		t.Fatalf("expected fully degraded window to score 0.0, got %f", tr.Score())
	}
}

func TestSanityTracker_RecoversAsWindowSlidesOff(t *testing.T) {
	tr := newSanityTracker()
	for i := 0; i < sanityWindowSize; i++ {
		tr.Observe(0.0)
	}
	for i := 0; i < sanityWindowSize; i++ {
		tr.Observe(1.0)
	}
	if tr.Score() != 1.0 {
		t.Fatalf("expected window to fully recover once bad samples age out, got %f", tr.Score())
	}
}

func TestSanityTracker_TenBlindVetoCyclesDropBelowHalf(t *testing.T) {
	tr := newSanityTracker()
	for i := 0; i < 10; i++ {
		tr.Observe(cycleSanitySample(true, true, 0))
	}
	if tr.Score() >= 0.5 {
		t.Fatalf("expected ten consecutive blind+veto cycles to drop sanity_score below 0.5, got %f", tr.Score())
	}
}

func TestCycleSanitySample_PenalizesEachDegradation(t *testing.T) {
	healthy := cycleSanitySample(false, false, 0)
	if healthy != 1.0 {
		t.Fatalf("expected healthy cycle to score 1.0, got %f", healthy)
	}
	blind := cycleSanitySample(true, false, 0)
	if blind >= healthy {
		t.Fatalf("expected blind mode to reduce score below healthy")
	}
	worst := cycleSanitySample(true, true, 1.0)
	if worst != 0.0 {
		t.Fatalf("expected maximally degraded cycle to floor at 0.0, got %f", worst)
	}
}
