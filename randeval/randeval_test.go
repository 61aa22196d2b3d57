package randeval

import (
	"testing"
	"time"
)

func TestEvalZeroDiffNeverAccepts(t *testing.T) {
	e := New()
	if e.Eval(0, 1) {
		t.Fatal("diff <= 0 bucket has zero base probability weight and should never accept")
	}
}

func TestEvalLargeDiffEventuallyAccepts(t *testing.T) {
	e := New()
	accepted := false
	for i := 0; i < 10000; i++ {
		if e.Eval(100, 1) {
			accepted = true
			break
		}
	}
	if !accepted {
		t.Fatal("expected a large diff to be accepted at least once over many trials")
	}
}

func TestEvalScalesWithMeshSize(t *testing.T) {
	small := &Evaluator{MeanWakeupMS: MeanWakeupMS, ScaleByMeshSize: true}
	large := &Evaluator{MeanWakeupMS: MeanWakeupMS, ScaleByMeshSize: true}

	// With a larger cloud, the expected time to act on an improvement
	// is scaled up, making the same diff less likely to be accepted in
	// a given tick; we can't assert on single draws (still
	// probabilistic) but the probability computation itself must be
	// monotonic, checked via the deterministic Rand hook below. For
	// diff=5 the probability is about 0.0083 with one box and about
	// 0.00017 with fifty.
	small.Rand = fixedRand(0.005)
	large.Rand = fixedRand(0.005)

	smallAccepts := small.Eval(5, 1)
	largeAccepts := large.Eval(5, 50)
	if !smallAccepts {
		t.Fatal("expected small-mesh probability to accept at u=0.005 for diff=5")
	}
	if largeAccepts {
		t.Fatal("expected large-mesh probability to reject at the same draw for diff=5")
	}
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestNegExpScalesWithMean(t *testing.T) {
	e := &Evaluator{Rand: fixedRand(0.5)}
	short := e.NegExp(100 * time.Millisecond)
	long := e.NegExp(1000 * time.Millisecond)
	if long <= short {
		t.Fatalf("expected a larger mean to produce a larger deviate for the same draw, got short=%v long=%v", short, long)
	}
}

func TestNegExpNeverNegative(t *testing.T) {
	e := &Evaluator{Rand: fixedRand(0.999)}
	if d := e.NegExp(500 * time.Millisecond); d < 0 {
		t.Fatalf("expected non-negative deviate, got %v", d)
	}
}
