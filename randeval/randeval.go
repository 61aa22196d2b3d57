// Package randeval implements the random acceptance gate shared by the
// local-swap protocol (§4.5.2) and the ad-hoc-client takeover
// optimization (§4.7): random_eval(diff, cloud_size) decides whether to
// act on an improvement this tick, with per-bucket probabilities that
// scale with mesh size to prevent thrashing. Faithfully ported from
// original_source/random.c's bucketed cumulative-probability table.
package randeval

import (
	"math"
	"math/rand"
	"time"
)

// MeanWakeupMS is the default mean beacon interval in milliseconds
// (§4.6), the same constant the original scales its improvement
// probabilities by.
const MeanWakeupMS = 500

const improveMax = 8

var improveVec = [improveMax]int{0, 1, 4, 5, 6, 7, 8, 10}
var baseImproveProbMS = [improveMax]float64{0, 86400000, 14400000, 60000, 30000, 5000, 1000, 100}

// floatSource is the minimal surface Evaluator needs from a random
// source, letting tests inject a fixed draw.
type floatSource interface {
	Float64() float64
}

// Evaluator wraps random_eval with the two mesh-size-scaling debug
// options (§6): scale timers by mesh size, and (for debugging) scale
// them an additional 20x.
type Evaluator struct {
	MeanWakeupMS    float64
	ScaleByMeshSize bool
	ScaleDebug20x   bool
	Rand            floatSource // nil uses the package-level source
}

// New returns an Evaluator using the default mean wakeup time.
func New() *Evaluator {
	return &Evaluator{MeanWakeupMS: MeanWakeupMS}
}

func (e *Evaluator) float64() float64 {
	if e.Rand != nil {
		return e.Rand.Float64()
	}
	return rand.Float64()
}

// Eval returns true if an improvement of the given diff (a
// signal-strength delta) should be acted on this tick, given the
// current estimate of mesh size.
func (e *Evaluator) Eval(diff, cloudSize int) bool {
	mean := e.MeanWakeupMS
	if mean <= 0 {
		mean = MeanWakeupMS
	}
	if e.ScaleByMeshSize {
		mult := cloudSize
		if mult < 1 {
			mult = 1
		}
		if e.ScaleDebug20x {
			mult *= 20
		}
		// A larger mesh stretches the expected time to act on an
		// improvement, lowering the per-tick acceptance probability.
		if mult > 1 {
			mean /= float64(mult)
		}
	}

	i := 0
	for ; i < improveMax-1; i++ {
		if diff <= improveVec[i] {
			break
		}
	}

	var prob float64
	if baseImproveProbMS[i] > 0 {
		prob = 1.0 / (1.0 + baseImproveProbMS[i]/mean)
	}

	return e.float64() <= prob
}

// NegExp draws a negative-exponential deviate with the given mean,
// ported from original_source/random.c's neg_exp: the standard
// inverse-CDF sampler -ln(U) * mean.
func (e *Evaluator) NegExp(mean time.Duration) time.Duration {
	u := e.float64()
	if u <= 0 {
		u = 1e-9
	}
	return time.Duration(-math.Log(u) * float64(mean))
}
