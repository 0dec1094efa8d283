// Package agentic implements the LLM-guided iterative vector search engine:
// seeded retrieval, per-round LLM decisions with structured filters, a
// knowledge memory, and relevance-driven sampling hyperparameter tuning.
package agentic

import "math/rand"

// jitterAmplitude is the symmetric random perturbation applied on each
// update.
const jitterAmplitude = 0.1

// TuningFlags enables tuning per parameter. Disabled parameters keep their
// current value.
type TuningFlags struct {
	Temperature      bool
	TopP             bool
	PresencePenalty  bool
	FrequencyPenalty bool
}

// HyperParams is the sampling state used for decision LLM calls.
type HyperParams struct {
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
}

// Tuner adjusts sampling from result relevance. Low relevance pushes the
// parameters toward exploration, high relevance toward exploitation.
type Tuner struct {
	flags  TuningFlags
	rng    *rand.Rand
	params HyperParams
}

// NewTuner starts at the neutral midpoint (explore = 0.5, no jitter).
func NewTuner(flags TuningFlags, seed int64) *Tuner {
	return &Tuner{
		flags: flags,
		rng:   rand.New(rand.NewSource(seed)),
		params: HyperParams{
			Temperature:      0.3 + 0.7*0.5,
			TopP:             0.6 + 0.35*0.5,
			FrequencyPenalty: 0.1 + 0.8*0.5,
			PresencePenalty:  0.2 + 0.6*0.5,
		},
	}
}

// Params returns the current sampling state.
func (t *Tuner) Params() HyperParams {
	return t.params
}

// Retune updates enabled parameters from the normalized average relevance of
// the latest results.
func (t *Tuner) Retune(avgRelevance float64) HyperParams {
	if avgRelevance < 0 {
		avgRelevance = 0
	}
	if avgRelevance > 1 {
		avgRelevance = 1
	}
	explore := 1 - avgRelevance

	if t.flags.Temperature {
		t.params.Temperature = t.tuned(0.3+0.7*explore, 0.2, 1.0)
	}
	if t.flags.TopP {
		t.params.TopP = t.tuned(0.6+0.35*explore, 0.5, 1.0)
	}
	if t.flags.FrequencyPenalty {
		t.params.FrequencyPenalty = t.tuned(0.1+0.8*explore, 0, 1.0)
	}
	if t.flags.PresencePenalty {
		t.params.PresencePenalty = t.tuned(0.2+0.6*explore, 0, 1.0)
	}

	return t.params
}

func (t *Tuner) tuned(base, min, max float64) float64 {
	value := base + jitterAmplitude*(t.rng.Float64()*2-1)
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
