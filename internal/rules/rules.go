package rules

import (
	"fmt"
	"time"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/behavior"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/chunks"
)

// Rule identifiers, in evaluation order.
const (
	RuleTimingFloor     = "timing_floor"
	RuleScratchCoverage = "scratch_coverage"
	RuleNoInteraction   = "no_interaction"
	RuleZeroMotion      = "zero_motion"
	RuleTouchDevice     = "touch_device"
)

const touchConfidence = 0.5

type Config struct {
	// MinSolveTime is the floor below which a solve is rejected outright.
	MinSolveTime time.Duration
	// MinScratchPercent rejects solves whose reported scratch coverage is
	// below this value. Only applies when the SDK reports coverage.
	MinScratchPercent float64
	// OverrideClassifier selects rule/ML precedence: true (default) means a
	// fired rule is authoritative; false defers to the classifier whenever
	// it produced a score.
	OverrideClassifier bool
}

func DefaultConfig() Config {
	return Config{
		MinSolveTime:       500 * time.Millisecond,
		MinScratchPercent:  2.0,
		OverrideClassifier: true,
	}
}

// Decision is the outcome of one evaluation pass. Fired=false means every
// check abstained and the caller falls through to classifier + answer
// fusion.
type Decision struct {
	Fired      bool
	Rule       string
	Reject     bool
	ForceBot   bool
	ForceHuman bool
	Confidence *float64
	Message    string
}

// Engine runs the ordered deterministic checks. First match wins.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MinSolveTime <= 0 {
		cfg.MinSolveTime = def.MinSolveTime
	}
	if cfg.MinScratchPercent <= 0 {
		cfg.MinScratchPercent = def.MinScratchPercent
	}
	return &Engine{cfg: cfg}
}

// OverridesClassifier reports the configured rule/ML precedence policy.
func (e *Engine) OverridesClassifier() bool {
	return e.cfg.OverrideClassifier
}

// Evaluate applies the checks to one verification attempt. elapsed is the
// time between session issue and answer submission; stats come from the
// feature extractor and are valid even when no window could be built.
func (e *Engine) Evaluate(elapsed time.Duration, meta chunks.Meta, stats behavior.Stats) Decision {
	if elapsed < e.cfg.MinSolveTime {
		return Decision{
			Fired:   true,
			Rule:    RuleTimingFloor,
			Reject:  true,
			Message: fmt.Sprintf("solved in %dms, below the %dms floor", elapsed.Milliseconds(), e.cfg.MinSolveTime.Milliseconds()),
		}
	}

	if meta.ScratchPercent != nil && *meta.ScratchPercent < e.cfg.MinScratchPercent {
		return Decision{
			Fired:   true,
			Rule:    RuleScratchCoverage,
			Reject:  true,
			Message: fmt.Sprintf("scratch coverage %.1f%% below the %.1f%% floor", *meta.ScratchPercent, e.cfg.MinScratchPercent),
		}
	}

	// Every sample outside the canvas means the challenge surface was never
	// genuinely interacted with: a replayed or fabricated trace.
	if stats.Samples > 0 && stats.OOBCanvasRate >= 1.0 {
		return Decision{
			Fired:    true,
			Rule:     RuleNoInteraction,
			Reject:   true,
			ForceBot: true,
			Message:  "no interaction with the challenge surface",
		}
	}

	if stats.Samples > 1 && stats.MeanSpeed == 0 {
		return Decision{
			Fired:   true,
			Rule:    RuleZeroMotion,
			Reject:  true,
			Message: "pointer never moved between samples",
		}
	}

	// The model is calibrated on mouse motion only; touch traces get a
	// presumptive human verdict at mid confidence instead.
	if meta.IsTouchDevice() {
		conf := touchConfidence
		return Decision{
			Fired:      true,
			Rule:       RuleTouchDevice,
			ForceHuman: true,
			Confidence: &conf,
			Message:    "touch device detected",
		}
	}

	return Decision{}
}
