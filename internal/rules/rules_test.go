package rules

import (
	"testing"
	"time"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/behavior"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/chunks"
)

func floatPtr(v float64) *float64 { return &v }

func TestTimingFloor(t *testing.T) {
	e := NewEngine(DefaultConfig())

	d := e.Evaluate(200*time.Millisecond, chunks.Meta{}, behavior.Stats{})
	if !d.Fired || d.Rule != RuleTimingFloor || !d.Reject {
		t.Fatalf("expected a timing_floor reject, got %+v", d)
	}
	if d.ForceBot {
		t.Fatal("timing_floor must not force a bot verdict")
	}

	d = e.Evaluate(500*time.Millisecond, chunks.Meta{}, behavior.Stats{})
	if d.Fired {
		t.Fatalf("exactly the floor must pass, got %+v", d)
	}
}

func TestScratchCoverage(t *testing.T) {
	e := NewEngine(DefaultConfig())
	meta := chunks.Meta{ScratchPercent: floatPtr(1.5)}

	d := e.Evaluate(time.Second, meta, behavior.Stats{})
	if !d.Fired || d.Rule != RuleScratchCoverage || !d.Reject {
		t.Fatalf("expected a scratch_coverage reject, got %+v", d)
	}

	// Missing coverage never fires the rule.
	d = e.Evaluate(time.Second, chunks.Meta{}, behavior.Stats{})
	if d.Fired {
		t.Fatalf("absent coverage must abstain, got %+v", d)
	}
}

func TestNoInteractionForcesBot(t *testing.T) {
	e := NewEngine(DefaultConfig())
	stats := behavior.Stats{Samples: 40, OOBCanvasRate: 1.0}

	d := e.Evaluate(time.Second, chunks.Meta{}, stats)
	if !d.Fired || d.Rule != RuleNoInteraction {
		t.Fatalf("expected no_interaction, got %+v", d)
	}
	if !d.Reject || !d.ForceBot {
		t.Fatalf("no_interaction must reject and force bot, got %+v", d)
	}

	// A partially out-of-bounds trace is normal scratching.
	stats.OOBCanvasRate = 0.9
	if d := e.Evaluate(time.Second, chunks.Meta{}, stats); d.Fired {
		t.Fatalf("partial OOB must abstain, got %+v", d)
	}

	// No samples at all means no trace to judge; the classifier fallback
	// handles that case.
	stats = behavior.Stats{Samples: 0, OOBCanvasRate: 0}
	if d := e.Evaluate(time.Second, chunks.Meta{}, stats); d.Fired {
		t.Fatalf("empty stream must abstain, got %+v", d)
	}
}

func TestZeroMotion(t *testing.T) {
	e := NewEngine(DefaultConfig())

	d := e.Evaluate(time.Second, chunks.Meta{}, behavior.Stats{Samples: 10, MeanSpeed: 0})
	if !d.Fired || d.Rule != RuleZeroMotion || !d.Reject {
		t.Fatalf("expected zero_motion reject, got %+v", d)
	}

	// A single sample cannot prove zero motion.
	d = e.Evaluate(time.Second, chunks.Meta{}, behavior.Stats{Samples: 1, MeanSpeed: 0})
	if d.Fired {
		t.Fatalf("single sample must abstain, got %+v", d)
	}
}

func TestTouchDeviceForcesHuman(t *testing.T) {
	e := NewEngine(DefaultConfig())
	meta := chunks.Meta{Device: "touch"}

	d := e.Evaluate(time.Second, meta, behavior.Stats{Samples: 10, MeanSpeed: 2})
	if !d.Fired || d.Rule != RuleTouchDevice {
		t.Fatalf("expected touch_device, got %+v", d)
	}
	if d.Reject || !d.ForceHuman {
		t.Fatalf("touch must force human without rejecting, got %+v", d)
	}
	if d.Confidence == nil || *d.Confidence != 0.5 {
		t.Fatalf("expected mid confidence, got %+v", d.Confidence)
	}
}

func TestEvaluationOrder(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Timing beats coverage when both would fire.
	meta := chunks.Meta{ScratchPercent: floatPtr(0.5)}
	d := e.Evaluate(100*time.Millisecond, meta, behavior.Stats{})
	if d.Rule != RuleTimingFloor {
		t.Fatalf("expected timing_floor first, got %s", d.Rule)
	}

	// A reject rule beats the touch override.
	meta = chunks.Meta{Device: "touch", ScratchPercent: floatPtr(0.5)}
	d = e.Evaluate(time.Second, meta, behavior.Stats{})
	if d.Rule != RuleScratchCoverage {
		t.Fatalf("expected scratch_coverage before touch_device, got %s", d.Rule)
	}
}

func TestAbstain(t *testing.T) {
	e := NewEngine(DefaultConfig())
	scratch := floatPtr(42.0)
	meta := chunks.Meta{Device: "mouse", ScratchPercent: scratch}
	stats := behavior.Stats{Samples: 120, OOBCanvasRate: 0.1, MeanSpeed: 1.2}

	d := e.Evaluate(5*time.Second, meta, stats)
	if d.Fired {
		t.Fatalf("clean trace must abstain, got %+v", d)
	}
}

func TestNewEngineDefaultsZeroConfig(t *testing.T) {
	e := NewEngine(Config{})
	if e.cfg.MinSolveTime != 500*time.Millisecond {
		t.Fatalf("expected default solve floor, got %v", e.cfg.MinSolveTime)
	}
	if e.cfg.MinScratchPercent != 2.0 {
		t.Fatalf("expected default coverage floor, got %v", e.cfg.MinScratchPercent)
	}
	if e.OverridesClassifier() {
		t.Fatal("zero config must not silently enable override")
	}
}
