package behavior

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"os"
	"sync"
)

const (
	// DefaultTemperature divides the raw logit before the sigmoid.
	DefaultTemperature = 2.0
	defaultThreshold   = 0.5
)

const (
	VerdictHuman = "human"
	VerdictBot   = "bot"
)

// ErrClassifierUnavailable means no model artifact could be loaded. The
// caller falls back to rules plus answer correctness; verification never
// depends on the model being present.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Score is one calibrated classifier result.
type Score struct {
	Prob      float64
	Threshold float64
	Verdict   string
}

// Classifier wraps the exported CNN with lazy loading. A failed load is
// retried on the next call instead of poisoning the process; the
// calibration threshold is read once and defaults to 0.5 when missing.
type Classifier struct {
	modelPath     string
	thresholdPath string
	temperature   float64

	mu    sync.Mutex
	model *cnn

	thrOnce   sync.Once
	threshold float64
}

func NewClassifier(modelPath, thresholdPath string, temperature float64) *Classifier {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &Classifier{
		modelPath:     modelPath,
		thresholdPath: thresholdPath,
		temperature:   temperature,
	}
}

func (c *Classifier) ensureModel() *cnn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		return c.model
	}
	model, err := loadCNN(c.modelPath)
	if err != nil {
		log.Printf("[Classifier] model load failed (will retry): %v", err)
		return nil
	}
	log.Printf("[Classifier] loaded model weights from %s", c.modelPath)
	c.model = model
	return c.model
}

// Threshold returns the calibrated decision threshold, loading it on first
// use.
func (c *Classifier) Threshold() float64 {
	c.thrOnce.Do(func() {
		c.threshold = defaultThreshold
		raw, err := os.ReadFile(c.thresholdPath)
		if err != nil {
			log.Printf("[Classifier] thresholds load failed, using %.2f: %v", defaultThreshold, err)
			return
		}
		var calib struct {
			ValThreshold *float64 `json:"val_threshold"`
		}
		if err := json.Unmarshal(raw, &calib); err != nil || calib.ValThreshold == nil {
			log.Printf("[Classifier] thresholds decode failed, using %.2f", defaultThreshold)
			return
		}
		c.threshold = *calib.ValThreshold
	})
	return c.threshold
}

// Score runs the model on one window and returns the temperature-scaled
// probability with its verdict. ErrClassifierUnavailable when no artifact
// is loadable.
func (c *Classifier) Score(win *Window) (Score, error) {
	if win == nil {
		return Score{}, ErrClassifierUnavailable
	}
	model := c.ensureModel()
	if model == nil {
		return Score{}, ErrClassifierUnavailable
	}

	logit := model.forward(win)
	z := logit / math.Max(1e-6, c.temperature)
	z = math.Max(-20.0, math.Min(20.0, z))
	prob := 1.0 / (1.0 + math.Exp(-z))

	thr := c.Threshold()
	verdict := VerdictHuman
	if prob >= thr {
		verdict = VerdictBot
	}
	return Score{Prob: prob, Threshold: thr, Verdict: verdict}, nil
}
