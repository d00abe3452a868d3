package behavior

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

const bnEpsilon = 1e-5

// The fixed architecture of the exported classifier: 7-channel input BN,
// conv(7→96, k=7, pad=3) + BN + ReLU, conv(96→192, k=5, pad=2) + BN + ReLU,
// mean pool over time, linear head to one logit. Weights are an externally
// trained, versioned artifact; this code only evaluates them.
type bnParams struct {
	Gamma []float64 `json:"gamma"`
	Beta  []float64 `json:"beta"`
	Mean  []float64 `json:"mean"`
	Var   []float64 `json:"var"`
}

func (p bnParams) check(ch int) error {
	if len(p.Gamma) != ch || len(p.Beta) != ch || len(p.Mean) != ch || len(p.Var) != ch {
		return fmt.Errorf("batchnorm params want %d channels, got %d/%d/%d/%d",
			ch, len(p.Gamma), len(p.Beta), len(p.Mean), len(p.Var))
	}
	return nil
}

type convParams struct {
	Weight [][][]float64 `json:"weight"` // [out][in][kernel]
	Bias   []float64     `json:"bias"`
}

func (p convParams) check(out, in, kernel int) error {
	if len(p.Weight) != out || len(p.Bias) != out {
		return fmt.Errorf("conv wants %d output channels, got %d weights / %d biases",
			out, len(p.Weight), len(p.Bias))
	}
	for _, oc := range p.Weight {
		if len(oc) != in {
			return fmt.Errorf("conv wants %d input channels, got %d", in, len(oc))
		}
		for _, k := range oc {
			if len(k) != kernel {
				return fmt.Errorf("conv wants kernel size %d, got %d", kernel, len(k))
			}
		}
	}
	return nil
}

type headParams struct {
	Weight []float64 `json:"weight"`
	Bias   float64   `json:"bias"`
}

type modelWeights struct {
	InputBN *bnParams  `json:"input_bn,omitempty"`
	Conv1   convParams `json:"conv1"`
	BN1     bnParams   `json:"bn1"`
	Conv2   convParams `json:"conv2"`
	BN2     bnParams   `json:"bn2"`
	Head    headParams `json:"head"`
}

// cnn evaluates the exported weights on one window.
type cnn struct {
	weights modelWeights
	c1, c2  int
}

func loadCNN(path string) (*cnn, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model weights: %w", err)
	}
	var w modelWeights
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode model weights: %w", err)
	}

	c1 := len(w.Conv1.Weight)
	c2 := len(w.Conv2.Weight)
	if c1 == 0 || c2 == 0 {
		return nil, fmt.Errorf("model weights have empty conv layers")
	}
	if w.InputBN != nil {
		if err := w.InputBN.check(NumChannels); err != nil {
			return nil, err
		}
	}
	if err := w.Conv1.check(c1, NumChannels, 7); err != nil {
		return nil, err
	}
	if err := w.BN1.check(c1); err != nil {
		return nil, err
	}
	if err := w.Conv2.check(c2, c1, 5); err != nil {
		return nil, err
	}
	if err := w.BN2.check(c2); err != nil {
		return nil, err
	}
	if len(w.Head.Weight) != c2 {
		return nil, fmt.Errorf("head wants %d weights, got %d", c2, len(w.Head.Weight))
	}
	return &cnn{weights: w, c1: c1, c2: c2}, nil
}

// forward computes the raw logit for one window.
func (m *cnn) forward(win *Window) float64 {
	// Transpose to channel-major: x[c][t].
	x := make([][]float64, NumChannels)
	for c := 0; c < NumChannels; c++ {
		x[c] = make([]float64, WindowSize)
		for t := 0; t < WindowSize; t++ {
			x[c][t] = float64(win.Data[t][c])
		}
	}

	if m.weights.InputBN != nil {
		batchNorm(x, *m.weights.InputBN)
	}

	h := conv1d(x, m.weights.Conv1, 3)
	batchNorm(h, m.weights.BN1)
	relu(h)

	h = conv1d(h, m.weights.Conv2, 2)
	batchNorm(h, m.weights.BN2)
	relu(h)

	// Mean pool over time, then the linear head.
	logit := m.weights.Head.Bias
	for c := 0; c < m.c2; c++ {
		var sum float64
		for t := 0; t < WindowSize; t++ {
			sum += h[c][t]
		}
		logit += m.weights.Head.Weight[c] * (sum / WindowSize)
	}
	return logit
}

func conv1d(x [][]float64, p convParams, pad int) [][]float64 {
	in := len(x)
	width := len(x[0])
	out := make([][]float64, len(p.Weight))
	for o := range p.Weight {
		row := make([]float64, width)
		for t := 0; t < width; t++ {
			acc := p.Bias[o]
			for c := 0; c < in; c++ {
				kernel := p.Weight[o][c]
				for k := range kernel {
					src := t + k - pad
					if src < 0 || src >= width {
						continue
					}
					acc += kernel[k] * x[c][src]
				}
			}
			row[t] = acc
		}
		out[o] = row
	}
	return out
}

func batchNorm(x [][]float64, p bnParams) {
	for c := range x {
		scale := p.Gamma[c] / math.Sqrt(p.Var[c]+bnEpsilon)
		shift := p.Beta[c] - p.Mean[c]*scale
		row := x[c]
		for t := range row {
			row[t] = row[t]*scale + shift
		}
	}
}

func relu(x [][]float64) {
	for c := range x {
		row := x[c]
		for t := range row {
			if row[t] < 0 {
				row[t] = 0
			}
		}
	}
}
