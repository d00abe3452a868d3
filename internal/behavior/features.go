package behavior

import (
	"errors"
	"math"
	"sort"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/chunks"
)

// Window geometry: T most recent samples, 7 channels each.
const (
	WindowSize  = 300
	NumChannels = 7
)

// Channel layout of a Window row.
const (
	ChX = iota
	ChY
	ChVX
	ChVY
	ChSpeed
	ChAccel
	ChOOB
)

// ROI names the SDK reports. The canvas rect drives normalization and the
// model's OOB channel; the wrapper rect feeds auxiliary stats only.
const (
	ROICanvas  = "canvas-container"
	ROIWrapper = "scratcha-container"
)

var (
	// ErrNoCanvasRect means the meta carried no usable canvas rectangle, so
	// no model input can be built. No fallback rect is ever substituted.
	ErrNoCanvasRect = errors.New("no canvas rect in meta")
	// ErrNoSamples means flattening produced zero usable points.
	ErrNoSamples = errors.New("no usable event samples")
)

// Window is the fixed-size model input, zero-padded at the tail when fewer
// than WindowSize samples exist, truncated to the most recent WindowSize
// otherwise. Never persisted; rebuilt per verification attempt.
type Window struct {
	Data   [WindowSize][NumChannels]float32
	RawLen int
}

// Stats summarizes the raw (unpadded) stream for the rule engine. They are
// produced even when the window itself cannot be built.
type Stats struct {
	Samples        int
	OOBCanvasRate  float64
	OOBWrapperRate float64
	MeanSpeed      float64
	HasCanvas      bool
	HasWrapper     bool
}

type point struct {
	t int64
	x float64
	y float64
}

// flatten expands delta-encoded move runs and collects absolute pointer
// samples into one chronological (t,x,y) list. Malformed or unknown events
// are skipped, never fatal.
func flatten(events []chunks.Event) []point {
	var pts []point
	for _, ev := range events {
		if run, ok := ev.Moves(); ok {
			t := run.BaseT
			n := len(run.DTs)
			if len(run.XRs) < n {
				n = len(run.XRs)
			}
			if len(run.YRs) < n {
				n = len(run.YRs)
			}
			for i := 0; i < n; i++ {
				pts = append(pts, point{t: t, x: run.XRs[i], y: run.YRs[i]})
				dt := run.DTs[i]
				if dt <= 0 {
					dt = 1
				}
				t += dt
			}
			continue
		}
		if t, x, y, ok := ev.Point(); ok {
			pts = append(pts, point{t: t, x: x, y: y})
		}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].t < pts[j].t })
	return pts
}

// normalize maps a raw coordinate into rect's [0,1] space. The returned
// coordinate is clamped; oob reports whether the raw ratio left [0,1].
func normalize(x, y float64, rect chunks.Rect) (nx, ny float64, oob bool) {
	nx = (x - rect.Left) / math.Max(1.0, rect.W)
	ny = (y - rect.Top) / math.Max(1.0, rect.H)
	oob = nx < 0 || nx > 1 || ny < 0 || ny > 1
	nx = math.Min(1.0, math.Max(0.0, nx))
	ny = math.Min(1.0, math.Max(0.0, ny))
	return nx, ny, oob
}

// fixTimeUnits rescales timestamps to milliseconds using the median positive
// consecutive delta: a median at or below 0.01 looks like seconds, at or
// above 1000 like microseconds.
func fixTimeUnits(ts []float64) []float64 {
	if len(ts) < 2 {
		return ts
	}
	var diffs []float64
	for i := 1; i < len(ts); i++ {
		if d := ts[i] - ts[i-1]; d > 0 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return ts
	}
	med := median(diffs)
	scale := 1.0
	switch {
	case med <= 0.01:
		scale = 1000.0
	case med >= 1000.0:
		scale = 1.0 / 1000.0
	default:
		return ts
	}
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = t * scale
	}
	return out
}

func median(vals []float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// BuildWindow converts a session's raw event stream into the model input
// window plus rule-engine stats. It fails only on a missing canvas rect or
// an empty flattened stream; with fewer than two points the kinematic
// channels stay zero.
func BuildWindow(meta chunks.Meta, events []chunks.Event) (*Window, Stats, error) {
	canvas, hasCanvas := meta.Rect(ROICanvas)
	wrapper, hasWrapper := meta.Rect(ROIWrapper)

	stats := Stats{HasCanvas: hasCanvas, HasWrapper: hasWrapper}
	if !hasCanvas {
		return nil, stats, ErrNoCanvasRect
	}

	pts := flatten(events)
	if len(pts) == 0 {
		return nil, stats, ErrNoSamples
	}

	n := len(pts)
	xs := make([]float64, n)
	ys := make([]float64, n)
	oobCanvas := make([]float64, n)
	oobWrap := make([]float64, n)
	ts := make([]float64, n)
	for i, p := range pts {
		x, y, oob := normalize(p.x, p.y, canvas)
		xs[i], ys[i] = x, y
		if oob {
			oobCanvas[i] = 1
		}
		if hasWrapper {
			if _, _, oob := normalize(p.x, p.y, wrapper); oob {
				oobWrap[i] = 1
			}
		}
		ts[i] = float64(p.t)
	}
	ts = fixTimeUnits(ts)

	// Consecutive deltas in seconds, floored at 1ms.
	dtS := make([]float64, n)
	for i := range ts {
		var dt float64
		if i > 0 {
			dt = ts[i] - ts[i-1]
		}
		if dt < 1.0 {
			dt = 1.0
		}
		dtS[i] = dt / 1000.0
	}

	vx := make([]float64, n)
	vy := make([]float64, n)
	speed := make([]float64, n)
	accel := make([]float64, n)
	if n >= 2 {
		for i := range xs {
			var dx, dy float64
			if i > 0 {
				dx = xs[i] - xs[i-1]
				dy = ys[i] - ys[i-1]
			}
			vx[i] = dx / dtS[i]
			vy[i] = dy / dtS[i]
			speed[i] = math.Sqrt(vx[i]*vx[i] + vy[i]*vy[i])
		}
		for i := range speed {
			var ds float64
			if i > 0 {
				ds = speed[i] - speed[i-1]
			}
			accel[i] = ds / dtS[i]
		}
	}

	rows := make([][NumChannels]float32, n)
	for i := 0; i < n; i++ {
		rows[i] = [NumChannels]float32{
			float32(xs[i]), float32(ys[i]),
			float32(vx[i]), float32(vy[i]),
			float32(speed[i]), float32(accel[i]),
			float32(oobCanvas[i]),
		}
	}

	w := &Window{RawLen: n}
	if n > WindowSize {
		copy(w.Data[:], rows[n-WindowSize:])
	} else {
		copy(w.Data[:], rows)
	}

	stats.Samples = n
	stats.OOBCanvasRate = mean(oobCanvas)
	stats.OOBWrapperRate = mean(oobWrap)
	stats.MeanSpeed = windowMeanSpeed(w)
	return w, stats, nil
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// windowMeanSpeed averages the speed channel over the padded window, the
// same quantity the original training stats used.
func windowMeanSpeed(w *Window) float64 {
	var sum float64
	for i := range w.Data {
		sum += float64(w.Data[i][ChSpeed])
	}
	return sum / float64(WindowSize)
}
