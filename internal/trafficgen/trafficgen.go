package trafficgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Simulator drives full captcha sessions against a running API: issue a
// problem, stream a synthetic behavioral trace, submit an answer.
type Simulator struct {
	Endpoint string
	APIKey   string
	Faker    *gofakeit.Faker
	Client   *http.Client
}

func NewSimulator(endpoint, apiKey string, faker *gofakeit.Faker) *Simulator {
	return &Simulator{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Faker:    faker,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type problemResponse struct {
	ClientToken string   `json:"clientToken"`
	ImageURL    string   `json:"imageUrl"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
}

type verifyResponse struct {
	Result     string   `json:"result"`
	Message    string   `json:"message"`
	Confidence *float64 `json:"confidence"`
	Verdict    string   `json:"verdict"`
}

// RunSession plays one session end to end. When bot is true the trace is
// machine-like: straight lines, uniform timing, instant answer.
func (s *Simulator) RunSession(ctx context.Context, bot bool) (string, error) {
	problem, err := s.issueProblem(ctx)
	if err != nil {
		return "", err
	}

	chunks := s.buildTrace(problem.ClientToken, bot)
	for _, chunk := range chunks {
		if err := s.sendChunk(ctx, chunk); err != nil {
			return "", err
		}
	}

	answer := problem.Options[rand.Intn(len(problem.Options))]
	verdict, err := s.verify(ctx, problem.ClientToken, answer)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s)", verdict.Result, verdict.Verdict), nil
}

func (s *Simulator) issueProblem(ctx context.Context) (*problemResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint+"/captcha/problem", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", s.APIKey)
	req.Header.Set("User-Agent", s.Faker.UserAgent())

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Could not request a problem: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("problem endpoint returned %s", resp.Status)
	}

	var problem problemResponse
	if err := json.NewDecoder(resp.Body).Decode(&problem); err != nil {
		return nil, fmt.Errorf("Could not decode the problem: %w", err)
	}
	return &problem, nil
}

func (s *Simulator) sendChunk(ctx context.Context, chunk map[string]any) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("Could not marshal a chunk: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint+"/events/chunk", bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("Could not send a chunk: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chunk endpoint returned %s", resp.Status)
	}
	return nil
}

func (s *Simulator) verify(ctx context.Context, token, answer string) (*verifyResponse, error) {
	payload, _ := json.Marshal(map[string]string{"answer": answer})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint+"/captcha/verify", bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("X-Client-Token", token)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Could not submit the answer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("verify endpoint returned %s", resp.Status)
	}

	var verdict verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("Could not decode the verdict: %w", err)
	}
	return &verdict, nil
}

// buildTrace produces the session's chunks as raw JSON maps, the same shape
// the browser SDK uploads. Humans wander with jittered timing; bots sweep
// in straight lines at a constant rate.
func (s *Simulator) buildTrace(sessionID string, bot bool) []map[string]any {
	canvas := map[string]any{"left": 100.0, "top": 100.0, "w": 400.0, "h": 300.0}
	wrapper := map[string]any{"left": 80.0, "top": 80.0, "w": 440.0, "h": 380.0}
	scratch := 35.0 + rand.Float64()*40
	meta := map[string]any{
		"device":          "mouse",
		"roi_map":         map[string]any{"canvas-container": canvas, "scratcha-container": wrapper},
		"scratch_percent": scratch,
	}

	baseT := time.Now().UnixMilli()
	x := 100 + rand.Float64()*400
	y := 100 + rand.Float64()*300
	heading := rand.Float64() * 2 * math.Pi

	var dts []int64
	var xrs, yrs []float64
	samples := 120 + rand.Intn(200)
	for i := 0; i < samples; i++ {
		var dt int64
		var step float64
		if bot {
			dt = 5
			step = 12
		} else {
			dt = 12 + rand.Int63n(17)
			step = 2 + rand.Float64()*6
			heading += (rand.Float64() - 0.5) * 0.7
		}
		x += math.Cos(heading) * step
		y += math.Sin(heading) * step
		x = math.Min(math.Max(x, 100), 500)
		y = math.Min(math.Max(y, 100), 400)
		dts = append(dts, dt)
		xrs = append(xrs, math.Round(x*10)/10)
		yrs = append(yrs, math.Round(y*10)/10)
	}

	down := map[string]any{"type": "pointerdown", "t": baseT - 5, "x_raw": xrs[0], "y_raw": yrs[0]}
	moves := map[string]any{
		"type": "moves",
		"payload": map[string]any{
			"base_t": baseT,
			"dts":    dts,
			"xrs":    xrs,
			"yrs":    yrs,
		},
	}
	var endT int64 = baseT
	for _, dt := range dts {
		endT += dt
	}
	up := map[string]any{"type": "pointerup", "t": endT + 10, "x_raw": xrs[len(xrs)-1], "y_raw": yrs[len(yrs)-1]}
	click := map[string]any{"type": "click", "t": endT + 400, "x_raw": 300.0, "y_raw": 450.0, "target_role": "answer"}

	// Split across two chunks to exercise reassembly on the server side.
	return []map[string]any{
		{
			"session_id":   sessionID,
			"chunk_index":  0,
			"total_chunks": 2,
			"events":       []any{down, moves},
			"meta":         meta,
			"timestamp":    baseT,
		},
		{
			"session_id":   sessionID,
			"chunk_index":  1,
			"total_chunks": 2,
			"events":       []any{up, click},
			"meta":         meta,
			"timestamp":    endT,
		},
	}
}
