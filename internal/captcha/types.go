package captcha

import "time"

// Result is a session's terminal verdict. Exactly one is ever recorded.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFail    Result = "fail"
	ResultTimeout Result = "timeout"
)

// ApiKey is the narrow slice of the account system the engine consumes:
// validity, difficulty preference, and the prepaid token balance.
type ApiKey struct {
	ID           int64
	Key          string
	Name         string
	Difficulty   int
	TokenBalance int64
	CreatedAt    time.Time
}

// Problem is one curated challenge. Immutable; expires naturally.
type Problem struct {
	ID           int64
	ImageKey     string
	Answer       string
	WrongAnswers [3]string
	Prompt       string
	Difficulty   int
	ExpiresAt    time.Time
}

// Options returns the answer plus distractors in stored order; callers
// shuffle before presenting.
func (p *Problem) Options() []string {
	return []string{p.Answer, p.WrongAnswers[0], p.WrongAnswers[1], p.WrongAnswers[2]}
}

// Session is one issued challenge, identified to the client only by its
// opaque token. It is never mutated; its terminal state lives in the log.
type Session struct {
	ID          int64
	ApiKeyID    int64
	ProblemID   int64
	ClientToken string
	IPAddress   string
	UserAgent   string
	CreatedAt   time.Time
}

// VerificationLog is the exactly-once terminal record of a session. Its
// existence is the idempotency marker for the whole verification flow.
type VerificationLog struct {
	ID           int64
	SessionID    int64
	ApiKeyID     int64
	IPAddress    string
	UserAgent    string
	Result       Result
	IsCorrect    bool
	MLConfidence *float64
	MLIsBot      *bool
	LatencyMs    int64
	CreatedAt    time.Time
}

// ProblemResponse is what the issue endpoint hands the client.
type ProblemResponse struct {
	ClientToken string   `json:"clientToken"`
	ImageURL    string   `json:"imageUrl"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
}

// Outcome is the verification response body.
type Outcome struct {
	Result     Result   `json:"result"`
	Message    string   `json:"message"`
	Confidence *float64 `json:"confidence,omitempty"`
	Verdict    string   `json:"verdict,omitempty"`
}
