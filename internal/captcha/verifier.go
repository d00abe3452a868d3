package captcha

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/behavior"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/chunks"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/rules"
)

const DefaultSessionTimeout = 3 * time.Minute

const (
	msgSuccess = "captcha verification passed"
	msgFail    = "captcha verification failed"
	msgTimeout = "captcha session expired"
)

// Reconstructor reassembles a session's behavioral event stream. An empty
// stream is a valid degraded result.
type Reconstructor interface {
	Reconstruct(ctx context.Context, sessionID string) ([]chunks.Event, chunks.Meta, error)
}

// Scorer is the classifier surface: behavior.ErrClassifierUnavailable is a
// tolerated outcome, never a verification failure.
type Scorer interface {
	Score(win *behavior.Window) (behavior.Score, error)
}

// Archiver schedules the fire-and-forget archival of a successful
// session's trace.
type Archiver interface {
	SubmitArchive(ctx context.Context, sessionID string) error
}

// Verifier is the session state machine: ISSUED to exactly one of SUCCESS,
// FAIL or TIMEOUT, decided under the session's row lock.
type Verifier struct {
	store    Store
	events   Reconstructor
	scorer   Scorer
	rules    *rules.Engine
	archiver Archiver
	timeout  time.Duration

	now func() time.Time
}

func NewVerifier(store Store, events Reconstructor, scorer Scorer, engine *rules.Engine, archiver Archiver, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Verifier{
		store:    store,
		events:   events,
		scorer:   scorer,
		rules:    engine,
		archiver: archiver,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Verify resolves one answer submission to its terminal outcome. The whole
// decision, including scoring, runs while the session row lock is held, so
// a concurrent attempt on the same token blocks and then observes the log.
func (v *Verifier) Verify(ctx context.Context, token, answer, ip, userAgent string) (*Outcome, error) {
	var out *Outcome
	err := v.store.Verify(ctx, func(tx VerifyTx) error {
		session, err := tx.LockSessionByToken(ctx, token)
		if err != nil {
			return err
		}

		logged, err := tx.HasLog(ctx, session.ID)
		if err != nil {
			return err
		}
		if logged {
			return ErrAlreadyVerified
		}

		latency := v.now().Sub(session.CreatedAt)
		latencyMs := latency.Milliseconds()
		if latency > v.timeout {
			// Past the response window: record TIMEOUT and skip scoring
			// entirely.
			if err := tx.InsertLog(ctx, &VerificationLog{
				SessionID: session.ID,
				ApiKeyID:  session.ApiKeyID,
				IPAddress: ip,
				UserAgent: userAgent,
				Result:    ResultTimeout,
				LatencyMs: latencyMs,
			}); err != nil {
				return err
			}
			if err := tx.RecordVerification(ctx, session.ApiKeyID, ResultTimeout, latencyMs); err != nil {
				return err
			}
			out = &Outcome{Result: ResultTimeout, Message: msgTimeout}
			return nil
		}

		problem, err := tx.ProblemByID(ctx, session.ProblemID)
		if err != nil {
			return err
		}
		correct := answer == problem.Answer

		outcome := v.assess(ctx, session, latency, correct)
		isBot := outcome.mlIsBot()

		if err := tx.InsertLog(ctx, &VerificationLog{
			SessionID:    session.ID,
			ApiKeyID:     session.ApiKeyID,
			IPAddress:    ip,
			UserAgent:    userAgent,
			Result:       outcome.Result,
			IsCorrect:    correct,
			MLConfidence: outcome.Confidence,
			MLIsBot:      isBot,
			LatencyMs:    latencyMs,
		}); err != nil {
			return err
		}
		if err := tx.RecordVerification(ctx, session.ApiKeyID, outcome.Result, latencyMs); err != nil {
			return err
		}
		out = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Result == ResultSuccess && v.archiver != nil {
		// Only successful, human-judged traces are archived; failed and bot
		// sessions are left in their chunk form.
		if err := v.archiver.SubmitArchive(ctx, token); err != nil {
			log.Printf("[Verifier] archive submit failed for session %s: %v", token, err)
		}
	}
	return out, nil
}

// assess fuses behavior signals, the classifier and answer correctness into
// a terminal outcome. Every degradation path lands here as a reduced
// signal, never an error.
func (v *Verifier) assess(ctx context.Context, session *Session, latency time.Duration, correct bool) *Outcome {
	events, meta, err := v.events.Reconstruct(ctx, session.ClientToken)
	if err != nil {
		log.Printf("[Verifier] behavior reconstruction degraded for session %s: %v", session.ClientToken, err)
		events, meta = nil, chunks.Meta{}
	}

	win, stats, err := behavior.BuildWindow(meta, events)
	if err != nil {
		log.Printf("[Verifier] no behavior window for session %s: %v", session.ClientToken, err)
	}

	var score *behavior.Score
	if win != nil && v.scorer != nil {
		s, err := v.scorer.Score(win)
		if err != nil {
			if !errors.Is(err, behavior.ErrClassifierUnavailable) {
				log.Printf("[Verifier] scoring failed for session %s: %v", session.ClientToken, err)
			}
		} else {
			score = &s
		}
	}

	var confidence *float64
	var verdict string
	if score != nil {
		confidence = &score.Prob
		verdict = score.Verdict
	}

	decision := v.rules.Evaluate(latency, meta, stats)

	// The touch override always applies (the model is mouse-calibrated);
	// reject rules yield to an available score only under the deferring
	// policy.
	applies := decision.Fired && (decision.ForceHuman || v.rules.OverridesClassifier() || score == nil)

	switch {
	case applies && decision.Reject:
		if decision.ForceBot {
			verdict = behavior.VerdictBot
		}
		return &Outcome{Result: ResultFail, Message: decision.Message, Confidence: confidence, Verdict: verdict}

	case applies && decision.ForceHuman:
		result := ResultFail
		message := msgFail
		if correct {
			result = ResultSuccess
			message = msgSuccess
		}
		return &Outcome{Result: result, Message: message, Confidence: decision.Confidence, Verdict: behavior.VerdictHuman}

	case !correct:
		return &Outcome{Result: ResultFail, Message: msgFail, Confidence: confidence, Verdict: verdict}

	case verdict == behavior.VerdictBot:
		return &Outcome{Result: ResultFail, Message: msgFail, Confidence: confidence, Verdict: verdict}

	default:
		return &Outcome{Result: ResultSuccess, Message: msgSuccess, Confidence: confidence, Verdict: verdict}
	}
}

func (o *Outcome) mlIsBot() *bool {
	if o.Verdict == "" {
		return nil
	}
	b := o.Verdict == behavior.VerdictBot
	return &b
}
