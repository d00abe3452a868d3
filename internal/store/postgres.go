package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/captcha"
)

//go:embed schema.sql
var schema string

// Store is the Postgres-backed captcha.Store. Row locks carry the
// concurrency model: the api_key row serializes quota spending, the
// captcha_session row serializes verification attempts.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) ApiKeyByKey(ctx context.Context, key string) (*captcha.ApiKey, error) {
	var k captcha.ApiKey
	err := s.pool.QueryRow(ctx,
		`SELECT id, key, name, difficulty, token_balance, created_at
		   FROM api_key WHERE key = $1`, key,
	).Scan(&k.ID, &k.Key, &k.Name, &k.Difficulty, &k.TokenBalance, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, captcha.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	return &k, nil
}

func (s *Store) IssueSession(ctx context.Context, key *captcha.ApiKey, ip, userAgent string) (*captcha.Session, *captcha.Problem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin issue tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Check-then-decrement under the key's row lock: a balance of 1 can
	// only be spent by one of two concurrent issuers.
	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT token_balance FROM api_key WHERE id = $1 FOR UPDATE`, key.ID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, captcha.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock api key: %w", err)
	}
	if balance <= 0 {
		return nil, nil, captcha.ErrQuotaExhausted
	}
	if _, err := tx.Exec(ctx,
		`UPDATE api_key SET token_balance = token_balance - 1 WHERE id = $1`, key.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("debit quota: %w", err)
	}

	problem, err := randomActiveProblem(ctx, tx, key.Difficulty)
	if err != nil {
		return nil, nil, err
	}

	session := &captcha.Session{
		ApiKeyID:    key.ID,
		ProblemID:   problem.ID,
		ClientToken: uuid.NewString(),
		IPAddress:   ip,
		UserAgent:   userAgent,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO captcha_session (api_key_id, problem_id, client_token, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		session.ApiKeyID, session.ProblemID, session.ClientToken, session.IPAddress, session.UserAgent,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO usage_stats (key_id, date, total_requests)
		 VALUES ($1, CURRENT_DATE, 1)
		 ON CONFLICT (key_id, date)
		 DO UPDATE SET total_requests = usage_stats.total_requests + 1`, key.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("bump request count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit issue tx: %w", err)
	}
	return session, problem, nil
}

func randomActiveProblem(ctx context.Context, tx pgx.Tx, difficulty int) (*captcha.Problem, error) {
	query := `SELECT id, image_key, answer, wrong_answer_1, wrong_answer_2, wrong_answer_3,
	                 prompt, difficulty, expires_at
	            FROM captcha_problem WHERE expires_at > now()`
	args := []any{}
	if difficulty > 0 {
		query += ` AND difficulty = $1`
		args = append(args, difficulty)
	}
	query += ` ORDER BY random() LIMIT 1`

	var p captcha.Problem
	err := tx.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.ImageKey, &p.Answer,
		&p.WrongAnswers[0], &p.WrongAnswers[1], &p.WrongAnswers[2],
		&p.Prompt, &p.Difficulty, &p.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, captcha.ErrNoProblemAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("pick problem: %w", err)
	}
	return &p, nil
}

func (s *Store) Verify(ctx context.Context, fn func(tx captcha.VerifyTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin verify tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&verifyTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit verify tx: %w", err)
	}
	return nil
}

type verifyTx struct {
	tx pgx.Tx
}

func (v *verifyTx) LockSessionByToken(ctx context.Context, token string) (*captcha.Session, error) {
	var sess captcha.Session
	err := v.tx.QueryRow(ctx,
		`SELECT id, api_key_id, problem_id, client_token, ip_address, user_agent, created_at
		   FROM captcha_session WHERE client_token = $1 FOR UPDATE`, token,
	).Scan(&sess.ID, &sess.ApiKeyID, &sess.ProblemID, &sess.ClientToken,
		&sess.IPAddress, &sess.UserAgent, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, captcha.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	return &sess, nil
}

func (v *verifyTx) ProblemByID(ctx context.Context, id int64) (*captcha.Problem, error) {
	var p captcha.Problem
	err := v.tx.QueryRow(ctx,
		`SELECT id, image_key, answer, wrong_answer_1, wrong_answer_2, wrong_answer_3,
		        prompt, difficulty, expires_at
		   FROM captcha_problem WHERE id = $1`, id,
	).Scan(&p.ID, &p.ImageKey, &p.Answer,
		&p.WrongAnswers[0], &p.WrongAnswers[1], &p.WrongAnswers[2],
		&p.Prompt, &p.Difficulty, &p.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("load problem %d: %w", id, err)
	}
	return &p, nil
}

func (v *verifyTx) HasLog(ctx context.Context, sessionID int64) (bool, error) {
	var exists bool
	err := v.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM captcha_log WHERE session_id = $1)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check log existence: %w", err)
	}
	return exists, nil
}

func (v *verifyTx) InsertLog(ctx context.Context, entry *captcha.VerificationLog) error {
	confidence := pgtype.Float8{}
	if entry.MLConfidence != nil {
		confidence = pgtype.Float8{Float64: *entry.MLConfidence, Valid: true}
	}
	isBot := pgtype.Bool{}
	if entry.MLIsBot != nil {
		isBot = pgtype.Bool{Bool: *entry.MLIsBot, Valid: true}
	}

	err := v.tx.QueryRow(ctx,
		`INSERT INTO captcha_log (session_id, api_key_id, ip_address, user_agent,
		                          result, is_correct, ml_confidence, ml_is_bot, latency_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		entry.SessionID, entry.ApiKeyID, entry.IPAddress, entry.UserAgent,
		string(entry.Result), entry.IsCorrect, confidence, isBot, entry.LatencyMs,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert verification log: %w", err)
	}
	return nil
}

func (v *verifyTx) RecordVerification(ctx context.Context, keyID int64, result captcha.Result, latencyMs int64) error {
	return recordVerification(ctx, v.tx, keyID, result, latencyMs)
}

func recordVerification(ctx context.Context, tx pgx.Tx, keyID int64, result captcha.Result, latencyMs int64) error {
	var column string
	switch result {
	case captcha.ResultSuccess:
		column = "success_count"
	case captcha.ResultFail:
		column = "fail_count"
	case captcha.ResultTimeout:
		column = "timeout_count"
	default:
		return fmt.Errorf("unknown result %q", result)
	}

	query := fmt.Sprintf(
		`INSERT INTO usage_stats (key_id, date, %[1]s, latency_ms_sum)
		 VALUES ($1, CURRENT_DATE, 1, $2)
		 ON CONFLICT (key_id, date)
		 DO UPDATE SET %[1]s = usage_stats.%[1]s + 1,
		               latency_ms_sum = usage_stats.latency_ms_sum + $2`, column)
	if _, err := tx.Exec(ctx, query, keyID, latencyMs); err != nil {
		return fmt.Errorf("record %s verification: %w", result, err)
	}
	return nil
}
