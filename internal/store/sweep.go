package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/captcha"
)

// SweepTimeouts force-writes TIMEOUT logs for sessions past the response
// window that never reached a terminal state. SKIP LOCKED keeps the sweep
// from ever contending with an interactive verification holding a session
// row; the locked session will be swept on a later pass if its verify
// rolls back.
func (s *Store) SweepTimeouts(ctx context.Context, timeout time.Duration) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	rows, err := tx.Query(ctx,
		`SELECT s.id, s.api_key_id, s.created_at
		   FROM captcha_session s
		  WHERE s.created_at < $1
		    AND NOT EXISTS (SELECT 1 FROM captcha_log l WHERE l.session_id = s.id)
		  FOR UPDATE OF s SKIP LOCKED`,
		now.Add(-timeout),
	)
	if err != nil {
		return 0, fmt.Errorf("scan expired sessions: %w", err)
	}

	type expired struct {
		id        int64
		apiKeyID  int64
		createdAt time.Time
	}
	var sessions []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.apiKeyID, &e.createdAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired session: %w", err)
		}
		sessions = append(sessions, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate expired sessions: %w", err)
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	for _, e := range sessions {
		latencyMs := now.Sub(e.createdAt).Milliseconds()
		if _, err := tx.Exec(ctx,
			`INSERT INTO captcha_log (session_id, api_key_id, result, latency_ms)
			 VALUES ($1, $2, $3, $4)`,
			e.id, e.apiKeyID, string(captcha.ResultTimeout), latencyMs,
		); err != nil {
			return 0, fmt.Errorf("insert timeout log for session %d: %w", e.id, err)
		}
		if err := recordVerification(ctx, tx, e.apiKeyID, captcha.ResultTimeout, latencyMs); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit sweep tx: %w", err)
	}
	return len(sessions), nil
}
