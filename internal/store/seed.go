package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/captcha"
)

// Seeding helpers for development and the traffic generator. Problems are
// curated externally in production; these only exist to fill a local pool.

func (s *Store) InsertApiKey(ctx context.Context, key *captcha.ApiKey) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO api_key (key, name, difficulty, token_balance)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET token_balance = EXCLUDED.token_balance
		 RETURNING id, created_at`,
		key.Key, key.Name, key.Difficulty, key.TokenBalance,
	).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *Store) InsertProblem(ctx context.Context, p *captcha.Problem) error {
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = time.Now().Add(24 * time.Hour)
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO captcha_problem (image_key, answer, wrong_answer_1, wrong_answer_2,
		                              wrong_answer_3, prompt, difficulty, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		p.ImageKey, p.Answer, p.WrongAnswers[0], p.WrongAnswers[1],
		p.WrongAnswers[2], p.Prompt, p.Difficulty, p.ExpiresAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert problem: %w", err)
	}
	return nil
}
