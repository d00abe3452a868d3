package captcha

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
)

// Service issues challenges: one session per request, quota debited in the
// same transaction that creates the session.
type Service struct {
	store        Store
	imageBaseURL string
}

func NewService(store Store, imageBaseURL string) *Service {
	return &Service{store: store, imageBaseURL: strings.TrimRight(imageBaseURL, "/")}
}

// IssueProblem picks a problem, debits the key's quota, creates the session
// and returns the client-facing challenge with shuffled options.
func (s *Service) IssueProblem(ctx context.Context, key *ApiKey, ip, userAgent string) (*ProblemResponse, error) {
	session, problem, err := s.store.IssueSession(ctx, key, ip, userAgent)
	if err != nil {
		return nil, err
	}

	options := problem.Options()
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return &ProblemResponse{
		ClientToken: session.ClientToken,
		ImageURL:    fmt.Sprintf("%s/%s", s.imageBaseURL, problem.ImageKey),
		Prompt:      problem.Prompt,
		Options:     options,
	}, nil
}
