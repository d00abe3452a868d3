package captcha

import "errors"

var (
	// ErrInvalidAPIKey means the X-Api-Key header matched no key.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrQuotaExhausted means the key's token balance is empty.
	ErrQuotaExhausted = errors.New("api token balance exhausted")
	// ErrNoProblemAvailable means the unexpired problem pool is empty.
	ErrNoProblemAvailable = errors.New("no active captcha problem available")
	// ErrInvalidToken means the client token matched no session.
	ErrInvalidToken = errors.New("invalid client token")
	// ErrAlreadyVerified means the session already has its terminal log.
	ErrAlreadyVerified = errors.New("token already verified")
)
