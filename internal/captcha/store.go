package captcha

import "context"

// Store is the transactional persistence surface of the engine. The
// Postgres implementation lives in internal/store; tests use an in-memory
// one with the same locking semantics.
type Store interface {
	// ApiKeyByKey resolves an API key header value. ErrInvalidAPIKey when
	// absent.
	ApiKeyByKey(ctx context.Context, key string) (*ApiKey, error)

	// IssueSession atomically checks and decrements the key's quota, picks
	// a random unexpired problem (filtered by the key's difficulty when
	// set), and inserts the session. The quota row stays locked for the
	// whole transaction so a balance of 1 cannot be spent twice.
	// ErrQuotaExhausted / ErrNoProblemAvailable as applicable.
	IssueSession(ctx context.Context, key *ApiKey, ip, userAgent string) (*Session, *Problem, error)

	// Verify runs fn inside one transaction. Any error from fn rolls the
	// whole transaction back; nothing partial is ever committed.
	Verify(ctx context.Context, fn func(tx VerifyTx) error) error
}

// VerifyTx is the slice of a verification transaction the orchestrator
// needs. LockSessionByToken must hold the session's row lock until the
// transaction ends, serializing concurrent attempts on one token.
type VerifyTx interface {
	LockSessionByToken(ctx context.Context, token string) (*Session, error)
	ProblemByID(ctx context.Context, id int64) (*Problem, error)
	HasLog(ctx context.Context, sessionID int64) (bool, error)
	InsertLog(ctx context.Context, entry *VerificationLog) error
	RecordVerification(ctx context.Context, keyID int64, result Result, latencyMs int64) error
}
