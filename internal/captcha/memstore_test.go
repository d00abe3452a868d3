package captcha

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore mirrors the Postgres store's locking semantics with one mutex:
// issue and verify transactions run serialized, and verify writes are staged
// until the transaction function returns nil.
type memStore struct {
	mu        sync.Mutex
	keys      map[string]*ApiKey
	problems  map[int64]*Problem
	sessions  map[string]*Session
	logs      map[int64]*VerificationLog
	statCount map[Result]int
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		keys:      make(map[string]*ApiKey),
		problems:  make(map[int64]*Problem),
		sessions:  make(map[string]*Session),
		logs:      make(map[int64]*VerificationLog),
		statCount: make(map[Result]int),
	}
}

func (m *memStore) addKey(key string, balance int64) *ApiKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	k := &ApiKey{ID: m.nextID, Key: key, TokenBalance: balance, CreatedAt: time.Now()}
	m.keys[key] = k
	return k
}

func (m *memStore) addProblem(answer string, wrong [3]string) *Problem {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := &Problem{
		ID:           m.nextID,
		ImageKey:     "problems/test.webp",
		Answer:       answer,
		WrongAnswers: wrong,
		Prompt:       "what is it",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	m.problems[p.ID] = p
	return p
}

func (m *memStore) ApiKeyByKey(ctx context.Context, key string) (*ApiKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[key]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	copy := *k
	return &copy, nil
}

func (m *memStore) IssueSession(ctx context.Context, key *ApiKey, ip, userAgent string) (*Session, *Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.keys[key.Key]
	if !ok {
		return nil, nil, ErrInvalidAPIKey
	}
	if stored.TokenBalance <= 0 {
		return nil, nil, ErrQuotaExhausted
	}

	var problem *Problem
	for _, p := range m.problems {
		if p.ExpiresAt.Before(time.Now()) {
			continue
		}
		if key.Difficulty > 0 && p.Difficulty != key.Difficulty {
			continue
		}
		problem = p
		break
	}
	if problem == nil {
		return nil, nil, ErrNoProblemAvailable
	}

	stored.TokenBalance--
	m.nextID++
	session := &Session{
		ID:          m.nextID,
		ApiKeyID:    stored.ID,
		ProblemID:   problem.ID,
		ClientToken: uuid.NewString(),
		IPAddress:   ip,
		UserAgent:   userAgent,
		CreatedAt:   time.Now(),
	}
	m.sessions[session.ClientToken] = session
	return session, problem, nil
}

type memTx struct {
	store      *memStore
	stagedLog  *VerificationLog
	stagedStat *Result
}

func (m *memStore) Verify(ctx context.Context, fn func(tx VerifyTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	// Commit.
	if tx.stagedLog != nil {
		m.logs[tx.stagedLog.SessionID] = tx.stagedLog
	}
	if tx.stagedStat != nil {
		m.statCount[*tx.stagedStat]++
	}
	return nil
}

func (t *memTx) LockSessionByToken(ctx context.Context, token string) (*Session, error) {
	s, ok := t.store.sessions[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	copy := *s
	return &copy, nil
}

func (t *memTx) ProblemByID(ctx context.Context, id int64) (*Problem, error) {
	p, ok := t.store.problems[id]
	if !ok {
		return nil, errors.New("problem not found")
	}
	copy := *p
	return &copy, nil
}

func (t *memTx) HasLog(ctx context.Context, sessionID int64) (bool, error) {
	_, ok := t.store.logs[sessionID]
	return ok, nil
}

func (t *memTx) InsertLog(ctx context.Context, entry *VerificationLog) error {
	if _, exists := t.store.logs[entry.SessionID]; exists {
		return errors.New("duplicate log for session")
	}
	t.store.nextID++
	entry.ID = t.store.nextID
	entry.CreatedAt = time.Now()
	t.stagedLog = entry
	return nil
}

func (t *memTx) RecordVerification(ctx context.Context, keyID int64, result Result, latencyMs int64) error {
	t.stagedStat = &result
	return nil
}
