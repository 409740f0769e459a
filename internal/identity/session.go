package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionDuration is 7 days
	SessionDuration = 7 * 24 * time.Hour

	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_session:"
)

// Sessions holds one live session per user.
type Sessions interface {
	Create(ctx context.Context, userID string) (string, error)
	// Validate returns the user id of a live session; ok is false for unknown tokens.
	Validate(ctx context.Context, token string) (userID string, ok bool, err error)
	InvalidateUser(ctx context.Context, userID string) error
}

type RedisSessions struct {
	client *redis.Client
}

func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

// Create replaces any existing session for the user so the 7-day timer restarts at login.
func (s *RedisSessions) Create(ctx context.Context, userID string) (string, error) {
	if err := s.InvalidateUser(ctx, userID); err != nil {
		return "", err
	}
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+token, userID, SessionDuration)
	pipe.Set(ctx, userSessionKeyPrefix+userID, token, SessionDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisSessions) Validate(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	userID, err := s.client.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

func (s *RedisSessions) InvalidateUser(ctx context.Context, userID string) error {
	key := userSessionKeyPrefix + userID
	token, err := s.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if token != "" {
		s.client.Del(ctx, sessionKeyPrefix+token)
	}
	return s.client.Del(ctx, key).Err()
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// MemorySessions is the single-process fallback used when Redis is not configured.
type MemorySessions struct {
	mu     sync.Mutex
	byTok  map[string]memSession
	byUser map[string]string
	now    func() time.Time
}

type memSession struct {
	userID  string
	expires time.Time
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		byTok:  make(map[string]memSession),
		byUser: make(map[string]string),
		now:    time.Now,
	}
}

func (s *MemorySessions) Create(_ context.Context, userID string) (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[userID]; ok {
		delete(s.byTok, old)
	}
	s.byTok[token] = memSession{userID: userID, expires: s.now().Add(SessionDuration)}
	s.byUser[userID] = token
	return token, nil
}

func (s *MemorySessions) Validate(_ context.Context, token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byTok[token]
	if !ok || s.now().After(sess.expires) {
		return "", false, nil
	}
	return sess.userID, true, nil
}

func (s *MemorySessions) InvalidateUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.byUser[userID]; ok {
		delete(s.byTok, tok)
		delete(s.byUser, userID)
	}
	return nil
}
