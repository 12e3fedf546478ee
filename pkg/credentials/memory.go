package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/unifyos/unify/pkg/models"
)

type tokenKey struct {
	userID string
	app    string
}

// MemoryStore keeps plaintext tokens in memory. It backs tests and local
// development and implements both Store and IdentityResolver.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[tokenKey]*models.Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[tokenKey]*models.Token)}
}

// Connect stores or replaces the user's token for token.App.
func (s *MemoryStore) Connect(token models.Token) {
	if token.ConnectedAt.IsZero() {
		token.ConnectedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[tokenKey{userID: token.UserID, app: token.App}] = &token
}

func (s *MemoryStore) Disconnect(userID, app string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, tokenKey{userID: userID, app: app})
}

func (s *MemoryStore) Token(_ context.Context, userID, app string) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenKey{userID: userID, app: app}]
	if !ok {
		return nil, ErrNotConnected
	}

	now := time.Now().UTC()
	token.LastUsedAt = &now

	copied := *token

	return &copied, nil
}

func (s *MemoryStore) Connected(_ context.Context, userID, app string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tokens[tokenKey{userID: userID, app: app}]

	return ok, nil
}

func (s *MemoryStore) ResolveUser(_ context.Context, app, externalAccountID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, token := range s.tokens {
		if key.app == app && token.ExternalAccountID != "" && token.ExternalAccountID == externalAccountID {
			return token.UserID, nil
		}
	}

	return "", ErrUnknownAccount
}
