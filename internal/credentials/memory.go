package credentials

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pricesync/pricesync/pkg/errors"
)

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: make(map[string]Credential),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, accountID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[accountID]
	if !ok {
		return nil, errors.NewNotFoundError("credential", accountID)
	}
	return cloneCredential(c), nil
}

// List implements Store. Results are ordered by account id.
func (s *MemoryStore) List(_ context.Context) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Credential, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, *cloneCredential(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, cred Credential) error {
	if cred.AccountID == "" {
		return errors.NewValidationError("account_id", cred.AccountID, "cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.creds[cred.AccountID]; ok {
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	s.creds[cred.AccountID] = *cloneCredential(cred)
	return nil
}

// UpdateTokens implements Store.
func (s *MemoryStore) UpdateTokens(_ context.Context, accountID string, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[accountID]
	if !ok {
		return errors.NewNotFoundError("credential", accountID)
	}
	c.AccessToken = tokens.AccessToken
	c.RefreshToken = tokens.RefreshToken
	c.ExpiresAt = cloneTime(tokens.ExpiresAt)
	c.UpdatedAt = s.now()
	s.creds[accountID] = c
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, accountID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneCredential(c Credential) *Credential {
	c.ExpiresAt = cloneTime(c.ExpiresAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
