// Package credentials persists the OAuth token pair of each connected
// Jobber account. Token rotation is a single atomic write so a reader never
// sees a new access token next to a spent refresh token.
package credentials

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned when an account has no stored credential.
var ErrNotConnected = errors.New("account not connected")

// Credential is the stored connection for one Jobber account.
type Credential struct {
	AccountID    string     `json:"account_id" yaml:"account_id"`
	AccountName  string     `json:"account_name" yaml:"account_name"`
	AccessToken  string     `json:"-" yaml:"-"`
	RefreshToken string     `json:"-" yaml:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Tokens is a rotated token set returned by the token endpoint.
// A nil ExpiresAt means the server did not say when the token expires.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Store is a keyed credential store.
//
// Get returns an error satisfying errors.IsNotFound for unknown accounts.
// UpdateTokens replaces access token, refresh token and expiry together and
// fails with a not-found error when the account was deleted meanwhile.
// Delete is idempotent.
type Store interface {
	Get(ctx context.Context, accountID string) (*Credential, error)
	List(ctx context.Context) ([]Credential, error)
	Upsert(ctx context.Context, cred Credential) error
	UpdateTokens(ctx context.Context, accountID string, tokens Tokens) error
	Delete(ctx context.Context, accountID string) error
	Close() error
}

// ExpiresIn converts an expires_in value from a token response into an
// absolute expiry. Nil in, nil out.
func ExpiresIn(now time.Time, seconds *int64) *time.Time {
	if seconds == nil {
		return nil
	}
	at := now.Add(time.Duration(*seconds) * time.Second).UTC().Truncate(time.Second)
	return &at
}
