// Package session signs the browser cookies that tie a session to a
// connected Jobber account and verifies Jobber webhook signatures.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/pricesync/pricesync/pkg/constants"
)

// stateMaxAge bounds how long a connect attempt may take, in seconds.
const stateMaxAge = 600

// Signer signs cookie values with HMAC-SHA256. Signed values have the form
// value.hexmac.
type Signer struct {
	key    []byte
	secure bool
}

// NewSigner creates a Signer. secure marks every cookie it writes as
// Secure, which callers set when the public base URL is https.
func NewSigner(key string, secure bool) *Signer {
	return &Signer{key: []byte(key), secure: secure}
}

// Sign returns value with its signature appended.
func (s *Signer) Sign(value string) string {
	return value + "." + s.mac(value)
}

// Verify returns the original value when signed carries a valid signature.
func (s *Signer) Verify(signed string) (string, bool) {
	i := strings.LastIndex(signed, ".")
	if i <= 0 {
		return "", false
	}
	value, sig := signed[:i], signed[i+1:]
	if !hmac.Equal([]byte(sig), []byte(s.mac(value))) {
		return "", false
	}
	return value, true
}

func (s *Signer) mac(value string) string {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(value))
	return hex.EncodeToString(m.Sum(nil))
}

// SetAccount stores the signed account id in the session cookie.
func (s *Signer) SetAccount(w http.ResponseWriter, accountID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     constants.AccountCookie,
		Value:    s.Sign(accountID),
		Path:     "/",
		MaxAge:   constants.AccountCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
}

// ClearAccount removes the session cookie.
func (s *Signer) ClearAccount(w http.ResponseWriter) {
	expire(w, constants.AccountCookie)
}

// Account returns the account id from a valid session cookie.
func (s *Signer) Account(r *http.Request) (string, bool) {
	c, err := r.Cookie(constants.AccountCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return s.Verify(c.Value)
}

// SetState stores the OAuth state for the callback to check.
func (s *Signer) SetState(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     constants.OAuthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
}

// State returns the stored OAuth state, if any.
func (s *Signer) State(r *http.Request) string {
	c, err := r.Cookie(constants.OAuthStateCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// ClearState removes the OAuth state cookie.
func (s *Signer) ClearState(w http.ResponseWriter) {
	expire(w, constants.OAuthStateCookie)
}

func expire(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// NewState returns a random URL-safe OAuth state.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerifyWebhook checks a base64 HMAC-SHA256 signature of body keyed by
// secret. An empty secret or signature never verifies.
func VerifyWebhook(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return hmac.Equal(m.Sum(nil), got)
}

// SignWebhook computes the signature VerifyWebhook expects.
func SignWebhook(body []byte, secret string) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return base64.StdEncoding.EncodeToString(m.Sum(nil))
}
