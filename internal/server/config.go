package server

import (
	"net/url"
	"time"

	"github.com/pricesync/pricesync/pkg/constants"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// BaseURL is the public URL of the service. Cookies are marked Secure
	// when it is https.
	BaseURL string

	// SecretKey signs the session cookie.
	SecretKey string

	// MaxUploadSize caps feed uploads in bytes.
	MaxUploadSize int64

	// HTTP timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults. WriteTimeout is
// generous because a sync request lasts as long as the run.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		BaseURL:         "http://localhost:8000",
		MaxUploadSize:   constants.MaxUploadSize,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Minute,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: constants.ShutdownTimeout,
	}
}

// SecureCookies reports whether the public base URL is https.
func (c Config) SecureCookies() bool {
	u, err := url.Parse(c.BaseURL)
	return err == nil && u.Scheme == "https"
}
