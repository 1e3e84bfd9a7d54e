// Package constants provides shared constants used throughout the pricesync codebase.
// This includes Jobber endpoints, timeouts, pagination limits and file permissions
// that should be consistent across the application.
package constants

import "time"

// Jobber endpoint constants
const (
	// JobberGraphQLURL is the GraphQL endpoint for catalog queries and mutations
	JobberGraphQLURL = "https://api.getjobber.com/api/graphql"

	// JobberTokenURL is the OAuth token endpoint for code exchange and refresh
	JobberTokenURL = "https://api.getjobber.com/api/oauth/token"

	// JobberAuthorizeURL is where users are sent to grant access
	JobberAuthorizeURL = "https://api.getjobber.com/api/oauth/authorize"

	// JobberGraphQLVersion pins the schema version sent in X-JOBBER-GRAPHQL-VERSION
	JobberGraphQLVersion = "2026-02-17"

	// JobberVersionHeader is the request header carrying the schema version
	JobberVersionHeader = "X-JOBBER-GRAPHQL-VERSION"

	// JobberWebhookSignatureHeader carries the base64 HMAC-SHA256 of a webhook body
	JobberWebhookSignatureHeader = "X-Jobber-Hmac-SHA256"
)

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout bounds every remote call
	DefaultHTTPTimeout = 30 * time.Second

	// TokenRequestTimeout bounds calls to the OAuth token endpoint
	TokenRequestTimeout = 15 * time.Second

	// RateLimitDelay is the fixed pause between consecutive remote calls
	RateLimitDelay = 500 * time.Millisecond

	// TokenExpiryBuffer is how close to expiry a token is refreshed proactively
	TokenExpiryBuffer = 120 * time.Second

	// ShutdownTimeout is how long the HTTP server waits for in-flight requests
	ShutdownTimeout = 30 * time.Second

	// WatchDebounce is how long the feed watcher waits for writes to settle
	WatchDebounce = 750 * time.Millisecond
)

// Limit constants define pagination and matching defaults
const (
	// CatalogPageSize is the page size for catalog queries
	CatalogPageSize = 100

	// DefaultFuzzyThreshold is the minimum similarity accepted by fuzzy matching
	DefaultFuzzyThreshold = 0.9

	// MaxUploadSize caps multipart feed uploads (10 MB)
	MaxUploadSize = 10 << 20
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644

	// SecureFilePermissions is for sensitive files like token databases (rw-------)
	SecureFilePermissions = 0600
)

// Session cookie constants
const (
	// AccountCookie holds the signed account id of the connected browser session
	AccountCookie = "price_sync_account"

	// OAuthStateCookie holds the CSRF state for the connect flow
	OAuthStateCookie = "price_sync_oauth_state"

	// AccountCookieMaxAge is 30 days in seconds
	AccountCookieMaxAge = 60 * 60 * 24 * 30
)
