package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
)

// isolate runs the test in an empty working and home directory so no
// stray .env or .pricesync.yaml leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, config.BaseURL)
	assert.Equal(t, DefaultDatabaseURL, config.DatabaseURL)
	assert.Equal(t, DefaultSecretKey, config.SecretKey)
	assert.Equal(t, constants.JobberGraphQLURL, config.GraphQLURL)
	assert.Equal(t, constants.JobberTokenURL, config.TokenURL)
	assert.Equal(t, constants.JobberAuthorizeURL, config.AuthorizeURL)
	assert.Equal(t, constants.JobberGraphQLVersion, config.GraphQLVersion)
	assert.Equal(t, constants.RateLimitDelay, config.RateLimitDelay)
	assert.Equal(t, constants.DefaultHTTPTimeout, config.HTTPTimeout)
	assert.Equal(t, "auto", config.LogFormat)
	assert.Equal(t, "stderr", config.LogOutput)
	assert.Empty(t, config.LogLevel)
	assert.Empty(t, config.ConfigFile)
}

func TestLoadConfig_EnvironmentVariables(t *testing.T) {
	isolate(t)
	t.Setenv("JOBBER_CLIENT_ID", "cid")
	t.Setenv("JOBBER_CLIENT_SECRET", "csecret")
	t.Setenv("BASE_URL", "https://sync.example.com/")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/pricesync")
	t.Setenv("SECRET_KEY", "s3cret")
	t.Setenv("JOBBER_GRAPHQL_VERSION", "2025-01-20")
	t.Setenv("RATE_LIMIT_DELAY", "250ms")
	t.Setenv("HTTP_TIMEOUT", "1m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("FORMAT", "yaml")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "cid", config.ClientID)
	assert.Equal(t, "csecret", config.ClientSecret)
	assert.Equal(t, "https://sync.example.com", config.BaseURL)
	assert.Equal(t, "https://sync.example.com/oauth/callback", config.RedirectURL())
	assert.Equal(t, "postgres://u:p@db/pricesync", config.DatabaseURL)
	assert.Equal(t, "s3cret", config.SecretKey)
	assert.Equal(t, "2025-01-20", config.GraphQLVersion)
	assert.Equal(t, 250*time.Millisecond, config.RateLimitDelay)
	assert.Equal(t, time.Minute, config.HTTPTimeout)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "json", config.LogFormat)
	assert.Equal(t, "yaml", config.Format)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("JOBBER_CLIENT_ID=from-env-file\nSECRET_KEY=from-env-file\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"),
		[]byte("SECRET_KEY=from-local\n"), 0o600))
	// godotenv sets the variables process-wide; register them for cleanup.
	t.Setenv("JOBBER_CLIENT_ID", "")
	t.Setenv("SECRET_KEY", "")
	require.NoError(t, os.Unsetenv("JOBBER_CLIENT_ID"))
	require.NoError(t, os.Unsetenv("SECRET_KEY"))

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "from-env-file", config.ClientID)
	assert.Equal(t, "from-local", config.SecretKey)
}

func TestLoadConfig_File(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pricesync.yaml"), []byte(
		"jobber_client_id: yaml-id\ndatabase_url: memory://\nrate_limit_delay: 1s\n"), 0o600))

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "yaml-id", config.ClientID)
	assert.Equal(t, "memory://", config.DatabaseURL)
	assert.Equal(t, time.Second, config.RateLimitDelay)
	assert.Equal(t, ".pricesync.yaml", filepath.Base(config.ConfigFile))
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: https://x.example\n"), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://x.example", config.BaseURL)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestConfig_UpdateFromFlags(t *testing.T) {
	tests := []struct {
		name      string
		envLevel  string
		verbose   bool
		quiet     bool
		flagLevel string
		want      string
	}{
		{name: "env level kept", envLevel: "error", want: "error"},
		{name: "flag replaces env", envLevel: "error", flagLevel: "trace", want: "trace"},
		{name: "verbose clears env", envLevel: "error", verbose: true, want: ""},
		{name: "quiet clears env", envLevel: "debug", quiet: true, want: ""},
		{name: "flag beats verbose", verbose: true, flagLevel: "warn", want: "warn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{LogLevel: tt.envLevel, Format: "json"}
			c.UpdateFromFlags(tt.verbose, tt.quiet, false, "", tt.flagLevel)
			assert.Equal(t, tt.want, c.LogLevel)
			assert.Equal(t, "json", c.Format)
		})
	}

	c := &Config{Format: "json"}
	c.UpdateFromFlags(false, false, true, "yaml", "")
	assert.Equal(t, "yaml", c.Format)
	assert.True(t, c.NoColor)
}

func TestConfig_RequireOAuth(t *testing.T) {
	assert.NoError(t, (&Config{ClientID: "a", ClientSecret: "b"}).RequireOAuth())

	err := (&Config{}).RequireOAuth()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOBBER_CLIENT_ID, JOBBER_CLIENT_SECRET")

	err = (&Config{ClientID: "a"}).RequireOAuth()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "JOBBER_CLIENT_ID")
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:xxxxx@db/x", redactDSN("postgres://u:p@db/x"))
	assert.Equal(t, "sqlite:///./pricesync.db", redactDSN("sqlite:///./pricesync.db"))
	assert.Equal(t, "memory://", redactDSN("memory://"))
}
