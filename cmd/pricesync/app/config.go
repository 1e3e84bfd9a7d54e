package app

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
)

// Configuration defaults.
const (
	DefaultBaseURL     = "http://localhost:8000"
	DefaultDatabaseURL = "sqlite:///./pricesync.db"
	DefaultSecretKey   = "dev-secret-change-in-production"
)

// Config holds the application configuration loaded from config files,
// environment variables and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Jobber application
	ClientID       string
	ClientSecret   string
	GraphQLURL     string
	TokenURL       string
	AuthorizeURL   string
	GraphQLVersion string
	RateLimitDelay time.Duration
	HTTPTimeout    time.Duration

	// Service
	BaseURL     string
	DatabaseURL string
	SecretKey   string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (applied later by UpdateFromFlags)
// 2. Environment variables
// 3. .env files
// 4. Config file (path, or .pricesync.yaml in $HOME or the working directory)
// 5. Defaults
func LoadConfig(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigError("config", "cannot read "+path, err)
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".pricesync")
		// A missing config file is fine.
		_ = v.ReadInConfig()
	}

	config := &Config{
		Verbose: v.GetBool("verbose"),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no_color"),
		Format:  v.GetString("format"),

		ConfigFile: v.ConfigFileUsed(),

		ClientID:       v.GetString("jobber_client_id"),
		ClientSecret:   v.GetString("jobber_client_secret"),
		GraphQLURL:     v.GetString("jobber_graphql_url"),
		TokenURL:       v.GetString("jobber_token_url"),
		AuthorizeURL:   v.GetString("jobber_authorize_url"),
		GraphQLVersion: v.GetString("jobber_graphql_version"),
		RateLimitDelay: v.GetDuration("rate_limit_delay"),
		HTTPTimeout:    v.GetDuration("http_timeout"),

		BaseURL:     strings.TrimRight(v.GetString("base_url"), "/"),
		DatabaseURL: v.GetString("database_url"),
		SecretKey:   v.GetString("secret_key"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		LogOutput: v.GetString("log_output"),
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jobber_graphql_url", constants.JobberGraphQLURL)
	v.SetDefault("jobber_token_url", constants.JobberTokenURL)
	v.SetDefault("jobber_authorize_url", constants.JobberAuthorizeURL)
	v.SetDefault("jobber_graphql_version", constants.JobberGraphQLVersion)
	v.SetDefault("rate_limit_delay", constants.RateLimitDelay)
	v.SetDefault("http_timeout", constants.DefaultHTTPTimeout)
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("database_url", DefaultDatabaseURL)
	v.SetDefault("secret_key", DefaultSecretKey)
	v.SetDefault("log_format", "auto")
	v.SetDefault("log_output", "stderr")
}

// UpdateFromFlags updates config values from parsed command flags.
// An explicit --log-level replaces LOG_LEVEL; -v or -q without it
// clear LOG_LEVEL so the shortcut applies.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = c.NoColor || noColor
	if format != "" {
		c.Format = format
	}
	switch {
	case logLevel != "":
		c.LogLevel = logLevel
	case verbose || quiet:
		c.LogLevel = ""
	}
}

// RedirectURL is the OAuth callback registered with Jobber.
func (c *Config) RedirectURL() string {
	return c.BaseURL + "/oauth/callback"
}

// RequireOAuth reports a configuration error when the Jobber application
// credentials are missing.
func (c *Config) RequireOAuth() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "JOBBER_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "JOBBER_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return errors.NewConfigError("jobber", strings.Join(missing, ", ")+" not set", nil)
	}
	return nil
}

// loadEnvFiles loads environment variables from .env files.
// Variables already set in the environment are never overridden.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}
