package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	envPrefix            = "SLATE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "slate.db"
	defaultLogLevel      = "info"
	defaultTokenTTL      = 30
	defaultBufferSize    = 64
	defaultCursorSeconds = 3
)

// AppConfig captures runtime configuration for the board API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	SigningSecret    string
	TokenIssuer      string
	TokenAudience    string
	TokenTTL         time.Duration
	RealtimeBuffer   int
	CursorTTLSeconds int
}

// CursorTTL returns the cursor decay window as a duration.
func (c AppConfig) CursorTTL() time.Duration {
	return time.Duration(c.CursorTTLSeconds) * time.Second
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", "slate-auth")
	configViper.SetDefault("auth.audience", "slate-api")
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("realtime.buffer_size", defaultBufferSize)
	configViper.SetDefault("presence.cursor_ttl_seconds", defaultCursorSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenIssuer:      configViper.GetString("auth.issuer"),
		TokenAudience:    configViper.GetString("auth.audience"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RealtimeBuffer:   configViper.GetInt("realtime.buffer_size"),
		CursorTTLSeconds: configViper.GetInt("presence.cursor_ttl_seconds"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.HTTPAddress, validation.Required),
		validation.Field(&c.DatabasePath, validation.Required),
		validation.Field(&c.SigningSecret, validation.Required),
		validation.Field(&c.TokenTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.RealtimeBuffer, validation.Required, validation.Min(1)),
		validation.Field(&c.CursorTTLSeconds, validation.Required, validation.Min(1)),
	)
}
