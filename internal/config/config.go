package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Xero       XeroConfig       `mapstructure:"xero"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	OAuth      OAuthConfig      `mapstructure:"oauth"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Refresh    RefreshConfig    `mapstructure:"refresh"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Host     string `mapstructure:"host"`
	HTTPS    bool   `mapstructure:"https"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN returns the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

// RedisConfig holds redis configuration. An empty Addr disables every
// Redis-backed component.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// XeroConfig holds Xero OAuth application credentials and endpoints
type XeroConfig struct {
	ClientID       string   `mapstructure:"client_id"`
	ClientSecret   string   `mapstructure:"client_secret"`
	RedirectURI    string   `mapstructure:"redirect_uri"`
	Scopes         []string `mapstructure:"scopes"`
	AuthURL        string   `mapstructure:"auth_url"`
	TokenURL       string   `mapstructure:"token_url"`
	RevokeURL      string   `mapstructure:"revoke_url"`
	ConnectionsURL string   `mapstructure:"connections_url"`
	APIBaseURL     string   `mapstructure:"api_base_url"`
}

// EncryptionConfig holds the password tokens are encrypted with at rest
type EncryptionConfig struct {
	Password string `mapstructure:"password"`
}

// OAuthConfig selects where CSRF state lives
type OAuthConfig struct {
	StateBackend string `mapstructure:"state_backend"` // memory, redis
}

// VaultConfig holds optional Vault settings
type VaultConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"`
	Path  string `mapstructure:"path"`
}

// RefreshConfig holds the token refresh job schedule
type RefreshConfig struct {
	Cron        string `mapstructure:"cron"`
	Concurrency int    `mapstructure:"concurrency"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

var envBindings = map[string]string{
	"server.port":         "SERVER_PORT",
	"server.host":         "SERVER_HOST",
	"server.https":        "SERVER_HTTPS",
	"server.cert_file":    "SERVER_CERT_FILE",
	"server.key_file":     "SERVER_KEY_FILE",
	"database.host":       "DATABASE_HOST",
	"database.port":       "DATABASE_PORT",
	"database.name":       "DATABASE_NAME",
	"database.user":       "DATABASE_USER",
	"database.password":   "DATABASE_PASSWORD",
	"database.ssl_mode":   "DATABASE_SSL_MODE",
	"redis.addr":          "REDIS_ADDR",
	"redis.password":      "REDIS_PASSWORD",
	"redis.db":            "REDIS_DB",
	"xero.client_id":      "XERO_CLIENT_ID",
	"xero.client_secret":  "XERO_CLIENT_SECRET",
	"xero.redirect_uri":   "XERO_REDIRECT_URI",
	"encryption.password": "ENCRYPTION_PASSWORD",
	"oauth.state_backend": "OAUTH_STATE_BACKEND",
	"vault.addr":          "VAULT_ADDR",
	"vault.token":         "VAULT_TOKEN",
	"vault.path":          "VAULT_PATH",
	"refresh.cron":        "REFRESH_CRON",
	"refresh.concurrency": "REFRESH_CONCURRENCY",
	"log.level":           "LOG_LEVEL",
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.https", false)
	v.SetDefault("server.cert_file", "./certs/server.crt")
	v.SetDefault("server.key_file", "./certs/server.key")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "prepaidly")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("redis.db", 0)
	v.SetDefault("xero.scopes", []string{
		"openid",
		"profile",
		"email",
		"offline_access",
		"accounting.transactions",
		"accounting.settings.read",
		"accounting.contacts.read",
	})
	v.SetDefault("xero.auth_url", "https://login.xero.com/identity/connect/authorize")
	v.SetDefault("xero.token_url", "https://identity.xero.com/connect/token")
	v.SetDefault("xero.revoke_url", "https://identity.xero.com/connect/revocation")
	v.SetDefault("xero.connections_url", "https://api.xero.com/connections")
	v.SetDefault("xero.api_base_url", "https://api.xero.com/api.xro/2.0")
	v.SetDefault("oauth.state_backend", "memory")
	v.SetDefault("vault.path", "secret/data/prepaidly")
	v.SetDefault("refresh.cron", "0 */6 * * *")
	v.SetDefault("refresh.concurrency", 4)
	v.SetDefault("log.level", "info")
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper binds the environment onto v and unmarshals the result.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ApplySecrets overrides secret values with the ones found in secrets.
// Keys follow the viper dotted form, e.g. "xero.client_secret".
func (c *Config) ApplySecrets(secrets map[string]string) {
	if v, ok := secrets["xero.client_secret"]; ok && v != "" {
		c.Xero.ClientSecret = v
	}
	if v, ok := secrets["encryption.password"]; ok && v != "" {
		c.Encryption.Password = v
	}
	if v, ok := secrets["database.password"]; ok && v != "" {
		c.Database.Password = v
	}
}

// Validate reports configuration that makes the service unusable.
func (c *Config) Validate() error {
	var missing []string
	if c.Xero.ClientID == "" {
		missing = append(missing, "xero.client_id")
	}
	if c.Xero.ClientSecret == "" {
		missing = append(missing, "xero.client_secret")
	}
	if c.Xero.RedirectURI == "" {
		missing = append(missing, "xero.redirect_uri")
	}
	if c.Encryption.Password == "" {
		missing = append(missing, "encryption.password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.OAuth.StateBackend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("oauth.state_backend=redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown oauth.state_backend %q", c.OAuth.StateBackend)
	}
	return nil
}
