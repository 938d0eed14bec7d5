package config

import (
	"net/url"
	"os"
)

// SecretSource represents where a secret comes from.
type SecretSource string

const (
	SecretSourceEnv    SecretSource = "env"
	SecretSourceConfig SecretSource = "config"
	SecretSourceNone   SecretSource = "none"
)

// SecretStatus represents the status of a credential.
type SecretStatus struct {
	Name   string       `json:"name"`
	Source SecretSource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"` // e.g., "pos...123"
}

// CheckSecrets returns the status of the credentials the service uses.
func CheckSecrets(cfg *Config) []SecretStatus {
	return []SecretStatus{
		checkSecret("Store password", dsnPassword(cfg.Store.DSN), "GAMECOCK_STORE_DSN"),
		checkSecret("Redis password", cfg.Cache.RedisPassword, "GAMECOCK_CACHE_REDIS_PASSWORD"),
		checkSecret("EDGAR user agent", cfg.EDGAR.UserAgent, "GAMECOCK_EDGAR_USER_AGENT"),
	}
}

// checkSecret checks if a secret is set and where it came from.
func checkSecret(name, value, envVar string) SecretStatus {
	status := SecretStatus{
		Name:  name,
		IsSet: value != "",
	}

	if value != "" {
		if os.Getenv(envVar) != "" {
			status.Source = SecretSourceEnv
		} else {
			status.Source = SecretSourceConfig
		}
		status.Masked = maskKey(value)
	} else {
		status.Source = SecretSourceNone
	}

	return status
}

// dsnPassword extracts the password from a URL-style DSN. Key/value DSNs
// and sqlite file paths carry none.
func dsnPassword(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return ""
	}
	pw, _ := u.User.Password()
	return pw
}

// RedactDSN returns the DSN with any password masked, for logging.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// maskKey masks a secret for display, showing only first 3 and last 3 chars.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}

// Redacted returns a copy safe to print or serve: the store DSN password
// and the Redis password are masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Store.DSN = RedactDSN(c.Store.DSN)
	if c.Cache.RedisPassword != "" {
		out.Cache.RedisPassword = "***"
	}
	out.Sources.Enabled = append([]string(nil), c.Sources.Enabled...)
	out.API.CORSOrigins = append([]string(nil), c.API.CORSOrigins...)
	return &out
}
