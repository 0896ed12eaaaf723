package config

import (
	"net/url"
	"os"
)

// SecretSource represents where a secret comes from.
type SecretSource string

const (
	SourceEnv    SecretSource = "env"
	SourceConfig SecretSource = "config"
	SourceNone   SecretSource = "none"
)

// SecretStatus reports whether a credential-bearing setting is present,
// without revealing it.
type SecretStatus struct {
	Name   string       `json:"name"`
	Source SecretSource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"`
}

// CheckSecrets returns the status of settings that may carry credentials.
func CheckSecrets(cfg *Config) []SecretStatus {
	return []SecretStatus{
		checkSecret("Redis URL", cfg.Cache.RedisURL, EnvPrefix+"_CACHE_REDIS_URL", maskURL),
	}
}

func checkSecret(name, value, envVar string, mask func(string) string) SecretStatus {
	status := SecretStatus{Name: name, IsSet: value != "", Source: SourceNone}
	if value == "" {
		return status
	}
	status.Source = SourceConfig
	if os.Getenv(envVar) != "" {
		status.Source = SourceEnv
	}
	status.Masked = mask(value)
	return status
}

// maskURL hides the userinfo password of a connection URL.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

// Redacted returns a shallow copy of cfg with credentials masked, safe to
// serve or log.
func Redacted(cfg *Config) *Config {
	out := *cfg
	if out.Cache.RedisURL != "" {
		out.Cache.RedisURL = maskURL(out.Cache.RedisURL)
	}
	return &out
}
