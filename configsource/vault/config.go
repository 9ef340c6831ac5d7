package vault

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kbukum/discoverykit/resilience"
	"github.com/kbukum/discoverykit/security"
)

// Auth methods.
const (
	AuthMethodToken = "token"
	AuthMethodJWT   = "jwt"
)

// Config locates secrets in a Vault KV engine.
type Config struct {
	// Address is the Vault server URL (default http://127.0.0.1:8200).
	Address string `yaml:"address" mapstructure:"address"`
	// Backend is the KV engine mount (default "secret").
	Backend string `yaml:"backend" mapstructure:"backend"`
	// KVVersion is 1 or 2 (default 2).
	KVVersion int `yaml:"kv_version" mapstructure:"kv_version"`
	// PathPrefix is inserted between the engine and the secret name.
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix"`
	// ProfileSeparator joins application and profile (default "/").
	ProfileSeparator string `yaml:"profile_separator" mapstructure:"profile_separator"`
	// Namespace is sent as X-Vault-Namespace when set.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`

	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	TLS            *security.TLSConfig              `yaml:"tls" mapstructure:"tls"`
	Timeout        time.Duration                    `yaml:"timeout" mapstructure:"timeout"`
	CircuitBreaker *resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// AuthConfig selects how the client obtains its Vault token.
type AuthConfig struct {
	// Method is "token" (default) or "jwt".
	Method string `yaml:"method" mapstructure:"method"`
	Token  string `yaml:"token" mapstructure:"token"`
	// Path is the JWT auth mount (default "jwt").
	Path string `yaml:"path" mapstructure:"path"`
	// Role is the Vault role the JWT logs in as.
	Role string    `yaml:"role" mapstructure:"role"`
	JWT  JWTConfig `yaml:"jwt" mapstructure:"jwt"`
}

// JWTConfig describes the assertion signed for a JWT login.
type JWTConfig struct {
	// Algorithm is HS256/384/512, RS256/384/512 or ES256/384/512.
	Algorithm string `yaml:"algorithm" mapstructure:"algorithm"`
	// Secret signs HS* tokens.
	Secret string `yaml:"secret" mapstructure:"secret"`
	// PrivateKey is a PEM key for RS* and ES* tokens. PrivateKeyFile is read
	// when PrivateKey is empty.
	PrivateKey     string        `yaml:"private_key" mapstructure:"private_key"`
	PrivateKeyFile string        `yaml:"private_key_file" mapstructure:"private_key_file"`
	Issuer         string        `yaml:"issuer" mapstructure:"issuer"`
	Subject        string        `yaml:"subject" mapstructure:"subject"`
	Audience       []string      `yaml:"audience" mapstructure:"audience"`
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "http://127.0.0.1:8200"
	}
	if c.Backend == "" {
		c.Backend = "secret"
	}
	if c.KVVersion == 0 {
		c.KVVersion = 2
	}
	if c.ProfileSeparator == "" {
		c.ProfileSeparator = "/"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Auth.Method == "" {
		c.Auth.Method = AuthMethodToken
	}
	if c.Auth.Path == "" {
		c.Auth.Path = "jwt"
	}
	if c.Auth.JWT.Algorithm == "" {
		c.Auth.JWT.Algorithm = "HS256"
	}
	if c.Auth.JWT.TTL == 0 {
		c.Auth.JWT.TTL = time.Minute
	}
	c.Backend = strings.Trim(c.Backend, "/")
	c.PathPrefix = strings.Trim(c.PathPrefix, "/")
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("vault address must be an absolute http(s) URL, got %q", c.Address)
	}
	if c.KVVersion != 1 && c.KVVersion != 2 {
		return fmt.Errorf("vault kv_version must be 1 or 2, got %d", c.KVVersion)
	}
	switch c.Auth.Method {
	case AuthMethodToken:
		if c.Auth.Token == "" {
			return fmt.Errorf("vault token auth requires a token")
		}
	case AuthMethodJWT:
		if c.Auth.Role == "" {
			return fmt.Errorf("vault jwt auth requires a role")
		}
		if err := c.Auth.JWT.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown vault auth method %q", c.Auth.Method)
	}
	return c.TLS.Validate()
}

func (j *JWTConfig) validate() error {
	switch strings.ToUpper(j.Algorithm) {
	case "HS256", "HS384", "HS512":
		if j.Secret == "" {
			return fmt.Errorf("vault jwt: secret is required for %s", j.Algorithm)
		}
	case "RS256", "RS384", "RS512", "ES256", "ES384", "ES512":
		if j.PrivateKey == "" && j.PrivateKeyFile == "" {
			return fmt.Errorf("vault jwt: private key is required for %s", j.Algorithm)
		}
	default:
		return fmt.Errorf("vault jwt: unsupported algorithm %q", j.Algorithm)
	}
	return nil
}
