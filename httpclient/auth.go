package httpclient

import (
	"context"
	"fmt"
	"net/http"
)

// AuthType identifies the authentication method.
type AuthType string

const (
	AuthNone   AuthType = ""
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	// AuthToken sends a raw token in a named header, as Consul (X-Consul-Token)
	// and Vault (X-Vault-Token) expect.
	AuthToken AuthType = "token"
)

// TokenSource yields the token for the next request. It is used when the
// token is obtained at runtime, for example by a Vault login.
type TokenSource func(ctx context.Context) (string, error)

// AuthConfig configures request authentication.
type AuthConfig struct {
	Type     AuthType `yaml:"type" mapstructure:"type"`
	Token    string   `yaml:"token" mapstructure:"token"`
	Header   string   `yaml:"header" mapstructure:"header"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`

	// Source overrides Token when set.
	Source TokenSource `yaml:"-" mapstructure:"-"`
}

// BearerAuth creates a bearer token auth config.
func BearerAuth(token string) *AuthConfig {
	return &AuthConfig{Type: AuthBearer, Token: token}
}

// BasicAuth creates a basic auth config.
func BasicAuth(username, password string) *AuthConfig {
	return &AuthConfig{Type: AuthBasic, Username: username, Password: password}
}

// TokenAuth sends token in the given header.
func TokenAuth(header, token string) *AuthConfig {
	return &AuthConfig{Type: AuthToken, Header: header, Token: token}
}

// DynamicTokenAuth sends the token produced by src in the given header.
func DynamicTokenAuth(header string, src TokenSource) *AuthConfig {
	return &AuthConfig{Type: AuthToken, Header: header, Source: src}
}

// IsEnabled reports whether any credentials are configured.
func (a *AuthConfig) IsEnabled() bool {
	return a != nil && a.Type != AuthNone
}

// Validate checks that the credentials for the chosen type are present.
func (a *AuthConfig) Validate() error {
	if !a.IsEnabled() {
		return nil
	}
	switch a.Type {
	case AuthBearer:
		if a.Token == "" && a.Source == nil {
			return fmt.Errorf("httpclient: bearer auth requires a token")
		}
	case AuthBasic:
		if a.Username == "" {
			return fmt.Errorf("httpclient: basic auth requires a username")
		}
	case AuthToken:
		if a.Header == "" {
			return fmt.Errorf("httpclient: token auth requires a header name")
		}
	default:
		return fmt.Errorf("httpclient: unknown auth type %q", a.Type)
	}
	return nil
}

func (a *AuthConfig) token(ctx context.Context) (string, error) {
	if a.Source != nil {
		return a.Source(ctx)
	}
	return a.Token, nil
}

func (a *AuthConfig) apply(ctx context.Context, req *http.Request) error {
	if !a.IsEnabled() {
		return nil
	}
	switch a.Type {
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
		return nil
	case AuthBearer, AuthToken:
		tok, err := a.token(ctx)
		if err != nil {
			return err
		}
		if tok == "" {
			return nil
		}
		if a.Type == AuthBearer {
			req.Header.Set("Authorization", "Bearer "+tok)
		} else {
			req.Header.Set(a.Header, tok)
		}
	}
	return nil
}
