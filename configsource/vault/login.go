package vault

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/httpclient"
)

// tokenRefreshMargin renews a login token before Vault expires it.
const tokenRefreshMargin = 10 * time.Second

// jwtLogin exchanges a self-signed JWT for a Vault client token and caches
// the token until shortly before its lease ends.
type jwtLogin struct {
	cfg    AuthConfig
	client *httpclient.Client
	method gojwt.SigningMethod
	key    any
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newJWTLogin(cfg AuthConfig, client *httpclient.Client) (*jwtLogin, error) {
	method := gojwt.GetSigningMethod(strings.ToUpper(cfg.JWT.Algorithm))
	if method == nil {
		return nil, errors.Configurationf("vault jwt: unsupported algorithm %q", cfg.JWT.Algorithm)
	}
	key, err := signKey(cfg.JWT)
	if err != nil {
		return nil, err
	}
	return &jwtLogin{cfg: cfg, client: client, method: method, key: key, now: time.Now}, nil
}

func signKey(cfg JWTConfig) (any, error) {
	alg := strings.ToUpper(cfg.Algorithm)
	if strings.HasPrefix(alg, "HS") {
		return []byte(cfg.Secret), nil
	}
	pem := []byte(cfg.PrivateKey)
	if len(pem) == 0 {
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, errors.Configurationf("vault jwt: read private key: %v", err)
		}
		pem = data
	}
	var (
		key any
		err error
	)
	if strings.HasPrefix(alg, "ES") {
		key, err = gojwt.ParseECPrivateKeyFromPEM(pem)
	} else {
		key, err = gojwt.ParseRSAPrivateKeyFromPEM(pem)
	}
	if err != nil {
		return nil, errors.Configurationf("vault jwt: parse private key: %v", err)
	}
	return key, nil
}

// assertion signs the JWT presented to Vault.
func (l *jwtLogin) assertion() (string, error) {
	now := l.now()
	claims := gojwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    l.cfg.JWT.Issuer,
		Subject:   l.cfg.JWT.Subject,
		Audience:  l.cfg.JWT.Audience,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(l.cfg.JWT.TTL)),
	}
	signed, err := gojwt.NewWithClaims(l.method, claims).SignedString(l.key)
	if err != nil {
		return "", errors.Internal(err)
	}
	return signed, nil
}

type loginResponse struct {
	Auth struct {
		ClientToken   string `json:"client_token"`
		LeaseDuration int    `json:"lease_duration"`
	} `json:"auth"`
}

// Token returns a cached client token, logging in again when it is about
// to expire. It is used as the client's token source.
func (l *jwtLogin) Token(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" && l.now().Before(l.expires) {
		return l.token, nil
	}

	signed, err := l.assertion()
	if err != nil {
		return "", err
	}
	resp, err := l.client.Do(ctx, httpclient.Request{
		Method:    "POST",
		Path:      "/v1/auth/" + strings.Trim(l.cfg.Path, "/") + "/login",
		Body:      map[string]string{"role": l.cfg.Role, "jwt": signed},
		Auth:      &httpclient.AuthConfig{},
		Operation: "vault login",
	})
	if err != nil {
		return "", err
	}
	out, err := httpclient.DecodeJSON[loginResponse](resp, "vault login")
	if err != nil {
		return "", err
	}
	if out.Auth.ClientToken == "" {
		return "", errors.Malformed("vault login", nil).WithDetail("reason", "no client token")
	}

	l.token = out.Auth.ClientToken
	ttl := time.Duration(out.Auth.LeaseDuration) * time.Second
	if ttl > 2*tokenRefreshMargin {
		ttl -= tokenRefreshMargin
	}
	l.expires = l.now().Add(ttl)
	return l.token, nil
}

// invalidate drops the cached token after Vault rejected it.
func (l *jwtLogin) invalidate() {
	l.mu.Lock()
	l.token = ""
	l.mu.Unlock()
}
