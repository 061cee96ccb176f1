package target

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Authenticator attaches credentials to outbound requests.
type Authenticator interface {
	Apply(req *http.Request) error
}

// AuthConfig selects and parameterizes an authenticator. Mirrors the run
// configuration so the CLI can map it across without coupling this package
// to the config surface.
type AuthConfig struct {
	Mode         string
	Token        string
	JWTSecret    string
	JWTSubject   string
	JWTTTL       time.Duration
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewAuthenticator builds the authenticator for a mode. Mode "none" or empty
// returns nil: requests go out bare.
func NewAuthenticator(cfg AuthConfig) (Authenticator, error) {
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "bearer":
		if cfg.Token == "" {
			return nil, errors.New("target: bearer auth needs a token")
		}
		return bearerAuth{token: cfg.Token}, nil
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, errors.New("target: jwt auth needs a secret")
		}
		ttl := cfg.JWTTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		return &jwtAuth{
			secret:  []byte(cfg.JWTSecret),
			subject: cfg.JWTSubject,
			ttl:     ttl,
			now:     time.Now,
		}, nil
	case "oauth2":
		if cfg.TokenURL == "" || cfg.ClientID == "" {
			return nil, errors.New("target: oauth2 auth needs token_url and client_id")
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		return &oauth2Auth{source: cc.TokenSource(context.Background())}, nil
	default:
		return nil, fmt.Errorf("target: unknown auth mode %q", cfg.Mode)
	}
}

type bearerAuth struct {
	token string
}

func (b bearerAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.token)
	return nil
}

// jwtAuth mints short-lived HS256 tokens and reuses each one until close to
// expiry, keeping the signing cost off the per-request path.
type jwtAuth struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (j *jwtAuth) Apply(req *http.Request) error {
	token, err := j.current()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (j *jwtAuth) current() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	if j.token != "" && now.Before(j.expires) {
		return j.token, nil
	}

	expiry := now.Add(j.ttl)
	claims := jwt.MapClaims{
		"iss": "crucible",
		"sub": j.subject,
		"iat": now.Unix(),
		"exp": expiry.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("target: sign jwt: %w", err)
	}
	j.token = signed
	// Renew early so in-flight requests never carry a token about to lapse.
	j.expires = expiry.Add(-j.ttl / 10)
	return signed, nil
}

type oauth2Auth struct {
	source oauth2.TokenSource
}

func (o *oauth2Auth) Apply(req *http.Request) error {
	token, err := o.source.Token()
	if err != nil {
		return fmt.Errorf("target: fetch oauth2 token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}
