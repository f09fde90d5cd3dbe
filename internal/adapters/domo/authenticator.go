package domo

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/platform/metrics"
)

// DefaultBaseURL is the public Domo API host.
const DefaultBaseURL = "https://api.domo.com"

// AuthConfig holds one client credential pair and the scope it requests.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	// Buffer is subtracted from the token expiry to refresh early. Zero means
	// domain.DefaultTokenBuffer.
	Buffer time.Duration
	// TokenURL defaults to DefaultBaseURL + "/oauth/token".
	TokenURL string
}

type tokenResponse struct {
	AccessToken string   `json:"access_token"`
	ExpiresIn   *float64 `json:"expires_in"`
	Domain      string   `json:"domain"`
}

// Authenticator owns the client-credentials token of one tenant and scope.
// The token is fetched lazily and refreshed once it is within Buffer of its
// expiry.
type Authenticator struct {
	cfg     AuthConfig
	exec    *Executor
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	token  *domain.Token
	domain string
}

type AuthOption func(*Authenticator)

func WithClock(now func() time.Time) AuthOption {
	return func(a *Authenticator) { a.now = now }
}

func WithAuthMetrics(m *metrics.Metrics) AuthOption {
	return func(a *Authenticator) { a.metrics = m }
}

// NewAuthenticator returns an Authenticator that fetches tokens with the
// client credentials grant. An empty cfg.TokenURL uses DefaultBaseURL.
func NewAuthenticator(cfg AuthConfig, exec *Executor, logger *zap.Logger, opts ...AuthOption) *Authenticator {
	if cfg.Buffer <= 0 {
		cfg.Buffer = domain.DefaultTokenBuffer
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultBaseURL + "/oauth/token"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authenticator{
		cfg:    cfg,
		exec:   exec,
		logger: logger.With(zap.String("client_id", cfg.ClientID), zap.String("scope", cfg.Scope)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Token returns the current token, refreshing it first when it is absent or stale.
func (a *Authenticator) Token(ctx context.Context) (*domain.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if domain.IsStale(a.token, a.now(), a.cfg.Buffer) {
		if err := a.refresh(ctx); err != nil {
			return nil, err
		}
	}
	return a.token, nil
}

// AccessToken returns a bearer token, refreshing it when it is within the
// expiry buffer.
func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	tok, err := a.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Domain returns the instance domain reported with the token. The domain is
// only known after a successful token response, so a refresh is forced when
// none has been observed yet.
func (a *Authenticator) Domain(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.domain == "" {
		if err := a.refresh(ctx); err != nil {
			return "", err
		}
	}
	return a.domain, nil
}

// TokenSource adapts the authenticator for oauth2.Transport. Token calls made
// through it use ctx for the refresh request.
func (a *Authenticator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, auth: a}
}

// HTTPClient returns a client based on base that sets the bearer token on
// every request.
func (a *Authenticator) HTTPClient(ctx context.Context, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{Timeout: defaultHTTPTimeout}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Timeout:       base.Timeout,
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Transport: &oauth2.Transport{
			Source: a.TokenSource(ctx),
			Base:   transport,
		},
	}
}

func (a *Authenticator) refresh(ctx context.Context) error {
	tok, err := a.requestToken(ctx)
	a.metrics.TokenRefreshed(a.cfg.Scope, err)
	if err != nil {
		a.logger.Warn("token refresh failed", zap.Error(err))
		return err
	}
	a.token = tok
	a.domain = tok.Domain
	a.logger.Debug("token refreshed", zap.Time("expires_at", tok.ExpiresAt), zap.String("domain", tok.Domain))
	return nil
}

func (a *Authenticator) requestToken(ctx context.Context) (*domain.Token, error) {
	creds := base64.StdEncoding.EncodeToString([]byte(a.cfg.ClientID + ":" + a.cfg.ClientSecret))
	header := make(http.Header)
	header.Set("Accept", contentTypeJSON)
	header.Set("Authorization", "Basic "+creds)

	resp, err := a.exec.Execute(ctx, Request{
		Method: http.MethodGet,
		URL:    a.cfg.TokenURL,
		Header: header,
		Query: url.Values{
			"grant_type": {"client_credentials"},
			"scope":      {a.cfg.Scope},
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidJSON) {
			return nil, &domain.AuthenticationError{Scope: a.cfg.Scope, Msg: "failed to parse token response as JSON", Err: err}
		}
		return nil, &domain.AuthenticationError{Scope: a.cfg.Scope, Msg: "failed to get access token", Err: err}
	}

	var body tokenResponse
	if err := resp.Decode(&body); err != nil {
		return nil, &domain.AuthenticationError{Scope: a.cfg.Scope, Msg: "failed to parse token response as JSON", Err: err}
	}
	if body.AccessToken == "" {
		return nil, &domain.AuthenticationError{Scope: a.cfg.Scope, Err: domain.ErrNoAccessToken}
	}

	expiresIn := domain.DefaultTokenExpiresIn
	if body.ExpiresIn != nil {
		expiresIn = time.Duration(*body.ExpiresIn * float64(time.Second))
	}

	return &domain.Token{
		AccessToken: body.AccessToken,
		ExpiresAt:   a.now().Add(expiresIn),
		Domain:      body.Domain,
	}, nil
}

type tokenSource struct {
	ctx  context.Context
	auth *Authenticator
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.auth.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return (&oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresAt,
	}).WithExtra(map[string]any{"domain": tok.Domain}), nil
}
