// Package oauth owns access-token lifecycle for the Google Drive and
// OneDrive drivers. A manager is constructed per driver instance in one of
// three modes: an online token-broker API, service-account JWT assertions,
// or the provider's standard refresh_token exchange.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/vfsgate/vfsgate/internal/dcontext"
	"github.com/vfsgate/vfsgate/internal/redact"
)

// ErrUnauthorized is returned (or wrapped) by callbacks when the provider
// rejected the access token; WithToken reacts by refreshing and retrying the
// callback exactly once.
var ErrUnauthorized = errors.New("oauth: provider rejected access token")

// expirySlack is how long before nominal expiry a token stops being used.
const expirySlack = 60 * time.Second

// Mode is the token acquisition strategy.
type Mode int

const (
	// ModeRefreshToken exchanges refresh token + client credentials at the
	// provider's token endpoint.
	ModeRefreshToken Mode = iota
	// ModeOnlineAPI calls a configured third-party broker with the refresh
	// token.
	ModeOnlineAPI
	// ModeServiceAccount signs per-request JWT assertions from one or more
	// service-account keys, round-robined.
	ModeServiceAccount
)

// Config parameterizes a Manager.
type Config struct {
	// RefreshToken is the stored long-lived credential. When it is an HTTP
	// URL the manager switches to service-account mode and fetches the key
	// material from it once.
	RefreshToken string
	ClientID     string
	ClientSecret string
	// TokenEndpoint is the provider's OAuth token URL.
	TokenEndpoint string
	// OnlineAPIAddress, when set, selects online-API mode.
	OnlineAPIAddress string
	// Scopes for service-account assertions.
	Scopes []string
	// PersistRefreshToken is called when an exchange returns a rotated
	// refresh token. Optional.
	PersistRefreshToken func(ctx context.Context, refreshToken string) error
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Manager caches one access token and refreshes it under a per-instance
// mutex so only one refresh is in flight at a time.
type Manager struct {
	cfg  Config
	mode Mode

	client *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	saOnce  sync.Once
	saErr   error
	saConfs []*jwt.Config
	saNext  int
}

// NewManager picks the acquisition mode from cfg as described on Mode.
func NewManager(cfg Config) *Manager {
	m := &Manager{cfg: cfg, client: cfg.HTTPClient}
	if m.client == nil {
		m.client = http.DefaultClient
	}
	switch {
	case cfg.OnlineAPIAddress != "":
		m.mode = ModeOnlineAPI
	case strings.HasPrefix(cfg.RefreshToken, "http://"), strings.HasPrefix(cfg.RefreshToken, "https://"):
		m.mode = ModeServiceAccount
	default:
		m.mode = ModeRefreshToken
	}
	redact.AddSecret(cfg.RefreshToken)
	redact.AddSecret(cfg.ClientSecret)
	return m
}

// Mode returns the acquisition mode chosen at construction.
func (m *Manager) Mode() Mode {
	return m.mode
}

// Token returns a valid access token, refreshing when the cached one is
// within the expiry slack.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && time.Until(m.expiresAt) > expirySlack {
		return m.token, nil
	}
	return m.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next Token call refreshes.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
}

// WithToken injects a valid token into fn. When fn reports
// ErrUnauthorized, the cache is cleared, a fresh token acquired, and fn
// retried exactly once.
func (m *Manager) WithToken(ctx context.Context, fn func(token string) error) error {
	token, err := m.Token(ctx)
	if err != nil {
		return err
	}
	err = fn(token)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	dcontext.GetLogger(ctx).Debug("oauth: 401 from provider, refreshing token and retrying once")
	m.Invalidate()
	token, err = m.Token(ctx)
	if err != nil {
		return err
	}
	return fn(token)
}

func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	var (
		tok string
		ttl time.Duration
		err error
	)
	switch m.mode {
	case ModeOnlineAPI:
		tok, ttl, err = m.refreshOnline(ctx)
	case ModeServiceAccount:
		tok, ttl, err = m.refreshServiceAccount(ctx)
	default:
		tok, ttl, err = m.refreshStandard(ctx)
	}
	if err != nil {
		return "", err
	}
	m.token = tok
	m.expiresAt = time.Now().Add(ttl)
	redact.AddSecret(tok)
	return tok, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (m *Manager) refreshStandard(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {m.cfg.RefreshToken},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}
	return m.postTokenForm(ctx, m.cfg.TokenEndpoint, form)
}

func (m *Manager) refreshOnline(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"refresh_token": {m.cfg.RefreshToken},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}
	return m.postTokenForm(ctx, m.cfg.OnlineAPIAddress, form)
}

func (m *Manager) postTokenForm(ctx context.Context, endpoint string, form url.Values) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("oauth: token endpoint returned %d: %s", resp.StatusCode, redact.String(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("oauth: decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("oauth: token response missing access_token")
	}

	if tr.RefreshToken != "" && tr.RefreshToken != m.cfg.RefreshToken {
		m.cfg.RefreshToken = tr.RefreshToken
		redact.AddSecret(tr.RefreshToken)
		if m.cfg.PersistRefreshToken != nil {
			if err := m.cfg.PersistRefreshToken(ctx, tr.RefreshToken); err != nil {
				dcontext.GetLogger(ctx).WithError(err).Warn("oauth: persisting rotated refresh token failed")
			}
		}
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return tr.AccessToken, ttl, nil
}

// refreshServiceAccount fetches the key material once, then signs a JWT
// assertion (RS256, one hour validity) per refresh against the next key in
// round-robin order.
func (m *Manager) refreshServiceAccount(ctx context.Context) (string, time.Duration, error) {
	m.saOnce.Do(func() { m.saErr = m.loadServiceAccounts(ctx) })
	if m.saErr != nil {
		return "", 0, m.saErr
	}
	if len(m.saConfs) == 0 {
		return "", 0, errors.New("oauth: no service account credentials loaded")
	}

	conf := m.saConfs[m.saNext%len(m.saConfs)]
	m.saNext++

	tok, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return "", 0, fmt.Errorf("oauth: service account exchange: %w", err)
	}
	ttl := time.Until(tok.Expiry)
	if ttl <= 0 {
		ttl = time.Hour
	}
	return tok.AccessToken, ttl, nil
}

func (m *Manager) loadServiceAccounts(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.RefreshToken, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("oauth: fetching service account keys: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oauth: service account key fetch returned %d", resp.StatusCode)
	}

	// The endpoint returns either one key object or an array of them.
	var raws []json.RawMessage
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &raws); err != nil {
			return fmt.Errorf("oauth: decoding service account key list: %w", err)
		}
	} else {
		raws = []json.RawMessage{json.RawMessage(body)}
	}

	for _, raw := range raws {
		conf, err := google.JWTConfigFromJSON(raw, m.cfg.Scopes...)
		if err != nil {
			return fmt.Errorf("oauth: parsing service account key: %w", err)
		}
		conf.Expires = time.Hour
		redact.AddSecret(conf.PrivateKeyID)
		m.saConfs = append(m.saConfs, conf)
	}
	return nil
}
