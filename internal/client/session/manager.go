package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ecolens-api/internal/domain"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	refreshPath  = "/api/auth/refresh"
	mePath       = "/api/user/me"
	logoutPath   = "/api/auth/logout"
	registerPath = "/api/auth/register"
	loginPath    = "/api/auth/login"
	verifyPath   = "/api/auth/verify"
	predictPath  = "/api/predict"

	defaultRefreshTimeout = 10 * time.Second
)

// User is the identity the API reports for the current session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Result is the decoded body of an auth endpoint together with its status.
// Non-2xx answers are returned as a Result, not as an error.
type Result struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Reason     string `json:"reason,omitempty"`
	User       *User  `json:"user,omitempty"`
}

func (r *Result) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

type Config struct {
	BaseURL string
	// HTTPClient is used as is when it has a cookie jar; otherwise a copy with a fresh jar is used.
	HTTPClient *http.Client
	// RefreshTimeout bounds one shared refresh call. Defaults to 10s.
	RefreshTimeout time.Duration
	// InitialUser, when set, makes Init a no-op.
	InitialUser *User
	Logger      *logging.Service
}

// Manager keeps the cookie session of one API client. Concurrent requests that
// hit 401 share a single refresh call.
type Manager struct {
	base           *url.URL
	http           *http.Client
	refreshTimeout time.Duration
	logger         *logging.Service

	refresh singleflight.Group

	mu   sync.RWMutex
	user *User
}

func NewManager(cfg Config) (*Manager, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		cp := *cfg.HTTPClient
		hc = &cp
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	return &Manager{
		base:           base,
		http:           hc,
		refreshTimeout: timeout,
		logger:         cfg.Logger.Named("session-client"),
		user:           cfg.InitialUser,
	}, nil
}

func (m *Manager) CurrentUser() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

func (m *Manager) setUser(u *User) {
	m.mu.Lock()
	m.user = u
	m.mu.Unlock()
}

// RefreshTokens asks the API to rotate the session cookies. Callers arriving
// while a refresh is in flight wait for that call instead of starting another.
// The call itself is bounded by RefreshTimeout and survives the cancellation
// of any single waiter; ctx only limits how long this caller waits.
func (m *Manager) RefreshTokens(ctx context.Context) bool {
	ch := m.refresh.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
		defer cancel()
		return m.doRefresh(rctx), nil
	})
	select {
	case <-ctx.Done():
		return false
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	}
}

func (m *Manager) doRefresh(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url(refreshPath), http.NoBody)
	if err != nil {
		return false
	}
	resp, err := m.http.Do(req)
	if err != nil {
		m.logger.Warn("refresh request failed", zap.Error(err))
		return false
	}
	drain(resp)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// FetchWithAuth sends req and, on 401, refreshes the session and retries once.
// A request body can only be replayed when req.GetBody is set (as it is for
// bodies built from bytes.Reader, bytes.Buffer or strings.Reader); otherwise
// the refresh still happens and the original 401 response is returned.
func (m *Manager) FetchWithAuth(req *http.Request) (*http.Response, error) {
	resp, err := m.http.Do(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if !m.RefreshTokens(req.Context()) {
		return resp, nil
	}
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	if !replayable {
		m.logger.Debug("request body is not replayable, returning original 401", zap.String("path", req.URL.Path))
		return resp, nil
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	drain(resp)
	return m.http.Do(retry)
}

// Init loads the current user unless one was supplied up front. Cancelling ctx
// abandons the load and leaves the cached user untouched.
func (m *Manager) Init(ctx context.Context) error {
	if m.CurrentUser() != nil {
		return nil
	}
	u, err := m.fetchMe(ctx)
	if err != nil {
		return err
	}
	m.setUser(u)
	return nil
}

func (m *Manager) fetchMe(ctx context.Context) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url(mePath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.FetchWithAuth(req)
	if err != nil {
		return nil, fmt.Errorf("fetch current user: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	var u *User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode current user: %w", err)
	}
	if u == nil || u.ID == "" {
		return nil, nil
	}
	return u, nil
}

// Logout asks the API to clear the session cookies. The cached user is
// cleared even when the request fails.
func (m *Manager) Logout(ctx context.Context) error {
	defer m.setUser(nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url(logoutPath), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	drain(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout: status %d", resp.StatusCode)
	}
	return nil
}

func (m *Manager) Register(ctx context.Context, req domain.RegisterRequest) (*Result, error) {
	return m.postJSON(ctx, registerPath, req)
}

// Login signs in and, when the account is verified, caches the resulting user.
func (m *Manager) Login(ctx context.Context, req domain.LoginRequest) (*Result, error) {
	res, err := m.postJSON(ctx, loginPath, req)
	if err != nil || !res.OK() || res.Reason != "" {
		return res, err
	}
	u, err := m.fetchMe(ctx)
	if err != nil {
		return res, err
	}
	m.setUser(u)
	return res, nil
}

// Verify submits an OTP. The verification cookie set by Register or Login
// identifies the user; email is the fallback.
func (m *Manager) Verify(ctx context.Context, otp string, email *string) (*Result, error) {
	res, err := m.postJSON(ctx, verifyPath, domain.VerifyRequest{OTP: otp, Email: email})
	if err != nil {
		return nil, err
	}
	if res.OK() && res.User != nil {
		m.setUser(res.User)
	}
	return res, nil
}

// Predict classifies an image data URL using the current session.
func (m *Manager) Predict(ctx context.Context, dataURL string) ([]domain.Prediction, error) {
	body, err := json.Marshal(domain.PredictRequest{DataURL: dataURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url(predictPath), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.FetchWithAuth(req)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		var res Result
		_ = json.NewDecoder(resp.Body).Decode(&res)
		return nil, fmt.Errorf("predict: status %d: %s", resp.StatusCode, res.Error)
	}
	var out struct {
		Predictions []domain.Prediction `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	return out.Predictions, nil
}

func (m *Manager) postJSON(ctx context.Context, path string, v interface{}) (*Result, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url(path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer drain(resp)

	res := &Result{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return res, nil
}

func (m *Manager) url(path string) string {
	return m.base.String() + path
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
