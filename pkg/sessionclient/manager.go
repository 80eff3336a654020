package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds every network call, including refresh exchanges.
const DefaultRequestTimeout = 30 * time.Second

var (
	// ErrMissingBaseURL indicates the manager was built without a server address.
	ErrMissingBaseURL = errors.New("sessionclient.missing_base_url")
	// ErrMissingStorage indicates the manager was built without token storage.
	ErrMissingStorage = errors.New("sessionclient.missing_storage")
	// ErrRefreshFailed indicates a refresh exchange did not yield a new access
	// token: no refresh token held, transport failure, or server rejection.
	ErrRefreshFailed = errors.New("sessionclient.refresh_failed")
	// ErrLoginFailed indicates the login call was rejected.
	ErrLoginFailed = errors.New("sessionclient.login_failed")

	errBodyNotReplayable = errors.New("sessionclient.body_not_replayable")
)

// Config configures a Manager.
type Config struct {
	BaseURL    string
	Storage    TokenStorage
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// UserInfo is the identity payload returned by login.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type refreshOutcome struct {
	accessToken string
	err         error
}

// Manager owns the client side of a session: it attaches the access token to
// every outbound call and recovers from token expiry with a single
// coordinated refresh, suspending and replaying concurrent requests.
//
// At most one refresh call is in flight at any time. Requests failing with 401
// while a refresh is outstanding are queued; when the refresh settles they are
// released in FIFO order, each replayed at most once with the fresh token, or
// handed their original 401 when the refresh failed.
type Manager struct {
	baseURL    string
	storage    TokenStorage
	httpClient *http.Client
	logger     *zap.Logger

	mutex           sync.Mutex
	tenantHost      string
	refreshInFlight bool
	waiters         []chan refreshOutcome
}

// New constructs a Manager. A nil HTTP client gets the default bounded timeout.
func New(configuration Config) (*Manager, error) {
	if strings.TrimSpace(configuration.BaseURL) == "" {
		return nil, fmt.Errorf("sessionclient.new: %w", ErrMissingBaseURL)
	}
	if configuration.Storage == nil {
		return nil, fmt.Errorf("sessionclient.new: %w", ErrMissingStorage)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		baseURL:    strings.TrimRight(configuration.BaseURL, "/"),
		storage:    configuration.Storage,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SetTenantHost pins the tenant-routing host attached to outbound requests.
// Session-scoped: it lives only as long as the Manager. Empty clears it.
func (manager *Manager) SetTenantHost(host string) {
	normalized := normalizeHost(host)
	manager.mutex.Lock()
	manager.tenantHost = normalized
	manager.mutex.Unlock()
}

// TenantHost returns the pinned tenant host, if any.
func (manager *Manager) TenantHost() string {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return manager.tenantHost
}

// NewRequest builds a JSON API request against the configured base URL. The
// body is buffered so the request stays replayable after a refresh.
func (manager *Manager) NewRequest(ctx context.Context, method string, apiPath string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, encodeErr := json.Marshal(payload)
		if encodeErr != nil {
			return nil, fmt.Errorf("sessionclient.new_request: %w", encodeErr)
		}
		body = bytes.NewReader(encoded)
	}
	request, requestErr := http.NewRequestWithContext(ctx, method, manager.baseURL+apiPath, body)
	if requestErr != nil {
		return nil, fmt.Errorf("sessionclient.new_request: %w", requestErr)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return request, nil
}

// Do sends the request with the session's credentials attached. A 401 on a
// non-auth endpoint triggers the single-flight refresh and one replay; every
// other response, and a second 401 after replay, is returned unmodified.
func (manager *Manager) Do(request *http.Request) (*http.Response, error) {
	manager.decorate(request)
	response, doErr := manager.httpClient.Do(request)
	if doErr != nil {
		return nil, doErr
	}
	if response.StatusCode != http.StatusUnauthorized || isAuthPath(request.URL.Path) {
		return response, nil
	}

	newAccessToken, refreshErr := manager.refreshAccessToken(request.Context())
	if refreshErr != nil || newAccessToken == "" {
		// Refresh settled as failure: the original 401 surfaces to the caller.
		return response, nil
	}

	replay, cloneErr := replayableClone(request)
	if cloneErr != nil {
		manager.logger.Warn("cannot replay request after refresh",
			zap.String("code", "sessionclient.replay.unreplayable_body"),
			zap.String("path", request.URL.Path))
		return response, nil
	}
	drainAndClose(response.Body)
	replay.Header.Set("Authorization", "Bearer "+newAccessToken)
	return manager.httpClient.Do(replay)
}

// Login authenticates, stores both returned tokens, and reports the user.
func (manager *Manager) Login(ctx context.Context, email string, password string) (UserInfo, error) {
	request, requestErr := manager.NewRequest(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if requestErr != nil {
		return UserInfo{}, requestErr
	}
	manager.decorate(request)
	response, doErr := manager.httpClient.Do(request)
	if doErr != nil {
		return UserInfo{}, fmt.Errorf("sessionclient.login: %w", doErr)
	}
	defer drainAndClose(response.Body)
	if response.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("sessionclient.login.status_%d: %w", response.StatusCode, ErrLoginFailed)
	}
	var outbound struct {
		Token   string   `json:"token"`
		Refresh string   `json:"refresh"`
		User    UserInfo `json:"user"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&outbound); decodeErr != nil {
		return UserInfo{}, fmt.Errorf("sessionclient.login.decode: %w", decodeErr)
	}
	if outbound.Token == "" {
		return UserInfo{}, fmt.Errorf("sessionclient.login.empty_token: %w", ErrLoginFailed)
	}
	if storeErr := manager.storage.SetTokens(outbound.Token, outbound.Refresh); storeErr != nil {
		return UserInfo{}, storeErr
	}
	return outbound.User, nil
}

// Logout tells the server to drop the session, ignoring any failure, and
// always clears the locally held tokens.
func (manager *Manager) Logout(ctx context.Context) error {
	_, refreshToken := manager.storage.Tokens()
	if refreshToken != "" {
		request, requestErr := manager.NewRequest(ctx, http.MethodPost, "/api/v1/auth/logout", map[string]string{
			"refresh": refreshToken,
		})
		if requestErr == nil {
			manager.decorate(request)
			if response, doErr := manager.httpClient.Do(request); doErr == nil {
				drainAndClose(response.Body)
			} else {
				manager.logger.Debug("logout call failed",
					zap.String("code", "sessionclient.logout.best_effort"),
					zap.Error(doErr))
			}
		}
	}
	return manager.storage.Clear()
}

// refreshAccessToken is the single-flight coordinator. The first caller flips
// the in-flight flag and performs the exchange; concurrent callers enqueue a
// waiter and block. The exchange resolves exactly once, and waiters are
// released in the order they were enqueued.
func (manager *Manager) refreshAccessToken(ctx context.Context) (string, error) {
	manager.mutex.Lock()
	if manager.refreshInFlight {
		waiter := make(chan refreshOutcome, 1)
		manager.waiters = append(manager.waiters, waiter)
		manager.mutex.Unlock()
		outcome := <-waiter
		return outcome.accessToken, outcome.err
	}
	manager.refreshInFlight = true
	manager.mutex.Unlock()

	accessToken, exchangeErr := manager.exchangeRefreshToken(ctx)
	outcome := refreshOutcome{accessToken: accessToken, err: exchangeErr}

	manager.mutex.Lock()
	manager.refreshInFlight = false
	pending := manager.waiters
	manager.waiters = nil
	manager.mutex.Unlock()

	for _, waiter := range pending {
		waiter <- outcome
	}
	return accessToken, exchangeErr
}

func (manager *Manager) exchangeRefreshToken(ctx context.Context) (string, error) {
	_, refreshToken := manager.storage.Tokens()
	if refreshToken == "" {
		manager.clearSession()
		return "", fmt.Errorf("sessionclient.refresh.no_refresh_token: %w", ErrRefreshFailed)
	}
	request, requestErr := manager.NewRequest(ctx, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh": refreshToken,
	})
	if requestErr != nil {
		manager.clearSession()
		return "", fmt.Errorf("sessionclient.refresh: %w", ErrRefreshFailed)
	}
	manager.decorate(request)
	response, doErr := manager.httpClient.Do(request)
	if doErr != nil {
		manager.clearSession()
		return "", fmt.Errorf("sessionclient.refresh: %w", ErrRefreshFailed)
	}
	defer drainAndClose(response.Body)
	if response.StatusCode != http.StatusOK {
		manager.clearSession()
		return "", fmt.Errorf("sessionclient.refresh.status_%d: %w", response.StatusCode, ErrRefreshFailed)
	}
	var outbound struct {
		Access string `json:"access"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&outbound); decodeErr != nil || outbound.Access == "" {
		manager.clearSession()
		return "", fmt.Errorf("sessionclient.refresh.empty_access: %w", ErrRefreshFailed)
	}
	if storeErr := manager.storage.SetAccessToken(outbound.Access); storeErr != nil {
		manager.logger.Warn("failed to persist refreshed access token",
			zap.String("code", "sessionclient.refresh.persist"),
			zap.Error(storeErr))
	}
	return outbound.Access, nil
}

// clearSession drops both tokens: the NoSession transition after a failed refresh.
func (manager *Manager) clearSession() {
	if clearErr := manager.storage.Clear(); clearErr != nil {
		manager.logger.Warn("failed to clear session storage",
			zap.String("code", "sessionclient.clear"),
			zap.Error(clearErr))
	}
}

func (manager *Manager) decorate(request *http.Request) {
	accessToken, _ := manager.storage.Tokens()
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if tenantHost := manager.TenantHost(); tenantHost != "" {
		request.Host = tenantHost
	}
}

func isAuthPath(path string) bool {
	return strings.Contains(path, "/auth/")
}

func replayableClone(original *http.Request) (*http.Request, error) {
	replay := original.Clone(original.Context())
	if original.Body == nil || original.Body == http.NoBody {
		replay.Body = nil
		return replay, nil
	}
	if original.GetBody == nil {
		return nil, errBodyNotReplayable
	}
	body, bodyErr := original.GetBody()
	if bodyErr != nil {
		return nil, bodyErr
	}
	replay.Body = body
	return replay, nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func normalizeHost(host string) string {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return ""
	}
	if separator := strings.IndexByte(trimmed, ':'); separator >= 0 {
		trimmed = trimmed[:separator]
	}
	return strings.ToLower(trimmed)
}
