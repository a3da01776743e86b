// Package client is the typed facade compute services use against the
// compute API: lazy token acquisition with a single refresh on expiry,
// exponential-backoff retry and a circuit breaker around transport
// failures.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/task"
)

// APIError is a non-retryable response from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

// Client talks to one compute API endpoint on behalf of one identity.
// Safe for concurrent use.
type Client struct {
	baseURL  string
	identity string
	key      string

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	retry      RetryConfig
	log        *zap.Logger

	mu    sync.Mutex
	token string
}

// New creates a client for the API at baseURL, authenticating as identity.
// The token is fetched on first use, not here.
func New(baseURL, identity, key string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		identity:   identity,
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    newBreaker(log),
		retry:      DefaultRetryConfig(),
		log:        log,
	}
}

// NewComputeServiceID mints a unique compute service identifier.
func NewComputeServiceID() string {
	return "compute-" + uuid.NewString()
}

// ensureToken returns the cached token, fetching one if none is held.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.fetchTokenLocked(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// refreshToken replaces a rejected token. If another caller already
// refreshed past stale, the newer token is reused instead of hitting
// /token again, so an expiry causes exactly one refresh.
func (c *Client) refreshToken(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.token != stale {
		return c.token, nil
	}
	token, err := c.fetchTokenLocked(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) fetchTokenLocked(ctx context.Context) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	body := map[string]string{"identity": c.identity, "key": c.key}
	if err := c.roundTrip(ctx, http.MethodPost, "/token", "", body, &resp); err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	c.log.Debug("token acquired", zap.String("identity", c.identity), zap.Int("expires_in", resp.ExpiresIn))
	return resp.AccessToken, nil
}

// do issues an authenticated request. A 401 triggers one token refresh and
// one replay; a second 401 surfaces as an APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	err = c.roundTrip(ctx, method, path, token, body, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		token, err = c.refreshToken(ctx, token)
		if err != nil {
			return err
		}
		return c.roundTrip(ctx, method, path, token, body, out)
	}
	return err
}

// roundTrip performs one logical request with retry and breaker applied to
// transport and 5xx failures. 4xx responses are permanent.
func (c *Client) roundTrip(ctx context.Context, method, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	return c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			var er struct {
				Detail string `json:"detail"`
			}
			json.NewDecoder(resp.Body).Decode(&er)
			return permanentAPIError(resp.StatusCode, er.Detail)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
		}
		return nil
	})
}

// Info checks API liveness.
func (c *Client) Info(ctx context.Context) (map[string]string, error) {
	var info map[string]string
	if err := c.roundTrip(ctx, http.MethodGet, "/info", "", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// IdentityScopes returns the caller's scope grants.
func (c *Client) IdentityScopes(ctx context.Context) ([]scope.Scope, error) {
	var raw []string
	if err := c.do(ctx, http.MethodGet, "/identities/"+c.identity+"/scopes", nil, &raw); err != nil {
		return nil, err
	}
	scopes := make([]scope.Scope, len(raw))
	for i, s := range raw {
		sc, err := scope.ParseScope(s)
		if err != nil {
			return nil, fmt.Errorf("server returned malformed scope %q: %w", s, err)
		}
		scopes[i] = sc
	}
	return scopes, nil
}

// QueryTaskHubs returns hub keys whose scope matches the pattern and is
// covered by the caller's grants.
func (c *Client) QueryTaskHubs(ctx context.Context, pattern scope.Scope) ([]scope.ScopedKey, error) {
	var raw []string
	if err := c.do(ctx, http.MethodGet, "/taskhubs?scope="+pattern.String(), nil, &raw); err != nil {
		return nil, err
	}
	return parseKeys(raw)
}

// ClaimTasks claims up to count tasks from the hub for the compute service.
func (c *Client) ClaimTasks(ctx context.Context, hub scope.ScopedKey, computeServiceID string, count int) ([]scope.ScopedKey, error) {
	body := map[string]any{"compute_service_id": computeServiceID, "count": count}
	var raw []string
	if err := c.do(ctx, http.MethodPost, "/taskhubs/"+hub.String()+"/claim", body, &raw); err != nil {
		return nil, err
	}
	return parseKeys(raw)
}

// GetTaskStatus returns a task's current status.
func (c *Client) GetTaskStatus(ctx context.Context, key scope.ScopedKey) (task.Status, error) {
	var resp struct {
		Status task.Status `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/tasks/"+key.String()+"/status", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// SetTaskStatus requests a status transition. Lenient unless raiseError;
// returns whether the transition applied.
func (c *Client) SetTaskStatus(ctx context.Context, key scope.ScopedKey, to task.Status, raiseError bool) (bool, error) {
	body := map[string]any{"status": to, "raise_error": raiseError}
	var resp struct {
		Status  task.Status `json:"status"`
		Applied *bool       `json:"applied"`
	}
	if err := c.do(ctx, http.MethodPost, "/tasks/"+key.String()+"/status", body, &resp); err != nil {
		return false, err
	}
	return resp.Applied != nil && *resp.Applied, nil
}

// TaskWork mirrors the transformation endpoint's response.
type TaskWork struct {
	Transformation scope.ScopedKey  `json:"transformation"`
	ExtendsResult  *scope.ScopedKey `json:"extends_result,omitempty"`
}

// GetTaskTransformation fetches what the compute service needs to execute
// a claimed task.
func (c *Client) GetTaskTransformation(ctx context.Context, key scope.ScopedKey) (TaskWork, error) {
	var work TaskWork
	if err := c.do(ctx, http.MethodGet, "/tasks/"+key.String()+"/transformation", nil, &work); err != nil {
		return TaskWork{}, err
	}
	return work, nil
}

// SetTaskResult pushes the result reference for an executed task.
func (c *Client) SetTaskResult(ctx context.Context, key scope.ScopedKey, result string) (scope.ScopedKey, error) {
	body := map[string]string{"result": result}
	var resp struct {
		Result string `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/tasks/"+key.String()+"/results", body, &resp); err != nil {
		return scope.ScopedKey{}, err
	}
	return scope.Parse(resp.Result)
}

func parseKeys(raw []string) ([]scope.ScopedKey, error) {
	keys := make([]scope.ScopedKey, len(raw))
	for i, s := range raw {
		k, err := scope.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("server returned malformed key %q: %w", s, err)
		}
		keys[i] = k
	}
	return keys, nil
}
