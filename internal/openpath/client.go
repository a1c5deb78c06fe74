package openpath

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/asmbly/odvclock/internal/upstream"
	"github.com/asmbly/odvclock/internal/volunteer"
)

const defaultBaseURL = "https://api.openpath.com"

// Config holds the Openpath API account details.
type Config struct {
	BaseURL  string
	OrgID    string
	APIUser  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client talks to the Openpath identity API. Requests are not retried: a
// failed lookup fails the invocation.
type Client struct {
	baseURL    string
	orgID      string
	authHeader string
	httpClient *http.Client
	cache      *VolunteerCache
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	creds := base64.StdEncoding.EncodeToString([]byte(cfg.APIUser + ":" + cfg.APIKey))
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		orgID:      cfg.OrgID,
		authHeader: "Basic " + creds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:  NewVolunteerCache(cfg.CacheTTL),
		logger: logger,
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/orgs/%s%s", c.baseURL, c.orgID, path)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("openpath API request", "method", method, "path", path)

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("openpath API transport error", "method", method, "path", path, "error", err, "elapsed", time.Since(requestStart))
		return nil, &upstream.Error{Service: "openpath", Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("openpath API response", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(respBody), "elapsed", time.Since(requestStart))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("openpath API request failed", "method", method, "path", path, "status", resp.StatusCode, "response", upstream.Truncate(string(respBody), 200))
		return nil, &upstream.Error{
			Service:    "openpath",
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       upstream.Truncate(string(respBody), 200),
		}
	}

	return respBody, nil
}

// GetUser fetches a single Openpath user by id.
func (c *Client) GetUser(ctx context.Context, id int) (*User, error) {
	data, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id))
	if err != nil {
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}

	var resp userResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parsing user response: %w", err)
	}

	return &resp.Data, nil
}

// Resolve maps an Openpath user id to a volunteer.
func (c *Client) Resolve(ctx context.Context, id int) (volunteer.Volunteer, error) {
	if v, ok := c.cache.Get(id); ok {
		c.logger.Debug("volunteer cache hit", "user_id", id)
		return v, nil
	}

	user, err := c.GetUser(ctx, id)
	if err != nil {
		return volunteer.Volunteer{}, err
	}

	v := volunteer.New(id, user.Identity.FirstName, user.Identity.LastName, user.Identity.Email)
	c.cache.Set(v)
	return v, nil
}
