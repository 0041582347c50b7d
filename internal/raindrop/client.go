package raindrop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/raindroprelay/internal/model"
)

// ErrAuthRequired signals that the stored credentials are missing or were
// rejected and could not be refreshed. The sync engine aborts a pass on it
// instead of retrying.
var ErrAuthRequired = errors.New("raindrop: authentication required")

const (
	// perPage is the raindrop fetch page size.
	perPage = 50

	// maxThrottleRetries bounds how often a single request is re-sent after
	// a 429/503 before the response is surfaced to the caller.
	maxThrottleRetries = 5

	// maxThrottleDelay caps the computed backoff when the server sends no
	// usable Retry-After header.
	maxThrottleDelay = 60 * time.Second

	defaultTokenURL = "https://raindrop.io/oauth/access_token"
)

// TokenStore persists the OAuth token pair. Implemented by state.Store.
type TokenStore interface {
	Tokens(ctx context.Context) (access, refresh string, err error)
	SetTokens(ctx context.Context, access, refresh string) error
	ClearTokens(ctx context.Context) error
}

// Client is a rate-limited Raindrop.io REST client.
type Client struct {
	base     string
	tokenURL string
	hc       *http.Client
	limiter  *Limiter
	tokens   TokenStore

	clientID     string
	clientSecret string

	logger *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the API at baseURL. rpm caps outgoing
// requests per minute. clientID/clientSecret may be empty; without them a
// rejected access token cannot be refreshed.
func NewClient(baseURL string, rpm int, tokens TokenStore, clientID, clientSecret string, logger *slog.Logger) *Client {
	return &Client{
		base:         strings.TrimRight(baseURL, "/"),
		tokenURL:     defaultTokenURL,
		hc:           &http.Client{Timeout: 30 * time.Second},
		limiter:      NewLimiter(rpm),
		tokens:       tokens,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do sends one API request through the rate limiter, re-sending after a
// backoff on 429/503 up to maxThrottleRetries times. The final response is
// returned regardless of status; the caller closes the body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	access, _, err := c.tokens.Tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading tokens: %w", err)
	}
	if access == "" {
		return nil, ErrAuthRequired
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+access)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing %s %s: %w", method, path, err)
		}

		throttled := resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable
		if !throttled || attempt >= maxThrottleRetries {
			return resp, nil
		}

		delay := throttleDelay(resp, attempt)
		c.logger.Warn("throttled by API, backing off",
			"status", resp.StatusCode, "attempt", attempt+1, "delay", delay)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// throttleDelay derives the wait before re-sending a throttled request:
// Retry-After as delay-seconds, then as an HTTP-date, then capped
// exponential backoff.
func throttleDelay(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(ra); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
			return 0
		}
	}
	delay := time.Second << attempt
	if delay > maxThrottleDelay {
		delay = maxThrottleDelay
	}
	return delay
}

// doJSON sends a request and decodes a 2xx response into out (out may be
// nil). A 401 maps to ErrAuthRequired; other non-2xx statuses become
// errors carrying the status code.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, ErrAuthRequired)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// Ping verifies the stored access token against /user. On a 401 it attempts
// one token refresh; if that fails the stored tokens are cleared and
// ErrAuthRequired is returned.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("probing /user: unexpected HTTP %d", resp.StatusCode)
	}

	c.logger.Info("access token rejected, attempting refresh")
	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("token refresh failed, clearing credentials", "error", err)
		if clearErr := c.tokens.ClearTokens(ctx); clearErr != nil {
			c.logger.Error("clearing tokens failed", "error", clearErr)
		}
		return fmt.Errorf("refreshing token: %w", ErrAuthRequired)
	}

	resp, err = c.do(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("probing /user after refresh: %w", ErrAuthRequired)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probing /user after refresh: unexpected HTTP %d", resp.StatusCode)
	}
	return nil
}

// refresh exchanges the stored refresh token for a new token pair.
func (c *Client) refresh(ctx context.Context) error {
	_, refreshToken, err := c.tokens.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("reading tokens: %w", err)
	}
	if refreshToken == "" || c.clientID == "" || c.clientSecret == "" {
		return errors.New("no refresh token or OAuth client configured")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("executing refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return errors.New("token endpoint returned no access token")
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	if err := c.tokens.SetTokens(ctx, tok.AccessToken, tok.RefreshToken); err != nil {
		return fmt.Errorf("storing refreshed tokens: %w", err)
	}
	c.logger.Info("access token refreshed")
	return nil
}

// Collections fetches the user's root collections.
func (c *Client) Collections(ctx context.Context) ([]*model.Collection, error) {
	return c.collections(ctx, "/collections")
}

// ChildCollections fetches all nested (non-root) collections.
func (c *Client) ChildCollections(ctx context.Context) ([]*model.Collection, error) {
	return c.collections(ctx, "/collections/childrens")
}

func (c *Client) collections(ctx context.Context, path string) ([]*model.Collection, error) {
	var body struct {
		Items []*model.Collection `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, fmt.Errorf("fetching collections: %w", err)
	}
	return body.Items, nil
}

// Raindrops fetches every raindrop in the given collection, paging until
// the reported total count is reached.
func (c *Client) Raindrops(ctx context.Context, collectionID int64) ([]*model.Raindrop, error) {
	var all []*model.Raindrop
	for page := 0; ; page++ {
		path := fmt.Sprintf("/raindrops/%d?page=%d&perpage=%d&sort=-created",
			collectionID, page, perPage)
		var body struct {
			Items []*model.Raindrop `json:"items"`
			Count int               `json:"count"`
		}
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &body); err != nil {
			return nil, fmt.Errorf("fetching raindrops for collection %d: %w", collectionID, err)
		}
		all = append(all, body.Items...)
		if len(body.Items) == 0 || len(all) >= body.Count {
			return all, nil
		}
	}
}

// CreateRaindrop creates a raindrop in the given collection and returns its
// new remote ID.
func (c *Client) CreateRaindrop(ctx context.Context, title, link string, collectionID int64) (int64, error) {
	payload, err := json.Marshal(map[string]any{
		"title":      title,
		"link":       link,
		"collection": map[string]int64{"$id": collectionID},
	})
	if err != nil {
		return 0, fmt.Errorf("encoding raindrop: %w", err)
	}
	var body struct {
		Item struct {
			ID int64 `json:"_id"`
		} `json:"item"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/raindrop", payload, &body); err != nil {
		return 0, fmt.Errorf("creating raindrop %q: %w", link, err)
	}
	if body.Item.ID == 0 {
		return 0, fmt.Errorf("creating raindrop %q: response carried no ID", link)
	}
	return body.Item.ID, nil
}

// DeleteRaindrop removes the raindrop with the given remote ID. A 404 is
// treated as success: the record is already gone.
func (c *Client) DeleteRaindrop(ctx context.Context, id int64) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/raindrop/%d", id), nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("deleting raindrop %d: %w", id, ErrAuthRequired)
	default:
		return fmt.Errorf("deleting raindrop %d: unexpected HTTP %d", id, resp.StatusCode)
	}
}
