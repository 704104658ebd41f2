// Package wikidot talks to a Wikidot-engine site through its AJAX module
// connector. The endpoint was built for incremental browser rendering,
// not bulk extraction: every call is a POST of a module name plus
// parameters, answered by a JSON envelope whose body is an HTML fragment.
// This package turns those fragments into typed records and wraps every
// call in the shared rate/retry controller.
package wikidot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mirrorkit/wikidot-mirror/internal/logger"
)

const (
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// connectorPath is the AJAX module connector endpoint.
	connectorPath = "/ajax-module-connector.php"

	// tokenCookie is the CSRF token cookie the connector requires. The
	// value only has to match the form field of the same name.
	tokenCookie = "wikidot_token7"

	// userAgent identifies the crawler; a distinctive suffix lets site
	// operators filter or block it.
	userAgent = "Mozilla/5.0 (compatible) wdmirror/1.0"
)

// ClientConfig configures a site client.
type ClientConfig struct {
	// Site is the base address, e.g. "https://example.wikidot.com".
	Site string

	// RateLimit paces all outbound requests.
	RateLimit RateLimitConfig

	// MaxAttempts bounds the retry loop per request.
	MaxAttempts int

	// HTTPClient overrides the transport. Used by tests.
	HTTPClient *http.Client
}

// Client issues module calls against one site. Safe for concurrent use;
// the embedded rate limiter is the single gate all workers share.
type Client struct {
	site     string
	hostname string
	http     *http.Client
	limiter  *RateLimiter
	retry    *RetryPolicy
}

// NewClient creates a client for the given site root.
func NewClient(cfg ClientConfig) (*Client, error) {
	site := strings.TrimRight(cfg.Site, "/")
	u, err := url.Parse(site)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid site address %q", cfg.Site)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}

	limiter := NewRateLimiter(cfg.RateLimit)
	return &Client{
		site:     site,
		hostname: strings.ToLower(u.Hostname()),
		http:     hc,
		limiter:  limiter,
		retry:    NewRetryPolicy(limiter, cfg.MaxAttempts),
	}, nil
}

// Site returns the normalised site root address.
func (c *Client) Site() string { return c.site }

// Hostname returns the lower-cased site hostname. The repository writer
// uses it to synthesize author email addresses.
func (c *Client) Hostname() string { return c.hostname }

// moduleEnvelope is the JSON wrapper around every module response.
type moduleEnvelope struct {
	Status  string `json:"status"`
	Body    string `json:"body"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// ModuleCall POSTs a module request and returns the body fragment plus
// the optional title. pathSuffix is appended to the connector URL; the
// page-listing module keys its cache on it.
func (c *Client) ModuleCall(ctx context.Context, module string, params map[string]string, pathSuffix string) (body, title string, err error) {
	err = c.callModule(ctx, module, params, pathSuffix, func(b, t string) error {
		body, title = b, t
		return nil
	})
	return body, title, err
}

// callModule runs one module request plus its fragment parse under the
// retry policy, so a truncated or garbled fragment is retried like any
// other transient failure before surfacing to the caller.
func (c *Client) callModule(ctx context.Context, module string, params map[string]string, pathSuffix string, handle func(body, title string) error) error {
	desc := fmt.Sprintf("module %s", module)
	return c.retry.Do(ctx, desc, func(ctx context.Context) error {
		body, title, err := c.moduleCallOnce(ctx, module, params, pathSuffix)
		if err != nil {
			return err
		}
		return handle(body, title)
	})
}

func (c *Client) moduleCallOnce(ctx context.Context, module string, params map[string]string, pathSuffix string) (string, string, error) {
	token := randomToken(10)

	form := url.Values{}
	form.Set("moduleName", module)
	form.Set(tokenCookie, token)
	for k, v := range params {
		form.Set(k, v)
	}

	endpoint := c.site + connectorPath + pathSuffix
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.AddCookie(&http.Cookie{Name: tokenCookie, Value: token})

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("post %s: %w", module, err)
	}
	defer resp.Body.Close()
	logger.Debug("module %s completed in %s (HTTP %d)", module, time.Since(start).Round(time.Millisecond), resp.StatusCode)

	if err := checkStatus(resp, endpoint); err != nil {
		return "", "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read response: %w", err)
	}

	var env moduleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", "", fmt.Errorf("decode module envelope: %w", err)
	}

	if env.Status != "ok" {
		return "", "", &ModuleError{Status: env.Status, Message: env.Message, Module: module}
	}
	return env.Body, env.Title, nil
}

// Get fetches a plain page URL under the rate/retry gate. Used for the
// page-id scrape, the one thing the module connector cannot answer.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	var body string
	endpoint := c.site + path
	err := c.retry.Do(ctx, fmt.Sprintf("get %s", path), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("get %s: %w", path, err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, endpoint); err != nil {
			return err
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		body = string(data)
		return nil
	})
	return body, err
}

// checkStatus maps non-2xx responses onto the error taxonomy.
func checkStatus(resp *http.Response, endpoint string) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfterHeader(resp)}
	case resp.StatusCode >= 400:
		return &HTTPError{StatusCode: resp.StatusCode, URL: endpoint}
	}
	return nil
}

// retryAfterHeader parses a Retry-After header, if present.
func retryAfterHeader(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomToken builds a throwaway CSRF token in the connector's alphabet.
func randomToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenAlphabet[rand.Intn(len(tokenAlphabet))]
	}
	return string(b)
}
