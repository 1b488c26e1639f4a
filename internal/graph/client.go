package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultBaseURL is the Microsoft Graph v1.0 API root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// DefaultUserAgent is sent when the caller does not configure one.
const DefaultUserAgent = "onedrive-uploader/0.1"

const (
	maxRetries    = 5
	baseBackoff   = time.Second
	maxBackoff    = time.Minute
	jitterPercent = 25
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer
// (graph package); driveops.TokenCache is the production implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the Graph API with a bearer token from a TokenSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string

	// sleepFunc waits between retries.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Graph API client.
// baseURL is typically DefaultBaseURL; the configured graph.api_root overrides it.
func NewClient(
	baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  userAgent,
		sleepFunc:  timeSleep,
	}
}

// Do sends a request to path under the client's base URL, retrying network
// failures and transient statuses (408, 429, 5xx, 509). A non-nil body is
// sent as JSON and must implement io.Seeker to be retried. Non-2xx
// responses come back as *GraphError; the caller closes a returned body.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path
	backoff := newRequestBackoff()

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if err := rewindBody(body); err != nil {
				return nil, fmt.Errorf("graph: rewinding request body for retry: %w", err)
			}
		}

		resp, err := c.doOnce(ctx, method, url, body)

		var (
			failure    error
			retryAfter time.Duration
		)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", ctx.Err())
			}

			// Retrying a token failure would only re-run the provider.
			if isTokenError(err) {
				return nil, err
			}

			failure = err

		case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
			c.logger.Debug("graph request ok",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil

		default:
			gerr := readGraphError(resp)
			if !isRetryable(resp.StatusCode) {
				return nil, gerr
			}

			failure = gerr
			retryAfter = parseRetryAfter(resp)
		}

		delay, stop := backoff.Next()
		if stop {
			c.logger.Error("graph request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempts", attempt),
			)

			return nil, fmt.Errorf("graph: %s %s failed after %d attempts: %w", method, path, attempt, failure)
		}

		if retryAfter > 0 {
			delay = retryAfter
		}

		c.logger.Warn("retrying graph request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", failure.Error()),
		)

		if err := c.sleepFunc(ctx, delay); err != nil {
			return nil, fmt.Errorf("graph: request canceled: %w", err)
		}
	}
}

// newRequestBackoff is the retry schedule of one Do call: exponential from
// baseBackoff, capped at maxBackoff, with jitter.
func newRequestBackoff() retry.Backoff {
	b := retry.NewExponential(baseBackoff)
	b = retry.WithCappedDuration(maxBackoff, b)
	b = retry.WithJitterPercent(jitterPercent, b)

	return retry.WithMaxRetries(maxRetries, b)
}

// tokenError marks a failure to obtain a bearer token.
type tokenError struct {
	err error
}

func (e *tokenError) Error() string { return "graph: obtaining token: " + e.err.Error() }

func (e *tokenError) Unwrap() error { return e.err }

func isTokenError(err error) bool {
	var te *tokenError

	return errors.As(err, &te)
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, &tokenError{err: err}
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// rewindBody seeks a retried request body back to the start.
func rewindBody(body io.Reader) error {
	if body == nil {
		return nil
	}

	seeker, ok := body.(io.Seeker)
	if !ok {
		return fmt.Errorf("body of type %T cannot be replayed", body)
	}

	_, err := seeker.Seek(0, io.SeekStart)

	return err
}

// parseRetryAfter reads a throttling response's Retry-After header in
// seconds. Zero means the backoff schedule applies.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0
	}

	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}

	return min(time.Duration(seconds)*time.Second, maxBackoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
