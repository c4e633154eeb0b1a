package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/agentuity/go-sessions/logger"
	"github.com/google/uuid"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// DefaultRetries is the number of attempts made for a request that fails with a transient error.
const DefaultRetries = 5

type Client struct {
	baseURL string
	token   string
	retries int
	backoff time.Duration
	client  *http.Client
	logger  logger.Logger
}

type Error struct {
	URL       string
	Method    string
	Status    int
	Body      string
	TheError  error
	TraceID   string
	RequestID string
}

func (e *Error) Error() string {
	if e == nil || e.TheError == nil {
		return ""
	}
	return e.TheError.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.TheError
}

func NewError(url, method string, status int, body string, err error, traceID string) *Error {
	return &Error{
		URL:      url,
		Method:   method,
		Status:   status,
		Body:     body,
		TheError: err,
		TraceID:  traceID,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithRetries sets the number of attempts for transient failures. Values below 1 mean a single attempt.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = max(n, 1) }
}

// WithBackoff sets the initial delay between attempts, doubled after every attempt.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

func New(logger logger.Logger, baseURL, token string, opts ...Option) *Client {
	c := &Client{
		logger:  logger.WithPrefix("[api]"),
		baseURL: baseURL,
		token:   token,
		retries: DefaultRetries,
		backoff: 150 * time.Millisecond,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type requestOptions struct {
	silenceErrors bool
}

// RequestOption configures a single request.
type RequestOption func(*requestOptions)

// SilenceErrors logs a failed request at debug level instead of error level.
// The error is still returned.
func SilenceErrors() RequestOption {
	return func(o *requestOptions) { o.silenceErrors = true }
}

func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "Notebook Sessions Client/" + Version + " (" + gitSHA + ")"
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
			return true
		} else if msg := err.Error(); strings.Contains(msg, "EOF") {
			return true
		}
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
	}
	return false
}

// safeBodyPreview returns a safe preview of the response body for logging,
// preventing PII exposure by checking content-type and truncating or redacting sensitive data.
func safeBodyPreview(body []byte, contentType string, maxChars int) string {
	if maxChars == 0 {
		maxChars = 200
	}
	lowerContentType := strings.ToLower(contentType)
	for _, safeType := range []string{"text/", "application/json", "application/xml", "application/x-www-form-urlencoded"} {
		if strings.Contains(lowerContentType, safeType) || contentType == "" {
			if len(body) > maxChars {
				return string(body[:maxChars]) + fmt.Sprintf("[truncated, total: %d chars]", len(body))
			}
			return string(body)
		}
	}
	hash := sha256.Sum256(body)
	return fmt.Sprintf("<%s: %d bytes, sha256=%s>", contentType, len(body), hex.EncodeToString(hash[:8]))
}

func (c *Client) resolve(pathParam string) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	if i := strings.Index(pathParam, "?"); i != -1 {
		u.RawQuery = pathParam[i+1:]
		pathParam = pathParam[:i]
	}
	basePath := u.Path
	if pathParam == "" {
		u.Path = basePath
	} else if basePath == "" || basePath == "/" {
		u.Path = pathParam
	} else {
		u.Path = path.Join(basePath, pathParam)
	}
	return u, nil
}

// Do sends payload as JSON and decodes the JSON response into response.
func (c *Client) Do(ctx context.Context, method, pathParam string, payload any, response any, opts ...RequestOption) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return NewError(pathParam, method, 0, "", fmt.Errorf("error marshalling payload: %w", err), "")
		}
	}
	return c.send(ctx, method, pathParam, "application/json", body, response, opts)
}

// PostForm posts form url-encoded and decodes the JSON response into response.
func (c *Client) PostForm(ctx context.Context, pathParam string, form url.Values, response any, opts ...RequestOption) error {
	return c.send(ctx, http.MethodPost, pathParam, "application/x-www-form-urlencoded", []byte(form.Encode()), response, opts)
}

func (c *Client) send(ctx context.Context, method, pathParam, contentType string, body []byte, response any, opts []RequestOption) error {
	var options requestOptions
	for _, opt := range opts {
		opt(&options)
	}
	err := c.roundTrip(ctx, method, pathParam, contentType, body, response)
	if err != nil {
		if options.silenceErrors {
			c.logger.Debug("silenced error from %s %s: %s", method, pathParam, err)
		} else {
			c.logger.Error("%s %s failed: %s", method, pathParam, err)
		}
	}
	return err
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	v := float64(c.backoff) * math.Pow(2, float64(attempt))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(v)):
		return nil
	}
}

func (c *Client) roundTrip(ctx context.Context, method, pathParam, contentType string, body []byte, response any) error {
	var traceID string
	requestID := uuid.NewString()

	u, err := c.resolve(pathParam)
	if err != nil {
		return NewError(c.baseURL, method, 0, "", fmt.Errorf("error parsing base url: %w", err), traceID)
	}
	c.logger.Trace("sending request: %s %s (%s)", method, u.String(), requestID)

	var resp *http.Response
	for i := range c.retries {
		isLast := i == c.retries-1
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
		if err != nil {
			return NewError(u.String(), method, 0, "", fmt.Errorf("error creating request: %w", err), traceID)
		}
		req.Header.Set("User-Agent", UserAgent())
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-Id", requestID)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err = c.client.Do(req)
		if shouldRetry(resp, err) && !isLast {
			c.logger.Trace("client returned retryable error, retrying...")
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			if err := c.wait(ctx, i); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return NewError(u.String(), method, 0, "", fmt.Errorf("error sending request: %w", err), traceID)
		}
		break
	}
	defer resp.Body.Close()
	c.logger.Debug("response status: %s", resp.Status)

	traceID = resp.Header.Get("traceparent")

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(u.String(), method, 0, "", fmt.Errorf("error reading response body: %w", err), traceID)
	}

	contentTypeHeader := resp.Header.Get("content-type")
	c.logger.Trace("response body: %s, content-type: %s", safeBodyPreview(respBody, contentTypeHeader, 200), contentTypeHeader)

	if resp.StatusCode > 299 {
		apiErr := NewError(u.String(), method, resp.StatusCode, string(respBody), fmt.Errorf("request failed with status (%s)", resp.Status), traceID)
		apiErr.RequestID = requestID
		var apiResponse struct {
			Message string `json:"message"`
		}
		if strings.Contains(contentTypeHeader, "application/json") && json.Unmarshal(respBody, &apiResponse) == nil && apiResponse.Message != "" {
			apiErr.TheError = fmt.Errorf("%s", apiResponse.Message)
		}
		return apiErr
	}

	if response != nil {
		if err := json.Unmarshal(respBody, response); err != nil {
			return NewError(u.String(), method, resp.StatusCode, string(respBody), fmt.Errorf("error JSON decoding response: %w", err), traceID)
		}
	}
	return nil
}
