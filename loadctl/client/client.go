package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PeladoCollado/cpuload/server/logger"
	"github.com/PeladoCollado/cpuload/types"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	DefaultRetryMax     = 5
	DefaultRetryWaitMin = 100 * time.Millisecond
	// DefaultTimeout covers a full session at the server's default 30 x 1s.
	DefaultTimeout = 2 * time.Minute

	sessionIDHeader = "X-Load-Session-Id"
	maxErrorBody    = 10000
)

type Options struct {
	RetryMax     int
	RetryWaitMin time.Duration
	Timeout      time.Duration
}

func DefaultOptions() Options {
	return Options{RetryMax: DefaultRetryMax, RetryWaitMin: DefaultRetryWaitMin, Timeout: DefaultTimeout}
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type IntenseResult struct {
	SessionID string
	Message   string
	Elapsed   time.Duration
}

// Client talks to a cpuload server.
type Client struct {
	baseURL string
	http    *http.Client
	// session is used for /intense, where a repeated request runs another full session.
	session *http.Client
}

func New(baseURL string, opts Options) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newRetryingClient(opts, retryPolicy),
		session: newRetryingClient(opts, sessionRetryPolicy),
	}
}

func newRetryingClient(opts Options, policy retryablehttp.CheckRetry) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	rc.HTTPClient.Timeout = opts.Timeout
	rc.Logger = leveledLogger{logger.Logger}
	rc.CheckRetry = policy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc.StandardClient()
}

// retryPolicy never retries a 4xx; the server will answer the same way again.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// sessionRetryPolicy retries only when the server was never reached. Any response, or an
// error after the connection was made, means a session may already have run.
func sessionRetryPolicy(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var opErr *net.OpError
	if err != nil && errors.As(err, &opErr) && opErr.Op == "dial" {
		return true, nil
	}
	return false, nil
}

func (c *Client) Hello(ctx context.Context) (string, error) {
	var greeting string
	if _, err := c.get(ctx, c.http, "/", &greeting); err != nil {
		return "", err
	}
	return greeting, nil
}

// Intense runs one load session and blocks until the server reports it finished.
func (c *Client) Intense(ctx context.Context, utilization int) (IntenseResult, error) {
	var message string
	header, err := c.get(ctx, c.session, "/intense/"+strconv.Itoa(utilization), &message)
	if err != nil {
		return IntenseResult{}, err
	}
	elapsed, err := ParseElapsed(message)
	if err != nil {
		return IntenseResult{}, err
	}
	return IntenseResult{SessionID: header.Get(sessionIDHeader), Message: message, Elapsed: elapsed}, nil
}

func (c *Client) Sessions(ctx context.Context) (types.SessionList, error) {
	var list types.SessionList
	if _, err := c.get(ctx, c.http, "/sessions", &list); err != nil {
		return types.SessionList{}, err
	}
	return list, nil
}

// ParseElapsed reads the duration out of a "Ran for 30.012s" message.
func ParseElapsed(message string) (time.Duration, error) {
	raw, ok := strings.CutPrefix(message, "Ran for ")
	if !ok {
		return 0, fmt.Errorf("unrecognized session message %q", message)
	}
	raw, ok = strings.CutSuffix(raw, "s")
	if !ok {
		return 0, fmt.Errorf("unrecognized session message %q", message)
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse elapsed seconds in %q: %w", message, err)
	}
	return time.Duration(math.Round(seconds * float64(time.Second))), nil
}

func (c *Client) get(ctx context.Context, hc *http.Client, path string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			body = []byte(fmt.Sprintf("unable to read error response body - %v", err))
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.Header, nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
