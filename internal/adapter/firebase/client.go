// Package firebase reads telemetry snapshots from a Firebase Realtime
// Database through the Admin SDK.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	fbadmin "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/errorutils"
	"github.com/couchcryptid/soil-telemetry-service/internal/observability"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"
)

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = errors.New("firebase circuit breaker open")

var errAttemptTimeout = errors.New("firebase request timed out")

// StatusError reports a non-2xx response from the database.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("firebase API error: status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// serverSide reports whether the status points at an unhealthy database
// rather than at the request.
func (e *StatusError) serverSide() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// retryable excludes 500 and 503, which the database client already retries.
func (e *StatusError) retryable() bool {
	switch e.Code {
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		return false
	}
	return e.serverSide()
}

// Options configures a Client.
type Options struct {
	// DatabaseURL is https://<db>.firebaseio.com, or
	// http://host:port?ns=<db> for the emulator.
	DatabaseURL string
	ProjectID   string
	Path        string

	// CredentialsJSON is a service-account key. When empty, AuthToken (if
	// any) is sent as a legacy database secret instead.
	CredentialsJSON []byte
	AuthToken       string

	// Timeout bounds each attempt, including retries inside the SDK.
	Timeout    time.Duration
	MaxRetries int
}

type backoff struct {
	maxRetries int
	initial    time.Duration
	max        time.Duration
}

// Client fetches the telemetry subtree. It is safe for concurrent use and
// is meant to be built once per process.
type Client struct {
	ref     *db.Ref
	timeout time.Duration
	backoff backoff
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient initializes the Admin SDK app and database handle for the
// configured path.
func NewClient(ctx context.Context, opts Options, logger *slog.Logger, metrics *observability.Metrics) (*Client, error) {
	app, err := fbadmin.NewApp(ctx, &fbadmin.Config{
		DatabaseURL: opts.DatabaseURL,
		ProjectID:   opts.ProjectID,
	}, clientOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("create firebase app: %w", err)
	}
	database, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("create firebase database client: %w", err)
	}

	return &Client{
		ref:     database.NewRef(opts.Path),
		timeout: opts.Timeout,
		backoff: backoff{
			maxRetries: opts.MaxRetries,
			initial:    250 * time.Millisecond,
			max:        4 * time.Second,
		},
		breaker: newBreaker(),
		metrics: metrics,
		logger:  logger,
	}, nil
}

// clientOptions picks the authentication mode. Without a service account
// the SDK gets its own HTTP client so it neither looks up default
// credentials nor conflicts with the emulator's owner token.
func clientOptions(opts Options) []option.ClientOption {
	switch {
	case len(opts.CredentialsJSON) > 0:
		return []option.ClientOption{option.WithCredentialsJSON(opts.CredentialsJSON)}
	case opts.AuthToken != "":
		return []option.ClientOption{option.WithHTTPClient(&http.Client{
			Transport: &secretTransport{secret: opts.AuthToken, base: http.DefaultTransport},
		})}
	default:
		return []option.ClientOption{option.WithHTTPClient(&http.Client{})}
	}
}

// secretTransport authenticates with a legacy database secret. The REST API
// accepts those only as the auth query parameter, which the SDK has no
// option for.
type secretTransport struct {
	secret string
	base   http.RoundTripper
}

func (t *secretTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	q := r.URL.Query()
	q.Set("auth", t.secret)
	r.URL.RawQuery = q.Encode()
	return t.base.RoundTrip(r)
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         "firebase",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		IsSuccessful: func(err error) bool { return !countsAsFailure(err) },
	})
}

// countsAsFailure reports whether err says the database is unhealthy.
// Caller cancellations and rejected requests leave the breaker alone.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.serverSide()
	}
	return true
}

// Fetch returns the decoded subtree at the configured path. Numbers are
// decoded as json.Number. A null node yields nil.
func (c *Client) Fetch(ctx context.Context) (any, error) {
	start := time.Now()
	body, err := c.get(ctx, (*db.Ref).Get)
	c.observe("fetch", start, err)
	if err != nil {
		return nil, err
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode firebase response: %w", err)
	}
	return v, nil
}

// Ping checks that the path is reachable without downloading the records.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	_, err := c.get(ctx, (*db.Ref).GetShallow)
	c.observe("ping", start, err)
	return err
}

func (c *Client) observe(kind string, start time.Time, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, ErrCircuitOpen):
		outcome = "circuit_open"
	case err != nil:
		outcome = "error"
	}
	c.metrics.FetchRequests.WithLabelValues(kind, outcome).Inc()
	c.metrics.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

type readFunc func(ref *db.Ref, ctx context.Context, v any) error

// get runs read with retries and the circuit breaker. Timeouts, 429 and
// 5xx are retried; other failures return immediately.
func (c *Client) get(ctx context.Context, read readFunc) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.attempt(ctx, read)
		})
		if err == nil {
			body, ok := result.([]byte)
			if !ok {
				return nil, errors.New("unexpected result type from circuit breaker")
			}
			return body, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}
		if attempt >= c.backoff.maxRetries {
			return nil, fmt.Errorf("firebase request failed after %d attempts: %w", attempt+1, err)
		}

		delay := c.backoff.initial << attempt
		if delay > c.backoff.max {
			delay = c.backoff.max
		}
		c.logger.WarnContext(ctx, "firebase request failed, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, errAttemptTimeout) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.retryable()
}

// attempt performs one read bounded by the client timeout. A failure caused
// by the caller's context is returned as that context's error.
func (c *Client) attempt(ctx context.Context, read readFunc) ([]byte, error) {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body json.RawMessage
	err := read(c.ref, attemptCtx, &body)
	switch {
	case err == nil:
		return body, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case attemptCtx.Err() != nil:
		return nil, fmt.Errorf("%w after %s", errAttemptTimeout, c.timeout)
	}
	if resp := errorutils.HTTPResponse(err); resp != nil {
		return nil, &StatusError{Code: resp.StatusCode, Err: err}
	}
	return nil, fmt.Errorf("firebase request: %w", err)
}
