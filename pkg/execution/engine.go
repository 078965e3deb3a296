// Package execution dispatches parsed commands to their backends: local
// containers, AWS Lambda, OpenWhisk actions, and plain webhooks.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/waddlebot/router/internal/telemetry"
	"github.com/waddlebot/router/internal/version"
	"github.com/waddlebot/router/pkg/command"
)

// Request is the stable payload envelope posted to every backend.
type Request struct {
	Command     string         `json:"command"`
	Parameters  []string       `json:"parameters"`
	User        User           `json:"user"`
	Context     Context        `json:"context"`
	RawMessage  string         `json:"raw_message"`
	UserContext map[string]any `json:"user_context,omitempty"`
}

// User identifies the author of the triggering message.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Context carries the event origin.
type Context struct {
	Platform  string `json:"platform"`
	ServerID  string `json:"server_id"`
	ChannelID string `json:"channel_id,omitempty"`
	EntityID  string `json:"entity_id"`
	MessageID string `json:"message_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Result is the outcome of one dispatch.
type Result struct {
	Success         bool            `json:"success"`
	StatusCode      int             `json:"status_code"`
	ResponseData    json.RawMessage `json:"response_data,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	RetryCount      int             `json:"retry_count"`
	Error           string          `json:"error,omitempty"`
}

// Engine dispatches commands over a shared pooled HTTP client.
type Engine struct {
	client         *http.Client
	logger         *slog.Logger
	openWhiskKey   string
	defaultTimeout time.Duration
	maxRetries     int

	// backoffInitial is the first lambda retry delay (2 s; shortened in tests).
	backoffInitial time.Duration
}

// NewEngine creates an Engine. defaultTimeout applies when a command carries
// no timeout; maxRetries caps lambda retries when the command sets none.
func NewEngine(logger *slog.Logger, openWhiskKey string, defaultTimeout time.Duration, maxRetries int) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Engine{
		client:         &http.Client{Transport: transport},
		logger:         logger,
		openWhiskKey:   openWhiskKey,
		defaultTimeout: defaultTimeout,
		maxRetries:     maxRetries,
		backoffInitial: 2 * time.Second,
	}
}

// Dispatch executes the command against its backend and returns the outcome.
// Lambda commands retry on transient failures with exponential backoff; all
// other types are single-attempt.
func (e *Engine) Dispatch(ctx context.Context, cmd command.Command, req Request) Result {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("marshalling payload: %v", err)}
	}

	start := time.Now()
	var result Result
	if cmd.Type == command.TypeLambda {
		result = e.dispatchWithRetry(ctx, cmd, body)
	} else {
		result, _ = e.attempt(ctx, cmd, body)
	}
	result.ExecutionTimeMS = time.Since(start).Milliseconds()

	status := "success"
	if !result.Success {
		status = "failure"
	}
	telemetry.DispatchesTotal.WithLabelValues(cmd.Type, status).Inc()
	telemetry.DispatchDuration.WithLabelValues(cmd.Type).Observe(time.Since(start).Seconds())

	return result
}

// errTransient marks failures worth retrying for lambda backends.
var errTransient = errors.New("transient backend failure")

// dispatchWithRetry runs lambda dispatch with exponential backoff (2^attempt
// seconds, no jitter) on timeouts, network failures, and 5xx responses.
func (e *Engine) dispatchWithRetry(ctx context.Context, cmd command.Command, body []byte) Result {
	retries := cmd.MaxRetries
	if retries <= 0 {
		retries = e.maxRetries
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.backoffInitial
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var result Result
	attempts := 0

	op := func() error {
		attempts++
		res, transient := e.attempt(ctx, cmd, body)
		result = res
		if res.Success {
			return nil
		}
		if transient {
			return errTransient
		}
		return backoff.Permanent(errors.New(res.Error))
	}

	// Retry errors are already reflected in result; the last attempt wins.
	_ = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx))

	result.RetryCount = attempts - 1
	return result
}

// attempt performs a single backend call. The second return reports whether a
// failure was transient (timeout, network error, 5xx).
func (e *Engine) attempt(ctx context.Context, cmd command.Command, body []byte) (Result, bool) {
	timeout := cmd.Timeout()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := cmd.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(reqCtx, method, cmd.LocationURL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("building request: %v", err)}, false
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "WaddleBot-Router/"+version.Version)
	for k, v := range cmd.Headers {
		req.Header.Set(k, v)
	}
	if cmd.Type == command.TypeOpenWhisk && e.openWhiskKey != "" {
		req.Header.Set("Authorization", "Basic "+e.openWhiskKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		// Timeouts and network failures are both transient for lambda retry.
		return Result{Error: err.Error()}, true
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Error: fmt.Sprintf("reading response: %v", err)}, true
	}

	result := Result{
		StatusCode:   resp.StatusCode,
		ResponseData: wrapResponse(data),
		Success:      resp.StatusCode >= 200 && resp.StatusCode <= 299,
	}
	if !result.Success {
		result.Error = "backend returned HTTP " + strconv.Itoa(resp.StatusCode)
	}
	return result, resp.StatusCode >= 500
}

// wrapResponse returns the body as JSON: parsed when valid, otherwise wrapped
// as {"response": <text>}.
func wrapResponse(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	wrapped, _ := json.Marshal(map[string]string{"response": string(data)})
	return json.RawMessage(wrapped)
}
