package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/JakeFAU/vendor-review-pipeline/internal/metrics"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Config holds the connection settings for the analysis platform. Each
// capability maps to a hosted task ID; calls authenticate with OAuth2 client
// credentials.
type Config struct {
	BaseURL      string
	OrgID        string
	ProjectID    string
	TokenURL     string
	ClientID     string
	ClientSecret string

	// Tasks maps capability names to platform task IDs.
	Tasks map[string]string

	// CallTimeout bounds a single attempt, not the whole retry budget.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Minute
	}
	return c
}

// Client invokes remote analysis capabilities over HTTP. Responses are
// validated against the capability schema before being returned; a failed
// validation is retried like a timeout because the platform is not fully
// deterministic.
type Client struct {
	cfg     Config
	http    *http.Client
	schemas map[string]*openapi3.Schema
	retry   *RetryPolicy
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[json.RawMessage]
}

var _ review.Invoker = (*Client)(nil)

// NewClient builds a capability client. The returned client owns an OAuth2
// token source that refreshes credentials transparently.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{"offline_access"},
	}

	return &Client{
		cfg:      cfg,
		http:     creds.Client(context.Background()),
		schemas:  Schemas(),
		retry:    NewRetryPolicy(),
		logger:   logger.Named("capability"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[json.RawMessage]),
	}
}

// NewClientWithHTTP is the test seam: it skips the OAuth2 transport and uses
// the provided HTTP client directly.
func NewClientWithHTTP(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	client := NewClient(cfg, logger)
	client.http = httpClient
	return client
}

// Invoke runs the named capability and returns the validated response payload.
func (c *Client) Invoke(ctx context.Context, capability string, input map[string]any) (json.RawMessage, error) {
	taskID, ok := c.cfg.Tasks[capability]
	if !ok {
		return nil, fmt.Errorf("no task configured for capability %q", capability)
	}
	schema, ok := c.schemas[capability]
	if !ok {
		return nil, fmt.Errorf("no schema registered for capability %q", capability)
	}

	start := time.Now()
	breaker := c.breaker(capability)
	raw, err := breaker.Execute(func() (json.RawMessage, error) {
		return c.invokeWithRetry(ctx, capability, taskID, schema, input)
	})
	metrics.ObserveCapabilityCall(capability, callStatus(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) invokeWithRetry(
	ctx context.Context,
	capability string,
	taskID string,
	schema *openapi3.Schema,
	input map[string]any,
) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := c.invokeOnce(ctx, capability, taskID, schema, input)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if !c.retry.ShouldRetry(err, attempt+1) {
			return nil, err
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("capability attempt failed, retrying",
			zap.String("capability", capability),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (c *Client) invokeOnce(
	ctx context.Context,
	capability string,
	taskID string,
	schema *openapi3.Schema,
	input map[string]any,
) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{"task_input": input})
	if err != nil {
		return nil, fmt.Errorf("marshal task input: %w", err)
	}

	url := fmt.Sprintf("%s/org/%s/project/%s/task/%s/run",
		c.cfg.BaseURL, c.cfg.OrgID, c.cfg.ProjectID, taskID)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return nil, &review.CapabilityError{Capability: capability, Timeout: true, Err: err}
		}
		return nil, &review.CapabilityError{Capability: capability, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &review.CapabilityError{Capability: capability, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &review.CapabilityError{
			Capability: capability,
			Err:        &requestRejectedError{status: resp.StatusCode},
		}
	default:
		return nil, &review.CapabilityError{
			Capability: capability,
			Err:        fmt.Errorf("server returned status %d", resp.StatusCode),
		}
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &review.CapabilityError{
			Capability: capability,
			Schema:     true,
			Err:        fmt.Errorf("decode envelope: %w", err),
		}
	}
	if len(envelope.Response) == 0 {
		return nil, &review.CapabilityError{
			Capability: capability,
			Schema:     true,
			Err:        errors.New("envelope missing response field"),
		}
	}

	if err := validate(schema, envelope.Response); err != nil {
		return nil, &review.CapabilityError{Capability: capability, Schema: true, Err: err}
	}
	return envelope.Response, nil
}

func validate(schema *openapi3.Schema, raw json.RawMessage) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return schema.VisitJSON(value)
}

func (c *Client) breaker(capability string) *gobreaker.CircuitBreaker[json.RawMessage] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if breaker, ok := c.breakers[capability]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        capability,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Rejected requests are the caller's fault, not the platform's.
			var rejected *requestRejectedError
			return errors.As(err, &rejected)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn("capability breaker state change",
				zap.String("capability", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	breaker := gobreaker.NewCircuitBreaker[json.RawMessage](settings)
	c.breakers[capability] = breaker
	return breaker
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	default:
		var capErr *review.CapabilityError
		if errors.As(err, &capErr) {
			if capErr.Timeout {
				return "timeout"
			}
			if capErr.Schema {
				return "schema"
			}
		}
		return "error"
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
