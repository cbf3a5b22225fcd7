package terraboot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/openstratus/stratus/pkg/catalog"
	"github.com/openstratus/stratus/pkg/deployers"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// Config holds the terraboot client settings.
type Config struct {
	// Endpoint is the base URL of the terraboot executor.
	Endpoint string `yaml:"endpoint"`

	// RequestTimeout bounds a single dispatch attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries bounds retry attempts for transient transport
	// failures before the order fails.
	MaxRetries uint64 `yaml:"max_retries"`
}

// DefaultConfig returns the default terraboot client settings.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
	}
}

// Client dispatches orders to a remote terraboot executor. Execution
// is asynchronous: terraboot accepts the task and reports the outcome
// to the callback URL when the run finishes.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a terraboot client.
func New(cfg Config, tel *telemetry.Telemetry) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  tel.Logger.Zerolog().With().Str("component", "deployer.terraboot").Logger(),
		metrics: tel.Metrics,
	}
}

func (c *Client) Kind() catalog.DeployerKind {
	return catalog.DeployerKindTerraBoot
}

// task is the wire format terraboot accepts.
type task struct {
	CorrelationID string                 `json:"correlationId"`
	Operation     string                 `json:"operation"`
	Script        string                 `json:"script"`
	ToolVersion   string                 `json:"toolVersion,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Env           map[string]string      `json:"env,omitempty"`
	CallbackURL   string                 `json:"callbackUrl"`
}

// Execute hands the order to terraboot. Transient transport failures
// are retried with exponential backoff; exhausting the retries yields
// a TransportError and the order fails without a callback.
func (c *Client) Execute(ctx context.Context, req *deployers.Request) (*deployers.Dispatch, error) {
	start := time.Now()

	body, err := json.Marshal(task{
		CorrelationID: req.CorrelationID,
		Operation:     string(req.Operation),
		Script:        req.Script,
		ToolVersion:   req.ToolVersion,
		Variables:     req.Variables,
		Env:           req.Env,
		CallbackURL:   req.CallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}

	operation := func() error {
		return c.post(ctx, c.cfg.Endpoint+"/v1/tasks", body)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		c.metrics.RecordDeployerTransportError("terraboot", string(req.Operation))
		c.logger.Error().Err(err).
			Str("order_id", req.OrderID).
			Str("correlation_id", req.CorrelationID).
			Msg("Failed to dispatch task")
		return nil, &deployers.TransportError{Deployer: "terraboot", Err: err}
	}

	c.metrics.RecordDeployerCall("terraboot", string(req.Operation), time.Since(start))
	c.logger.Info().
		Str("order_id", req.OrderID).
		Str("correlation_id", req.CorrelationID).
		Str("operation", string(req.Operation)).
		Msg("Task dispatched")

	return &deployers.Dispatch{Async: true}, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("terraboot returned %d", resp.StatusCode)
	default:
		// 4xx means the task itself is bad; retrying cannot help.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return backoff.Permanent(fmt.Errorf("terraboot rejected task: %d: %s", resp.StatusCode, detail))
	}
}

// HealthCheck probes the executor's health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("terraboot unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("terraboot unhealthy: %d", resp.StatusCode)
	}
	return nil
}
