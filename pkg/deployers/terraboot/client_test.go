package terraboot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openstratus/stratus/pkg/deployers"
	"github.com/openstratus/stratus/pkg/telemetry"
)

func testRequest() *deployers.Request {
	return &deployers.Request{
		OrderID:       "ord-1",
		CorrelationID: "corr-1",
		ServiceID:     "svc-1",
		Operation:     deployers.OperationDeploy,
		Script:        `resource "null_resource" "x" {}`,
		Variables:     map[string]interface{}{"node_count": 3},
		Env:           map[string]string{"TOKEN": "t0ken"},
		CallbackURL:   "http://stratus.local/webhooks/deployer/corr-1",
	}
}

func newTestClient(endpoint string) *Client {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.RequestTimeout = 2 * time.Second
	cfg.MaxRetries = 2
	return New(cfg, telemetry.NewNop())
}

func TestExecuteDispatchesTask(t *testing.T) {
	var received task
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tasks" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode task: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	dispatch, err := newTestClient(server.URL).Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if !dispatch.Async {
		t.Error("Expected asynchronous dispatch")
	}
	if dispatch.Result != nil {
		t.Error("Async dispatch must not carry a result")
	}

	if received.CorrelationID != "corr-1" {
		t.Errorf("Expected correlation id corr-1, got %s", received.CorrelationID)
	}
	if received.Operation != "deploy" {
		t.Errorf("Expected operation deploy, got %s", received.Operation)
	}
	if received.CallbackURL == "" {
		t.Error("Expected callback URL in task")
	}
	if received.Env["TOKEN"] != "t0ken" {
		t.Error("Expected credential env in task")
	}
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	dispatch, err := newTestClient(server.URL).Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Expected retries to succeed: %v", err)
	}
	if !dispatch.Async {
		t.Error("Expected asynchronous dispatch")
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestExecuteDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Execute(context.Background(), testRequest())

	var transportErr *deployers.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt for 4xx, got %d", calls.Load())
	}
}

func TestExecuteUnreachableExecutor(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")

	_, err := client.Execute(context.Background(), testRequest())

	var transportErr *deployers.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy executor: %v", err)
	}

	if err := newTestClient("http://127.0.0.1:1").HealthCheck(context.Background()); err == nil {
		t.Error("Expected health check failure for unreachable executor")
	}
}
