package tflocal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openstratus/stratus/pkg/deployers"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// writeStub writes a fake terraform binary whose behavior depends on
// the subcommand, so runs are deterministic without real terraform.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "terraform")
	full := "#!/bin/sh\n" + script
	if err := os.WriteFile(path, []byte(full), 0o755); err != nil {
		t.Fatalf("Failed to write stub binary: %v", err)
	}
	return path
}

func newTestRunner(t *testing.T, binary string) *Runner {
	t.Helper()
	cfg := Config{
		Binary:  binary,
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
	}
	return New(cfg, telemetry.NewNop())
}

func testRequest() *deployers.Request {
	return &deployers.Request{
		OrderID:       "ord-1",
		CorrelationID: "corr-1",
		ServiceID:     "svc-1",
		Operation:     deployers.OperationDeploy,
		Script:        `resource "null_resource" "x" {}`,
		Variables:     map[string]interface{}{"node_count": 3},
		Env:           map[string]string{"TOKEN": "t0ken"},
	}
}

func TestExecuteSuccessfulApply(t *testing.T) {
	stub := writeStub(t, `
case "$1" in
  output) echo '{"endpoint":{"value":"10.0.0.1"}}' ;;
  show)   echo '{"values":{"root_module":{}}}' ;;
  *)      echo ok ;;
esac
exit 0
`)
	runner := newTestRunner(t, stub)

	req := testRequest()
	dispatch, err := runner.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if dispatch.Async {
		t.Error("Expected synchronous dispatch")
	}
	if !dispatch.Result.Succeeded {
		t.Fatalf("Expected success, got %s", dispatch.Result.Message)
	}
	if dispatch.Result.Outputs["endpoint"] != "10.0.0.1" {
		t.Errorf("Expected endpoint output, got %v", dispatch.Result.Outputs)
	}
	if dispatch.Result.Resources == "" {
		t.Error("Expected state JSON in result")
	}

	// The workspace must hold the script and the variables file.
	workspace := filepath.Join(runner.cfg.WorkDir, req.ServiceID)
	if _, err := os.Stat(filepath.Join(workspace, "main.tf")); err != nil {
		t.Errorf("Expected main.tf in workspace: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workspace, "terraform.tfvars.json")); err != nil {
		t.Errorf("Expected tfvars in workspace: %v", err)
	}
}

func TestExecuteFailedApplyIsResultNotError(t *testing.T) {
	stub := writeStub(t, `
if [ "$1" = "apply" ]; then
  echo "Error: quota exceeded" >&2
  exit 1
fi
exit 0
`)
	runner := newTestRunner(t, stub)

	dispatch, err := runner.Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Execution failure must not be a transport error: %v", err)
	}
	if dispatch.Result.Succeeded {
		t.Fatal("Expected failed result")
	}
	if dispatch.Result.Message == "" {
		t.Error("Expected failure detail in message")
	}
}

// A run that terraform itself fails is a completed deployer call. Only
// failing to start terraform counts against the transport.
func TestFailedApplyCountsAsDeployerCall(t *testing.T) {
	stub := writeStub(t, `
if [ "$1" = "apply" ]; then
  echo "Error: quota exceeded" >&2
  exit 1
fi
exit 0
`)
	telCfg := telemetry.DefaultConfig()
	telCfg.Logging.Level = "fatal"
	telCfg.Tracing.Enabled = false
	tel, err := telemetry.New(telCfg)
	if err != nil {
		t.Fatalf("Failed to build telemetry: %v", err)
	}
	runner := New(Config{
		Binary:  stub,
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
	}, tel)

	dispatch, err := runner.Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Execution failure must not be a transport error: %v", err)
	}
	if dispatch.Result.Succeeded {
		t.Fatal("Expected failed result")
	}

	rec := httptest.NewRecorder()
	tel.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	if !strings.Contains(body, `stratus_deployer_calls_total{deployer="tflocal",operation="deploy"} 1`) {
		t.Errorf("Expected failed apply counted as a deployer call, metrics:\n%s", body)
	}
	if strings.Contains(body, "stratus_deployer_transport_errors_total") {
		t.Errorf("Expected no transport error recorded for an execution failure, metrics:\n%s", body)
	}
}

func TestExecuteDestroySkipsOutputs(t *testing.T) {
	stub := writeStub(t, `
if [ "$1" = "output" ] || [ "$1" = "show" ]; then
  echo "should not be called" >&2
  exit 1
fi
exit 0
`)
	runner := newTestRunner(t, stub)

	req := testRequest()
	req.Operation = deployers.OperationDestroy

	dispatch, err := runner.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Failed to execute destroy: %v", err)
	}
	if !dispatch.Result.Succeeded {
		t.Fatalf("Expected destroy to succeed, got %s", dispatch.Result.Message)
	}
	if dispatch.Result.Outputs != nil {
		t.Error("Destroy must not collect outputs")
	}
}

func TestPurgeRemovesWorkspace(t *testing.T) {
	stub := writeStub(t, "exit 0\n")
	runner := newTestRunner(t, stub)

	req := testRequest()
	if _, err := runner.Execute(context.Background(), req); err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}

	if err := runner.Purge(req.ServiceID); err != nil {
		t.Fatalf("Failed to purge: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runner.cfg.WorkDir, req.ServiceID)); !os.IsNotExist(err) {
		t.Error("Expected workspace to be removed")
	}

	if err := runner.Purge(""); err == nil {
		t.Error("Expected error for empty service id")
	}
}

func TestHealthCheck(t *testing.T) {
	stub := writeStub(t, "exit 0\n")
	if err := newTestRunner(t, stub).HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy runner: %v", err)
	}

	if err := newTestRunner(t, "/does/not/exist").HealthCheck(context.Background()); err == nil {
		t.Error("Expected health check failure for missing binary")
	}
}
