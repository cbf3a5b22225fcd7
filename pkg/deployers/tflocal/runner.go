package tflocal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openstratus/stratus/pkg/catalog"
	"github.com/openstratus/stratus/pkg/deployers"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// Config holds the local terraform runner settings.
type Config struct {
	// Binary is the terraform executable, looked up on PATH when
	// left empty.
	Binary string `yaml:"binary"`

	// WorkDir is the directory holding per-service workspaces.
	WorkDir string `yaml:"work_dir"`

	// Timeout bounds a single terraform run.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default runner settings.
func DefaultConfig() Config {
	return Config{
		Binary:  "terraform",
		Timeout: 30 * time.Minute,
	}
}

// Runner executes terraform in process. Unlike terraboot this is
// synchronous: Execute blocks until the run finishes and returns the
// final result, no callback involved.
type Runner struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a local terraform runner.
func New(cfg Config, tel *telemetry.Telemetry) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = DefaultConfig().Binary
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Runner{
		cfg:     cfg,
		logger:  tel.Logger.Zerolog().With().Str("component", "deployer.tflocal").Logger(),
		metrics: tel.Metrics,
	}
}

func (r *Runner) Kind() catalog.DeployerKind {
	return catalog.DeployerKindTfLocal
}

// Execute runs terraform for the order and returns the final outcome.
// A failed run is a result, not an error; only the inability to start
// terraform at all surfaces as a TransportError.
func (r *Runner) Execute(ctx context.Context, req *deployers.Request) (*deployers.Dispatch, error) {
	start := time.Now()

	workspace, err := r.prepareWorkspace(req)
	if err != nil {
		return nil, &deployers.TransportError{Deployer: "tflocal", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if out, err := r.run(ctx, workspace, req.Env, "init", "-no-color", "-input=false"); err != nil {
		return r.failed(req, start, fmt.Sprintf("terraform init failed: %s", out)), nil
	}

	args := []string{"-no-color", "-input=false", "-auto-approve"}
	verb := "apply"
	if req.Operation == deployers.OperationDestroy {
		verb = "destroy"
	}

	if out, err := r.run(ctx, workspace, req.Env, append([]string{verb}, args...)...); err != nil {
		r.logger.Warn().
			Str("order_id", req.OrderID).
			Str("operation", string(req.Operation)).
			Msg("Terraform run failed")
		return r.failed(req, start, fmt.Sprintf("terraform %s failed: %s", verb, out)), nil
	}

	result := &deployers.Result{Succeeded: true}
	if req.Operation != deployers.OperationDestroy {
		result.Outputs = r.collectOutputs(ctx, workspace, req.Env)
		result.Resources = r.collectState(ctx, workspace, req.Env)
	}

	r.metrics.RecordDeployerCall("tflocal", string(req.Operation), time.Since(start))
	r.logger.Info().
		Str("order_id", req.OrderID).
		Str("operation", string(req.Operation)).
		Dur("duration", time.Since(start)).
		Msg("Terraform run completed")

	return &deployers.Dispatch{Async: false, Result: result}, nil
}

// failed wraps a terraform run that completed with a nonzero exit.
// That is a deployer call like any other, not a transport error.
func (r *Runner) failed(req *deployers.Request, start time.Time, message string) *deployers.Dispatch {
	r.metrics.RecordDeployerCall("tflocal", string(req.Operation), time.Since(start))
	return &deployers.Dispatch{
		Async:  false,
		Result: &deployers.Result{Succeeded: false, Message: message},
	}
}

// prepareWorkspace writes the script and variables into a per-service
// directory. Re-running an order for the same service reuses the
// workspace so terraform state carries over.
func (r *Runner) prepareWorkspace(req *deployers.Request) (string, error) {
	workspace := filepath.Join(r.cfg.WorkDir, req.ServiceID)
	if err := os.MkdirAll(workspace, 0o750); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	if err := os.WriteFile(filepath.Join(workspace, "main.tf"), []byte(req.Script), 0o640); err != nil {
		return "", fmt.Errorf("failed to write script: %w", err)
	}

	if len(req.Variables) > 0 {
		vars, err := json.MarshalIndent(req.Variables, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode variables: %w", err)
		}
		if err := os.WriteFile(filepath.Join(workspace, "terraform.tfvars.json"), vars, 0o640); err != nil {
			return "", fmt.Errorf("failed to write variables: %w", err)
		}
	}

	return workspace, nil
}

func (r *Runner) run(ctx context.Context, workspace string, env map[string]string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.cfg.Binary, args...)
	cmd.Dir = workspace
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}

func (r *Runner) collectOutputs(ctx context.Context, workspace string, env map[string]string) map[string]string {
	out, err := r.run(ctx, workspace, env, "output", "-no-color", "-json")
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to read terraform outputs")
		return nil
	}

	var raw map[string]struct {
		Value interface{} `json:"value"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to decode terraform outputs")
		return nil
	}

	outputs := make(map[string]string, len(raw))
	for name, v := range raw {
		outputs[name] = fmt.Sprintf("%v", v.Value)
	}
	return outputs
}

func (r *Runner) collectState(ctx context.Context, workspace string, env map[string]string) string {
	out, err := r.run(ctx, workspace, env, "show", "-no-color", "-json")
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to read terraform state")
		return ""
	}
	return out
}

// Purge removes the workspace for a service after a purge order.
func (r *Runner) Purge(serviceID string) error {
	if serviceID == "" {
		return fmt.Errorf("service id required")
	}
	return os.RemoveAll(filepath.Join(r.cfg.WorkDir, serviceID))
}

// HealthCheck verifies the terraform binary is runnable.
func (r *Runner) HealthCheck(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.cfg.Binary, "version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("terraform binary not runnable: %w", err)
	}
	return nil
}
