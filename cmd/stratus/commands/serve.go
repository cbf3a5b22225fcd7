package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openstratus/stratus/pkg/api"
	"github.com/openstratus/stratus/pkg/catalog"
	"github.com/openstratus/stratus/pkg/config"
	"github.com/openstratus/stratus/pkg/credentials"
	"github.com/openstratus/stratus/pkg/deployers"
	"github.com/openstratus/stratus/pkg/deployers/terraboot"
	"github.com/openstratus/stratus/pkg/deployers/tflocal"
	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/plugins"
	"github.com/openstratus/stratus/pkg/policy"
	"github.com/openstratus/stratus/pkg/stores"
	"github.com/openstratus/stratus/pkg/telemetry"
	"github.com/openstratus/stratus/pkg/workflow"
)

func newServeCommand() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server",
		Long: `Run the Stratus orchestrator: template catalog, policy engine,
credential cache, deployer adapters and the HTTP API.

The server recovers in-flight orders from the ledger on startup and
periodically fails orders whose deployer callback never arrived.`,
		Example: `  # Serve with the default configuration
  stratus serve

  # Serve with a config file
  stratus serve --config /etc/stratus/config.yaml

  # Local development with the devcloud plugin registered
  stratus serve --dev`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dev)
		},
	}

	cmd.Flags().BoolVar(&dev, "dev", false, "register the devcloud development plugin")

	return cmd
}

func runServe(ctx context.Context, dev bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.New(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Telemetry shutdown failed")
		}
	}()
	logger := tel.Logger.Zerolog()

	store, err := stores.NewSQLiteStore(cfg.Store)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	cat, err := catalog.NewRegistry(logger)
	if err != nil {
		return err
	}
	if err := cat.LoadDir(cfg.Catalog.Dir); err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	if cfg.Catalog.Watch {
		if err := cat.Watch(ctx, cfg.Catalog.Dir); err != nil {
			return fmt.Errorf("failed to watch template directory: %w", err)
		}
	}

	plugReg := plugins.NewRegistry()
	if dev {
		if err := plugReg.Register(plugins.NewDevCloud(logger, "local")); err != nil {
			return err
		}
	}

	polEngine, err := policy.NewEngine(logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := polEngine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
		if cfg.Policy.Watch {
			loader := policy.NewLoader(logger)
			err := loader.Watch(ctx, cfg.Policy.Paths, func([]policy.Policy) error {
				if err := polEngine.ReloadPolicies(ctx); err != nil {
					return err
				}
				return polEngine.LoadPolicies(ctx, cfg.Policy.Paths)
			})
			if err != nil {
				return fmt.Errorf("failed to watch policy paths: %w", err)
			}
		}
	}

	credSvc := credentials.NewService(
		plugReg.CredentialResolver(),
		cfg.Credentials.TTL,
		tel,
		credentials.WithSweepInterval(cfg.Credentials.SweepInterval),
	)
	credSvc.Start(ctx)
	defer credSvc.Stop()

	depReg := deployers.NewRegistry()
	if cfg.Deployers.Terraboot.Endpoint != "" {
		depReg.Register(terraboot.New(cfg.Deployers.Terraboot, tel))
	}
	if cfg.Deployers.TFLocal.WorkDir != "" {
		depReg.Register(tflocal.New(cfg.Deployers.TFLocal, tel))
	}

	coord := workflow.NewCoordinator(logger)
	orch := orchestrator.New(cfg.Orchestrator, store, cat, plugReg, polEngine, credSvc, depReg, coord, tel)
	coord.SetSubmitter(orch.SubmitFollowUp)

	if err := orch.StartRecovery(ctx); err != nil {
		return fmt.Errorf("failed to recover in-flight orders: %w", err)
	}

	return api.NewServer(cfg.API, orch, tel).Run(ctx)
}
