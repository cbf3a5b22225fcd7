package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openstratus/stratus/pkg/catalog"
	"github.com/openstratus/stratus/pkg/credentials"
	"github.com/openstratus/stratus/pkg/deployers"
	"github.com/openstratus/stratus/pkg/plugins"
	"github.com/openstratus/stratus/pkg/policy"
	"github.com/openstratus/stratus/pkg/stores"
	"github.com/openstratus/stratus/pkg/telemetry"
	"github.com/openstratus/stratus/pkg/workflow"
)

// Config holds the orchestrator settings.
type Config struct {
	// CallbackBaseURL is the externally reachable base URL async
	// deployers report results to.
	CallbackBaseURL string `yaml:"callback_base_url"`

	// OrderTimeout is how long a dispatched order may wait for its
	// callback before the recovery sweep fails it.
	OrderTimeout time.Duration `yaml:"order_timeout"`

	// RecoveryInterval is how often the stuck-order sweep runs.
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		OrderTimeout:     time.Hour,
		RecoveryInterval: time.Minute,
	}
}

// SubmitRequest is one caller-initiated lifecycle operation.
type SubmitRequest struct {
	// Kind is the order kind: deploy, modify, destroy, migrate, port
	// or purge.
	Kind string `json:"kind"`

	// ServiceID targets an existing instance. Required for every kind
	// except deploy.
	ServiceID string `json:"serviceId,omitempty"`

	// Name labels a new instance on deploy.
	Name string `json:"name,omitempty"`

	// TemplateName and TemplateVersion pick the template on deploy.
	// Operations against an existing instance use the instance's own
	// template.
	TemplateName    string `json:"templateName,omitempty"`
	TemplateVersion string `json:"templateVersion,omitempty"`

	// Region is the target region for deploy and migrate.
	Region string `json:"region,omitempty"`

	// Flavor is the sizing option for deploy, modify and port.
	Flavor string `json:"flavor,omitempty"`

	// Principal resolves the CSP credentials for the order.
	Principal string `json:"principal"`

	// Parameters are the deployment variables.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	sagaID string
}

// CallbackResult is what an asynchronous deployer reports when a run
// finishes.
type CallbackResult struct {
	Succeeded bool              `json:"succeeded"`
	Message   string            `json:"message,omitempty"`
	Resources json.RawMessage   `json:"resources,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty"`
}

// Orchestrator drives the service lifecycle: it validates and accepts
// orders, dispatches them to deployers, applies results, and keeps the
// order ledger and instance states consistent.
type Orchestrator struct {
	cfg         Config
	store       *stores.SQLiteStore
	catalog     *catalog.Registry
	plugins     *plugins.Registry
	policy      *policy.Engine
	credentials *credentials.Service
	deployers   *deployers.Registry
	locks       *LockManager
	notifier    workflow.Notifier
	tel         *telemetry.Telemetry
	logger      zerolog.Logger
}

// New creates an orchestrator.
func New(
	cfg Config,
	store *stores.SQLiteStore,
	cat *catalog.Registry,
	plug *plugins.Registry,
	pol *policy.Engine,
	creds *credentials.Service,
	deps *deployers.Registry,
	notifier workflow.Notifier,
	tel *telemetry.Telemetry,
) *Orchestrator {
	if cfg.OrderTimeout == 0 {
		cfg.OrderTimeout = DefaultConfig().OrderTimeout
	}
	if cfg.RecoveryInterval == 0 {
		cfg.RecoveryInterval = DefaultConfig().RecoveryInterval
	}
	if notifier == nil {
		notifier = workflow.NopNotifier{}
	}
	return &Orchestrator{
		cfg:         cfg,
		store:       store,
		catalog:     cat,
		plugins:     plug,
		policy:      pol,
		credentials: creds,
		deployers:   deps,
		locks:       NewLockManager(tel.Metrics),
		notifier:    notifier,
		tel:         tel,
		logger:      tel.Logger.Zerolog().With().Str("component", "orchestrator").Logger(),
	}
}

// Locks exposes the lock manager, mainly for recovery and tests.
func (o *Orchestrator) Locks() *LockManager { return o.locks }

// Catalog exposes the template registry for the read-only API surface.
func (o *Orchestrator) Catalog() *catalog.Registry { return o.catalog }

// Credentials exposes the credential service for the API surface.
func (o *Orchestrator) Credentials() *credentials.Service { return o.credentials }

// Plugins exposes the CSP plugin registry for the API surface.
func (o *Orchestrator) Plugins() *plugins.Registry { return o.plugins }

// Submit validates a request, persists the order, and dispatches it.
// It returns as soon as the order is accepted; execution continues in
// the background. A returned RejectionError means nothing was
// persisted.
func (o *Orchestrator) Submit(ctx context.Context, req *SubmitRequest) (*stores.Order, error) {
	kind, ok := stores.ParseOrderKind(req.Kind)
	if !ok {
		o.tel.Metrics.RecordOrderRejected(req.Kind, string(CodeInvalidRequest))
		return nil, reject(CodeInvalidRequest, "unknown order kind %q", req.Kind)
	}

	var order *stores.Order
	var err error
	if kind == stores.OrderKindDeploy && req.ServiceID == "" {
		order, err = o.submitDeploy(ctx, req)
	} else {
		order, err = o.submitExisting(ctx, kind, req)
	}

	if err != nil {
		if rej, ok := AsRejection(err); ok {
			o.tel.Metrics.RecordOrderRejected(string(kind), string(rej.Code))
		}
		return nil, err
	}

	o.tel.Metrics.RecordOrderSubmitted(string(order.Kind), order.Csp)
	return order, nil
}

// submitDeploy handles a deploy of a brand new instance, and the
// deploy leg of migrate and port sagas.
func (o *Orchestrator) submitDeploy(ctx context.Context, req *SubmitRequest) (*stores.Order, error) {
	return o.provision(ctx, stores.OrderKindDeploy, req, nil)
}

// provision creates a new instance and its provisioning order. kind is
// deploy for plain deployments, migrate or port for saga legs.
func (o *Orchestrator) provision(ctx context.Context, kind stores.OrderKind, req *SubmitRequest, saga *string) (*stores.Order, error) {
	tmpl, ok := o.catalog.Get(req.TemplateName, req.TemplateVersion)
	if !ok {
		return nil, reject(CodeTemplateNotFound, "template %s not registered", catalog.Key(req.TemplateName, req.TemplateVersion))
	}

	plugin, err := o.plugins.Resolve(tmpl.Csp)
	if err != nil {
		return nil, rejectWrap(CodePluginNotFound, err, "no plugin for csp %s", tmpl.Csp)
	}

	if !tmpl.HasRegion(req.Region) {
		return nil, reject(CodeRegionNotFound, "template %s does not offer region %q", tmpl.Key(), req.Region)
	}
	if _, ok := tmpl.Flavor(req.Flavor); !ok {
		return nil, reject(CodeFlavorNotFound, "template %s has no flavor %q", tmpl.Key(), req.Flavor)
	}

	if err := catalog.ValidateParameters(tmpl, req.Parameters); err != nil {
		return nil, rejectWrap(CodeVariableValidation, err, "invalid deployment parameters")
	}

	if err := o.checkPolicy(ctx, kind, req, tmpl); err != nil {
		return nil, err
	}

	cred, err := o.resolveCredential(ctx, plugin, req.Principal)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	serviceID := uuid.New().String()

	instance := &stores.ServiceInstance{
		ID:              serviceID,
		Name:            req.Name,
		Csp:             tmpl.Csp,
		Region:          req.Region,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		Flavor:          req.Flavor,
		State:           stores.StateDeploying,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := o.store.CreateServiceInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	// A fresh instance cannot be contended, but acquiring keeps the
	// invariant that every in-flight order holds its instance lock.
	o.locks.TryAcquire(serviceID, orderID)

	order, err := o.createOrder(ctx, orderID, kind, serviceID, tmpl, req, saga)
	if err != nil {
		o.locks.Release(serviceID, orderID)
		return nil, err
	}

	go o.dispatch(order, tmpl, cred, req.Parameters)
	return order, nil
}

// submitExisting handles every kind that targets an existing instance,
// including a deploy retry after deploy_failed.
func (o *Orchestrator) submitExisting(ctx context.Context, kind stores.OrderKind, req *SubmitRequest) (*stores.Order, error) {
	if req.ServiceID == "" {
		return nil, reject(CodeInvalidRequest, "%s requires a service id", kind)
	}

	instance, err := o.store.GetServiceInstance(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, reject(CodeServiceNotFound, "service %s not found", req.ServiceID)
		}
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	// The lock rules before the state machine does: an instance with an
	// in-flight order sits in a transitional state, and the caller
	// should see the contention, not a state complaint.
	if holder, held := o.locks.Holder(instance.ID); held {
		return nil, reject(CodeServiceLocked, "service %s is locked by order %s", instance.ID, holder)
	}

	if kind == stores.OrderKindDeploy {
		// Retrying a failed deployment is the only deploy against an
		// existing instance.
		if instance.State != stores.StateDeployFailed {
			return nil, reject(CodeInvalidServiceState, "service %s is %s, redeploy requires deploy_failed", instance.ID, instance.State)
		}
	} else if !kindAllowed(kind, instance.State) {
		return nil, reject(CodeInvalidServiceState, "service %s is %s, %s not allowed", instance.ID, instance.State, kind)
	}

	tmpl, ok := o.catalog.Get(instance.TemplateName, instance.TemplateVersion)
	if !ok {
		return nil, reject(CodeTemplateNotFound, "template %s no longer registered", catalog.Key(instance.TemplateName, instance.TemplateVersion))
	}

	// Fill defaults from the instance so the order record is complete.
	if req.Region == "" || kind != stores.OrderKindMigrate {
		req.Region = instance.Region
	}
	if req.Flavor == "" {
		req.Flavor = instance.Flavor
	} else if _, ok := tmpl.Flavor(req.Flavor); !ok {
		return nil, reject(CodeFlavorNotFound, "template %s has no flavor %q", tmpl.Key(), req.Flavor)
	}

	if kind == stores.OrderKindModify || kind == stores.OrderKindDeploy {
		if err := catalog.ValidateParameters(tmpl, req.Parameters); err != nil {
			return nil, rejectWrap(CodeVariableValidation, err, "invalid deployment parameters")
		}
	}

	if err := o.checkPolicy(ctx, kind, req, tmpl); err != nil {
		return nil, err
	}

	switch kind {
	case stores.OrderKindMigrate, stores.OrderKindPort:
		return o.startSaga(ctx, kind, req, instance, tmpl)
	case stores.OrderKindPurge:
		return o.purge(ctx, req, instance, tmpl)
	}

	plugin, err := o.plugins.Resolve(tmpl.Csp)
	if err != nil {
		return nil, rejectWrap(CodePluginNotFound, err, "no plugin for csp %s", tmpl.Csp)
	}
	cred, err := o.resolveCredential(ctx, plugin, req.Principal)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	if ok, holder := o.locks.TryAcquire(instance.ID, orderID); !ok {
		return nil, reject(CodeServiceLocked, "service %s is locked by order %s", instance.ID, holder)
	}

	var saga *string
	if req.sagaID != "" {
		saga = &req.sagaID
	}

	order, err := o.createOrder(ctx, orderID, kind, instance.ID, tmpl, req, saga)
	if err != nil {
		o.locks.Release(instance.ID, orderID)
		return nil, err
	}

	if err := o.store.UpdateServiceInstanceState(ctx, instance.ID, transitionalState(kind), nil); err != nil {
		o.logger.Error().Err(err).Str("service_id", instance.ID).Msg("Failed to set transitional state")
	}

	go o.dispatch(order, tmpl, cred, req.Parameters)
	return order, nil
}

// startSaga begins a migrate or port: the first leg provisions the
// replacement instance, the coordinator destroys the original when
// that leg succeeds.
func (o *Orchestrator) startSaga(ctx context.Context, kind stores.OrderKind, req *SubmitRequest, instance *stores.ServiceInstance, tmpl *catalog.Template) (*stores.Order, error) {
	if kind == stores.OrderKindMigrate && !tmpl.HasRegion(req.Region) {
		return nil, reject(CodeRegionNotFound, "template %s does not offer region %q", tmpl.Key(), req.Region)
	}

	sagaID := uuid.New().String()

	legReq := &SubmitRequest{
		Kind:            string(kind),
		Name:            instance.Name,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		Region:          req.Region,
		Flavor:          req.Flavor,
		Principal:       req.Principal,
		Parameters:      req.Parameters,
	}

	if coord, ok := o.notifier.(*workflow.Coordinator); ok {
		coord.Begin(sagaID, workflow.FollowUp{
			ServiceID: instance.ID,
			Kind:      stores.OrderKindDestroy,
			Principal: req.Principal,
		})
	}

	order, err := o.provision(ctx, kind, legReq, &sagaID)
	if err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("saga_id", sagaID).
		Str("order_id", order.ID).
		Str("old_service_id", instance.ID).
		Str("kind", string(kind)).
		Msg("Saga first leg submitted")

	return order, nil
}

// SubmitFollowUp is the workflow coordinator's entry point for saga
// second legs.
func (o *Orchestrator) SubmitFollowUp(ctx context.Context, followUp workflow.FollowUp, sagaID string) (string, error) {
	order, err := o.Submit(ctx, &SubmitRequest{
		Kind:      string(followUp.Kind),
		ServiceID: followUp.ServiceID,
		Principal: followUp.Principal,
		sagaID:    sagaID,
	})
	if err != nil {
		return "", err
	}
	return order.ID, nil
}

// purge removes a terminal instance and its history link. The order is
// recorded and completed synchronously; no deployer is involved.
func (o *Orchestrator) purge(ctx context.Context, req *SubmitRequest, instance *stores.ServiceInstance, tmpl *catalog.Template) (*stores.Order, error) {
	orderID := uuid.New().String()
	if ok, holder := o.locks.TryAcquire(instance.ID, orderID); !ok {
		return nil, reject(CodeServiceLocked, "service %s is locked by order %s", instance.ID, holder)
	}
	defer o.locks.Release(instance.ID, orderID)

	order, err := o.createOrder(ctx, orderID, stores.OrderKindPurge, instance.ID, tmpl, req, nil)
	if err != nil {
		return nil, err
	}

	if err := o.store.DeleteServiceInstance(ctx, instance.ID); err != nil {
		detail := fmt.Sprintf("failed to remove instance: %v", err)
		_, _ = o.store.AdvanceOrderPhase(ctx, order.ID, []stores.OrderPhase{stores.OrderPhasePending}, stores.OrderPhaseFailed, &detail)
		return nil, fmt.Errorf("failed to purge instance: %w", err)
	}

	if _, err := o.store.AdvanceOrderPhase(ctx, order.ID, []stores.OrderPhase{stores.OrderPhasePending}, stores.OrderPhaseSucceeded, nil); err != nil {
		return nil, err
	}
	order.Phase = stores.OrderPhaseSucceeded

	// Deployers with per-instance workspaces clean them up too.
	if d, err := o.deployers.Resolve(tmpl.Deployer.Kind); err == nil {
		if purger, ok := d.(deployers.Purger); ok {
			if err := purger.Purge(instance.ID); err != nil {
				o.logger.Error().Err(err).Str("service_id", instance.ID).Msg("Failed to purge deployer workspace")
			}
		}
	}

	o.audit(ctx, order, "purged")
	o.tel.Metrics.RecordOrderCompleted(string(order.Kind), "succeeded", time.Since(order.CreatedAt))
	o.logger.Info().
		Str("order_id", order.ID).
		Str("service_id", instance.ID).
		Msg("Instance purged")

	return order, nil
}

// checkPolicy evaluates the request against the policy engine.
func (o *Orchestrator) checkPolicy(ctx context.Context, kind stores.OrderKind, req *SubmitRequest, tmpl *catalog.Template) error {
	result, err := o.policy.Evaluate(ctx, &policy.Request{
		Kind:            string(kind),
		Csp:             tmpl.Csp,
		Region:          req.Region,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		Flavor:          req.Flavor,
		ServiceID:       req.ServiceID,
		Variables:       catalog.MaskSensitive(tmpl, req.Parameters),
	})
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, w := range result.Warnings {
		o.logger.Warn().
			Str("policy", w.Policy).
			Str("kind", string(kind)).
			Msg(w.Message)
	}

	if !result.Allowed {
		return reject(CodePolicyDenied, "%s", result.Deny())
	}
	return nil
}

// resolveCredential fetches a usable credential for the order.
func (o *Orchestrator) resolveCredential(ctx context.Context, plugin plugins.Plugin, principal string) (*credentials.Credential, error) {
	kinds := plugin.CredentialKinds()
	if len(kinds) == 0 {
		return nil, reject(CodeCredentialsNotFound, "plugin %s accepts no credential kinds", plugin.Csp())
	}

	cred, err := o.credentials.Get(ctx, credentials.Key{
		Csp:       plugin.Csp(),
		Principal: principal,
		Kind:      kinds[0],
	})
	if err != nil {
		if errors.Is(err, credentials.ErrIncomplete) {
			return nil, rejectWrap(CodeCredentialIncomplete, err, "credential for %s is incomplete", principal)
		}
		return nil, rejectWrap(CodeCredentialsNotFound, err, "no credential for %s on %s", principal, plugin.Csp())
	}
	return cred, nil
}

// createOrder persists the order in phase pending with sensitive
// parameter values masked.
func (o *Orchestrator) createOrder(ctx context.Context, orderID string, kind stores.OrderKind, serviceID string, tmpl *catalog.Template, req *SubmitRequest, saga *string) (*stores.Order, error) {
	masked, err := json.Marshal(catalog.MaskSensitive(tmpl, req.Parameters))
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	order := &stores.Order{
		ID:              orderID,
		Kind:            kind,
		ServiceID:       &serviceID,
		Csp:             tmpl.Csp,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		Flavor:          req.Flavor,
		Region:          req.Region,
		CorrelationID:   uuid.New().String(),
		Phase:           stores.OrderPhasePending,
		Parameters:      string(masked),
		SagaID:          saga,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	if err := o.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	o.logger.Info().
		Str("order_id", order.ID).
		Str("kind", string(kind)).
		Str("service_id", serviceID).
		Str("correlation_id", order.CorrelationID).
		Msg("Order accepted")

	return order, nil
}

// dispatch hands an accepted order to its deployer. Runs in the
// background; every outcome lands in the ledger through applyResult.
// params are the caller's unmasked values: the ledger only ever holds
// the masked copy, so they ride along in memory.
func (o *Orchestrator) dispatch(order *stores.Order, tmpl *catalog.Template, cred *credentials.Credential, params map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.OrderTimeout)
	defer cancel()

	ctx, span := o.tel.Tracer.StartOrderSpan(ctx, "dispatch", order.ID, string(order.Kind))
	defer span.End()

	if _, err := o.store.AdvanceOrderPhase(ctx, order.ID,
		[]stores.OrderPhase{stores.OrderPhasePending}, stores.OrderPhaseDispatched, nil); err != nil {
		o.logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to mark order dispatched")
		return
	}

	deployer, err := o.deployers.Resolve(tmpl.Deployer.Kind)
	if err != nil {
		o.finalize(ctx, order, false, fmt.Sprintf("no deployer for kind %s", tmpl.Deployer.Kind), nil)
		return
	}

	vars, env := catalog.BuildVariables(tmpl, params)
	for k, v := range cred.Env() {
		env[k] = v
	}

	dispatch, err := deployer.Execute(ctx, &deployers.Request{
		OrderID:       order.ID,
		CorrelationID: order.CorrelationID,
		ServiceID:     derefServiceID(order),
		Operation:     deployers.Operation(deployerOperation(order.Kind)),
		Script:        tmpl.Deployer.Script,
		ToolVersion:   tmpl.Deployer.Version,
		Variables:     vars,
		Env:           env,
		CallbackURL:   fmt.Sprintf("%s/webhooks/deployer/%s", o.cfg.CallbackBaseURL, order.CorrelationID),
	})
	if err != nil {
		// Transport failure: the work never reached the executor and
		// no callback will come.
		telemetry.RecordError(span, err)
		o.finalize(ctx, order, false, err.Error(), nil)
		return
	}

	if dispatch.Async {
		if _, err := o.store.AdvanceOrderPhase(ctx, order.ID,
			[]stores.OrderPhase{stores.OrderPhaseDispatched}, stores.OrderPhaseAwaitingCallback, nil); err != nil {
			o.logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to mark order awaiting callback")
		}
		return
	}

	result := dispatch.Result
	o.finalize(ctx, order, result.Succeeded, result.Message, []byte(result.Resources))
}

// finalize applies a result produced inside the dispatch path, where
// there is no caller left to report errors to.
func (o *Orchestrator) finalize(ctx context.Context, order *stores.Order, succeeded bool, message string, resources json.RawMessage) {
	if _, err := o.applyResult(ctx, order, succeeded, message, resources); err != nil {
		o.logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to finalize order")
	}
}

// HandleCallback applies an asynchronous deployer result. Callbacks
// are idempotent: the first terminal write wins, and duplicates,
// post-terminal deliveries, and unmatched correlation ids are
// acknowledged without effect so the webhook transport can redeliver
// freely.
func (o *Orchestrator) HandleCallback(ctx context.Context, correlationID string, result *CallbackResult) error {
	order, err := o.store.GetOrderByCorrelationID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			o.tel.Metrics.RecordCallback("unknown")
			o.logger.Warn().
				Str("correlation_id", correlationID).
				Msg("Callback for unknown correlation id ignored")
			return nil
		}
		return err
	}

	applied, err := o.applyResult(ctx, order, result.Succeeded, result.Message, result.Resources)
	if err != nil {
		return err
	}

	if applied {
		o.tel.Metrics.RecordCallback("applied")
	} else {
		o.tel.Metrics.RecordCallback("duplicate")
		o.logger.Debug().
			Str("order_id", order.ID).
			Str("correlation_id", correlationID).
			Msg("Duplicate callback ignored")
	}
	return nil
}

// applyResult moves an order to its terminal phase and updates the
// instance accordingly. Returns false when the order was already
// terminal.
func (o *Orchestrator) applyResult(ctx context.Context, order *stores.Order, succeeded bool, message string, resources json.RawMessage) (bool, error) {
	to := stores.OrderPhaseFailed
	var detail *string
	if succeeded {
		to = stores.OrderPhaseSucceeded
	} else if message != "" {
		detail = &message
	}

	applied, err := o.store.AdvanceOrderPhase(ctx, order.ID,
		[]stores.OrderPhase{stores.OrderPhasePending, stores.OrderPhaseDispatched, stores.OrderPhaseAwaitingCallback},
		to, detail)
	if err != nil {
		return false, fmt.Errorf("failed to complete order: %w", err)
	}
	if !applied {
		return false, nil
	}

	serviceID := derefServiceID(order)
	if serviceID != "" {
		state := failureState(order.Kind)
		var res *string
		if succeeded {
			state = successState(order.Kind)
			if len(resources) > 0 {
				s := string(resources)
				res = &s
			}
		}
		if err := o.store.UpdateServiceInstanceState(ctx, serviceID, state, res); err != nil {
			o.logger.Error().Err(err).
				Str("order_id", order.ID).
				Str("service_id", serviceID).
				Msg("Failed to update instance state")
		}
		o.locks.Release(serviceID, order.ID)
	}

	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	o.tel.Metrics.RecordOrderCompleted(string(order.Kind), outcome, time.Since(order.CreatedAt))
	o.audit(ctx, order, outcome)

	o.logger.Info().
		Str("order_id", order.ID).
		Str("kind", string(order.Kind)).
		Str("outcome", outcome).
		Msg("Order completed")

	if order.SagaID != nil {
		legOutcome := workflow.LegFailed
		if succeeded {
			legOutcome = workflow.LegSucceeded
		}
		o.notifier.LegCompleted(ctx, workflow.Leg{
			SagaID:    *order.SagaID,
			OrderID:   order.ID,
			ServiceID: serviceID,
			Kind:      order.Kind,
			Outcome:   legOutcome,
		})
	}

	return true, nil
}

// audit records the completed action in the ledger and forwards it to
// the CSP plugin's audit sink.
func (o *Orchestrator) audit(ctx context.Context, order *stores.Order, outcome string) {
	entry := &stores.AuditEntry{
		Csp:       order.Csp,
		Action:    fmt.Sprintf("%s.%s", order.Kind, outcome),
		OrderID:   &order.ID,
		ServiceID: order.ServiceID,
		Timestamp: time.Now().UTC(),
	}
	if err := o.store.CreateAuditEntry(ctx, entry); err != nil {
		o.logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to write audit entry")
	}

	if plugin, err := o.plugins.Resolve(order.Csp); err == nil {
		plugin.AuditLog(plugins.AuditRecord{
			OrderID:   order.ID,
			ServiceID: derefServiceID(order),
			Kind:      string(order.Kind),
			Outcome:   outcome,
			Region:    order.Region,
			Flavor:    order.Flavor,
			Timestamp: time.Now().UTC(),
		})
	}
}

// QueryOrder returns an order by id.
func (o *Orchestrator) QueryOrder(ctx context.Context, id string) (*stores.Order, error) {
	return o.store.GetOrder(ctx, id)
}

// ListOrders returns orders matching the filter.
func (o *Orchestrator) ListOrders(ctx context.Context, filter stores.OrderFilter, limit, offset int) ([]*stores.Order, error) {
	return o.store.ListOrders(ctx, filter, limit, offset)
}

// GetInstance returns a service instance by id.
func (o *Orchestrator) GetInstance(ctx context.Context, id string) (*stores.ServiceInstance, error) {
	return o.store.GetServiceInstance(ctx, id)
}

// ListInstances returns service instances matching the filter.
func (o *Orchestrator) ListInstances(ctx context.Context, filter stores.InstanceFilter, limit, offset int) ([]*stores.ServiceInstance, error) {
	return o.store.ListServiceInstances(ctx, filter, limit, offset)
}

func derefServiceID(order *stores.Order) string {
	if order.ServiceID == nil {
		return ""
	}
	return *order.ServiceID
}
