package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func testOrder(id, correlationID string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:              id,
		Kind:            OrderKindDeploy,
		Csp:             "devcloud",
		TemplateName:    "kafka",
		TemplateVersion: "1.0.0",
		Flavor:          "basic",
		Region:          "eu-west-1",
		CorrelationID:   correlationID,
		Phase:           OrderPhasePending,
		Parameters:      `{"vpc_name":"vpc-1"}`,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func testInstance(id string) *ServiceInstance {
	now := time.Now().UTC()
	return &ServiceInstance{
		ID:              id,
		Name:            "my-kafka",
		Csp:             "devcloud",
		Region:          "eu-west-1",
		TemplateName:    "kafka",
		TemplateVersion: "1.0.0",
		Flavor:          "basic",
		State:           StateDeploying,
		Resources:       "[]",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tables := []string{"orders", "service_instances", "audit"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestOrderCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	order := testOrder("order-1", "corr-1")

	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	got, err := store.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("failed to get order: %v", err)
	}
	if got.Kind != OrderKindDeploy {
		t.Errorf("expected kind %s, got %s", OrderKindDeploy, got.Kind)
	}
	if got.Phase != OrderPhasePending {
		t.Errorf("expected phase %s, got %s", OrderPhasePending, got.Phase)
	}

	byCorr, err := store.GetOrderByCorrelationID(ctx, "corr-1")
	if err != nil {
		t.Fatalf("failed to get order by correlation id: %v", err)
	}
	if byCorr.ID != "order-1" {
		t.Errorf("expected order-1, got %s", byCorr.ID)
	}

	if _, err := store.GetOrder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAdvanceOrderPhase(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	order := testOrder("order-1", "corr-1")
	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	applied, err := store.AdvanceOrderPhase(ctx, "order-1",
		[]OrderPhase{OrderPhasePending}, OrderPhaseDispatched, nil)
	if err != nil {
		t.Fatalf("failed to advance phase: %v", err)
	}
	if !applied {
		t.Fatal("expected pending -> dispatched to apply")
	}

	applied, err = store.AdvanceOrderPhase(ctx, "order-1",
		[]OrderPhase{OrderPhaseDispatched}, OrderPhaseAwaitingCallback, nil)
	if err != nil {
		t.Fatalf("failed to advance phase: %v", err)
	}
	if !applied {
		t.Fatal("expected dispatched -> awaiting_callback to apply")
	}

	errDetail := "terraform apply failed"
	applied, err = store.AdvanceOrderPhase(ctx, "order-1",
		[]OrderPhase{OrderPhaseAwaitingCallback}, OrderPhaseFailed, &errDetail)
	if err != nil {
		t.Fatalf("failed to advance phase: %v", err)
	}
	if !applied {
		t.Fatal("expected awaiting_callback -> failed to apply")
	}

	// A terminal phase is immutable; a second terminal write must not apply.
	applied, err = store.AdvanceOrderPhase(ctx, "order-1",
		[]OrderPhase{OrderPhaseAwaitingCallback}, OrderPhaseSucceeded, nil)
	if err != nil {
		t.Fatalf("unexpected error on duplicate terminal write: %v", err)
	}
	if applied {
		t.Fatal("expected duplicate terminal write to be a no-op")
	}

	got, err := store.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("failed to get order: %v", err)
	}
	if got.Phase != OrderPhaseFailed {
		t.Errorf("expected phase %s, got %s", OrderPhaseFailed, got.Phase)
	}
	if got.Error == nil || *got.Error != errDetail {
		t.Errorf("expected error detail %q, got %v", errDetail, got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set on terminal phase")
	}
}

func TestListStuckOrders(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	stale := testOrder("order-stale", "corr-stale")
	stale.Phase = OrderPhaseAwaitingCallback
	stale.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	if err := store.CreateOrder(ctx, stale); err != nil {
		t.Fatalf("failed to create stale order: %v", err)
	}

	fresh := testOrder("order-fresh", "corr-fresh")
	fresh.Phase = OrderPhaseAwaitingCallback
	if err := store.CreateOrder(ctx, fresh); err != nil {
		t.Fatalf("failed to create fresh order: %v", err)
	}

	stuck, err := store.ListStuckOrders(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to list stuck orders: %v", err)
	}
	if len(stuck) != 1 {
		t.Fatalf("expected 1 stuck order, got %d", len(stuck))
	}
	if stuck[0].ID != "order-stale" {
		t.Errorf("expected order-stale, got %s", stuck[0].ID)
	}
}

func TestServiceInstanceCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	instance := testInstance("svc-1")

	if err := store.CreateServiceInstance(ctx, instance); err != nil {
		t.Fatalf("failed to create service instance: %v", err)
	}

	resources := `[{"id":"vm-1","type":"huaweicloud_compute_instance"}]`
	if err := store.UpdateServiceInstanceState(ctx, "svc-1", StateDeployed, &resources); err != nil {
		t.Fatalf("failed to update service instance: %v", err)
	}

	got, err := store.GetServiceInstance(ctx, "svc-1")
	if err != nil {
		t.Fatalf("failed to get service instance: %v", err)
	}
	if got.State != StateDeployed {
		t.Errorf("expected state %s, got %s", StateDeployed, got.State)
	}
	if got.Resources != resources {
		t.Errorf("expected resources %s, got %s", resources, got.Resources)
	}

	// State-only update keeps the resource list.
	if err := store.UpdateServiceInstanceState(ctx, "svc-1", StateDestroying, nil); err != nil {
		t.Fatalf("failed to update state only: %v", err)
	}
	got, err = store.GetServiceInstance(ctx, "svc-1")
	if err != nil {
		t.Fatalf("failed to get service instance: %v", err)
	}
	if got.Resources != resources {
		t.Errorf("state-only update should keep resources, got %s", got.Resources)
	}

	if err := store.DeleteServiceInstance(ctx, "svc-1"); err != nil {
		t.Fatalf("failed to delete service instance: %v", err)
	}
	if _, err := store.GetServiceInstance(ctx, "svc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListServiceInstancesFilter(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	a := testInstance("svc-a")
	b := testInstance("svc-b")
	b.Csp = "openstack"
	b.State = StateDeployed

	for _, inst := range []*ServiceInstance{a, b} {
		if err := store.CreateServiceInstance(ctx, inst); err != nil {
			t.Fatalf("failed to create instance %s: %v", inst.ID, err)
		}
	}

	all, err := store.ListServiceInstances(ctx, InstanceFilter{}, 100, 0)
	if err != nil {
		t.Fatalf("failed to list instances: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(all))
	}

	byCsp, err := store.ListServiceInstances(ctx, InstanceFilter{Csp: "openstack"}, 100, 0)
	if err != nil {
		t.Fatalf("failed to list instances by csp: %v", err)
	}
	if len(byCsp) != 1 || byCsp[0].ID != "svc-b" {
		t.Fatalf("expected only svc-b for csp openstack, got %d results", len(byCsp))
	}

	byState, err := store.ListServiceInstances(ctx, InstanceFilter{State: StateDeployed}, 100, 0)
	if err != nil {
		t.Fatalf("failed to list instances by state: %v", err)
	}
	if len(byState) != 1 || byState[0].ID != "svc-b" {
		t.Fatalf("expected only svc-b in state deployed, got %d results", len(byState))
	}
}

func TestAuditEntries(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	orderID := "order-1"
	entry := &AuditEntry{
		Csp:       "devcloud",
		Action:    "deploy.dispatched",
		OrderID:   &orderID,
		Timestamp: time.Now().UTC(),
	}

	if err := store.CreateAuditEntry(ctx, entry); err != nil {
		t.Fatalf("failed to create audit entry: %v", err)
	}
	if entry.ID == 0 {
		t.Error("expected audit entry ID to be assigned")
	}

	entries, err := store.ListAuditEntries(ctx, "devcloud", "", 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Action != "deploy.dispatched" {
		t.Errorf("expected action deploy.dispatched, got %s", entries[0].Action)
	}
}
