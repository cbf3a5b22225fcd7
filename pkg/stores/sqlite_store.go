package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the order ledger and service instance table on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// CreateOrder creates a new order record.
func (s *SQLiteStore) CreateOrder(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO orders (
			id, kind, service_id, csp, template_name, template_version, flavor, region,
			correlation_id, phase, parameters, error, saga_id, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		order.ID,
		order.Kind,
		order.ServiceID,
		order.Csp,
		order.TemplateName,
		order.TemplateVersion,
		order.Flavor,
		order.Region,
		order.CorrelationID,
		order.Phase,
		order.Parameters,
		order.Error,
		order.SagaID,
		order.CreatedAt,
		order.UpdatedAt,
		order.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

const orderColumns = `id, kind, service_id, csp, template_name, template_version, flavor, region,
	correlation_id, phase, parameters, error, saga_id, created_at, updated_at, completed_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*Order, error) {
	order := &Order{}
	err := row.Scan(
		&order.ID,
		&order.Kind,
		&order.ServiceID,
		&order.Csp,
		&order.TemplateName,
		&order.TemplateVersion,
		&order.Flavor,
		&order.Region,
		&order.CorrelationID,
		&order.Phase,
		&order.Parameters,
		&order.Error,
		&order.SagaID,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder retrieves an order by ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return order, nil
}

// GetOrderByCorrelationID retrieves an order by its correlation id.
func (s *SQLiteStore) GetOrderByCorrelationID(ctx context.Context, correlationID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE correlation_id = ?`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order with correlation id %s: %w", correlationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by correlation id: %w", err)
	}

	return order, nil
}

// AdvanceOrderPhase moves an order from one of the given phases to the next
// phase, optionally recording an error detail and stamping completion for
// terminal phases. It returns false without error when the order is not in
// any of the expected phases, which makes terminal writes first-wins and
// callback redelivery a no-op.
func (s *SQLiteStore) AdvanceOrderPhase(ctx context.Context, id string, from []OrderPhase, to OrderPhase, errDetail *string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no source phases given")
	}

	placeholders := strings.Repeat("?,", len(from))
	placeholders = placeholders[:len(placeholders)-1]

	var completedAt *time.Time
	if to.IsTerminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	query := `
		UPDATE orders
		SET phase = ?, error = COALESCE(?, error), completed_at = COALESCE(?, completed_at), updated_at = ?
		WHERE id = ? AND phase IN (` + placeholders + `)
	`

	args := []interface{}{to, errDetail, completedAt, time.Now().UTC(), id}
	for _, p := range from {
		args = append(args, p)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to advance order phase: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListOrders lists orders matching the filter, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, filter OrderFilter, limit, offset int) ([]*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE (? = '' OR service_id = ?)
		  AND (? = '' OR kind = ?)
		  AND (? = '' OR phase = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.ServiceID, filter.ServiceID,
		string(filter.Kind), string(filter.Kind),
		string(filter.Phase), string(filter.Phase),
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// ListStuckOrders returns orders still awaiting a callback whose last
// update is older than the cutoff. Used by the recovery sweep.
func (s *SQLiteStore) ListStuckOrders(ctx context.Context, cutoff time.Time) ([]*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE phase = ? AND updated_at <= ?
		ORDER BY updated_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, OrderPhaseAwaitingCallback, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck orders: %w", err)
	}
	defer rows.Close()

	orders := []*Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stuck orders: %w", err)
	}

	return orders, nil
}

// ListInFlightOrders returns all orders in a non-terminal, dispatched
// phase. Used at startup to rebuild the lock table.
func (s *SQLiteStore) ListInFlightOrders(ctx context.Context) ([]*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE phase IN (?, ?)
	`

	rows, err := s.db.QueryContext(ctx, query, OrderPhaseDispatched, OrderPhaseAwaitingCallback)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight orders: %w", err)
	}
	defer rows.Close()

	orders := []*Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating in-flight orders: %w", err)
	}

	return orders, nil
}

// CreateServiceInstance creates a new service instance record.
func (s *SQLiteStore) CreateServiceInstance(ctx context.Context, instance *ServiceInstance) error {
	query := `
		INSERT INTO service_instances (
			id, name, csp, region, template_name, template_version, flavor, state, resources, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		instance.ID,
		instance.Name,
		instance.Csp,
		instance.Region,
		instance.TemplateName,
		instance.TemplateVersion,
		instance.Flavor,
		instance.State,
		instance.Resources,
		instance.CreatedAt,
		instance.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create service instance: %w", err)
	}

	return nil
}

const instanceColumns = `id, name, csp, region, template_name, template_version, flavor, state, resources, created_at, updated_at`

func scanInstance(row interface{ Scan(...interface{}) error }) (*ServiceInstance, error) {
	instance := &ServiceInstance{}
	err := row.Scan(
		&instance.ID,
		&instance.Name,
		&instance.Csp,
		&instance.Region,
		&instance.TemplateName,
		&instance.TemplateVersion,
		&instance.Flavor,
		&instance.State,
		&instance.Resources,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// GetServiceInstance retrieves a service instance by ID.
func (s *SQLiteStore) GetServiceInstance(ctx context.Context, id string) (*ServiceInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM service_instances WHERE id = ?`

	instance, err := scanInstance(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("service instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service instance: %w", err)
	}

	return instance, nil
}

// UpdateServiceInstanceState updates the state of a service instance and,
// when resources is non-nil, replaces its resource list.
func (s *SQLiteStore) UpdateServiceInstanceState(ctx context.Context, id string, state DeploymentState, resources *string) error {
	query := `
		UPDATE service_instances
		SET state = ?, resources = COALESCE(?, resources), updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, state, resources, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update service instance state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("service instance %s: %w", id, ErrNotFound)
	}

	return nil
}

// DeleteServiceInstance physically removes a service instance. Only used
// by purge orders.
func (s *SQLiteStore) DeleteServiceInstance(ctx context.Context, id string) error {
	query := `DELETE FROM service_instances WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete service instance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("service instance %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListServiceInstances lists service instances matching the filter.
func (s *SQLiteStore) ListServiceInstances(ctx context.Context, filter InstanceFilter, limit, offset int) ([]*ServiceInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM service_instances
		WHERE (? = '' OR csp = ?)
		  AND (? = '' OR template_name = ?)
		  AND (? = '' OR state = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Csp, filter.Csp,
		filter.TemplateName, filter.TemplateName,
		string(filter.State), string(filter.State),
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list service instances: %w", err)
	}
	defer rows.Close()

	instances := []*ServiceInstance{}
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service instance: %w", err)
		}
		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating service instances: %w", err)
	}

	return instances, nil
}

// CreateAuditEntry creates a new audit log entry.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (csp, action, order_id, service_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Csp,
		entry.Action,
		entry.OrderID,
		entry.ServiceID,
		entry.Details,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, csp, action string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, csp, action, order_id, service_id, details, timestamp
		FROM audit
		WHERE (? = '' OR csp = ?)
		  AND (? = '' OR action = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, csp, csp, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Csp,
			&entry.Action,
			&entry.OrderID,
			&entry.ServiceID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
