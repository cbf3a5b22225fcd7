package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// Recover rebuilds in-memory state from the ledger after a restart:
// every in-flight order re-acquires its instance lock so no competing
// order can slip in before the stuck-order sweep rules on it.
func (o *Orchestrator) Recover(ctx context.Context) error {
	orders, err := o.store.ListInFlightOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list in-flight orders: %w", err)
	}

	restored := 0
	for _, order := range orders {
		serviceID := derefServiceID(order)
		if serviceID == "" {
			continue
		}
		if ok, holder := o.locks.TryAcquire(serviceID, order.ID); !ok {
			// Two in-flight orders for one instance means the ledger
			// was corrupted before the crash. Keep the older lock.
			o.logger.Error().
				Str("order_id", order.ID).
				Str("service_id", serviceID).
				Str("holder", holder).
				Msg("Conflicting in-flight orders for instance")
			continue
		}
		restored++
	}

	o.logger.Info().
		Int("in_flight", len(orders)).
		Int("locks_restored", restored).
		Msg("Recovery completed")
	return nil
}

// SweepStuckOrders fails every order that has been in flight longer
// than the order timeout. The failure goes through the normal result
// path, so instance states, locks, audit, and saga notifications all
// follow. A callback racing the sweep loses or wins atomically in the
// ledger, never both.
func (o *Orchestrator) SweepStuckOrders(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-o.cfg.OrderTimeout)
	orders, err := o.store.ListStuckOrders(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck orders: %w", err)
	}

	swept := 0
	for _, order := range orders {
		msg := fmt.Sprintf("no deployer result within %s", o.cfg.OrderTimeout)
		applied, err := o.applyResult(ctx, order, false, msg, nil)
		if err != nil {
			o.logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to fail stuck order")
			continue
		}
		if applied {
			swept++
			o.logger.Warn().
				Str("order_id", order.ID).
				Str("kind", string(order.Kind)).
				Msg("Stuck order failed by recovery sweep")
		}
	}

	return swept, nil
}

// StartRecovery runs Recover once, then sweeps stuck orders
// periodically until ctx is cancelled.
func (o *Orchestrator) StartRecovery(ctx context.Context) error {
	if err := o.Recover(ctx); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(o.cfg.RecoveryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := o.SweepStuckOrders(ctx); err != nil {
					o.logger.Error().Err(err).Msg("Stuck order sweep failed")
				}
			}
		}
	}()
	return nil
}
