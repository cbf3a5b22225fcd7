package orchestrator

import (
	"sync"

	"github.com/openstratus/stratus/pkg/telemetry"
)

// LockManager serializes lifecycle operations per service instance.
// Acquisition is try-only: a second order against a locked instance is
// rejected immediately instead of queueing. Locks are in-memory; the
// order ledger is the durable record, and the recovery sweep rebuilds
// holders from in-flight orders after a restart.
type LockManager struct {
	mu      sync.Mutex
	holders map[string]string
	metrics *telemetry.Metrics
}

// NewLockManager creates an empty lock manager.
func NewLockManager(metrics *telemetry.Metrics) *LockManager {
	return &LockManager{
		holders: make(map[string]string),
		metrics: metrics,
	}
}

// TryAcquire locks serviceID for orderID. It reports false, with the
// current holder, when another order already owns the lock. Acquiring
// a lock already held by the same order is a no-op.
func (lm *LockManager) TryAcquire(serviceID, orderID string) (bool, string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if holder, ok := lm.holders[serviceID]; ok {
		if holder == orderID {
			return true, orderID
		}
		return false, holder
	}

	lm.holders[serviceID] = orderID
	lm.metrics.RecordLockAcquired()
	return true, orderID
}

// Release unlocks serviceID if orderID holds it. A release by a
// non-holder is ignored so a late duplicate callback cannot free a
// lock owned by a newer order.
func (lm *LockManager) Release(serviceID, orderID string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.holders[serviceID] != orderID {
		return false
	}

	delete(lm.holders, serviceID)
	lm.metrics.RecordLockReleased()
	return true
}

// Holder returns the order currently locking serviceID.
func (lm *LockManager) Holder(serviceID string) (string, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	holder, ok := lm.holders[serviceID]
	return holder, ok
}

// Held returns the number of held locks.
func (lm *LockManager) Held() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.holders)
}
