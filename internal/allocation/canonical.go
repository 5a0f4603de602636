package allocation

import (
	"context"
	"strings"

	"studioledger/backend/internal/domain"
)

// InventoryKey is the project token used in canonical ids for transactions
// that belong to the business-inventory pool rather than a client project.
const InventoryKey = "inventory"

// CanonicalID derives the deterministic transaction id for a
// (direction, project) pair, e.g. "PURCHASE:proj-riverhouse" or
// "SALE:inventory". Repeated allocations against the same pair upsert into
// one record instead of creating duplicates.
func CanonicalID(direction domain.Direction, projectID string) string {
	key := projectID
	if key == "" {
		key = InventoryKey
	}
	return strings.ToUpper(string(direction)) + ":" + key
}

// resolveCanonical returns the canonical transaction for the pair, creating
// it if absent. The store upsert serializes concurrent callers on the
// deterministic id, so two simultaneous allocations cannot each create one.
func (e *Engine) resolveCanonical(ctx context.Context, direction domain.Direction, projectID string) (*domain.Transaction, error) {
	reimbursement := domain.ClientOwesBusiness
	if direction == domain.DirectionSale {
		reimbursement = domain.BusinessOwesClient
	}
	return e.txns.UpsertTransaction(ctx, CanonicalID(direction, projectID), domain.Transaction{
		ProjectID:         projectID,
		Direction:         direction,
		Status:            domain.TxStatusPending,
		ReimbursementType: reimbursement,
		Canonical:         true,
	})
}
