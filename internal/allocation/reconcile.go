package allocation

import (
	"context"
	"errors"
	"fmt"
	"log"

	"studioledger/backend/internal/domain"
	"studioledger/backend/internal/money"
	"studioledger/backend/internal/store"
)

// Reconcile recomputes a transaction's subtotal, tax and amount from the
// items currently attributed to it. An empty item set closes the transaction:
// canonical records are cancelled and zeroed so their deterministic id stays
// reusable, non-canonical records are deleted. Returns the final record, or
// nil when the transaction was deleted.
func (e *Engine) Reconcile(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var result *domain.Transaction
	err := e.withRetry(ctx, "reconcile "+transactionID, func(ctx context.Context) error {
		final, err := e.reconcileOnce(ctx, transactionID)
		if err != nil {
			return err
		}
		result = final
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) reconcileOnce(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := e.txns.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Already gone; a retried mutation reconciles nothing.
			return nil, nil
		}
		return nil, err
	}

	items, err := e.items.ListItemsByTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		if !txn.Canonical {
			if err := e.txns.DeleteTransaction(ctx, txn.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			return nil, nil
		}
		cancelled := domain.TxStatusCancelled
		zero := money.Zero
		return e.txns.UpdateTransaction(ctx, txn.ID, txn.Version, domain.TransactionPatch{
			Status:   &cancelled,
			Subtotal: &zero,
			Tax:      &zero,
			Amount:   &zero,
		})
	}

	values := make([]string, 0, len(items))
	for _, item := range items {
		values = append(values, valuationOf(*txn, item))
	}
	subtotal, err := money.Sum(values...)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", txn.ID, err)
	}
	if neg, err := money.IsNegative(subtotal); err != nil {
		return nil, err
	} else if neg {
		log.Printf("[allocation] INVARIANT: transaction %s recomputed to negative subtotal %s", txn.ID, subtotal)
		return nil, fmt.Errorf("transaction %s amount would be negative: %w", txn.ID, ErrInvariant)
	}

	tax, amount, err := money.ApplyTax(subtotal, txn.TaxRate)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", txn.ID, err)
	}

	patch := domain.TransactionPatch{
		Subtotal: &subtotal,
		Tax:      &tax,
		Amount:   &amount,
	}
	if txn.Status == domain.TxStatusCancelled {
		// A cancelled canonical record gaining items again is back in play.
		pending := domain.TxStatusPending
		patch.Status = &pending
	}
	return e.txns.UpdateTransaction(ctx, txn.ID, txn.Version, patch)
}

// valuationOf picks the item field a transaction accounts with: Sale
// transactions carry the project price, Purchase transactions the purchase
// price. The one exception is the business-inventory buyback, where the
// business repurchases client-paid items at project price.
func valuationOf(txn domain.Transaction, item domain.Item) string {
	if txn.Direction == domain.DirectionSale {
		return item.ProjectPrice
	}
	if txn.ProjectID == "" && txn.ReimbursementType == domain.BusinessOwesClient {
		return item.ProjectPrice
	}
	return item.PurchasePrice
}
