package allocation

import (
	"context"
	"fmt"
	"time"

	"studioledger/backend/internal/domain"
	"studioledger/backend/internal/store"
)

// DeallocateItem sends a single item back to business inventory. It is the
// DeallocateItems batch of one.
func (e *Engine) DeallocateItem(ctx context.Context, itemID string) (*domain.AllocationResult, error) {
	batch, err := e.DeallocateItems(ctx, []string{itemID})
	if err != nil {
		return nil, err
	}
	result := &domain.AllocationResult{Transactions: batch.Transactions}
	if len(batch.Items) > 0 {
		result.Item = batch.Items[0]
	}
	return result, nil
}

// DeallocateItems returns a batch of items to business inventory in one user
// action. Items that were allocated out of inventory have their pending
// attribution unwound; client-paid items that originated inside a project are
// bundled into a single buyback Purchase on the business's own card; items
// the business already paid for just move. Each touched transaction is
// reconciled exactly once, after all membership changes.
func (e *Engine) DeallocateItems(ctx context.Context, itemIDs []string) (*domain.DeallocationResult, error) {
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("at least one item id required: %w", store.ErrInvalid)
	}

	var result *domain.DeallocationResult
	err := e.withRetry(ctx, fmt.Sprintf("deallocate %d items", len(itemIDs)), func(ctx context.Context) error {
		r, err := e.deallocateOnce(ctx, itemIDs)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type pendingMove struct {
	item    domain.Item
	fromID  string
	buyback bool
}

func (e *Engine) deallocateOnce(ctx context.Context, itemIDs []string) (*domain.DeallocationResult, error) {
	touched := make(map[string]struct{}, len(itemIDs)+1)
	order := make([]string, 0, len(itemIDs)+1)
	moves := make([]pendingMove, 0, len(itemIDs))
	finalItems := make([]domain.Item, 0, len(itemIDs))

	for _, itemID := range itemIDs {
		item, err := e.items.GetItem(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if item.Free() {
			// Already back in stock; a retried batch skips it.
			finalItems = append(finalItems, *item)
			continue
		}

		current, err := e.currentAttribution(ctx, *item)
		if err != nil {
			return nil, err
		}

		move := pendingMove{item: *item}
		if current != nil {
			move.fromID = current.ID
			// An item whose holding transaction is the Purchase that
			// allocated it out of inventory is just being unwound; no new
			// financial record. Anything else falls through to the payment
			// method branch.
			unwind := current.Direction == domain.DirectionPurchase &&
				current.ProjectID != "" && current.ProjectID == item.Location
			move.buyback = !unwind && item.PaymentMethod == domain.PaymentClientCard

			if _, err := e.txns.RemoveItemFromTransaction(ctx, current.ID, item.ID); err != nil {
				return nil, err
			}
			if _, seen := touched[current.ID]; !seen {
				touched[current.ID] = struct{}{}
				order = append(order, current.ID)
			}
		} else {
			// No attribution at all: the item originated inside the project.
			move.buyback = item.PaymentMethod == domain.PaymentClientCard
		}
		moves = append(moves, move)
	}

	buybackID := ""
	for _, move := range moves {
		if !move.buyback {
			continue
		}
		if buybackID == "" {
			txn, err := e.resolveBuyback(ctx)
			if err != nil {
				return nil, err
			}
			buybackID = txn.ID
			if _, seen := touched[buybackID]; !seen {
				touched[buybackID] = struct{}{}
				order = append(order, buybackID)
			}
		}
		if _, err := e.txns.AddItemToTransaction(ctx, buybackID, move.item.ID); err != nil {
			return nil, err
		}
	}

	for _, move := range moves {
		location := ""
		disposition := domain.DispositionInventory
		status := domain.StatusAvailable
		link := ""
		if move.buyback {
			// The buyback Purchase is still pending; the item keeps a link
			// to it until the business settles up.
			status = domain.StatusPending
			link = buybackID
		}
		updated, err := e.items.UpdateItem(ctx, move.item.ID, move.item.Version, domain.ItemPatch{
			Location:             &location,
			InventoryStatus:      &status,
			Disposition:          &disposition,
			CurrentTransactionID: &link,
		})
		if err != nil {
			return nil, err
		}
		finalItems = append(finalItems, *updated)

		e.audit.RecordAllocationEvent(ctx, domain.AllocationEvent{
			ItemID:            move.item.ID,
			FromTransactionID: move.fromID,
			ToTransactionID:   link,
			Actor:             actorName(ctx),
			OccurredAt:        time.Now().UTC(),
		})
	}

	// One amount recomputation per touched transaction, after the whole
	// batch of membership changes.
	finalTxns := make([]domain.Transaction, 0, len(order))
	for _, id := range order {
		final, err := e.reconcileOnce(ctx, id)
		if err != nil {
			return nil, err
		}
		if final != nil {
			finalTxns = append(finalTxns, *final)
		}
	}

	return &domain.DeallocationResult{Items: finalItems, Transactions: finalTxns}, nil
}

// resolveBuyback upserts the canonical business-inventory Purchase that
// absorbs client-paid items leaving projects. The business owes the client
// for these, and the record carries the business's own card.
func (e *Engine) resolveBuyback(ctx context.Context) (*domain.Transaction, error) {
	owes := domain.BusinessOwesClient
	card := domain.PaymentBusinessCard
	txn, err := e.txns.UpsertTransaction(ctx, CanonicalID(domain.DirectionPurchase, ""), domain.Transaction{
		ProjectID:         "",
		Direction:         domain.DirectionPurchase,
		Status:            domain.TxStatusPending,
		ReimbursementType: owes,
		PaymentMethod:     card,
		Canonical:         true,
	})
	if err != nil {
		return nil, err
	}
	if txn.ReimbursementType != owes || txn.PaymentMethod != card {
		return e.txns.UpdateTransaction(ctx, txn.ID, txn.Version, domain.TransactionPatch{
			ReimbursementType: &owes,
			PaymentMethod:     &card,
		})
	}
	return txn, nil
}
