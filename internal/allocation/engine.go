// Package allocation implements the item allocation and transaction
// reconciliation engine. Given an item and a target (a project or business
// inventory), it decides which Sale/Purchase transactions must be created,
// extended, shrunk or closed, performs the item's location/status update, and
// recomputes transaction amounts from the attributed items.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"studioledger/backend/internal/domain"
	"studioledger/backend/internal/store"
)

// ErrInvariant flags data that should never exist: an item attributed to more
// than one transaction, or a recomputed amount below zero. Operations abort
// instead of repairing silently.
var ErrInvariant = errors.New("invariant violation")

const (
	maxAttempts  = 3
	retryBackoff = 25 * time.Millisecond
)

// Engine moves items between business inventory and projects while keeping
// item/transaction attribution and transaction amounts consistent. Stores are
// injected so tests run against the in-memory implementation.
type Engine struct {
	items store.ItemStore
	txns  store.TransactionStore
	audit AuditEmitter
}

func New(items store.ItemStore, txns store.TransactionStore, audit AuditEmitter) *Engine {
	if audit == nil {
		audit = LogEmitter{}
	}
	return &Engine{items: items, txns: txns, audit: audit}
}

// AllocateItem moves an item to the target project, or back to business
// inventory when target.ProjectID is empty. The operation re-derives current
// state from the item record, so retrying with identical arguments converges
// on the same final state.
func (e *Engine) AllocateItem(ctx context.Context, itemID string, target domain.AllocationTarget) (*domain.AllocationResult, error) {
	if itemID == "" {
		return nil, fmt.Errorf("item id required: %w", store.ErrInvalid)
	}
	var result *domain.AllocationResult
	err := e.withRetry(ctx, "allocate "+itemID, func(ctx context.Context) error {
		r, err := e.allocateOnce(ctx, itemID, target)
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

func (e *Engine) allocateOnce(ctx context.Context, itemID string, target domain.AllocationTarget) (*domain.AllocationResult, error) {
	item, err := e.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	current, err := e.currentAttribution(ctx, *item)
	if err != nil {
		return nil, err
	}

	// Already attributed to the requested project. A fully applied move
	// no-ops; a half-applied one (membership landed, item record did not)
	// finishes the item side so the retry converges.
	if current != nil && target.ProjectID != "" && current.ProjectID == target.ProjectID {
		return e.completeAttachment(ctx, *item, *current)
	}
	// Already free stock and the target is inventory: nothing to do.
	if current == nil && target.ProjectID == "" && item.Free() {
		return &domain.AllocationResult{Item: *item, Transactions: nil}, nil
	}

	touched := make([]domain.Transaction, 0, 2)
	fromID := ""

	if current != nil {
		fromID = current.ID
		if _, err := e.txns.RemoveItemFromTransaction(ctx, current.ID, item.ID); err != nil {
			return nil, err
		}
		final, err := e.reconcileOnce(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		if final != nil {
			touched = append(touched, *final)
		}
	}

	patch := domain.ItemPatch{}
	toID := ""

	if target.ProjectID == "" {
		location := ""
		status := domain.StatusAvailable
		disposition := domain.DispositionInventory
		link := ""
		patch.Location = &location
		patch.InventoryStatus = &status
		patch.Disposition = &disposition
		patch.CurrentTransactionID = &link
	} else {
		direction := target.Direction
		if !direction.Valid() {
			if current == nil {
				return nil, fmt.Errorf("direction required to attach free stock: %w", store.ErrInvalid)
			}
			// Cross-project move with no explicit direction: an item leaving
			// a Sale books into a Purchase on the new project, and vice
			// versa.
			direction = current.Direction.Opposite()
		}
		txn, err := e.resolveCanonical(ctx, direction, target.ProjectID)
		if err != nil {
			return nil, err
		}
		if _, err := e.txns.AddItemToTransaction(ctx, txn.ID, item.ID); err != nil {
			return nil, err
		}
		final, err := e.reconcileOnce(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		if final != nil {
			touched = append(touched, *final)
			toID = final.ID
		}

		location := target.ProjectID
		status := domain.StatusAllocated
		if direction == domain.DirectionSale {
			status = domain.StatusPending
		}
		disposition := domain.DispositionKeep
		patch.Location = &location
		patch.InventoryStatus = &status
		patch.Disposition = &disposition
		patch.CurrentTransactionID = &toID
	}

	updated, err := e.items.UpdateItem(ctx, item.ID, item.Version, patch)
	if err != nil {
		return nil, err
	}

	e.audit.RecordAllocationEvent(ctx, domain.AllocationEvent{
		ItemID:            item.ID,
		FromTransactionID: fromID,
		ToTransactionID:   toID,
		Actor:             actorName(ctx),
		OccurredAt:        time.Now().UTC(),
	})

	return &domain.AllocationResult{Item: *updated, Transactions: touched}, nil
}

// completeAttachment handles a retried allocation whose target transaction
// already holds the item. When the item record also matches (location, status,
// link) the whole move was applied and nothing is written. Otherwise the
// previous attempt died between the membership write and the item write, so
// the transaction is re-reconciled and the item side is finished here.
func (e *Engine) completeAttachment(ctx context.Context, item domain.Item, current domain.Transaction) (*domain.AllocationResult, error) {
	status := domain.StatusAllocated
	if current.Direction == domain.DirectionSale {
		status = domain.StatusPending
	}
	if item.Location == current.ProjectID && item.InventoryStatus == status && item.CurrentTransactionID == current.ID {
		return &domain.AllocationResult{Item: item, Transactions: []domain.Transaction{current}}, nil
	}

	final, err := e.reconcileOnce(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	if final == nil {
		final = &current
	}

	location := current.ProjectID
	disposition := domain.DispositionKeep
	link := current.ID
	updated, err := e.items.UpdateItem(ctx, item.ID, item.Version, domain.ItemPatch{
		Location:             &location,
		InventoryStatus:      &status,
		Disposition:          &disposition,
		CurrentTransactionID: &link,
	})
	if err != nil {
		return nil, err
	}

	e.audit.RecordAllocationEvent(ctx, domain.AllocationEvent{
		ItemID:            item.ID,
		FromTransactionID: item.CurrentTransactionID,
		ToTransactionID:   link,
		Actor:             actorName(ctx),
		OccurredAt:        time.Now().UTC(),
	})

	return &domain.AllocationResult{Item: *updated, Transactions: []domain.Transaction{*final}}, nil
}

// currentAttribution finds the transaction currently holding the item. More
// than one holder is corrupt data and aborts the operation. A stale link on
// the item (pointing at a transaction that no longer contains it, typically a
// half-applied previous move) is logged and ignored; the pending item update
// overwrites it.
func (e *Engine) currentAttribution(ctx context.Context, item domain.Item) (*domain.Transaction, error) {
	holders, err := e.txns.ListTransactionsByItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if len(holders) > 1 {
		ids := make([]string, 0, len(holders))
		for _, h := range holders {
			ids = append(ids, h.ID)
		}
		log.Printf("[allocation] INVARIANT: item %s attributed to %d transactions %v", item.ID, len(holders), ids)
		return nil, fmt.Errorf("item %s attributed to %d transactions: %w", item.ID, len(holders), ErrInvariant)
	}
	if len(holders) == 1 {
		holder := holders[0]
		if item.CurrentTransactionID != "" && item.CurrentTransactionID != holder.ID {
			log.Printf("[allocation] recovering item %s: stale link %s, held by %s", item.ID, item.CurrentTransactionID, holder.ID)
		}
		return &holder, nil
	}
	return nil, nil
}

// withRetry re-runs fn on optimistic-concurrency conflicts and transient
// store failures, up to maxAttempts. Every fn call starts from freshly read
// state, so retries are safe for these operations.
func (e *Engine) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrUnavailable) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		log.Printf("[allocation] retrying %s after transient failure (attempt %d): %v", op, attempt, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

type actorContextKey struct{}

// WithActor stamps the acting user onto the context for audit events.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}
