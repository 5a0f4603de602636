package memory

import (
	"context"
	"errors"
	"testing"

	"studioledger/backend/internal/domain"
	"studioledger/backend/internal/store"
)

func TestUpdateItemVersionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateItem(ctx, domain.Item{ID: "item-1", Name: "Lounge Chair"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	name := "Lounge Chair (restored)"
	if _, err := s.UpdateItem(ctx, created.ID, created.Version, domain.ItemPatch{Name: &name}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// Same expected version again: the record moved on, so this must lose.
	_, err = s.UpdateItem(ctx, created.ID, created.Version, domain.ItemPatch{Name: &name})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateItemClearsTransactionLink(t *testing.T) {
	s := New()
	ctx := context.Background()

	link := "txn-1"
	created, err := s.CreateItem(ctx, domain.Item{ID: "item-1", Name: "Side Table", CurrentTransactionID: link})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	cleared := ""
	updated, err := s.UpdateItem(ctx, created.ID, created.Version, domain.ItemPatch{CurrentTransactionID: &cleared})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.CurrentTransactionID != "" {
		t.Fatalf("expected cleared link, got %q", updated.CurrentTransactionID)
	}
}

func TestUpsertTransactionIsCreateIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.UpsertTransaction(ctx, "PURCHASE:proj-x", domain.Transaction{
		ProjectID: "proj-x",
		Direction: domain.DirectionPurchase,
		Canonical: true,
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	second, err := s.UpsertTransaction(ctx, "PURCHASE:proj-x", domain.Transaction{
		ProjectID: "proj-x",
		Direction: domain.DirectionPurchase,
		Canonical: true,
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if first.ID != second.ID || second.Version != first.Version {
		t.Fatalf("expected upsert to return the existing record unchanged")
	}

	all, err := s.ListTransactions(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one transaction, got %d", len(all))
	}
}

func TestTransactionMembershipHasSetSemantics(t *testing.T) {
	s := New()
	ctx := context.Background()

	txn, err := s.UpsertTransaction(ctx, "SALE:proj-x", domain.Transaction{
		ProjectID: "proj-x",
		Direction: domain.DirectionSale,
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if _, err := s.AddItemToTransaction(ctx, txn.ID, "item-1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	after, err := s.AddItemToTransaction(ctx, txn.ID, "item-1")
	if err != nil {
		t.Fatalf("duplicate add failed: %v", err)
	}
	if len(after.ItemIDs) != 1 {
		t.Fatalf("expected set semantics, got %v", after.ItemIDs)
	}

	after, err = s.RemoveItemFromTransaction(ctx, txn.ID, "item-1")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(after.ItemIDs) != 0 {
		t.Fatalf("expected empty membership, got %v", after.ItemIDs)
	}
	// Removing an absent member is a no-op, not an error.
	if _, err := s.RemoveItemFromTransaction(ctx, txn.ID, "item-1"); err != nil {
		t.Fatalf("idempotent remove failed: %v", err)
	}
}

func TestListTransactionsByItem(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, id := range []string{"PURCHASE:proj-x", "SALE:proj-y"} {
		if _, err := s.UpsertTransaction(ctx, id, domain.Transaction{ProjectID: "proj"}); err != nil {
			t.Fatalf("upsert %s failed: %v", id, err)
		}
	}
	if _, err := s.AddItemToTransaction(ctx, "PURCHASE:proj-x", "item-1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	holders, err := s.ListTransactionsByItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("list by item failed: %v", err)
	}
	if len(holders) != 1 || holders[0].ID != "PURCHASE:proj-x" {
		t.Fatalf("unexpected holders: %+v", holders)
	}
}

func TestSeededStoreHasFreeStock(t *testing.T) {
	s := NewSeeded()
	items, err := s.ListItems(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) == 0 {
		t.Fatalf("expected seeded items")
	}
	for _, item := range items {
		if !item.Free() {
			t.Fatalf("expected seeded item %s to be free stock", item.ID)
		}
	}
}
