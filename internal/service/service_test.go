package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"studioledger/backend/internal/allocation"
	"studioledger/backend/internal/cache"
	"studioledger/backend/internal/domain"
	"studioledger/backend/internal/store"
	"studioledger/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	engine := allocation.New(repo, repo, allocation.NewStoreEmitter(repo))
	svc := New(repo, engine, cache.NoopSummaryCache{}, time.Second)
	return svc, repo
}

func TestCreateItemDefaultsToFreeInventory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:          "marble side table",
		PurchasePrice: "420.00",
		ProjectPrice:  "560.00",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if !item.Free() {
		t.Fatalf("expected free inventory stock, got location=%q link=%q", item.Location, item.CurrentTransactionID)
	}
	if item.InventoryStatus != domain.StatusAvailable {
		t.Fatalf("status = %s, want %s", item.InventoryStatus, domain.StatusAvailable)
	}
	if item.PaymentMethod != domain.PaymentBusinessCard {
		t.Fatalf("payment method = %s, want default business card", item.PaymentMethod)
	}
}

func TestCreateItemRejectsBadAmount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateItem(context.Background(), domain.ItemCreateRequest{
		Name:          "lamp",
		PurchasePrice: "lots",
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestCreateItemRejectsBlankName(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateItem(context.Background(), domain.ItemCreateRequest{Name: "   "})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestUpdateItemInventoryDispositionDeallocates(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:          "armchair",
		PurchasePrice: "300.00",
		ProjectPrice:  "450.00",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if _, err := svc.AllocateItem(ctx, item.ID, domain.AllocationTarget{ProjectID: "proj-1", Direction: domain.DirectionPurchase}); err != nil {
		t.Fatalf("AllocateItem: %v", err)
	}

	disposition := domain.DispositionInventory
	updated, err := svc.UpdateItem(ctx, item.ID, domain.ItemUpdateRequest{Disposition: &disposition})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if !updated.InInventory() {
		t.Fatalf("expected item back in inventory, got location %q", updated.Location)
	}

	txns, err := repo.ListTransactionsByProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListTransactionsByProject: %v", err)
	}
	for _, txn := range txns {
		if txn.HasItem(item.ID) {
			t.Fatalf("item still attributed to %s after deallocation", txn.ID)
		}
	}
}

func TestUpdateItemKeepDispositionDoesNotMove(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:          "console",
		PurchasePrice: "200.00",
		ProjectPrice:  "280.00",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if _, err := svc.AllocateItem(ctx, item.ID, domain.AllocationTarget{ProjectID: "proj-1", Direction: domain.DirectionPurchase}); err != nil {
		t.Fatalf("AllocateItem: %v", err)
	}

	disposition := domain.DispositionToReturn
	updated, err := svc.UpdateItem(ctx, item.ID, domain.ItemUpdateRequest{Disposition: &disposition})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if updated.Location != "proj-1" {
		t.Fatalf("item moved unexpectedly to %q", updated.Location)
	}
	if updated.Disposition != domain.DispositionToReturn {
		t.Fatalf("disposition = %s, want to-return", updated.Disposition)
	}
}

func TestProjectSummaryTotals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:          "sofa",
		PurchasePrice: "900.00",
		ProjectPrice:  "1200.00",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	second, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:          "mirror",
		PurchasePrice: "150.00",
		ProjectPrice:  "240.00",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	for _, id := range []string{first.ID, second.ID} {
		if _, err := svc.AllocateItem(ctx, id, domain.AllocationTarget{ProjectID: "proj-9", Direction: domain.DirectionPurchase}); err != nil {
			t.Fatalf("AllocateItem(%s): %v", id, err)
		}
	}

	summary, err := svc.ProjectSummary(ctx, "proj-9")
	if err != nil {
		t.Fatalf("ProjectSummary: %v", err)
	}
	if summary.ItemCount != 2 {
		t.Fatalf("item count = %d, want 2", summary.ItemCount)
	}
	if summary.PurchaseTotal != "1050.00" {
		t.Fatalf("purchase total = %s, want 1050.00", summary.PurchaseTotal)
	}
	if summary.SaleTotal != "0.00" {
		t.Fatalf("sale total = %s, want 0.00", summary.SaleTotal)
	}
}

func TestProjectSummaryUsesCache(t *testing.T) {
	repo := memory.New()
	engine := allocation.New(repo, repo, allocation.NewStoreEmitter(repo))
	spy := &spyCache{}
	svc := New(repo, engine, spy, time.Minute)
	ctx := context.Background()

	if _, err := svc.ProjectSummary(ctx, "proj-1"); err != nil {
		t.Fatalf("first ProjectSummary: %v", err)
	}
	if spy.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", spy.sets)
	}
	if _, err := svc.ProjectSummary(ctx, "proj-1"); err != nil {
		t.Fatalf("second ProjectSummary: %v", err)
	}
	if spy.hits != 1 {
		t.Fatalf("cache hits = %d, want 1", spy.hits)
	}
	if spy.sets != 1 {
		t.Fatalf("cache sets after hit = %d, want 1", spy.sets)
	}
}

func TestAllocateInvalidatesSummaryCache(t *testing.T) {
	repo := memory.New()
	engine := allocation.New(repo, repo, allocation.NewStoreEmitter(repo))
	spy := &spyCache{}
	svc := New(repo, engine, spy, time.Minute)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:          "rug",
		PurchasePrice: "80.00",
		ProjectPrice:  "120.00",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	spy.invalidations = nil
	if _, err := svc.AllocateItem(ctx, item.ID, domain.AllocationTarget{ProjectID: "proj-2", Direction: domain.DirectionPurchase}); err != nil {
		t.Fatalf("AllocateItem: %v", err)
	}

	seen := map[string]bool{}
	for _, key := range spy.invalidations {
		seen[key] = true
	}
	if !seen["summary:project:proj-2"] {
		t.Fatalf("target project summary not invalidated, got %v", spy.invalidations)
	}
	if !seen["summary:inventory"] {
		t.Fatalf("inventory summary not invalidated, got %v", spy.invalidations)
	}
}

func TestDeallocateItemsRequiresIDs(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.DeallocateItems(context.Background(), domain.DeallocationRequest{})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestServiceWritesAuditTrail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "dana", Role: "designer"})

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:          "pendant light",
		PurchasePrice: "95.00",
		ProjectPrice:  "140.00",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if _, err := svc.AllocateItem(ctx, item.ID, domain.AllocationTarget{ProjectID: "proj-3", Direction: domain.DirectionPurchase}); err != nil {
		t.Fatalf("AllocateItem: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	var sawCreate, sawAllocate bool
	for _, entry := range logs {
		if entry.ActorUsername != "dana" {
			t.Fatalf("audit entry %s has actor %q, want dana", entry.Action, entry.ActorUsername)
		}
		switch entry.Action {
		case "item_create":
			sawCreate = true
		case "item_allocate":
			sawAllocate = true
		}
	}
	if !sawCreate || !sawAllocate {
		t.Fatalf("missing audit entries, create=%v allocate=%v", sawCreate, sawAllocate)
	}
}

type spyCache struct {
	stored        map[string]*domain.ProjectSummary
	hits          int
	sets          int
	invalidations []string
}

func (c *spyCache) Get(_ context.Context, key string) (*domain.ProjectSummary, bool, error) {
	if value, ok := c.stored[key]; ok {
		c.hits++
		return value, true, nil
	}
	return nil, false, nil
}

func (c *spyCache) Set(_ context.Context, key string, value *domain.ProjectSummary, _ time.Duration) error {
	if c.stored == nil {
		c.stored = map[string]*domain.ProjectSummary{}
	}
	c.stored[key] = value
	c.sets++
	return nil
}

func (c *spyCache) Invalidate(_ context.Context, key string) error {
	delete(c.stored, key)
	c.invalidations = append(c.invalidations, key)
	return nil
}
