package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"studioledger/backend/internal/allocation"
	"studioledger/backend/internal/cache"
	"studioledger/backend/internal/domain"
	"studioledger/backend/internal/money"
	"studioledger/backend/internal/store"
	"studioledger/backend/internal/xid"
)

// WithActor stamps the acting user onto the context. The engine reads it for
// audit events, so the service shares the engine's context key.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return allocation.WithActor(ctx, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	return allocation.ActorFromContext(ctx)
}

// Service is the application surface over the allocation engine: item CRUD,
// the disposition trigger, movement entry points, and cached project
// summaries.
type Service struct {
	repo       store.Repository
	engine     *allocation.Engine
	summaries  cache.SummaryCache
	summaryTTL time.Duration
}

func New(repo store.Repository, engine *allocation.Engine, summaries cache.SummaryCache, summaryTTL time.Duration) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = 30 * time.Second
	}
	return &Service{
		repo:       repo,
		engine:     engine,
		summaries:  summaries,
		summaryTTL: summaryTTL,
	}
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) ListInventory(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItemsByProject(ctx, "")
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Item{}, fmt.Errorf("item name required: %w", store.ErrInvalid)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentBusinessCard
	}
	if !req.PaymentMethod.Valid() {
		return domain.Item{}, fmt.Errorf("unknown payment method %q: %w", req.PaymentMethod, store.ErrInvalid)
	}
	for _, amount := range []string{req.PurchasePrice, req.ProjectPrice, req.MarketValue} {
		if _, err := money.Parse(amount); err != nil {
			return domain.Item{}, fmt.Errorf("%v: %w", err, store.ErrInvalid)
		}
	}

	status := domain.StatusAvailable
	disposition := domain.DispositionInventory
	if req.Location != "" {
		// Item recorded directly inside a project, e.g. bought on site.
		status = domain.StatusAllocated
		disposition = domain.DispositionKeep
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		ID:              xid.New("item"),
		Name:            req.Name,
		Location:        req.Location,
		InventoryStatus: status,
		Disposition:     disposition,
		PaymentMethod:   req.PaymentMethod,
		PurchasePrice:   req.PurchasePrice,
		ProjectPrice:    req.ProjectPrice,
		MarketValue:     req.MarketValue,
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "item_create", "item", created.ID, fmt.Sprintf("name=%s,location=%s", created.Name, created.Location))
	s.invalidateSummary(ctx, created.Location)
	return *created, nil
}

// UpdateItem applies the editable item fields. Setting the disposition to
// "inventory" is the signal that the item is leaving its project: the update
// is applied first, then the deallocation handler runs and determines whether
// an unwind, a buyback, or a plain move is needed.
func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}

	patch := domain.ItemPatch{
		Name:          req.Name,
		PaymentMethod: req.PaymentMethod,
		PurchasePrice: req.PurchasePrice,
		ProjectPrice:  req.ProjectPrice,
		MarketValue:   req.MarketValue,
	}
	for _, amount := range []*string{req.PurchasePrice, req.ProjectPrice, req.MarketValue} {
		if amount == nil {
			continue
		}
		if _, err := money.Parse(*amount); err != nil {
			return domain.Item{}, fmt.Errorf("%v: %w", err, store.ErrInvalid)
		}
	}

	triggerDeallocation := false
	if req.Disposition != nil {
		if !req.Disposition.Valid() {
			return domain.Item{}, fmt.Errorf("unknown disposition %q: %w", *req.Disposition, store.ErrInvalid)
		}
		if *req.Disposition == domain.DispositionInventory && !item.Free() {
			triggerDeallocation = true
		} else {
			patch.Disposition = req.Disposition
		}
	}

	updated, err := s.repo.UpdateItem(ctx, id, item.Version, patch)
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, "item_update", "item", id, "fields updated")

	if triggerDeallocation {
		result, err := s.engine.DeallocateItem(ctx, id)
		if err != nil {
			return domain.Item{}, err
		}
		s.invalidateSummary(ctx, item.Location)
		s.invalidateSummary(ctx, "")
		return result.Item, nil
	}
	return *updated, nil
}

// AllocateItem moves an item into a project (or back to inventory when the
// target project is empty) and returns the final item plus every transaction
// the move touched.
func (s *Service) AllocateItem(ctx context.Context, itemID string, target domain.AllocationTarget) (domain.AllocationResult, error) {
	if target.Direction != "" && !target.Direction.Valid() {
		return domain.AllocationResult{}, fmt.Errorf("unknown direction %q: %w", target.Direction, store.ErrInvalid)
	}

	before, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.AllocationResult{}, err
	}

	result, err := s.engine.AllocateItem(ctx, itemID, target)
	if err != nil {
		return domain.AllocationResult{}, err
	}

	s.logAudit(ctx, "item_allocate", "item", itemID, fmt.Sprintf("from=%s,to=%s", before.Location, target.ProjectID))
	s.invalidateSummary(ctx, before.Location)
	s.invalidateSummary(ctx, target.ProjectID)
	return *result, nil
}

// DeallocateItems sends a batch of items back to business inventory in one
// user action; client-paid items are bundled into a single buyback.
func (s *Service) DeallocateItems(ctx context.Context, req domain.DeallocationRequest) (domain.DeallocationResult, error) {
	if len(req.ItemIDs) == 0 {
		return domain.DeallocationResult{}, fmt.Errorf("item_ids required: %w", store.ErrInvalid)
	}

	origins := make(map[string]struct{}, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		if item, err := s.repo.GetItem(ctx, id); err == nil {
			origins[item.Location] = struct{}{}
		}
	}

	result, err := s.engine.DeallocateItems(ctx, req.ItemIDs)
	if err != nil {
		return domain.DeallocationResult{}, err
	}

	s.logAudit(ctx, "item_deallocate", "batch", xid.New("batch"), fmt.Sprintf("items=%d", len(req.ItemIDs)))
	for origin := range origins {
		s.invalidateSummary(ctx, origin)
	}
	s.invalidateSummary(ctx, "")
	return *result, nil
}

func (s *Service) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *txn, nil
}

// ProjectSummary reports a project's open ledger: item count plus Sale and
// Purchase totals over non-cancelled transactions. Served from the summary
// cache when fresh.
func (s *Service) ProjectSummary(ctx context.Context, projectID string) (domain.ProjectSummary, error) {
	key := summaryKey(projectID)
	if cached, found, err := s.summaries.Get(ctx, key); err == nil && found {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: summary cache read failed for %s: %v", key, err)
	}

	items, err := s.repo.ListItemsByProject(ctx, projectID)
	if err != nil {
		return domain.ProjectSummary{}, err
	}
	txns, err := s.repo.ListTransactionsByProject(ctx, projectID)
	if err != nil {
		return domain.ProjectSummary{}, err
	}

	saleAmounts := make([]string, 0, len(txns))
	purchaseAmounts := make([]string, 0, len(txns))
	for _, txn := range txns {
		if txn.Status == domain.TxStatusCancelled {
			continue
		}
		if txn.Direction == domain.DirectionSale {
			saleAmounts = append(saleAmounts, txn.Amount)
		} else {
			purchaseAmounts = append(purchaseAmounts, txn.Amount)
		}
	}
	saleTotal, err := money.Sum(saleAmounts...)
	if err != nil {
		return domain.ProjectSummary{}, err
	}
	purchaseTotal, err := money.Sum(purchaseAmounts...)
	if err != nil {
		return domain.ProjectSummary{}, err
	}

	summary := domain.ProjectSummary{
		ProjectID:     projectID,
		ItemCount:     len(items),
		SaleTotal:     saleTotal,
		PurchaseTotal: purchaseTotal,
		Transactions:  txns,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.summaries.Set(ctx, key, &summary, s.summaryTTL); err != nil {
		log.Printf("[service] WARN: summary cache write failed for %s: %v", key, err)
	}
	return summary, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}

func (s *Service) invalidateSummary(ctx context.Context, projectID string) {
	if err := s.summaries.Invalidate(ctx, summaryKey(projectID)); err != nil {
		log.Printf("[service] WARN: summary invalidation failed for %s: %v", projectID, err)
	}
}

func summaryKey(projectID string) string {
	if projectID == "" {
		return "summary:inventory"
	}
	return "summary:project:" + projectID
}
