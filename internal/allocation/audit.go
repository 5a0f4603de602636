package allocation

import (
	"context"
	"fmt"
	"log"

	"studioledger/backend/internal/domain"
	"studioledger/backend/internal/store"
	"studioledger/backend/internal/xid"
)

// AuditEmitter records who moved what and when. Emission is fire-and-forget:
// a failed audit write never rolls back the allocation it describes, so
// implementations swallow errors after logging them.
type AuditEmitter interface {
	RecordAllocationEvent(ctx context.Context, event domain.AllocationEvent)
}

// LogEmitter writes allocation events to the process log only.
type LogEmitter struct{}

func (LogEmitter) RecordAllocationEvent(_ context.Context, event domain.AllocationEvent) {
	log.Printf("[audit] item=%s from=%s to=%s actor=%s", event.ItemID, event.FromTransactionID, event.ToTransactionID, event.Actor)
}

// StoreEmitter persists allocation events as audit log rows, best effort.
type StoreEmitter struct {
	audits store.AuditStore
}

func NewStoreEmitter(audits store.AuditStore) *StoreEmitter {
	return &StoreEmitter{audits: audits}
}

func (s *StoreEmitter) RecordAllocationEvent(ctx context.Context, event domain.AllocationEvent) {
	entry := domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: event.Actor,
		Action:        "item_move",
		EntityType:    "item",
		EntityID:      event.ItemID,
		Detail:        fmt.Sprintf("from=%s,to=%s", event.FromTransactionID, event.ToTransactionID),
		CreatedAt:     event.OccurredAt,
	}
	if actor, ok := ActorFromContext(ctx); ok {
		entry.ActorRole = actor.Role
	}
	if err := s.audits.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[audit] WARN: failed to record allocation event for item %s: %v", event.ItemID, err)
	}
}
