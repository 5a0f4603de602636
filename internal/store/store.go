package store

import (
	"context"
	"errors"

	"studioledger/backend/internal/domain"
)

var (
	// ErrNotFound means the referenced item or transaction does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a version-conditioned write lost an optimistic
	// concurrency race; callers re-read and retry.
	ErrConflict = errors.New("concurrent modification")
	// ErrUnavailable means the underlying record store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalid means the record or patch fails basic validation.
	ErrInvalid = errors.New("invalid record")
)

// ItemStore holds item records. UpdateItem is a partial, version-conditioned
// write: it fails with ErrConflict unless expectedVersion matches the stored
// record, which backs the engine's read-modify-write retry loop.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, id string, expectedVersion int64, patch domain.ItemPatch) (*domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	ListItemsByTransaction(ctx context.Context, transactionID string) ([]domain.Item, error)
	ListItemsByProject(ctx context.Context, projectID string) ([]domain.Item, error)
}

// TransactionStore holds transaction records. UpsertTransaction is keyed by a
// deterministic id and must never create a second record for that id; the
// membership operations have set semantics.
type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	UpsertTransaction(ctx context.Context, id string, initial domain.Transaction) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, expectedVersion int64, patch domain.TransactionPatch) (*domain.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	AddItemToTransaction(ctx context.Context, id string, itemID string) (*domain.Transaction, error)
	RemoveItemFromTransaction(ctx context.Context, id string, itemID string) (*domain.Transaction, error)
	ListTransactionsByItem(ctx context.Context, itemID string) ([]domain.Transaction, error)
	ListTransactionsByProject(ctx context.Context, projectID string) ([]domain.Transaction, error)
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
}

// AuditStore is a write-mostly sink for audit records.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

// UserStore backs the HTTP auth manager.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Repository is the full persistence surface; both the in-memory and the
// postgres implementations satisfy it.
type Repository interface {
	ItemStore
	TransactionStore
	AuditStore
	UserStore
}
