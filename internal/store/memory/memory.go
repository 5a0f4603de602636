package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"studioledger/backend/internal/domain"
	"studioledger/backend/internal/store"
	"studioledger/backend/internal/xid"
)

// Store is an in-memory Repository used for dev mode and tests. Every write
// that goes through a version-conditioned update bumps the record's Version,
// mirroring the optimistic-concurrency contract of the postgres store.
type Store struct {
	mu               sync.RWMutex
	itemsByID        map[string]*domain.Item
	transactionsByID map[string]*domain.Transaction
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		itemsByID:        make(map[string]*domain.Item),
		transactionsByID: make(map[string]*domain.Transaction),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store pre-loaded with a handful of studio items and the
// dev user accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	seed := []domain.Item{
		{ID: "item-velvet-sofa", Name: "Velvet Sofa", PaymentMethod: domain.PaymentBusinessCard, PurchasePrice: "1450.00", ProjectPrice: "1900.00", MarketValue: "1700.00"},
		{ID: "item-brass-lamp", Name: "Brass Floor Lamp", PaymentMethod: domain.PaymentBusinessCard, PurchasePrice: "320.00", ProjectPrice: "450.00", MarketValue: "410.00"},
		{ID: "item-oak-sideboard", Name: "Oak Sideboard", PaymentMethod: domain.PaymentClientCard, PurchasePrice: "780.00", ProjectPrice: "980.00", MarketValue: "900.00"},
		{ID: "item-wool-rug", Name: "Wool Area Rug", PaymentMethod: domain.PaymentBusinessCard, PurchasePrice: "510.00", ProjectPrice: "640.00", MarketValue: "610.00"},
	}
	for _, item := range seed {
		item.Location = ""
		item.InventoryStatus = domain.StatusAvailable
		item.Disposition = domain.DispositionInventory
		item.Version = 1
		item.CreatedAt = now
		item.UpdatedAt = now
		copied := item
		s.itemsByID[item.ID] = &copied
	}
	s.usersByUsername = seedUsers()
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_DESIGNER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production runs use
// PostgreSQL-backed accounts instead (DATABASE_URL set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	designerPwd := envOr("SEED_DESIGNER_PASSWORD", "designer123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_DESIGNER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_DESIGNER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"designer", designerPwd, "designer"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.itemsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Name == "" {
		return nil, store.ErrInvalid
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if _, exists := s.itemsByID[item.ID]; exists {
		return nil, store.ErrInvalid
	}
	if item.InventoryStatus == "" {
		item.InventoryStatus = domain.StatusAvailable
	}
	if item.Disposition == "" {
		item.Disposition = domain.DispositionKeep
	}
	now := time.Now().UTC()
	item.Version = 1
	item.CreatedAt = now
	item.UpdatedAt = now

	copied := item
	s.itemsByID[item.ID] = &copied
	created := item
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, id string, expectedVersion int64, patch domain.ItemPatch) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.itemsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if item.Version != expectedVersion {
		return nil, store.ErrConflict
	}

	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, store.ErrInvalid
		}
		item.Name = *patch.Name
	}
	if patch.Location != nil {
		item.Location = *patch.Location
	}
	if patch.InventoryStatus != nil {
		if !patch.InventoryStatus.Valid() {
			return nil, store.ErrInvalid
		}
		item.InventoryStatus = *patch.InventoryStatus
	}
	if patch.Disposition != nil {
		if !patch.Disposition.Valid() {
			return nil, store.ErrInvalid
		}
		item.Disposition = *patch.Disposition
	}
	if patch.PaymentMethod != nil {
		if !patch.PaymentMethod.Valid() {
			return nil, store.ErrInvalid
		}
		item.PaymentMethod = *patch.PaymentMethod
	}
	if patch.PurchasePrice != nil {
		item.PurchasePrice = *patch.PurchasePrice
	}
	if patch.ProjectPrice != nil {
		item.ProjectPrice = *patch.ProjectPrice
	}
	if patch.MarketValue != nil {
		item.MarketValue = *patch.MarketValue
	}
	if patch.CurrentTransactionID != nil {
		item.CurrentTransactionID = *patch.CurrentTransactionID
	}

	item.Version++
	item.UpdatedAt = time.Now().UTC()
	copied := *item
	return &copied, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.itemsByID))
	for _, item := range s.itemsByID {
		items = append(items, *item)
	}
	sortItems(items)
	return items, nil
}

func (s *Store) ListItemsByTransaction(_ context.Context, transactionID string) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, exists := s.transactionsByID[transactionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	items := make([]domain.Item, 0, len(txn.ItemIDs))
	for _, id := range txn.ItemIDs {
		if item, ok := s.itemsByID[id]; ok {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (s *Store) ListItemsByProject(_ context.Context, projectID string) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, 16)
	for _, item := range s.itemsByID {
		if item.Location == projectID {
			items = append(items, *item)
		}
	}
	sortItems(items)
	return items, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := copyTransaction(txn)
	return &copied, nil
}

func (s *Store) UpsertTransaction(_ context.Context, id string, initial domain.Transaction) (*domain.Transaction, error) {
	if id == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transactionsByID[id]; ok {
		copied := copyTransaction(existing)
		return &copied, nil
	}

	now := time.Now().UTC()
	initial.ID = id
	if initial.Status == "" {
		initial.Status = domain.TxStatusPending
	}
	if initial.Subtotal == "" {
		initial.Subtotal = "0.00"
	}
	if initial.Tax == "" {
		initial.Tax = "0.00"
	}
	if initial.Amount == "" {
		initial.Amount = "0.00"
	}
	if initial.ItemIDs == nil {
		initial.ItemIDs = []string{}
	}
	initial.Version = 1
	initial.CreatedAt = now
	initial.UpdatedAt = now

	stored := copyTransaction(&initial)
	s.transactionsByID[id] = &stored
	created := copyTransaction(&stored)
	return &created, nil
}

func (s *Store) UpdateTransaction(_ context.Context, id string, expectedVersion int64, patch domain.TransactionPatch) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if txn.Version != expectedVersion {
		return nil, store.ErrConflict
	}

	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, store.ErrInvalid
		}
		txn.Status = *patch.Status
	}
	if patch.ReimbursementType != nil {
		txn.ReimbursementType = *patch.ReimbursementType
	}
	if patch.PaymentMethod != nil {
		txn.PaymentMethod = *patch.PaymentMethod
	}
	if patch.Subtotal != nil {
		txn.Subtotal = *patch.Subtotal
	}
	if patch.TaxRate != nil {
		txn.TaxRate = *patch.TaxRate
	}
	if patch.Tax != nil {
		txn.Tax = *patch.Tax
	}
	if patch.Amount != nil {
		txn.Amount = *patch.Amount
	}
	if patch.Notes != nil {
		txn.Notes = *patch.Notes
	}

	txn.Version++
	txn.UpdatedAt = time.Now().UTC()
	copied := copyTransaction(txn)
	return &copied, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactionsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.transactionsByID, id)
	return nil
}

func (s *Store) AddItemToTransaction(_ context.Context, id string, itemID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !txn.HasItem(itemID) {
		txn.ItemIDs = append(txn.ItemIDs, itemID)
		txn.Version++
		txn.UpdatedAt = time.Now().UTC()
	}
	copied := copyTransaction(txn)
	return &copied, nil
}

func (s *Store) RemoveItemFromTransaction(_ context.Context, id string, itemID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	for i, existing := range txn.ItemIDs {
		if existing == itemID {
			txn.ItemIDs = append(txn.ItemIDs[:i], txn.ItemIDs[i+1:]...)
			txn.Version++
			txn.UpdatedAt = time.Now().UTC()
			break
		}
	}
	copied := copyTransaction(txn)
	return &copied, nil
}

func (s *Store) ListTransactionsByItem(_ context.Context, itemID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 2)
	for _, txn := range s.transactionsByID {
		if txn.HasItem(itemID) {
			result = append(result, copyTransaction(txn))
		}
	}
	sortTransactions(result)
	return result, nil
}

func (s *Store) ListTransactionsByProject(_ context.Context, projectID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 8)
	for _, txn := range s.transactionsByID {
		if txn.ProjectID == projectID {
			result = append(result, copyTransaction(txn))
		}
	}
	sortTransactions(result)
	return result, nil
}

func (s *Store) ListTransactions(_ context.Context) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactionsByID))
	for _, txn := range s.transactionsByID {
		result = append(result, copyTransaction(txn))
	}
	sortTransactions(result)
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, len(s.auditLogs))
	copy(result, s.auditLogs)
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalid
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalid
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func copyTransaction(txn *domain.Transaction) domain.Transaction {
	copied := *txn
	copied.ItemIDs = make([]string, len(txn.ItemIDs))
	copy(copied.ItemIDs, txn.ItemIDs)
	return copied
}

func sortItems(items []domain.Item) {
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Location == b.Location {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Location, b.Location)
	})
}

func sortTransactions(txns []domain.Transaction) {
	slices.SortFunc(txns, func(a, b domain.Transaction) int {
		return strings.Compare(a.ID, b.ID)
	})
}
