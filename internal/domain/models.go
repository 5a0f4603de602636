package domain

import "time"

// Direction labels which way money moves for a transaction. "Sale" means the
// project is selling/returning items to the business; "Purchase" means the
// business is allocating/selling items into the project. Callers branch on
// these labels, so they are fixed vocabulary.
type Direction string

const (
	DirectionSale     Direction = "Sale"
	DirectionPurchase Direction = "Purchase"
)

func (d Direction) Valid() bool {
	return d == DirectionSale || d == DirectionPurchase
}

// Opposite returns the direction a cross-project move books to: an item
// leaving a Sale re-enters accounting as a Purchase, and vice versa.
func (d Direction) Opposite() Direction {
	if d == DirectionSale {
		return DirectionPurchase
	}
	return DirectionSale
}

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) Valid() bool {
	return s == TxStatusPending || s == TxStatusCompleted || s == TxStatusCancelled
}

type InventoryStatus string

const (
	StatusAvailable InventoryStatus = "available"
	StatusPending   InventoryStatus = "pending"
	StatusAllocated InventoryStatus = "allocated"
	StatusSold      InventoryStatus = "sold"
)

func (s InventoryStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusPending, StatusAllocated, StatusSold:
		return true
	}
	return false
}

// Disposition is the designer-facing intent for an item. Setting it to
// DispositionInventory is the trigger that sends the item back to business
// stock.
type Disposition string

const (
	DispositionKeep      Disposition = "keep"
	DispositionToReturn  Disposition = "to-return"
	DispositionReturned  Disposition = "returned"
	DispositionInventory Disposition = "inventory"
)

func (d Disposition) Valid() bool {
	switch d {
	case DispositionKeep, DispositionToReturn, DispositionReturned, DispositionInventory:
		return true
	}
	return false
}

// PaymentMethod records whose card originally paid for an item. It decides
// the deallocation branch: client-paid items must be bought back by the
// business, business-paid items just move.
type PaymentMethod string

const (
	PaymentBusinessCard PaymentMethod = "business card"
	PaymentClientCard   PaymentMethod = "client card"
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentBusinessCard || p == PaymentClientCard
}

type ReimbursementType string

const (
	ClientOwesBusiness ReimbursementType = "ClientOwesBusiness"
	BusinessOwesClient ReimbursementType = "BusinessOwesClient"
)

// Item is a physical piece tracked by the studio. Location is a project id,
// or empty for the shared business-inventory pool. Monetary fields are exact
// decimal strings, never floats. CurrentTransactionID links the item to the
// one transaction currently accounting for it ("" = free stock).
type Item struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Location             string          `json:"location"`
	InventoryStatus      InventoryStatus `json:"inventory_status"`
	Disposition          Disposition     `json:"disposition"`
	PaymentMethod        PaymentMethod   `json:"payment_method"`
	PurchasePrice        string          `json:"purchase_price"`
	ProjectPrice         string          `json:"project_price"`
	MarketValue          string          `json:"market_value"`
	CurrentTransactionID string          `json:"current_transaction_id,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// InInventory reports whether the item sits in the business-inventory pool.
func (i Item) InInventory() bool {
	return i.Location == ""
}

// Free reports whether the item is unattributed stock: in business inventory
// with no transaction accounting for it.
func (i Item) Free() bool {
	return i.InInventory() && i.CurrentTransactionID == ""
}

// Transaction is a financial record owning a set of items. Canonical
// transactions have ids derived from (direction, project) so repeated
// allocations reuse one record. Subtotal, Tax and Amount are derived from the
// attributed items at last reconciliation and are canonical decimal strings.
type Transaction struct {
	ID                string            `json:"id"`
	ProjectID         string            `json:"project_id"`
	Direction         Direction         `json:"direction"`
	Status            TransactionStatus `json:"status"`
	ReimbursementType ReimbursementType `json:"reimbursement_type,omitempty"`
	PaymentMethod     PaymentMethod     `json:"payment_method,omitempty"`
	ItemIDs           []string          `json:"item_ids"`
	Subtotal          string            `json:"subtotal"`
	TaxRate           string            `json:"tax_rate,omitempty"`
	Tax               string            `json:"tax"`
	Amount            string            `json:"amount"`
	Canonical         bool              `json:"canonical"`
	Notes             string            `json:"notes,omitempty"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// HasItem reports set membership in ItemIDs.
func (t Transaction) HasItem(itemID string) bool {
	for _, id := range t.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// ItemPatch is a partial item update. Nil fields are left untouched.
// CurrentTransactionID uses the empty string to clear the link, so a non-nil
// pointer to "" detaches the item.
type ItemPatch struct {
	Name                 *string          `json:"name,omitempty"`
	Location             *string          `json:"location,omitempty"`
	InventoryStatus      *InventoryStatus `json:"inventory_status,omitempty"`
	Disposition          *Disposition     `json:"disposition,omitempty"`
	PaymentMethod        *PaymentMethod   `json:"payment_method,omitempty"`
	PurchasePrice        *string          `json:"purchase_price,omitempty"`
	ProjectPrice         *string          `json:"project_price,omitempty"`
	MarketValue          *string          `json:"market_value,omitempty"`
	CurrentTransactionID *string          `json:"current_transaction_id,omitempty"`
}

// TransactionPatch is a partial transaction update. Item membership is not
// patched here; it goes through the add/remove membership operations.
type TransactionPatch struct {
	Status            *TransactionStatus `json:"status,omitempty"`
	ReimbursementType *ReimbursementType `json:"reimbursement_type,omitempty"`
	PaymentMethod     *PaymentMethod     `json:"payment_method,omitempty"`
	Subtotal          *string            `json:"subtotal,omitempty"`
	TaxRate           *string            `json:"tax_rate,omitempty"`
	Tax               *string            `json:"tax,omitempty"`
	Amount            *string            `json:"amount,omitempty"`
	Notes             *string            `json:"notes,omitempty"`
}

type ItemCreateRequest struct {
	Name          string        `json:"name"`
	Location      string        `json:"location"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PurchasePrice string        `json:"purchase_price"`
	ProjectPrice  string        `json:"project_price"`
	MarketValue   string        `json:"market_value"`
}

type ItemUpdateRequest struct {
	Name          *string        `json:"name,omitempty"`
	Disposition   *Disposition   `json:"disposition,omitempty"`
	PaymentMethod *PaymentMethod `json:"payment_method,omitempty"`
	PurchasePrice *string        `json:"purchase_price,omitempty"`
	ProjectPrice  *string        `json:"project_price,omitempty"`
	MarketValue   *string        `json:"market_value,omitempty"`
}

// AllocationTarget names where an item should move. An empty ProjectID means
// business inventory. Direction may be left empty on cross-project moves, in
// which case the opposite of the current holder's direction is used; attaching
// free stock requires it.
type AllocationTarget struct {
	ProjectID string    `json:"project_id"`
	Direction Direction `json:"direction"`
}

// AllocationResult reports the final item state and every transaction touched
// by the move, after reconciliation.
type AllocationResult struct {
	Item         Item          `json:"item"`
	Transactions []Transaction `json:"transactions"`
}

type DeallocationRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type DeallocationResult struct {
	Items        []Item        `json:"items"`
	Transactions []Transaction `json:"transactions"`
}

// AllocationEvent is the audit record emitted for every item movement.
type AllocationEvent struct {
	ItemID            string    `json:"item_id"`
	FromTransactionID string    `json:"from_transaction_id,omitempty"`
	ToTransactionID   string    `json:"to_transaction_id,omitempty"`
	Actor             string    `json:"actor"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProjectSummary is the cached reporting view of a project's open ledger.
type ProjectSummary struct {
	ProjectID     string        `json:"project_id"`
	ItemCount     int           `json:"item_count"`
	SaleTotal     string        `json:"sale_total"`
	PurchaseTotal string        `json:"purchase_total"`
	Transactions  []Transaction `json:"transactions"`
	GeneratedAt   string        `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
