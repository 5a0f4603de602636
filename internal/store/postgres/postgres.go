package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"studioledger/backend/internal/domain"
	"studioledger/backend/internal/store"
	"studioledger/backend/internal/xid"
)

// Store is the postgres-backed Repository. Item and transaction rows carry a
// version column; every update is conditioned on the version the caller read,
// so lost updates surface as store.ErrConflict instead of silent overwrites.
// Transaction membership lives in the transaction_items join table.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `id, name, location, inventory_status, disposition, payment_method,
	purchase_price, project_price, market_value, current_transaction_id, version, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*domain.Item, error) {
	var item domain.Item
	var link sql.NullString
	err := row.Scan(&item.ID, &item.Name, &item.Location, &item.InventoryStatus, &item.Disposition,
		&item.PaymentMethod, &item.PurchasePrice, &item.ProjectPrice, &item.MarketValue,
		&link, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.CurrentTransactionID = link.String
	return &item, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Version = 1

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (
			id, name, location, inventory_status, disposition, payment_method,
			purchase_price, project_price, market_value, current_transaction_id,
			version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, item.ID, item.Name, item.Location, item.InventoryStatus, item.Disposition, item.PaymentMethod,
		item.PurchasePrice, item.ProjectPrice, item.MarketValue, nullIfEmpty(item.CurrentTransactionID),
		item.Version, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalid
		}
		return nil, mapError(err)
	}

	created := item
	return &created, nil
}

func (s *Store) UpdateItem(ctx context.Context, id string, expectedVersion int64, patch domain.ItemPatch) (*domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanItem(tx.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, mapError(err)
	}
	if item.Version != expectedVersion {
		return nil, store.ErrConflict
	}

	applyItemPatch(item, patch)
	item.Version++
	item.UpdatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		UPDATE items
		SET name = $3, location = $4, inventory_status = $5, disposition = $6, payment_method = $7,
			purchase_price = $8, project_price = $9, market_value = $10, current_transaction_id = $11,
			version = $12, updated_at = $13
		WHERE id = $1 AND version = $2
	`, id, expectedVersion, item.Name, item.Location, item.InventoryStatus, item.Disposition,
		item.PaymentMethod, item.PurchasePrice, item.ProjectPrice, item.MarketValue,
		nullIfEmpty(item.CurrentTransactionID), item.Version, item.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, mapError(err)
	}
	if affected == 0 {
		return nil, store.ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.listItems(ctx, `
		SELECT `+itemColumns+`
		FROM items
		ORDER BY created_at, id
	`)
}

func (s *Store) ListItemsByTransaction(ctx context.Context, transactionID string) ([]domain.Item, error) {
	return s.listItems(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id IN (SELECT item_id FROM transaction_items WHERE transaction_id = $1)
		ORDER BY created_at, id
	`, transactionID)
}

func (s *Store) ListItemsByProject(ctx context.Context, projectID string) ([]domain.Item, error) {
	return s.listItems(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE location = $1
		ORDER BY created_at, id
	`, projectID)
}

func (s *Store) listItems(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, mapError(err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return items, nil
}

const transactionColumns = `id, project_id, direction, status, reimbursement_type, payment_method,
	subtotal, tax_rate, tax, amount, canonical, notes, version, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var txn domain.Transaction
	var reimbursement, payment, taxRate, notes sql.NullString
	err := row.Scan(&txn.ID, &txn.ProjectID, &txn.Direction, &txn.Status, &reimbursement, &payment,
		&txn.Subtotal, &taxRate, &txn.Tax, &txn.Amount, &txn.Canonical, &notes,
		&txn.Version, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	txn.ReimbursementType = domain.ReimbursementType(reimbursement.String)
	txn.PaymentMethod = domain.PaymentMethod(payment.String)
	txn.TaxRate = taxRate.String
	txn.Notes = notes.String
	return &txn, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	txn, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.loadMembership(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// UpsertTransaction inserts the initial record under the given id unless a
// row already exists; either way the stored row is returned. ON CONFLICT DO
// NOTHING keeps concurrent resolvers from creating duplicates.
func (s *Store) UpsertTransaction(ctx context.Context, id string, initial domain.Transaction) (*domain.Transaction, error) {
	if id == "" {
		return nil, store.ErrInvalid
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, project_id, direction, status, reimbursement_type, payment_method,
			subtotal, tax_rate, tax, amount, canonical, notes, version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO NOTHING
	`, id, initial.ProjectID, initial.Direction, initial.Status,
		nullIfEmpty(string(initial.ReimbursementType)), nullIfEmpty(string(initial.PaymentMethod)),
		initial.Subtotal, nullIfEmpty(initial.TaxRate), initial.Tax, initial.Amount,
		initial.Canonical, nullIfEmpty(initial.Notes), int64(1), now, now)
	if err != nil {
		return nil, mapError(err)
	}

	return s.GetTransaction(ctx, id)
}

func (s *Store) UpdateTransaction(ctx context.Context, id string, expectedVersion int64, patch domain.TransactionPatch) (*domain.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	txn, err := scanTransaction(tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, mapError(err)
	}
	if txn.Version != expectedVersion {
		return nil, store.ErrConflict
	}

	applyTransactionPatch(txn, patch)
	txn.Version++
	txn.UpdatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3, reimbursement_type = $4, payment_method = $5, subtotal = $6,
			tax_rate = $7, tax = $8, amount = $9, notes = $10, version = $11, updated_at = $12
		WHERE id = $1 AND version = $2
	`, id, expectedVersion, txn.Status, nullIfEmpty(string(txn.ReimbursementType)),
		nullIfEmpty(string(txn.PaymentMethod)), txn.Subtotal, nullIfEmpty(txn.TaxRate),
		txn.Tax, txn.Amount, nullIfEmpty(txn.Notes), txn.Version, txn.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, mapError(err)
	}
	if affected == 0 {
		return nil, store.ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	if err := s.loadMembership(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, id); err != nil {
		return mapError(err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return mapError(tx.Commit())
}

func (s *Store) AddItemToTransaction(ctx context.Context, id string, itemID string) (*domain.Transaction, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_items (transaction_id, item_id, added_at)
		VALUES ($1, $2, now())
		ON CONFLICT (transaction_id, item_id) DO NOTHING
	`, id, itemID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, mapError(err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		if err := s.bumpTransactionVersion(ctx, id); err != nil {
			return nil, err
		}
	}
	return s.GetTransaction(ctx, id)
}

func (s *Store) RemoveItemFromTransaction(ctx context.Context, id string, itemID string) (*domain.Transaction, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM transaction_items
		WHERE transaction_id = $1 AND item_id = $2
	`, id, itemID)
	if err != nil {
		return nil, mapError(err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		if err := s.bumpTransactionVersion(ctx, id); err != nil {
			return nil, err
		}
	}
	return s.GetTransaction(ctx, id)
}

// bumpTransactionVersion advances the version after a membership change so
// concurrent version-conditioned updates observe the new item set.
func (s *Store) bumpTransactionVersion(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET version = version + 1, updated_at = now()
		WHERE id = $1
	`, id)
	return mapError(err)
}

func (s *Store) ListTransactionsByItem(ctx context.Context, itemID string) ([]domain.Transaction, error) {
	return s.listTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id IN (SELECT transaction_id FROM transaction_items WHERE item_id = $1)
		ORDER BY created_at, id
	`, itemID)
}

func (s *Store) ListTransactionsByProject(ctx context.Context, projectID string) ([]domain.Transaction, error) {
	return s.listTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE project_id = $1
		ORDER BY created_at, id
	`, projectID)
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.listTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY created_at, id
	`)
}

func (s *Store) listTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, mapError(err)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	for i := range txns {
		if err := s.loadMembership(ctx, &txns[i]); err != nil {
			return nil, err
		}
	}
	return txns, nil
}

func (s *Store) loadMembership(ctx context.Context, txn *domain.Transaction) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY added_at, item_id
	`, txn.ID)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	txn.ItemIDs = txn.ItemIDs[:0]
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			return mapError(err)
		}
		txn.ItemIDs = append(txn.ItemIDs, itemID)
	}
	return mapError(rows.Err())
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return mapError(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalid
		}
		return mapError(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func applyItemPatch(item *domain.Item, patch domain.ItemPatch) {
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.Location != nil {
		item.Location = *patch.Location
	}
	if patch.InventoryStatus != nil {
		item.InventoryStatus = *patch.InventoryStatus
	}
	if patch.Disposition != nil {
		item.Disposition = *patch.Disposition
	}
	if patch.PaymentMethod != nil {
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
}

func applyTransactionPatch(txn *domain.Transaction, patch domain.TransactionPatch) {
	if patch.Status != nil {
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
}

// mapError folds driver failures into the store error taxonomy. Missing rows
// become ErrNotFound; dead connections become ErrUnavailable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return store.ErrUnavailable
	}
	var pgErr *pgconn.ConnectError
	if errors.As(err, &pgErr) {
		return store.ErrUnavailable
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
