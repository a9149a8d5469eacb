package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

var tracer = otel.Tracer("stock-ledger/storage")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS people (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		email VARCHAR(254) NOT NULL,
		department VARCHAR(100) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		unit VARCHAR(32) NOT NULL DEFAULT '',
		quantity INT NOT NULL,
		minimum_quantity INT NOT NULL DEFAULT 0,
		initial_quantity INT NOT NULL,
		version INT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		CONSTRAINT chk_items_quantity CHECK (quantity >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		ref CHAR(36) NOT NULL,
		item_id BIGINT NOT NULL,
		type VARCHAR(16) NOT NULL,
		quantity INT NOT NULL,
		delta INT NOT NULL,
		quantity_after INT NOT NULL,
		actor_id BIGINT NULL,
		notes TEXT NOT NULL,
		occurred_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_transactions_ref (ref),
		KEY idx_transactions_item_occurred (item_id, occurred_at),
		KEY idx_transactions_occurred (occurred_at),
		CONSTRAINT fk_transactions_item FOREIGN KEY (item_id) REFERENCES items (id)
	)`,
}

// MySQLAdapter persists items, people and the append-only transactions table. Transactions are
// only ever inserted; there is no update or delete path.
type MySQLAdapter struct {
	db *sql.DB
}

// NormalizeDSN forces parseTime on a MySQL DSN; DATETIME columns only scan into time.Time with it.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	var item domain.Item
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, unit, quantity, minimum_quantity, initial_quantity, version, created_at, updated_at
		FROM items WHERE id = ?`, id,
	).Scan(&item.ID, &item.Name, &item.Unit, &item.Quantity, &item.MinimumQuantity,
		&item.InitialQuantity, &item.Version, &item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	if item.Quantity < 0 || item.MinimumQuantity < 0 || item.Quantity > domain.MaxQuantity || item.MinimumQuantity > domain.MaxQuantity {
		return domain.Item{}, domain.ErrInvalidQuantity
	}

	now := time.Now().UTC()
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO items (name, unit, quantity, minimum_quantity, initial_quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		item.Name, item.Unit, item.Quantity, item.MinimumQuantity, item.Quantity, now, now,
	)
	if err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Item{}, fmt.Errorf("item id: %w", err)
	}

	item.ID = id
	item.InitialQuantity = item.Quantity
	item.Version = 0
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	q := `SELECT id, name, unit, quantity, minimum_quantity, initial_quantity, version, created_at, updated_at FROM items`
	var args []interface{}
	if filter.LowStockOnly {
		q += ` WHERE quantity <= minimum_quantity`
	}
	q += ` ORDER BY id`
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Unit, &item.Quantity, &item.MinimumQuantity,
			&item.InitialQuantity, &item.Version, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (m *MySQLAdapter) GetPerson(ctx context.Context, id int64) (domain.Person, error) {
	var p domain.Person
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, email, department, created_at FROM people WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Email, &p.Department, &p.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Person{}, domain.ErrPersonNotFound
	}
	if err != nil {
		return domain.Person{}, fmt.Errorf("query person: %w", err)
	}
	return p, nil
}

func (m *MySQLAdapter) CreatePerson(ctx context.Context, person domain.Person) (domain.Person, error) {
	now := time.Now().UTC()
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO people (name, email, department, created_at) VALUES (?, ?, ?, ?)`,
		person.Name, person.Email, person.Department, now,
	)
	if err != nil {
		return domain.Person{}, fmt.Errorf("insert person: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Person{}, fmt.Errorf("person id: %w", err)
	}
	person.ID = id
	person.CreatedAt = now
	return person, nil
}

// Commit runs the version-guarded quantity update and the transaction insert in one SQL
// transaction. A zero-row update means another writer moved the version first.
func (m *MySQLAdapter) Commit(ctx context.Context, c domain.Commit) (domain.Transaction, error) {
	txn := c.Transaction
	ctx, span := tracer.Start(ctx, "mysql.Commit", trace.WithAttributes(
		attribute.Int64("item.id", txn.ItemID),
		attribute.Int("item.expected_version", c.ExpectedVersion),
	))
	defer span.End()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE items
		SET quantity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		c.NewQuantity, txn.OccurredAt, txn.ItemID, c.ExpectedVersion,
	)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("update item quantity: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, txn.ItemID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrItemNotFound
		}
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("check item: %w", err)
		}
		return domain.Transaction{}, domain.ErrStorageConflict
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (ref, item_id, type, quantity, delta, quantity_after, actor_id, notes, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.Ref, txn.ItemID, txn.Type.String(), txn.Quantity, txn.Delta, txn.QuantityAfter,
		nullableID(txn.ActorID), txn.Notes, txn.OccurredAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return domain.Transaction{}, domain.ErrDuplicateTransaction
		}
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Transaction{}, fmt.Errorf("commit: %w", err)
	}

	txn.ID = id
	return txn, nil
}

func (m *MySQLAdapter) ListTransactions(ctx context.Context, query domain.TransactionQuery) ([]domain.Transaction, error) {
	var (
		conds []string
		args  []interface{}
	)
	if query.ItemID != 0 {
		conds = append(conds, "item_id = ?")
		args = append(args, query.ItemID)
	}
	if query.Type != domain.TransactionTypeUnknown {
		conds = append(conds, "type = ?")
		args = append(args, query.Type.String())
	}
	if !query.Since.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, query.Since.UTC())
	}
	if !query.Until.IsZero() {
		conds = append(conds, "occurred_at < ?")
		args = append(args, query.Until.UTC())
	}
	if query.BeforeID != 0 {
		conds = append(conds, "id < ?")
		args = append(args, query.BeforeID)
	}

	q := `SELECT id, ref, item_id, type, quantity, delta, quantity_after, actor_id, notes, occurred_at FROM transactions`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at DESC, id DESC"
	if query.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, query.Limit)
	}

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0)
	for rows.Next() {
		var (
			txn     domain.Transaction
			typ     string
			actorID sql.NullInt64
		)
		if err := rows.Scan(&txn.ID, &txn.Ref, &txn.ItemID, &typ, &txn.Quantity, &txn.Delta,
			&txn.QuantityAfter, &actorID, &txn.Notes, &txn.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if txn.Type, err = domain.ParseTransactionType(typ); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", txn.ID, err)
		}
		txn.ActorID = actorID.Int64
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (m *MySQLAdapter) SumDeltas(ctx context.Context, itemID int64) (int, int, error) {
	var count, net int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(delta), 0) FROM transactions WHERE item_id = ?`, itemID,
	).Scan(&count, &net)
	if err != nil {
		return 0, 0, fmt.Errorf("sum deltas: %w", err)
	}
	return count, net, nil
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
