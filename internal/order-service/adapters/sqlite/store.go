// Package sqlite stores orders in the embedded SQLite database. Items of one
// order are written in a single transaction and cascade on delete.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/sqlitedb"
	"github.com/jcmexdev/storefront-checkout/internal/pricing"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id                 TEXT PRIMARY KEY,
    order_number       TEXT NOT NULL UNIQUE,
    user_id            TEXT NOT NULL DEFAULT '',
    -- NULL until the payment intent exists; UNIQUE ignores NULLs
    payment_reference  TEXT UNIQUE,
    status             TEXT NOT NULL,
    total_amount       TEXT NOT NULL,
    currency           TEXT NOT NULL,
    shipping_address   TEXT NOT NULL,
    billing_address    TEXT,
    customer_email     TEXT NOT NULL,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders(user_id, created_at);

CREATE TABLE IF NOT EXISTS order_items (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id           TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id         TEXT NOT NULL,
    product_name       TEXT NOT NULL,
    product_image_url  TEXT NOT NULL DEFAULT '',
    quantity           INTEGER NOT NULL CHECK (quantity >= 1),
    price_at_time      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id, id);
`

const orderColumns = `id, order_number, user_id, COALESCE(payment_reference, ''), status, total_amount,
	currency, shipping_address, billing_address, customer_email, created_at, updated_at`

type Store struct {
	db *sql.DB
}

var _ domain.Store = (*Store)(nil)

// New applies the schema to db. The database must have foreign keys enabled
// (sqlitedb.Open does).
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: apply order schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) InsertOrder(ctx context.Context, o *domain.Order) error {
	shipping, billing, err := encodeAddresses(o)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO orders
			(id, order_number, user_id, payment_reference, status, total_amount, currency,
			 shipping_address, billing_address, customer_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		o.ID, o.OrderNumber, o.UserID, nullable(o.PaymentReference), string(o.Status),
		o.TotalAmount.String(), o.Currency, shipping, billing, o.CustomerEmail,
		sqlitedb.FormatTime(o.CreatedAt), sqlitedb.FormatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert order %s: %w", o.ID, err)
	}
	return nil
}

func (s *Store) InsertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin items tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO order_items
			(order_id, product_id, product_name, product_image_url, quantity, price_at_time)
		VALUES (?, ?, ?, ?, ?, ?)`
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, q,
			orderID, it.ProductID, it.ProductName, it.ProductImageURL, it.Quantity, it.PriceAtTime.String(),
		); err != nil {
			return fmt.Errorf("sqlite: insert item %s for order %s: %w", it.ProductID, orderID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit items for order %s: %w", orderID, err)
	}
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string, status domain.Status) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ? AND status = ?`, id, string(status))
	if err != nil {
		return fmt.Errorf("sqlite: delete order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete order %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetOrder(ctx, id); err != nil {
		return err
	}
	return domain.ErrStatusConflict
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Resource: "order", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order %s: %w", id, err)
	}
	return o, nil
}

func (s *Store) GetOrderByPaymentReference(ctx context.Context, ref string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference = ?`, ref)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Resource: "payment reference", Key: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order by payment reference %s: %w", ref, err)
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, f domain.ListFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, sqlitedb.FormatTime(f.CreatedBefore))
	}

	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list orders: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	const q = `
		SELECT order_id, product_id, product_name, product_image_url, quantity, price_at_time
		FROM   order_items
		WHERE  order_id = ?
		ORDER  BY id ASC`
	rows, err := s.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list items of %s: %w", orderID, err)
	}
	defer rows.Close()

	out := make([]domain.OrderItem, 0)
	for rows.Next() {
		var it domain.OrderItem
		var price string
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.ProductName, &it.ProductImageURL, &it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("sqlite: scan item of %s: %w", orderID, err)
		}
		if it.PriceAtTime, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("sqlite: item price %q: %w", price, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	st := domain.Stats{ByStatus: make(map[domain.Status]int), CompletedRevenue: decimal.Zero}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("sqlite: order stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, fmt.Errorf("sqlite: order stats: %w", err)
		}
		st.ByStatus[domain.Status(status)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	// Amounts are TEXT; summing in Go keeps them exact.
	amounts, err := s.db.QueryContext(ctx, `SELECT total_amount FROM orders WHERE status = ?`, string(domain.StatusCompleted))
	if err != nil {
		return st, fmt.Errorf("sqlite: completed revenue: %w", err)
	}
	defer amounts.Close()
	for amounts.Next() {
		var raw string
		if err := amounts.Scan(&raw); err != nil {
			return st, fmt.Errorf("sqlite: completed revenue: %w", err)
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return st, fmt.Errorf("sqlite: total amount %q: %w", raw, err)
		}
		st.CompletedRevenue = st.CompletedRevenue.Add(v)
	}
	return st, amounts.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, to domain.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), sqlitedb.FormatTime(at), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update status of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update status of %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetOrder(ctx, id); err != nil {
		return err
	}
	return domain.ErrStatusConflict
}

func (s *Store) SetPaymentReference(ctx context.Context, id, ref string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET payment_reference = ?, updated_at = ? WHERE id = ?`,
		ref, sqlitedb.FormatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set payment reference of %s: %w", id, err)
	}
	return expectOneRow(res, "order", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		o                domain.Order
		status, total    string
		shipping         string
		billing          sql.NullString
		created, updated string
	)
	if err := s.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.PaymentReference, &status, &total,
		&o.Currency, &shipping, &billing, &o.CustomerEmail, &created, &updated,
	); err != nil {
		return nil, err
	}

	o.Status = domain.Status(status)
	var err error
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("total amount %q: %w", total, err)
	}
	if err := json.Unmarshal([]byte(shipping), &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("shipping address: %w", err)
	}
	if billing.Valid {
		var b pricing.ShippingAddress
		if err := json.Unmarshal([]byte(billing.String), &b); err != nil {
			return nil, fmt.Errorf("billing address: %w", err)
		}
		o.BillingAddress = &b
	}
	if o.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = sqlitedb.ParseTime(updated); err != nil {
		return nil, err
	}
	return &o, nil
}

func encodeAddresses(o *domain.Order) (string, any, error) {
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return "", nil, fmt.Errorf("encode shipping address: %w", err)
	}
	if o.BillingAddress == nil {
		return string(shipping), nil, nil
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return "", nil, fmt.Errorf("encode billing address: %w", err)
	}
	return string(shipping), string(billing), nil
}

func expectOneRow(res sql.Result, resource, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &apperr.NotFoundError{Resource: resource, Key: key}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
