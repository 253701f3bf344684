package order

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickplate/fulfillment/internal/apperr"
)

// Store is the persistence boundary of the order service. Every state
// transition runs as one read-modify-write transaction via Transition.
type Store interface {
	Create(o *Order) error
	GetByID(id string) (*Order, error)
	List() ([]*Order, error)
	// Transition loads the order (with items and payment) inside a
	// transaction, applies fn, and writes the order and payment rows back.
	// An error from fn rolls the whole transaction back.
	Transition(id string, fn func(*Order) error) (*Order, error)
	// Delete removes the order after guard approves the loaded row, all in
	// one transaction.
	Delete(id string, guard func(*Order) error) error
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) EnsureSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			customer_id VARCHAR(64) NOT NULL,
			restaurant_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			total_price DECIMAL(10,2) NOT NULL,
			delivery_address TEXT NOT NULL,
			delivery_lat DOUBLE PRECISION,
			delivery_lng DOUBLE PRECISION,
			notes TEXT,
			rejection_reason TEXT,
			estimated_delivery_time TIMESTAMPTZ,
			confirmed_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id VARCHAR(64) PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			menu_item_id VARCHAR(64) NOT NULL,
			name TEXT NOT NULL,
			price DECIMAL(10,2) NOT NULL,
			quantity INTEGER NOT NULL,
			subtotal DECIMAL(10,2) NOT NULL,
			special_instructions TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id VARCHAR(64) PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
			amount DECIMAL(10,2) NOT NULL,
			method VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			transaction_id VARCHAR(128),
			paid_at TIMESTAMPTZ,
			refunded_at TIMESTAMPTZ,
			failure_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Create(o *Order) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO orders (id, customer_id, restaurant_id, status, total_price,
			delivery_address, delivery_lat, delivery_lng, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, o.CustomerID, o.RestaurantID, string(o.Status), o.TotalPrice.String(),
		o.DeliveryAddress, o.DeliveryLat, o.DeliveryLng, nullString(o.Notes),
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	for _, item := range o.Items {
		_, err = tx.Exec(`
			INSERT INTO order_items (id, order_id, menu_item_id, name, price, quantity, subtotal, special_instructions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, o.ID, item.MenuItemID, item.Name, item.Price.String(),
			item.Quantity, item.Subtotal.String(), nullString(item.SpecialInstructions))
		if err != nil {
			return err
		}
	}

	if o.Payment != nil {
		p := o.Payment
		_, err = tx.Exec(`
			INSERT INTO payments (id, order_id, amount, method, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, o.ID, p.Amount.String(), p.Method, string(p.Status), p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLStore) GetByID(id string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(selectOrder+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadChildren(queryer(s.db), o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *SQLStore) List() ([]*Order, error) {
	rows, err := s.db.Query(selectOrder + ` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range orders {
		if err := s.loadChildren(queryer(s.db), o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *SQLStore) Transition(id string, fn func(*Order) error) (*Order, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := scanOrder(tx.QueryRow(selectOrder+` WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(queryer(tx), o); err != nil {
		return nil, err
	}

	if err := fn(o); err != nil {
		return nil, err
	}
	o.UpdatedAt = time.Now()

	_, err = tx.Exec(`
		UPDATE orders SET status = $2, delivery_address = $3, delivery_lat = $4,
			delivery_lng = $5, notes = $6, rejection_reason = $7,
			estimated_delivery_time = $8, confirmed_at = $9, delivered_at = $10,
			cancelled_at = $11, updated_at = $12
		WHERE id = $1`,
		o.ID, string(o.Status), o.DeliveryAddress, o.DeliveryLat, o.DeliveryLng,
		nullString(o.Notes), nullString(o.RejectionReason), o.EstimatedDeliveryTime,
		o.ConfirmedAt, o.DeliveredAt, o.CancelledAt, o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if o.Payment != nil {
		p := o.Payment
		p.UpdatedAt = o.UpdatedAt
		_, err = tx.Exec(`
			UPDATE payments SET status = $2, transaction_id = $3, paid_at = $4,
				refunded_at = $5, failure_reason = $6, updated_at = $7
			WHERE id = $1`,
			p.ID, string(p.Status), nullString(p.TransactionID), p.PaidAt,
			p.RefundedAt, nullString(p.FailureReason), p.UpdatedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *SQLStore) Delete(id string, guard func(*Order) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	o, err := scanOrder(tx.QueryRow(selectOrder+` WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return err
	}
	if err := s.loadChildren(queryer(tx), o); err != nil {
		return err
	}

	if err := guard(o); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM orders WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

const selectOrder = `
	SELECT id, customer_id, restaurant_id, status, total_price, delivery_address,
		delivery_lat, delivery_lng, notes, rejection_reason, estimated_delivery_time,
		confirmed_at, delivered_at, cancelled_at, created_at, updated_at
	FROM orders`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	var (
		status, totalPrice     string
		notes, rejectionReason sql.NullString
		lat, lng               sql.NullFloat64
		eta, confirmed         sql.NullTime
		delivered, cancelled   sql.NullTime
	)

	err := row.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &status, &totalPrice,
		&o.DeliveryAddress, &lat, &lng, &notes, &rejectionReason, &eta,
		&confirmed, &delivered, &cancelled, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	o.TotalPrice, err = decimal.NewFromString(totalPrice)
	if err != nil {
		return nil, err
	}
	o.Notes = notes.String
	o.RejectionReason = rejectionReason.String
	o.DeliveryLat = nullFloat(lat)
	o.DeliveryLng = nullFloat(lng)
	o.EstimatedDeliveryTime = nullTime(eta)
	o.ConfirmedAt = nullTime(confirmed)
	o.DeliveredAt = nullTime(delivered)
	o.CancelledAt = nullTime(cancelled)
	return o, nil
}

// queryer lets loadChildren run against either the pool or a transaction.
type queryer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func (s *SQLStore) loadChildren(q queryer, o *Order) error {
	rows, err := q.Query(`
		SELECT id, menu_item_id, name, price, quantity, subtotal, special_instructions
		FROM order_items WHERE order_id = $1`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		item := Item{OrderID: o.ID}
		var price, subtotal string
		var instructions sql.NullString
		if err := rows.Scan(&item.ID, &item.MenuItemID, &item.Name, &price,
			&item.Quantity, &subtotal, &instructions); err != nil {
			return err
		}
		if item.Price, err = decimal.NewFromString(price); err != nil {
			return err
		}
		if item.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
			return err
		}
		item.SpecialInstructions = instructions.String
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	p := &Payment{OrderID: o.ID}
	var (
		amount, status        string
		txnID, failureReason  sql.NullString
		paidAt, refundedAt    sql.NullTime
	)
	err = q.QueryRow(`
		SELECT id, amount, method, status, transaction_id, paid_at, refunded_at,
			failure_reason, created_at, updated_at
		FROM payments WHERE order_id = $1`, o.ID).
		Scan(&p.ID, &amount, &p.Method, &status, &txnID, &paidAt, &refundedAt,
			&failureReason, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return err
	}
	p.Status = PaymentStatus(status)
	p.TransactionID = txnID.String
	p.FailureReason = failureReason.String
	p.PaidAt = nullTime(paidAt)
	p.RefundedAt = nullTime(refundedAt)
	o.Payment = p
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
