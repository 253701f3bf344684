package restaurant

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickplate/fulfillment/internal/apperr"
)

type Store interface {
	ExistsByOrderID(orderID string) (bool, error)
	Create(ro *RestaurantOrder) error
	GetByID(id string) (*RestaurantOrder, error)
	GetByOrderID(orderID string) (*RestaurantOrder, error)
	ListByRestaurant(restaurantID string) ([]*RestaurantOrder, error)
	// Transition loads the restaurant order inside a transaction, applies
	// fn, and writes it back. An error from fn rolls everything back.
	Transition(id string, fn func(*RestaurantOrder) error) (*RestaurantOrder, error)

	GetRestaurant(id string) (*Restaurant, error)
	UpsertRestaurant(r *Restaurant) error
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) EnsureSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS restaurants (
			id VARCHAR(64) PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS restaurant_orders (
			id VARCHAR(64) PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL UNIQUE,
			restaurant_id VARCHAR(64) NOT NULL,
			customer_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			total_price DECIMAL(10,2) NOT NULL,
			delivery_address TEXT NOT NULL,
			customer_notes TEXT,
			restaurant_name TEXT,
			restaurant_address TEXT,
			restaurant_lat DOUBLE PRECISION,
			restaurant_lng DOUBLE PRECISION,
			rejection_reason TEXT,
			estimated_prep_time_minutes INTEGER,
			received_at TIMESTAMPTZ NOT NULL,
			accepted_at TIMESTAMPTZ,
			rejected_at TIMESTAMPTZ,
			preparing_at TIMESTAMPTZ,
			ready_at TIMESTAMPTZ,
			picked_up_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS restaurant_order_items (
			id VARCHAR(64) PRIMARY KEY,
			restaurant_order_id VARCHAR(64) NOT NULL REFERENCES restaurant_orders(id) ON DELETE CASCADE,
			menu_item_id VARCHAR(64) NOT NULL,
			name TEXT NOT NULL,
			price DECIMAL(10,2) NOT NULL,
			quantity INTEGER NOT NULL,
			special_instructions TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_restaurant_orders_restaurant_id ON restaurant_orders(restaurant_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ExistsByOrderID(orderID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM restaurant_orders WHERE order_id = $1)`, orderID).
		Scan(&exists)
	return exists, err
}

func (s *SQLStore) Create(ro *RestaurantOrder) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO restaurant_orders (id, order_id, restaurant_id, customer_id,
			status, total_price, delivery_address, customer_notes, restaurant_name,
			restaurant_address, restaurant_lat, restaurant_lng, received_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		ro.ID, ro.OrderID, ro.RestaurantID, ro.CustomerID, string(ro.Status),
		ro.TotalPrice.String(), ro.DeliveryAddress, nullString(ro.CustomerNotes),
		nullString(ro.RestaurantName), nullString(ro.RestaurantAddress),
		ro.RestaurantLat, ro.RestaurantLng, ro.ReceivedAt, ro.CreatedAt, ro.UpdatedAt)
	if err != nil {
		return err
	}

	for _, item := range ro.Items {
		_, err = tx.Exec(`
			INSERT INTO restaurant_order_items (id, restaurant_order_id, menu_item_id, name, price, quantity, special_instructions)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, ro.ID, item.MenuItemID, item.Name, item.Price.String(),
			item.Quantity, nullString(item.SpecialInstructions))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const selectRestaurantOrder = `
	SELECT id, order_id, restaurant_id, customer_id, status, total_price,
		delivery_address, customer_notes, restaurant_name, restaurant_address,
		restaurant_lat, restaurant_lng, rejection_reason,
		estimated_prep_time_minutes, received_at, accepted_at, rejected_at,
		preparing_at, ready_at, picked_up_at, created_at, updated_at
	FROM restaurant_orders`

func (s *SQLStore) GetByID(id string) (*RestaurantOrder, error) {
	ro, err := scanRestaurantOrder(s.db.QueryRow(selectRestaurantOrder+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("restaurant order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(s.db, ro); err != nil {
		return nil, err
	}
	return ro, nil
}

func (s *SQLStore) GetByOrderID(orderID string) (*RestaurantOrder, error) {
	ro, err := scanRestaurantOrder(s.db.QueryRow(selectRestaurantOrder+` WHERE order_id = $1`, orderID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no restaurant order for order %s", orderID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(s.db, ro); err != nil {
		return nil, err
	}
	return ro, nil
}

func (s *SQLStore) ListByRestaurant(restaurantID string) ([]*RestaurantOrder, error) {
	rows, err := s.db.Query(selectRestaurantOrder+` WHERE restaurant_id = $1 ORDER BY received_at DESC`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RestaurantOrder
	for rows.Next() {
		ro, err := scanRestaurantOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ro)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, ro := range out {
		if err := s.loadItems(s.db, ro); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) Transition(id string, fn func(*RestaurantOrder) error) (*RestaurantOrder, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ro, err := scanRestaurantOrder(tx.QueryRow(selectRestaurantOrder+` WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("restaurant order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(tx, ro); err != nil {
		return nil, err
	}

	if err := fn(ro); err != nil {
		return nil, err
	}
	ro.UpdatedAt = time.Now()

	_, err = tx.Exec(`
		UPDATE restaurant_orders SET status = $2, rejection_reason = $3,
			estimated_prep_time_minutes = $4, accepted_at = $5, rejected_at = $6,
			preparing_at = $7, ready_at = $8, picked_up_at = $9, updated_at = $10
		WHERE id = $1`,
		ro.ID, string(ro.Status), nullString(ro.RejectionReason),
		ro.EstimatedPrepTimeMinutes, ro.AcceptedAt, ro.RejectedAt,
		ro.PreparingAt, ro.ReadyAt, ro.PickedUpAt, ro.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ro, nil
}

func (s *SQLStore) GetRestaurant(id string) (*Restaurant, error) {
	r := &Restaurant{}
	var lat, lng sql.NullFloat64
	err := s.db.QueryRow(`SELECT id, name, address, lat, lng FROM restaurants WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Address, &lat, &lng)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("restaurant %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	r.Lat = nullFloat(lat)
	r.Lng = nullFloat(lng)
	return r, nil
}

func (s *SQLStore) UpsertRestaurant(r *Restaurant) error {
	_, err := s.db.Exec(`
		INSERT INTO restaurants (id, name, address, lat, lng)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = $2, address = $3, lat = $4, lng = $5`,
		r.ID, r.Name, r.Address, r.Lat, r.Lng)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRestaurantOrder(row rowScanner) (*RestaurantOrder, error) {
	ro := &RestaurantOrder{}
	var (
		status, totalPrice               string
		notes, name, address, rejection  sql.NullString
		lat, lng                         sql.NullFloat64
		prepTime                         sql.NullInt64
		accepted, rejected, preparing    sql.NullTime
		ready, pickedUp                  sql.NullTime
	)

	err := row.Scan(&ro.ID, &ro.OrderID, &ro.RestaurantID, &ro.CustomerID,
		&status, &totalPrice, &ro.DeliveryAddress, &notes, &name, &address,
		&lat, &lng, &rejection, &prepTime, &ro.ReceivedAt, &accepted, &rejected,
		&preparing, &ready, &pickedUp, &ro.CreatedAt, &ro.UpdatedAt)
	if err != nil {
		return nil, err
	}

	ro.Status = Status(status)
	if ro.TotalPrice, err = decimal.NewFromString(totalPrice); err != nil {
		return nil, err
	}
	ro.CustomerNotes = notes.String
	ro.RestaurantName = name.String
	ro.RestaurantAddress = address.String
	ro.RestaurantLat = nullFloat(lat)
	ro.RestaurantLng = nullFloat(lng)
	ro.RejectionReason = rejection.String
	if prepTime.Valid {
		v := int(prepTime.Int64)
		ro.EstimatedPrepTimeMinutes = &v
	}
	ro.AcceptedAt = nullTime(accepted)
	ro.RejectedAt = nullTime(rejected)
	ro.PreparingAt = nullTime(preparing)
	ro.ReadyAt = nullTime(ready)
	ro.PickedUpAt = nullTime(pickedUp)
	return ro, nil
}

type queryer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLStore) loadItems(q queryer, ro *RestaurantOrder) error {
	rows, err := q.Query(`
		SELECT id, menu_item_id, name, price, quantity, special_instructions
		FROM restaurant_order_items WHERE restaurant_order_id = $1`, ro.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		item := Item{RestaurantOrderID: ro.ID}
		var price string
		var instructions sql.NullString
		if err := rows.Scan(&item.ID, &item.MenuItemID, &item.Name, &price,
			&item.Quantity, &instructions); err != nil {
			return err
		}
		if item.Price, err = decimal.NewFromString(price); err != nil {
			return err
		}
		item.SpecialInstructions = instructions.String
		ro.Items = append(ro.Items, item)
	}
	return rows.Err()
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
