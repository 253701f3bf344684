package delivery

import (
	"database/sql"
	"time"

	"github.com/quickplate/fulfillment/internal/apperr"
)

type Store interface {
	ExistsByOrderID(orderID string) (bool, error)
	// CreateAndAssign inserts the delivery and, in the same transaction,
	// claims the longest-idle AVAILABLE courier. When the pool is empty the
	// delivery is stored as PENDING and the returned courier is nil.
	CreateAndAssign(d *Delivery) (*Courier, error)
	GetByID(id string) (*Delivery, error)
	GetByOrderID(orderID string) (*Delivery, error)
	List() ([]*Delivery, error)
	// Assign pairs a specific courier with a PENDING delivery, re-validating
	// both rows under lock.
	Assign(deliveryID, courierID string) (*Delivery, error)
	// Transition loads the delivery inside a transaction, applies fn, and
	// writes it back. If the delivery lands in a terminal status its courier
	// is released back to AVAILABLE in the same transaction.
	Transition(id string, fn func(*Delivery) error) (*Delivery, error)

	CreateCourier(c *Courier) error
	GetCourier(id string) (*Courier, error)
	ListCouriers() ([]*Courier, error)
	TransitionCourier(id string, fn func(*Courier) error) (*Courier, error)
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) EnsureSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS couriers (
			id VARCHAR(64) PRIMARY KEY,
			keycloak_id VARCHAR(64),
			name TEXT NOT NULL,
			phone TEXT NOT NULL,
			email TEXT,
			status VARCHAR(32) NOT NULL,
			current_lat DOUBLE PRECISION,
			current_lng DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id VARCHAR(64) PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL UNIQUE,
			customer_id VARCHAR(64) NOT NULL,
			restaurant_id VARCHAR(64) NOT NULL,
			courier_id VARCHAR(64) REFERENCES couriers(id),
			status VARCHAR(32) NOT NULL,
			pickup_address TEXT NOT NULL,
			pickup_lat DOUBLE PRECISION,
			pickup_lng DOUBLE PRECISION,
			delivery_address TEXT NOT NULL,
			delivery_lat DOUBLE PRECISION,
			delivery_lng DOUBLE PRECISION,
			cancellation_reason TEXT,
			customer_notes TEXT,
			courier_notes TEXT,
			assigned_at TIMESTAMPTZ,
			picked_up_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_courier_id ON deliveries(courier_id)`,
		`CREATE INDEX IF NOT EXISTS idx_couriers_status ON couriers(status, updated_at)`,
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
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM deliveries WHERE order_id = $1)`, orderID).
		Scan(&exists)
	return exists, err
}

// claimIdleCourier picks the courier that has been AVAILABLE the longest and
// flips it to BUSY. SKIP LOCKED keeps two concurrent assignments from racing
// over the same row; each claim sees a disjoint courier.
func claimIdleCourier(tx *sql.Tx) (*Courier, error) {
	c, err := scanCourier(tx.QueryRow(selectCourier + `
		WHERE status = 'AVAILABLE'
		ORDER BY updated_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.Status = CourierBusy
	c.UpdatedAt = time.Now()
	_, err = tx.Exec(`UPDATE couriers SET status = $2, updated_at = $3 WHERE id = $1`,
		c.ID, string(c.Status), c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLStore) CreateAndAssign(d *Delivery) (*Courier, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	courier, err := claimIdleCourier(tx)
	if err != nil {
		return nil, err
	}
	if courier != nil {
		now := time.Now()
		d.CourierID = &courier.ID
		d.Status = StatusCourierAssigned
		d.AssignedAt = &now
		d.UpdatedAt = now
	}

	_, err = tx.Exec(`
		INSERT INTO deliveries (id, order_id, customer_id, restaurant_id,
			courier_id, status, pickup_address, pickup_lat, pickup_lng,
			delivery_address, delivery_lat, delivery_lng, customer_notes,
			assigned_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.OrderID, d.CustomerID, d.RestaurantID, d.CourierID,
		string(d.Status), d.PickupAddress, d.PickupLat, d.PickupLng,
		d.DeliveryAddress, d.DeliveryLat, d.DeliveryLng, nullString(d.CustomerNotes),
		d.AssignedAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return courier, nil
}

const selectDelivery = `
	SELECT id, order_id, customer_id, restaurant_id, courier_id, status,
		pickup_address, pickup_lat, pickup_lng, delivery_address, delivery_lat,
		delivery_lng, cancellation_reason, customer_notes, courier_notes,
		assigned_at, picked_up_at, delivered_at, cancelled_at, created_at,
		updated_at
	FROM deliveries`

func (s *SQLStore) GetByID(id string) (*Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(selectDelivery+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("delivery %s not found", id)
	}
	return d, err
}

func (s *SQLStore) GetByOrderID(orderID string) (*Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(selectDelivery+` WHERE order_id = $1`, orderID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no delivery for order %s", orderID)
	}
	return d, err
}

func (s *SQLStore) List() ([]*Delivery, error) {
	rows, err := s.db.Query(selectDelivery + ` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLStore) Assign(deliveryID, courierID string) (*Delivery, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	d, err := scanDelivery(tx.QueryRow(selectDelivery+` WHERE id = $1 FOR UPDATE`, deliveryID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("delivery %s not found", deliveryID)
	}
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPending || d.CourierID != nil {
		return nil, apperr.InvalidState("delivery %s is %s and cannot be assigned", d.ID, d.Status)
	}

	c, err := scanCourier(tx.QueryRow(selectCourier+` WHERE id = $1 FOR UPDATE`, courierID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("courier %s not found", courierID)
	}
	if err != nil {
		return nil, err
	}
	if c.Status != CourierAvailable {
		return nil, apperr.BadRequest("courier %s is %s, not AVAILABLE", c.ID, c.Status)
	}

	now := time.Now()
	_, err = tx.Exec(`UPDATE couriers SET status = $2, updated_at = $3 WHERE id = $1`,
		c.ID, string(CourierBusy), now)
	if err != nil {
		return nil, err
	}

	d.CourierID = &c.ID
	d.Status = StatusCourierAssigned
	d.AssignedAt = &now
	d.UpdatedAt = now
	_, err = tx.Exec(`
		UPDATE deliveries SET courier_id = $2, status = $3, assigned_at = $4, updated_at = $5
		WHERE id = $1`,
		d.ID, d.CourierID, string(d.Status), d.AssignedAt, d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *SQLStore) Transition(id string, fn func(*Delivery) error) (*Delivery, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	d, err := scanDelivery(tx.QueryRow(selectDelivery+` WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("delivery %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(d); err != nil {
		return nil, err
	}
	d.UpdatedAt = time.Now()

	_, err = tx.Exec(`
		UPDATE deliveries SET courier_id = $2, status = $3,
			cancellation_reason = $4, courier_notes = $5, assigned_at = $6,
			picked_up_at = $7, delivered_at = $8, cancelled_at = $9, updated_at = $10
		WHERE id = $1`,
		d.ID, d.CourierID, string(d.Status), nullString(d.CancellationReason),
		nullString(d.CourierNotes), d.AssignedAt, d.PickedUpAt, d.DeliveredAt,
		d.CancelledAt, d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// A finished delivery frees its courier for the next assignment.
	if d.Status.IsTerminal() && d.CourierID != nil {
		_, err = tx.Exec(`
			UPDATE couriers SET status = $2, updated_at = $3
			WHERE id = $1 AND status = 'BUSY'`,
			*d.CourierID, string(CourierAvailable), d.UpdatedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *SQLStore) CreateCourier(c *Courier) error {
	_, err := s.db.Exec(`
		INSERT INTO couriers (id, keycloak_id, name, phone, email, status,
			current_lat, current_lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.KeycloakID, c.Name, c.Phone, nullString(c.Email),
		string(c.Status), c.CurrentLat, c.CurrentLng, c.CreatedAt, c.UpdatedAt)
	return err
}

const selectCourier = `
	SELECT id, keycloak_id, name, phone, email, status, current_lat,
		current_lng, created_at, updated_at
	FROM couriers`

func (s *SQLStore) GetCourier(id string) (*Courier, error) {
	c, err := scanCourier(s.db.QueryRow(selectCourier+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("courier %s not found", id)
	}
	return c, err
}

func (s *SQLStore) ListCouriers() ([]*Courier, error) {
	rows, err := s.db.Query(selectCourier + ` ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Courier
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) TransitionCourier(id string, fn func(*Courier) error) (*Courier, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := scanCourier(tx.QueryRow(selectCourier+` WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("courier %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now()

	_, err = tx.Exec(`
		UPDATE couriers SET status = $2, current_lat = $3, current_lng = $4, updated_at = $5
		WHERE id = $1`,
		c.ID, string(c.Status), c.CurrentLat, c.CurrentLng, c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDelivery(row rowScanner) (*Delivery, error) {
	d := &Delivery{}
	var (
		courierID                sql.NullString
		status                   string
		pickupLat, pickupLng     sql.NullFloat64
		deliveryLat, deliveryLng sql.NullFloat64
		reason, custNotes        sql.NullString
		courierNotes             sql.NullString
		assigned, pickedUp       sql.NullTime
		delivered, cancelled     sql.NullTime
	)

	err := row.Scan(&d.ID, &d.OrderID, &d.CustomerID, &d.RestaurantID,
		&courierID, &status, &d.PickupAddress, &pickupLat, &pickupLng,
		&d.DeliveryAddress, &deliveryLat, &deliveryLng, &reason, &custNotes,
		&courierNotes, &assigned, &pickedUp, &delivered, &cancelled,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if courierID.Valid {
		v := courierID.String
		d.CourierID = &v
	}
	d.Status = Status(status)
	d.PickupLat = nullFloat(pickupLat)
	d.PickupLng = nullFloat(pickupLng)
	d.DeliveryLat = nullFloat(deliveryLat)
	d.DeliveryLng = nullFloat(deliveryLng)
	d.CancellationReason = reason.String
	d.CustomerNotes = custNotes.String
	d.CourierNotes = courierNotes.String
	d.AssignedAt = nullTime(assigned)
	d.PickedUpAt = nullTime(pickedUp)
	d.DeliveredAt = nullTime(delivered)
	d.CancelledAt = nullTime(cancelled)
	return d, nil
}

func scanCourier(row rowScanner) (*Courier, error) {
	c := &Courier{}
	var (
		keycloakID, email sql.NullString
		status            string
		lat, lng          sql.NullFloat64
	)

	err := row.Scan(&c.ID, &keycloakID, &c.Name, &c.Phone, &email, &status,
		&lat, &lng, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if keycloakID.Valid {
		v := keycloakID.String
		c.KeycloakID = &v
	}
	c.Email = email.String
	c.Status = CourierStatus(status)
	c.CurrentLat = nullFloat(lat)
	c.CurrentLng = nullFloat(lng)
	return c, nil
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
