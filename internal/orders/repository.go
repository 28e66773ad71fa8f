package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the order does not exist.
var ErrNotFound = errors.New("order not found")

// Repository reads order snapshots. Billing never writes to orders.
type Repository interface {
	Get(ctx context.Context, id int64) (*Order, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed order snapshot repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id int64) (*Order, error) {
	const query = `
		SELECT id, customer_id, delivery_fees, created_at
		FROM orders
		WHERE id = $1`

	var o Order
	var deliveryFees pgtype.Numeric
	err := r.pool.QueryRow(ctx, query, id).Scan(&o.ID, &o.CustomerID, &deliveryFees, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.DeliveryFees = numericToFloat64(deliveryFees)

	const itemsQuery = `
		SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.quantity, oi.price_at_order
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`

	rows, err := r.pool.Query(ctx, itemsQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		var quantity, price pgtype.Numeric
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &quantity, &price); err != nil {
			return nil, err
		}
		item.Quantity = numericToFloat64(quantity)
		item.PriceAtOrder = numericToFloat64(price)
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &o, nil
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)", id).Scan(&exists)
	return exists, err
}

func numericToFloat64(n pgtype.Numeric) float64 {
	if !n.Valid {
		return 0
	}
	f, _ := n.Float64Value()
	return f.Float64
}
