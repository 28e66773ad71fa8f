package orders

import "time"

// Order is the immutable snapshot the billing subsystem consumes. Items and
// their captured prices are fixed at order time and never recalculated from
// the live catalog.
type Order struct {
	ID           int64       `json:"id" db:"id"`
	CustomerID   int64       `json:"customer_id" db:"customer_id"`
	DeliveryFees float64     `json:"delivery_fees" db:"delivery_fees"`
	Items        []OrderItem `json:"items" db:"-"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// OrderItem is one line of an order with its price captured at order time.
type OrderItem struct {
	ID           int64   `json:"id" db:"id"`
	OrderID      int64   `json:"order_id" db:"order_id"`
	ProductID    int64   `json:"product_id" db:"product_id"`
	ProductName  string  `json:"product_name" db:"product_name"`
	Quantity     float64 `json:"quantity" db:"quantity"`
	PriceAtOrder float64 `json:"price_at_order" db:"price_at_order"`
}

// Item returns the line for a product, or nil when the product is not on the order.
func (o *Order) Item(productID int64) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			return &o.Items[i]
		}
	}
	return nil
}

// Subtotal sums price-at-order times quantity across all items.
func (o *Order) Subtotal() float64 {
	var total float64
	for _, item := range o.Items {
		total += item.PriceAtOrder * item.Quantity
	}
	return total
}
