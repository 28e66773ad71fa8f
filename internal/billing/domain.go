package billing

import "time"

// InvoiceStatus enumerates invoice statuses. Status always reflects the sum
// of recorded payments against the current total.
type InvoiceStatus string

const (
	StatusUnpaid    InvoiceStatus = "unpaid"
	StatusPartial   InvoiceStatus = "partial"
	StatusPaid      InvoiceStatus = "paid"
	StatusCancelled InvoiceStatus = "cancelled"
)

// PaymentMethod enumerates accepted payment methods.
type PaymentMethod string

const (
	MethodCash PaymentMethod = "cash"
	MethodYoco PaymentMethod = "yoco"
	MethodEFT  PaymentMethod = "eft"
)

// Valid reports whether the method is one of the closed set.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodYoco, MethodEFT:
		return true
	}
	return false
}

// CreditType enumerates credit ledger entry types.
type CreditType string

const (
	CreditOverpayment   CreditType = "overpayment"
	CreditShortDelivery CreditType = "short_delivery"
	CreditApplied       CreditType = "applied"
	CreditRefund        CreditType = "refund"
)

// Valid reports whether the type is one of the closed set.
func (t CreditType) Valid() bool {
	switch t {
	case CreditOverpayment, CreditShortDelivery, CreditApplied, CreditRefund:
		return true
	}
	return false
}

// Invoice is the billable record derived from one order, net of pre-applied
// credit. total == subtotal - creditApplied at all times; short deliveries
// shrink total and grow creditApplied in step.
type Invoice struct {
	ID            int64         `json:"id" db:"id"`
	OrderID       int64         `json:"order_id" db:"order_id"`
	CustomerID    int64         `json:"customer_id" db:"customer_id"`
	Subtotal      float64       `json:"subtotal" db:"subtotal"`
	CreditApplied float64       `json:"credit_applied" db:"credit_applied"`
	Total         float64       `json:"total" db:"total"`
	Status        InvoiceStatus `json:"status" db:"status"`
	DueDate       time.Time     `json:"due_date" db:"due_date"`
	PDFURL        *string       `json:"pdf_url,omitempty" db:"pdf_url"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// Payment is one append-only payment row. An invoice's paid-to-date is always
// the sum of its payments, never a stored counter.
type Payment struct {
	ID          int64         `json:"id" db:"id"`
	InvoiceID   int64         `json:"invoice_id" db:"invoice_id"`
	CustomerID  int64         `json:"customer_id" db:"customer_id"`
	Amount      float64       `json:"amount" db:"amount"`
	Method      PaymentMethod `json:"method" db:"method"`
	Reference   string        `json:"reference" db:"reference"`
	PaymentDate time.Time     `json:"payment_date" db:"payment_date"`
	Notes       string        `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// Credit is one signed ledger entry. A customer's balance is the clamped sum
// of their entries; entries are never mutated or deleted.
type Credit struct {
	ID         int64      `json:"id" db:"id"`
	CustomerID int64      `json:"customer_id" db:"customer_id"`
	Amount     float64    `json:"amount" db:"amount"`
	Reason     string     `json:"reason" db:"reason"`
	Type       CreditType `json:"type" db:"type"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// InvoiceWithDetails joins an invoice with its payments and derived figures.
type InvoiceWithDetails struct {
	Invoice
	CustomerName string    `json:"customer_name"`
	Payments     []Payment `json:"payments"`
	PaidAmount   float64   `json:"paid_amount"`
	Balance      float64   `json:"balance"`
}

// PaymentWithDetails is the payment record returned to callers, with resolved
// invoice and customer summaries.
type PaymentWithDetails struct {
	Payment
	CustomerName  string        `json:"customer_name"`
	InvoiceTotal  float64       `json:"invoice_total"`
	InvoiceStatus InvoiceStatus `json:"invoice_status"`
}

// InvoiceBalance is the row shape the statistics read model and the overdue
// scan aggregate.
type InvoiceBalance struct {
	ID         int64
	OrderID    int64
	CustomerID int64
	Status     InvoiceStatus
	Total      float64
	Paid       float64
	DueDate    time.Time
}
