package billing

import "time"

type GenerateInvoiceRequest struct {
	OrderID int64 `json:"order_id" validate:"required,gt=0"`
}

type BulkGenerateRequest struct {
	OrderIDs []int64 `json:"order_ids" validate:"required,min=1,dive,gt=0"`
}

// BulkGenerateError pairs a failed order with its error message.
type BulkGenerateError struct {
	OrderID int64  `json:"order_id"`
	Message string `json:"message"`
}

// BulkGenerateResult summarises a bulk invoicing run. Failures are isolated
// per order; one bad order never aborts the batch.
type BulkGenerateResult struct {
	SuccessCount int                 `json:"success_count"`
	FailedCount  int                 `json:"failed_count"`
	Errors       []BulkGenerateError `json:"errors"`
}

type RecordPaymentInput struct {
	InvoiceID   int64         `json:"invoice_id" validate:"required,gt=0"`
	CustomerID  int64         `json:"customer_id" validate:"required,gt=0"`
	Amount      float64       `json:"amount"`
	Method      PaymentMethod `json:"method"`
	PaymentDate time.Time     `json:"payment_date"`
	Notes       string        `json:"notes,omitempty" validate:"max=500"`
	// Token, when present with method yoco, triggers an online charge before
	// anything is persisted.
	Token string `json:"token,omitempty"`
}

type ShortDeliveryItem struct {
	ProductID     int64   `json:"product_id" validate:"required,gt=0"`
	QuantityShort float64 `json:"quantity_short" validate:"required,gt=0"`
}

type RecordShortDeliveryInput struct {
	OrderID    int64               `json:"order_id" validate:"required,gt=0"`
	CustomerID int64               `json:"customer_id" validate:"required,gt=0"`
	Items      []ShortDeliveryItem `json:"items" validate:"required,min=1,dive"`
}

type AppendCreditInput struct {
	CustomerID int64      `json:"customer_id" validate:"required,gt=0"`
	Amount     float64    `json:"amount"`
	Reason     string     `json:"reason" validate:"required,max=1000"`
	Type       CreditType `json:"type"`
}

type ListInvoicesRequest struct {
	Status     *InvoiceStatus `json:"status,omitempty"`
	CustomerID *int64         `json:"customer_id,omitempty"`
	FromDate   *time.Time     `json:"from_date,omitempty"`
	ToDate     *time.Time     `json:"to_date,omitempty"`
	Limit      int            `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int            `json:"offset" validate:"gte=0"`
}

// StatsFilter narrows the invoice statistics read model.
type StatsFilter struct {
	CustomerID *int64     `json:"customer_id,omitempty"`
	FromDate   *time.Time `json:"from_date,omitempty"`
	ToDate     *time.Time `json:"to_date,omitempty"`
}

// StatsBucket is one partition of the invoice population.
type StatsBucket struct {
	Count             int     `json:"count"`
	AmountOutstanding float64 `json:"amount_outstanding"`
}

// InvoiceStats partitions invoices by payment reality. Cancelled invoices are
// excluded from every bucket and from revenue.
type InvoiceStats struct {
	Outstanding         StatsBucket `json:"outstanding"`
	Overdue             StatsBucket `json:"overdue"`
	Paid                StatsBucket `json:"paid"`
	Partial             StatsBucket `json:"partial"`
	TotalRevenue        float64     `json:"total_revenue"`
	AverageInvoiceValue float64     `json:"average_invoice_value"`
	InvoiceCount        int         `json:"invoice_count"`
}
