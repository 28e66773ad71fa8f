package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/greenbox-ops/greenbox/internal/orders"
	"github.com/greenbox-ops/greenbox/internal/platform/httpx"
	"github.com/greenbox-ops/greenbox/internal/shared"
)

// Typed failures surfaced to handlers. Each wraps an httpx sentinel so the
// HTTP layer can map it to a status code without string matching.
var (
	ErrOrderNotFound      = fmt.Errorf("%w: order not found", httpx.ErrNotFound)
	ErrInvoiceNotFound    = fmt.Errorf("%w: invoice not found", httpx.ErrNotFound)
	ErrInvoiceExists      = fmt.Errorf("%w: invoice already exists", httpx.ErrConflict)
	ErrCustomerMismatch   = fmt.Errorf("%w: customer mismatch", httpx.ErrConflict)
	ErrInvoiceCancelled   = fmt.Errorf("%w: invoice is cancelled", httpx.ErrConflict)
	ErrInvoiceHasPayments = fmt.Errorf("%w: invoice has recorded payments", httpx.ErrConflict)
	ErrAmountNotPositive  = fmt.Errorf("%w: amount must be positive", httpx.ErrValidation)
	ErrInvalidMethod      = fmt.Errorf("%w: invalid payment method", httpx.ErrValidation)
	ErrInvalidCreditType  = fmt.Errorf("%w: invalid credit type", httpx.ErrValidation)
)

const (
	paymentTermDays  = 14
	eftLoyaltyPoints = 5
)

// Gateway charges a card token online. Implemented by gateway/yoco.
type Gateway interface {
	Charge(ctx context.Context, token string, amountInCents int) (string, error)
}

// Auditor records billing mutations for the audit trail.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder counts billing events. Implemented by observability.Metrics.
type Recorder interface {
	InvoiceGenerated()
	PaymentRecorded(method string)
	CreditIssued(entryType string)
}

// Service implements invoice generation, payment recording, short-delivery
// compensation and the statistics read model. Every operation that reads a
// derived value and then writes dependent rows runs inside one repository
// transaction.
type Service struct {
	repo    Repository
	orders  orders.Repository
	gateway Gateway
	audit   Auditor
	metrics Recorder
	cache   *Cache
	logger  *slog.Logger
	now     func() time.Time
}

// NewService wires the billing service. gateway, audit, metrics and cache may
// be nil; the service degrades to the corresponding no-op.
func NewService(repo Repository, orderRepo orders.Repository, gateway Gateway, audit Auditor, metrics Recorder, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{
		repo:    repo,
		orders:  orderRepo,
		gateway: gateway,
		audit:   audit,
		metrics: metrics,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// CreditBalance returns the customer's standing credit, clamped at zero. The
// ledger is append-only; the balance is always derived from the sum of
// entries, never stored.
func (s *Service) CreditBalance(ctx context.Context, customerID int64) (float64, error) {
	sum, err := s.repo.SumCredits(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("billing: sum credits: %w", err)
	}
	return math.Max(0, roundCents(sum)), nil
}

// AppendCredit appends a manual ledger entry, such as a goodwill credit.
func (s *Service) AppendCredit(ctx context.Context, in AppendCreditInput) (*Credit, error) {
	if in.Amount == 0 {
		return nil, ErrAmountNotPositive
	}
	if !in.Type.Valid() {
		return nil, ErrInvalidCreditType
	}
	credit := Credit{
		CustomerID: in.CustomerID,
		Amount:     roundCents(in.Amount),
		Reason:     in.Reason,
		Type:       in.Type,
		CreatedAt:  s.now(),
	}
	id, err := s.repo.InsertCredit(ctx, credit)
	if err != nil {
		return nil, fmt.Errorf("billing: insert credit: %w", err)
	}
	credit.ID = id
	s.metrics.CreditIssued(string(in.Type))
	s.recordAudit(ctx, "credit.append", "credit", id, map[string]any{
		"customer_id": in.CustomerID,
		"amount":      credit.Amount,
		"type":        string(in.Type),
	})
	return &credit, nil
}

// ListCredits returns a customer's ledger entries, newest first.
func (s *Service) ListCredits(ctx context.Context, customerID int64) ([]Credit, error) {
	return s.repo.ListCredits(ctx, customerID)
}

// GenerateInvoice creates the invoice for an order, applying any standing
// customer credit up to the subtotal. At most one invoice may exist per
// order.
func (s *Service) GenerateInvoice(ctx context.Context, orderID int64) (*Invoice, error) {
	if _, err := s.repo.GetInvoiceByOrder(ctx, orderID); err == nil {
		return nil, fmt.Errorf("%w for order %d", ErrInvoiceExists, orderID)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("billing: lookup invoice: %w", err)
	}

	order, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("billing: load order: %w", err)
	}

	// Delivery fees are billed outside this subsystem; the invoice covers the
	// line items at their captured prices only.
	subtotal := roundCents(order.Subtotal())

	var invoice Invoice
	var creditToApply float64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		balance, err := tx.SumCredits(ctx, order.CustomerID)
		if err != nil {
			return fmt.Errorf("sum credits: %w", err)
		}
		balance = math.Max(0, roundCents(balance))

		creditToApply = math.Min(balance, subtotal)
		total := roundCents(subtotal - creditToApply)

		status := StatusUnpaid
		if total == 0 {
			status = StatusPaid
		}

		invoice = Invoice{
			OrderID:       orderID,
			CustomerID:    order.CustomerID,
			Subtotal:      subtotal,
			CreditApplied: creditToApply,
			Total:         total,
			Status:        status,
			DueDate:       s.now().AddDate(0, 0, paymentTermDays),
			CreatedAt:     s.now(),
			UpdatedAt:     s.now(),
		}
		id, err := tx.CreateInvoice(ctx, invoice)
		if errors.Is(err, ErrDuplicateInvoice) {
			return fmt.Errorf("%w for order %d", ErrInvoiceExists, orderID)
		}
		if err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		invoice.ID = id

		if creditToApply > 0 {
			_, err := tx.InsertCredit(ctx, Credit{
				CustomerID: order.CustomerID,
				Amount:     -creditToApply,
				Reason:     fmt.Sprintf("Applied to invoice #%d", id),
				Type:       CreditApplied,
				CreatedAt:  s.now(),
			})
			if err != nil {
				return fmt.Errorf("apply credit: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.InvoiceGenerated()
	if creditToApply > 0 {
		s.metrics.CreditIssued(string(CreditApplied))
	}
	s.recordAudit(ctx, "invoice.generate", "invoice", invoice.ID, map[string]any{
		"order_id":       orderID,
		"customer_id":    order.CustomerID,
		"total":          invoice.Total,
		"credit_applied": creditToApply,
	})
	s.bumpStats(ctx)
	s.logger.Info("invoice generated",
		"invoice_id", invoice.ID,
		"order_id", orderID,
		"total", invoice.Total,
		"credit_applied", creditToApply,
	)
	return &invoice, nil
}

// GenerateBulkInvoices runs the single-order path per order id. Failures are
// collected per order; the batch always completes.
func (s *Service) GenerateBulkInvoices(ctx context.Context, orderIDs []int64) BulkGenerateResult {
	result := BulkGenerateResult{Errors: []BulkGenerateError{}}
	for _, orderID := range orderIDs {
		if _, err := s.GenerateInvoice(ctx, orderID); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, BulkGenerateError{OrderID: orderID, Message: err.Error()})
			continue
		}
		result.SuccessCount++
	}
	return result
}

// RecordPayment appends a payment and rederives the invoice status from the
// full payment sum. Overpayment becomes a standing credit; EFT payments earn
// loyalty points. A yoco token triggers an online charge before anything is
// persisted.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (*PaymentWithDetails, error) {
	invoice, err := s.getInvoice(ctx, s.repo, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.CustomerID != in.CustomerID {
		return nil, fmt.Errorf("%w: invoice %d belongs to another customer", ErrCustomerMismatch, in.InvoiceID)
	}
	if in.Amount <= 0 {
		return nil, ErrAmountNotPositive
	}
	if !in.Method.Valid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidMethod, in.Method)
	}
	if invoice.Status == StatusCancelled {
		return nil, fmt.Errorf("%w: invoice %d", ErrInvoiceCancelled, in.InvoiceID)
	}

	amount := roundCents(in.Amount)
	notes := in.Notes
	reference := ""
	if in.Method == MethodYoco && in.Token != "" {
		if s.gateway == nil {
			return nil, fmt.Errorf("%w: yoco payment failed: gateway not configured", httpx.ErrGateway)
		}
		chargeID, err := s.gateway.Charge(ctx, in.Token, int(math.Round(amount*100)))
		if err != nil {
			return nil, fmt.Errorf("%w: yoco payment failed: %v", httpx.ErrGateway, err)
		}
		reference = chargeID
		if notes != "" {
			notes += " "
		}
		notes += fmt.Sprintf("(Yoco charge: %s)", chargeID)
	}

	paymentDate := in.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = s.now()
	}

	payment := Payment{
		InvoiceID:   in.InvoiceID,
		CustomerID:  in.CustomerID,
		Amount:      amount,
		Method:      in.Method,
		Reference:   reference,
		PaymentDate: paymentDate,
		Notes:       notes,
		CreatedAt:   s.now(),
	}

	var overpayment float64
	var newStatus InvoiceStatus
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, in.InvoiceID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: invoice %d", ErrInvoiceNotFound, in.InvoiceID)
		}
		if err != nil {
			return fmt.Errorf("lock invoice: %w", err)
		}
		if inv.Status == StatusCancelled {
			return fmt.Errorf("%w: invoice %d", ErrInvoiceCancelled, in.InvoiceID)
		}
		invoice = inv

		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		payment.ID = id

		// The paid-to-date figure is always recomputed from the payment rows.
		totalPaid, err := tx.SumPayments(ctx, in.InvoiceID)
		if err != nil {
			return fmt.Errorf("sum payments: %w", err)
		}
		totalPaid = roundCents(totalPaid)

		switch {
		case totalPaid >= inv.Total:
			newStatus = StatusPaid
			excess := roundCents(totalPaid - inv.Total)
			// Cap at this payment's amount so an already-settled invoice
			// cannot convert the same excess into credit twice.
			overpayment = math.Min(excess, amount)
			if overpayment > 0 {
				_, err := tx.InsertCredit(ctx, Credit{
					CustomerID: in.CustomerID,
					Amount:     overpayment,
					Reason:     fmt.Sprintf("Overpayment on invoice #%d", in.InvoiceID),
					Type:       CreditOverpayment,
					CreatedAt:  s.now(),
				})
				if err != nil {
					return fmt.Errorf("record overpayment: %w", err)
				}
			}
		case totalPaid > 0:
			newStatus = StatusPartial
		default:
			newStatus = StatusUnpaid
		}

		if in.Method == MethodEFT {
			if err := tx.IncrementLoyaltyPoints(ctx, in.CustomerID, eftLoyaltyPoints); err != nil {
				return fmt.Errorf("loyalty points: %w", err)
			}
		}

		if newStatus != inv.Status {
			if err := tx.UpdateInvoiceStatus(ctx, in.InvoiceID, newStatus); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentRecorded(string(in.Method))
	if overpayment > 0 {
		s.metrics.CreditIssued(string(CreditOverpayment))
	}
	s.recordAudit(ctx, "payment.record", "payment", payment.ID, map[string]any{
		"invoice_id":  in.InvoiceID,
		"customer_id": in.CustomerID,
		"amount":      amount,
		"method":      string(in.Method),
		"overpayment": overpayment,
	})
	s.bumpStats(ctx)
	s.logger.Info("payment recorded",
		"payment_id", payment.ID,
		"invoice_id", in.InvoiceID,
		"amount", amount,
		"method", string(in.Method),
		"status", string(newStatus),
	)

	customerName, err := s.repo.GetCustomerName(ctx, in.CustomerID)
	if err != nil {
		customerName = ""
	}
	return &PaymentWithDetails{
		Payment:       payment,
		CustomerName:  customerName,
		InvoiceTotal:  invoice.Total,
		InvoiceStatus: newStatus,
	}, nil
}

// RecordShortDelivery compensates a customer for under-delivered items,
// priced at the order-time snapshot. When the order's invoice is still open
// the credit is immediately consumed against it via a paired applied entry;
// the ledger's net movement is zero but both events stay auditable.
func (s *Service) RecordShortDelivery(ctx context.Context, in RecordShortDeliveryInput) (*Credit, error) {
	order, err := s.orders.Get(ctx, in.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %d", ErrOrderNotFound, in.OrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("billing: load order: %w", err)
	}
	if order.CustomerID != in.CustomerID {
		return nil, fmt.Errorf("%w: order %d belongs to another customer", ErrCustomerMismatch, in.OrderID)
	}

	var totalCredit float64
	parts := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		line := order.Item(item.ProductID)
		if line == nil {
			return nil, fmt.Errorf("%w: product %d is not in order %d", httpx.ErrValidation, item.ProductID, in.OrderID)
		}
		if item.QuantityShort <= 0 {
			return nil, fmt.Errorf("%w: short quantity for %s must be positive", httpx.ErrValidation, line.ProductName)
		}
		if item.QuantityShort > line.Quantity {
			return nil, fmt.Errorf("%w: short quantity for %s exceeds ordered quantity", httpx.ErrValidation, line.ProductName)
		}
		lineCredit := roundCents(line.PriceAtOrder * item.QuantityShort)
		totalCredit += lineCredit
		parts = append(parts, fmt.Sprintf("%s: %s x R%.2f = R%.2f",
			line.ProductName, formatQuantity(item.QuantityShort), line.PriceAtOrder, lineCredit))
	}
	totalCredit = roundCents(totalCredit)
	reason := strings.Join(parts, "; ")

	credit := Credit{
		CustomerID: in.CustomerID,
		Amount:     totalCredit,
		Reason:     reason,
		Type:       CreditShortDelivery,
		CreatedAt:  s.now(),
	}

	var applied float64
	var adjustedInvoiceID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		id, err := tx.InsertCredit(ctx, credit)
		if err != nil {
			return fmt.Errorf("insert credit: %w", err)
		}
		credit.ID = id

		inv, err := tx.GetInvoiceByOrderForUpdate(ctx, in.OrderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock invoice: %w", err)
		}
		if inv.Status == StatusPaid || inv.Status == StatusCancelled {
			return nil
		}

		// Consume only up to the remaining total. The invoice clamps at zero
		// and the unconsumed remainder stays on the ledger as standing
		// credit.
		applied = math.Min(totalCredit, inv.Total)
		if applied > 0 {
			_, err := tx.InsertCredit(ctx, Credit{
				CustomerID: in.CustomerID,
				Amount:     -applied,
				Reason:     fmt.Sprintf("Applied to invoice #%d (short delivery)", inv.ID),
				Type:       CreditApplied,
				CreatedAt:  s.now(),
			})
			if err != nil {
				return fmt.Errorf("apply credit: %w", err)
			}
		}

		newTotal := roundCents(inv.Total - applied)
		newCreditApplied := roundCents(inv.CreditApplied + applied)

		totalPaid, err := tx.SumPayments(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("sum payments: %w", err)
		}
		status := StatusUnpaid
		switch {
		case roundCents(totalPaid) >= newTotal:
			status = StatusPaid
		case totalPaid > 0:
			status = StatusPartial
		}

		if err := tx.AdjustInvoice(ctx, inv.ID, newTotal, newCreditApplied, status); err != nil {
			return fmt.Errorf("adjust invoice: %w", err)
		}
		adjustedInvoiceID = inv.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CreditIssued(string(CreditShortDelivery))
	if applied > 0 {
		s.metrics.CreditIssued(string(CreditApplied))
	}
	s.recordAudit(ctx, "short_delivery.record", "credit", credit.ID, map[string]any{
		"order_id":    in.OrderID,
		"customer_id": in.CustomerID,
		"amount":      totalCredit,
		"applied":     applied,
		"invoice_id":  adjustedInvoiceID,
	})
	s.bumpStats(ctx)
	s.logger.Info("short delivery recorded",
		"order_id", in.OrderID,
		"credit_id", credit.ID,
		"amount", totalCredit,
		"applied", applied,
	)
	return &credit, nil
}

// CancelInvoice voids an invoice that has no payments. Credit consumed at
// generation time is returned to the customer as a refund entry.
func (s *Service) CancelInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	var cancelled *Invoice
	var refunded float64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: invoice %d", ErrInvoiceNotFound, invoiceID)
		}
		if err != nil {
			return fmt.Errorf("lock invoice: %w", err)
		}
		if inv.Status == StatusCancelled {
			return fmt.Errorf("%w: invoice %d", ErrInvoiceCancelled, invoiceID)
		}
		count, err := tx.CountPayments(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("count payments: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: invoice %d", ErrInvoiceHasPayments, invoiceID)
		}
		if inv.CreditApplied > 0 {
			_, err := tx.InsertCredit(ctx, Credit{
				CustomerID: inv.CustomerID,
				Amount:     inv.CreditApplied,
				Reason:     fmt.Sprintf("Refund of credit applied to cancelled invoice #%d", invoiceID),
				Type:       CreditRefund,
				CreatedAt:  s.now(),
			})
			if err != nil {
				return fmt.Errorf("refund credit: %w", err)
			}
			refunded = inv.CreditApplied
		}
		if err := tx.UpdateInvoiceStatus(ctx, invoiceID, StatusCancelled); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		inv.Status = StatusCancelled
		cancelled = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	if refunded > 0 {
		s.metrics.CreditIssued(string(CreditRefund))
	}
	s.recordAudit(ctx, "invoice.cancel", "invoice", invoiceID, map[string]any{
		"refunded_credit": refunded,
	})
	s.bumpStats(ctx)
	s.logger.Info("invoice cancelled", "invoice_id", invoiceID, "refunded_credit", refunded)
	return cancelled, nil
}

// SetInvoicePDF stores or clears the rendered document pointer.
func (s *Service) SetInvoicePDF(ctx context.Context, invoiceID int64, url *string) error {
	if _, err := s.getInvoice(ctx, s.repo, invoiceID); err != nil {
		return err
	}
	if err := s.repo.SetInvoicePDFURL(ctx, invoiceID, url); err != nil {
		return fmt.Errorf("billing: set pdf url: %w", err)
	}
	return nil
}

// GetInvoice returns a single invoice.
func (s *Service) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	return s.getInvoice(ctx, s.repo, invoiceID)
}

// GetInvoiceWithDetails returns an invoice with its payments and derived
// paid and balance figures.
func (s *Service) GetInvoiceWithDetails(ctx context.Context, invoiceID int64) (*InvoiceWithDetails, error) {
	inv, err := s.getInvoice(ctx, s.repo, invoiceID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("billing: list payments: %w", err)
	}
	var paid float64
	for _, p := range payments {
		paid += p.Amount
	}
	paid = roundCents(paid)
	name, err := s.repo.GetCustomerName(ctx, inv.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("billing: customer name: %w", err)
	}
	return &InvoiceWithDetails{
		Invoice:      *inv,
		CustomerName: name,
		Payments:     payments,
		PaidAmount:   paid,
		Balance:      math.Max(0, roundCents(inv.Total-paid)),
	}, nil
}

// ListInvoices returns invoices matching the filter, newest first.
func (s *Service) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error) {
	if req.Limit == 0 || req.Limit > 500 {
		req.Limit = 100
	}
	return s.repo.ListInvoices(ctx, req)
}

// ListPayments returns an invoice's payments in payment-date order.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	if _, err := s.getInvoice(ctx, s.repo, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}

// CalculateInvoiceStats partitions invoices by payment reality. Cancelled
// invoices are excluded throughout. Results are served from the versioned
// cache; every billing mutation bumps the version.
func (s *Service) CalculateInvoiceStats(ctx context.Context, filter StatsFilter) (*InvoiceStats, error) {
	key, err := s.cache.BuildKey(ctx, statsKeyParts(filter)...)
	if err != nil {
		return nil, fmt.Errorf("billing: cache key: %w", err)
	}
	var stats InvoiceStats
	err = s.cache.FetchJSON(ctx, key, &stats, func(ctx context.Context) (interface{}, error) {
		return s.computeStats(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Service) computeStats(ctx context.Context, filter StatsFilter) (*InvoiceStats, error) {
	balances, err := s.repo.ListInvoiceBalances(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("billing: list balances: %w", err)
	}

	now := s.now()
	var stats InvoiceStats
	for _, b := range balances {
		if b.Status == StatusCancelled {
			continue
		}
		outstanding := math.Max(0, roundCents(b.Total-b.Paid))
		switch {
		case b.Status == StatusPaid:
			stats.Paid.Count++
		case b.Status == StatusPartial:
			stats.Partial.Count++
			stats.Partial.AmountOutstanding = roundCents(stats.Partial.AmountOutstanding + outstanding)
		case b.DueDate.Before(now):
			stats.Overdue.Count++
			stats.Overdue.AmountOutstanding = roundCents(stats.Overdue.AmountOutstanding + outstanding)
		default:
			stats.Outstanding.Count++
			stats.Outstanding.AmountOutstanding = roundCents(stats.Outstanding.AmountOutstanding + outstanding)
		}
		stats.InvoiceCount++
		stats.TotalRevenue = roundCents(stats.TotalRevenue + b.Total)
	}
	if stats.InvoiceCount > 0 {
		stats.AverageInvoiceValue = roundCents(stats.TotalRevenue / float64(stats.InvoiceCount))
	}
	return &stats, nil
}

func (s *Service) getInvoice(ctx context.Context, repo Repository, invoiceID int64) (*Invoice, error) {
	inv, err := repo.GetInvoice(ctx, invoiceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: invoice %d", ErrInvoiceNotFound, invoiceID)
	}
	if err != nil {
		return nil, fmt.Errorf("billing: lookup invoice: %w", err)
	}
	return inv, nil
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func (s *Service) bumpStats(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("stats cache bump failed", "error", err)
	}
}

type nopRecorder struct{}

func (nopRecorder) InvoiceGenerated()      {}
func (nopRecorder) PaymentRecorded(string) {}
func (nopRecorder) CreditIssued(string)    {}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
