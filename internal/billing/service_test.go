package billing

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/greenbox-ops/greenbox/internal/orders"
	"github.com/greenbox-ops/greenbox/internal/platform/httpx"
)

type memoryRepo struct {
	invoices    map[int64]*Invoice
	byOrder     map[int64]int64
	payments    map[int64][]Payment
	credits     map[int64][]Credit
	loyalty     map[int64]int
	customers   map[int64]string
	nextInvoice int64
	nextPayment int64
	nextCredit  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:  make(map[int64]*Invoice),
		byOrder:   make(map[int64]int64),
		payments:  make(map[int64][]Payment),
		credits:   make(map[int64][]Credit),
		loyalty:   make(map[int64]int),
		customers: make(map[int64]string),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	if _, exists := r.byOrder[inv.OrderID]; exists {
		return 0, ErrDuplicateInvoice
	}
	r.nextInvoice++
	inv.ID = r.nextInvoice
	r.invoices[inv.ID] = &inv
	r.byOrder[inv.OrderID] = inv.ID
	return inv.ID, nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *inv
	return &cp, nil
}

func (r *memoryRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return r.GetInvoice(ctx, id)
}

func (r *memoryRepo) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return r.GetInvoice(ctx, id)
}

func (r *memoryRepo) GetInvoiceByOrderForUpdate(ctx context.Context, orderID int64) (*Invoice, error) {
	return r.GetInvoiceByOrder(ctx, orderID)
}

func (r *memoryRepo) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if req.Status != nil && inv.Status != *req.Status {
			continue
		}
		if req.CustomerID != nil && inv.CustomerID != *req.CustomerID {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (r *memoryRepo) ListInvoiceBalances(ctx context.Context, filter StatsFilter) ([]InvoiceBalance, error) {
	var out []InvoiceBalance
	for _, inv := range r.invoices {
		if filter.CustomerID != nil && inv.CustomerID != *filter.CustomerID {
			continue
		}
		var paid float64
		for _, p := range r.payments[inv.ID] {
			paid += p.Amount
		}
		out = append(out, InvoiceBalance{
			ID:         inv.ID,
			OrderID:    inv.OrderID,
			CustomerID: inv.CustomerID,
			Status:     inv.Status,
			Total:      inv.Total,
			Paid:       paid,
			DueDate:    inv.DueDate,
		})
	}
	return out, nil
}

func (r *memoryRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	inv, ok := r.invoices[id]
	if !ok {
		return pgx.ErrNoRows
	}
	inv.Status = status
	return nil
}

func (r *memoryRepo) AdjustInvoice(ctx context.Context, id int64, total, creditApplied float64, status InvoiceStatus) error {
	inv, ok := r.invoices[id]
	if !ok {
		return pgx.ErrNoRows
	}
	inv.Total = total
	inv.CreditApplied = creditApplied
	inv.Status = status
	inv.PDFURL = nil
	return nil
}

func (r *memoryRepo) SetInvoicePDFURL(ctx context.Context, id int64, url *string) error {
	inv, ok := r.invoices[id]
	if !ok {
		return pgx.ErrNoRows
	}
	inv.PDFURL = url
	return nil
}

func (r *memoryRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	r.nextPayment++
	p.ID = r.nextPayment
	r.payments[p.InvoiceID] = append(r.payments[p.InvoiceID], p)
	return p.ID, nil
}

func (r *memoryRepo) SumPayments(ctx context.Context, invoiceID int64) (float64, error) {
	var sum float64
	for _, p := range r.payments[invoiceID] {
		sum += p.Amount
	}
	return sum, nil
}

func (r *memoryRepo) CountPayments(ctx context.Context, invoiceID int64) (int, error) {
	return len(r.payments[invoiceID]), nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return append([]Payment(nil), r.payments[invoiceID]...), nil
}

func (r *memoryRepo) InsertCredit(ctx context.Context, c Credit) (int64, error) {
	r.nextCredit++
	c.ID = r.nextCredit
	r.credits[c.CustomerID] = append(r.credits[c.CustomerID], c)
	return c.ID, nil
}

func (r *memoryRepo) SumCredits(ctx context.Context, customerID int64) (float64, error) {
	var sum float64
	for _, c := range r.credits[customerID] {
		sum += c.Amount
	}
	return sum, nil
}

func (r *memoryRepo) ListCredits(ctx context.Context, customerID int64) ([]Credit, error) {
	return append([]Credit(nil), r.credits[customerID]...), nil
}

func (r *memoryRepo) IncrementLoyaltyPoints(ctx context.Context, customerID int64, points int) error {
	r.loyalty[customerID] += points
	return nil
}

func (r *memoryRepo) GetCustomerName(ctx context.Context, customerID int64) (string, error) {
	return r.customers[customerID], nil
}

func (r *memoryRepo) creditsOfType(customerID int64, t CreditType) []Credit {
	var out []Credit
	for _, c := range r.credits[customerID] {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

type memoryOrders struct {
	orders map[int64]*orders.Order
}

func (m *memoryOrders) Get(ctx context.Context, id int64) (*orders.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o, nil
}

func (m *memoryOrders) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok := m.orders[id]
	return ok, nil
}

type fakeGateway struct {
	chargeID   string
	err        error
	calls      int
	lastToken  string
	lastAmount int
}

func (g *fakeGateway) Charge(ctx context.Context, token string, amountInCents int) (string, error) {
	g.calls++
	g.lastToken = token
	g.lastAmount = amountInCents
	if g.err != nil {
		return "", g.err
	}
	return g.chargeID, nil
}

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memoryRepo, *memoryOrders, *fakeGateway) {
	t.Helper()
	repo := newMemoryRepo()
	orderRepo := &memoryOrders{orders: make(map[int64]*orders.Order)}
	gw := &fakeGateway{chargeID: "ch_test"}
	svc := NewService(repo, orderRepo, gw, nil, nil, nil, slog.Default())
	svc.now = func() time.Time { return testNow }
	return svc, repo, orderRepo, gw
}

func seedOrder(orderRepo *memoryOrders, id, customerID int64, items ...orders.OrderItem) {
	orderRepo.orders[id] = &orders.Order{
		ID:         id,
		CustomerID: customerID,
		Items:      items,
		CreatedAt:  testNow,
	}
}

func item(productID int64, name string, qty, price float64) orders.OrderItem {
	return orders.OrderItem{ProductID: productID, ProductName: name, Quantity: qty, PriceAtOrder: price}
}

func TestGenerateInvoiceAppliesPartialCredit(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Avocados", 4, 25))
	_, err := repo.InsertCredit(context.Background(), Credit{CustomerID: 7, Amount: 30, Type: CreditOverpayment})
	require.NoError(t, err)

	inv, err := svc.GenerateInvoice(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 100.0, inv.Subtotal)
	require.Equal(t, 30.0, inv.CreditApplied)
	require.Equal(t, 70.0, inv.Total)
	require.Equal(t, StatusUnpaid, inv.Status)
	require.Equal(t, testNow.AddDate(0, 0, 14), inv.DueDate)

	applied := repo.creditsOfType(7, CreditApplied)
	require.Len(t, applied, 1)
	require.Equal(t, -30.0, applied[0].Amount)

	balance, err := svc.CreditBalance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 0.0, balance)
}

func TestGenerateInvoiceFullyCoveredByCredit(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Carrots", 10, 10))
	_, err := repo.InsertCredit(context.Background(), Credit{CustomerID: 7, Amount: 150, Type: CreditOverpayment})
	require.NoError(t, err)

	inv, err := svc.GenerateInvoice(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 100.0, inv.CreditApplied)
	require.Equal(t, 0.0, inv.Total)
	require.Equal(t, StatusPaid, inv.Status)

	balance, err := svc.CreditBalance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 50.0, balance)
}

func TestGenerateInvoiceExcludesDeliveryFees(t *testing.T) {
	svc, _, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Avocados", 4, 25))
	orderRepo.orders[1].DeliveryFees = 15

	inv, err := svc.GenerateInvoice(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 100.0, inv.Subtotal, "subtotal covers line items only")
	require.Equal(t, 100.0, inv.Total)
}

func TestGenerateInvoiceTwiceConflicts(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Spinach", 2, 15))

	first, err := svc.GenerateInvoice(context.Background(), 1)
	require.NoError(t, err)

	_, err = svc.GenerateInvoice(context.Background(), 1)
	require.ErrorIs(t, err, httpx.ErrConflict)

	unchanged, err := repo.GetInvoice(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, first.Total, unchanged.Total)
	require.Equal(t, first.Status, unchanged.Status)
}

func TestGenerateInvoiceOrderNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.GenerateInvoice(context.Background(), 99)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestGenerateBulkInvoicesIsolatesFailures(t *testing.T) {
	svc, _, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Kale", 1, 20))
	seedOrder(orderRepo, 2, 8, item(2, "Beets", 1, 30))

	result := svc.GenerateBulkInvoices(context.Background(), []int64{1, 99, 2})
	require.Equal(t, 2, result.SuccessCount)
	require.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Errors, 1)
	require.Equal(t, int64(99), result.Errors[0].OrderID)
	require.Contains(t, result.Errors[0].Message, "not found")
}

func generateInvoiceForTotal(t *testing.T, svc *Service, orderRepo *memoryOrders, orderID, customerID int64, total float64) *Invoice {
	t.Helper()
	seedOrder(orderRepo, orderID, customerID, item(orderID*10, "Produce box", 1, total))
	inv, err := svc.GenerateInvoice(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, total, inv.Total)
	return inv
}

func TestRecordPaymentPartial(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)

	payment, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 40, Method: MethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, payment.InvoiceStatus)
	require.Empty(t, repo.credits[7], "partial payment must not touch the ledger")
}

func TestRecordPaymentOverpaymentBecomesCredit(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)

	payment, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 150, Method: MethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, payment.InvoiceStatus)

	over := repo.creditsOfType(7, CreditOverpayment)
	require.Len(t, over, 1)
	require.Equal(t, 50.0, over[0].Amount)

	balance, err := svc.CreditBalance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 50.0, balance)
}

func TestRecordPaymentExactSettlement(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)

	payment, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 100, Method: MethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, payment.InvoiceStatus)
	require.Empty(t, repo.creditsOfType(7, CreditOverpayment))
}

func TestRecordPaymentEFTEarnsLoyaltyPoints(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 40, Method: MethodEFT,
	})
	require.NoError(t, err)
	require.Equal(t, 5, repo.loyalty[7])

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 40, Method: MethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, 5, repo.loyalty[7], "only EFT earns points")
}

func TestRecordPaymentValidationOrder(t *testing.T) {
	svc, _, orderRepo, _ := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: 999, CustomerID: 7, Amount: 10, Method: MethodCash,
	})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 8, Amount: 10, Method: MethodCash,
	})
	require.ErrorIs(t, err, ErrCustomerMismatch)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 0, Method: MethodCash,
	})
	require.ErrorIs(t, err, ErrAmountNotPositive)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 10, Method: PaymentMethod("cheque"),
	})
	require.ErrorIs(t, err, ErrInvalidMethod)
}

func TestRecordPaymentOnCancelledInvoice(t *testing.T) {
	svc, _, orderRepo, _ := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)
	_, err := svc.CancelInvoice(context.Background(), inv.ID)
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 10, Method: MethodCash,
	})
	require.ErrorIs(t, err, ErrInvoiceCancelled)
}

func TestRecordPaymentYocoGatewayFailureAbortsBeforePersistence(t *testing.T) {
	svc, repo, orderRepo, gw := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)
	gw.err = errors.New("card declined")

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 100, Method: MethodYoco, Token: "tok_abc",
	})
	require.ErrorIs(t, err, httpx.ErrGateway)
	require.Contains(t, err.Error(), "card declined")
	require.Empty(t, repo.payments[inv.ID])

	stored, err := repo.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusUnpaid, stored.Status)
}

func TestRecordPaymentYocoChargeAppendsReference(t *testing.T) {
	svc, _, orderRepo, gw := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)
	gw.chargeID = "ch_789"

	payment, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 59.99, Method: MethodYoco, Token: "tok_abc", Notes: "box #12",
	})
	require.NoError(t, err)
	require.Equal(t, 1, gw.calls)
	require.Equal(t, "tok_abc", gw.lastToken)
	require.Equal(t, 5999, gw.lastAmount)
	require.Equal(t, "ch_789", payment.Reference)
	require.Equal(t, "box #12 (Yoco charge: ch_789)", payment.Notes)
}

func TestRecordPaymentYocoWithoutTokenSkipsGateway(t *testing.T) {
	svc, _, orderRepo, gw := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 50, Method: MethodYoco,
	})
	require.NoError(t, err)
	require.Zero(t, gw.calls)
}

func TestRecordShortDeliveryAdjustsInvoice(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7,
		item(1, "Avocados", 3, 25.50),
		item(2, "Carrots", 1, 23.50),
	)
	inv, err := svc.GenerateInvoice(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 100.0, inv.Total)

	credit, err := svc.RecordShortDelivery(context.Background(), RecordShortDeliveryInput{
		OrderID: 1, CustomerID: 7,
		Items: []ShortDeliveryItem{{ProductID: 1, QuantityShort: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, CreditShortDelivery, credit.Type)
	require.Equal(t, 51.0, credit.Amount)
	require.Equal(t, "Avocados: 2 x R25.50 = R51.00", credit.Reason)

	adjusted, err := repo.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, 49.0, adjusted.Total)
	require.Equal(t, 51.0, adjusted.CreditApplied)
	require.Nil(t, adjusted.PDFURL)

	applied := repo.creditsOfType(7, CreditApplied)
	require.Len(t, applied, 1)
	require.Equal(t, -51.0, applied[0].Amount)

	balance, err := svc.CreditBalance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 0.0, balance, "compensation and application cancel out")
}

func TestRecordShortDeliveryClampsAtZeroTotal(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Avocados", 3, 25.50))
	inv, err := svc.GenerateInvoice(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 76.5, inv.Total)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 36.50, Method: MethodCash,
	})
	require.NoError(t, err)

	// Remaining total is 40 in payment terms but the invoice total is still
	// 76.50; the short credit of 76.50 covers it fully and clamps at zero.
	credit, err := svc.RecordShortDelivery(context.Background(), RecordShortDeliveryInput{
		OrderID: 1, CustomerID: 7,
		Items: []ShortDeliveryItem{{ProductID: 1, QuantityShort: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, 76.5, credit.Amount)

	adjusted, err := repo.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, 0.0, adjusted.Total)
	require.Equal(t, StatusPaid, adjusted.Status)

	applied := repo.creditsOfType(7, CreditApplied)
	require.Len(t, applied, 1)
	require.Equal(t, -76.5, applied[0].Amount)
}

func TestRecordShortDeliveryOnPaidInvoiceLeavesStandingCredit(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7,
		item(1, "Avocados", 2, 25.50),
		item(2, "Carrots", 1, 10),
	)
	inv, err := svc.GenerateInvoice(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 61.0, inv.Total)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 61, Method: MethodCash,
	})
	require.NoError(t, err)

	// Invoice already paid; the compensation stays on the ledger untouched.
	credit, err := svc.RecordShortDelivery(context.Background(), RecordShortDeliveryInput{
		OrderID: 1, CustomerID: 7,
		Items: []ShortDeliveryItem{{ProductID: 1, QuantityShort: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, 25.5, credit.Amount)
	require.Empty(t, repo.creditsOfType(7, CreditApplied))

	balance, err := svc.CreditBalance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 25.5, balance)
}

func TestRecordShortDeliveryOverQuantityWritesNothing(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Avocados", 2, 25.50))
	inv, err := svc.GenerateInvoice(context.Background(), 1)
	require.NoError(t, err)

	_, err = svc.RecordShortDelivery(context.Background(), RecordShortDeliveryInput{
		OrderID: 1, CustomerID: 7,
		Items: []ShortDeliveryItem{{ProductID: 1, QuantityShort: 5}},
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Contains(t, err.Error(), "Avocados")
	require.Empty(t, repo.credits[7])

	unchanged, err := repo.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, inv.Total, unchanged.Total)
}

func TestRecordShortDeliveryRejectsNonPositiveQuantity(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Avocados", 2, 25.50))

	for _, qty := range []float64{0, -1} {
		_, err := svc.RecordShortDelivery(context.Background(), RecordShortDeliveryInput{
			OrderID: 1, CustomerID: 7,
			Items: []ShortDeliveryItem{{ProductID: 1, QuantityShort: qty}},
		})
		require.ErrorIs(t, err, httpx.ErrValidation)
		require.Contains(t, err.Error(), "must be positive")
	}
	require.Empty(t, repo.credits[7])
}

func TestRecordShortDeliveryProductNotInOrder(t *testing.T) {
	svc, _, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Avocados", 2, 25.50))

	_, err := svc.RecordShortDelivery(context.Background(), RecordShortDeliveryInput{
		OrderID: 1, CustomerID: 7,
		Items: []ShortDeliveryItem{{ProductID: 42, QuantityShort: 1}},
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Contains(t, err.Error(), "not in order")
}

func TestRecordShortDeliveryCustomerMismatch(t *testing.T) {
	svc, _, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Avocados", 2, 25.50))

	_, err := svc.RecordShortDelivery(context.Background(), RecordShortDeliveryInput{
		OrderID: 1, CustomerID: 8,
		Items: []ShortDeliveryItem{{ProductID: 1, QuantityShort: 1}},
	})
	require.ErrorIs(t, err, ErrCustomerMismatch)
}

func TestRecordShortDeliveryWithoutInvoice(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Avocados", 2, 25.50))

	credit, err := svc.RecordShortDelivery(context.Background(), RecordShortDeliveryInput{
		OrderID: 1, CustomerID: 7,
		Items: []ShortDeliveryItem{{ProductID: 1, QuantityShort: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, 25.5, credit.Amount)
	require.Empty(t, repo.creditsOfType(7, CreditApplied))

	balance, err := svc.CreditBalance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 25.5, balance)
}

func TestCancelInvoiceRefundsAppliedCredit(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	seedOrder(orderRepo, 1, 7, item(1, "Kale", 5, 20))
	_, err := repo.InsertCredit(context.Background(), Credit{CustomerID: 7, Amount: 30, Type: CreditOverpayment})
	require.NoError(t, err)

	inv, err := svc.GenerateInvoice(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 30.0, inv.CreditApplied)

	cancelled, err := svc.CancelInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	refunds := repo.creditsOfType(7, CreditRefund)
	require.Len(t, refunds, 1)
	require.Equal(t, 30.0, refunds[0].Amount)

	balance, err := svc.CreditBalance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 30.0, balance)
}

func TestCancelInvoiceWithPaymentsRefused(t *testing.T) {
	svc, _, orderRepo, _ := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)
	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: inv.ID, CustomerID: 7, Amount: 10, Method: MethodCash,
	})
	require.NoError(t, err)

	_, err = svc.CancelInvoice(context.Background(), inv.ID)
	require.ErrorIs(t, err, ErrInvoiceHasPayments)
}

func TestCreditBalanceClampedAtZero(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	_, err := repo.InsertCredit(context.Background(), Credit{CustomerID: 7, Amount: -40, Type: CreditApplied})
	require.NoError(t, err)

	balance, err := svc.CreditBalance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 0.0, balance)
}

func TestCalculateInvoiceStats(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)

	// Outstanding: unpaid, due in the future.
	generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)

	// Overdue: unpaid, past due.
	overdue := generateInvoiceForTotal(t, svc, orderRepo, 2, 7, 200)
	repo.invoices[overdue.ID].DueDate = testNow.AddDate(0, 0, -1)

	// Partial: 60 outstanding.
	partial := generateInvoiceForTotal(t, svc, orderRepo, 3, 8, 150)
	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: partial.ID, CustomerID: 8, Amount: 90, Method: MethodCash,
	})
	require.NoError(t, err)

	// Paid.
	paid := generateInvoiceForTotal(t, svc, orderRepo, 4, 8, 50)
	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		InvoiceID: paid.ID, CustomerID: 8, Amount: 50, Method: MethodCash,
	})
	require.NoError(t, err)

	// Cancelled: excluded everywhere.
	dropped := generateInvoiceForTotal(t, svc, orderRepo, 5, 8, 999)
	_, err = svc.CancelInvoice(context.Background(), dropped.ID)
	require.NoError(t, err)

	stats, err := svc.CalculateInvoiceStats(context.Background(), StatsFilter{})
	require.NoError(t, err)

	require.Equal(t, 1, stats.Outstanding.Count)
	require.Equal(t, 100.0, stats.Outstanding.AmountOutstanding)
	require.Equal(t, 1, stats.Overdue.Count)
	require.Equal(t, 200.0, stats.Overdue.AmountOutstanding)
	require.Equal(t, 1, stats.Partial.Count)
	require.Equal(t, 60.0, stats.Partial.AmountOutstanding)
	require.Equal(t, 1, stats.Paid.Count)
	require.Equal(t, 4, stats.InvoiceCount)
	require.Equal(t, 500.0, stats.TotalRevenue)
	require.Equal(t, 125.0, stats.AverageInvoiceValue)
}

func TestCalculateInvoiceStatsFilteredByCustomer(t *testing.T) {
	svc, _, orderRepo, _ := newTestService(t)
	generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)
	generateInvoiceForTotal(t, svc, orderRepo, 2, 8, 200)

	customerID := int64(7)
	stats, err := svc.CalculateInvoiceStats(context.Background(), StatsFilter{CustomerID: &customerID})
	require.NoError(t, err)
	require.Equal(t, 1, stats.InvoiceCount)
	require.Equal(t, 100.0, stats.TotalRevenue)
}

func TestPaidStatusAlwaysMatchesPaymentSum(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)

	steps := []float64{20, 30, 50}
	for _, amount := range steps {
		_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
			InvoiceID: inv.ID, CustomerID: 7, Amount: amount, Method: MethodCash,
		})
		require.NoError(t, err)

		stored, err := repo.GetInvoice(context.Background(), inv.ID)
		require.NoError(t, err)
		sum, err := repo.SumPayments(context.Background(), inv.ID)
		require.NoError(t, err)
		require.Equal(t, sum >= stored.Total, stored.Status == StatusPaid)
	}
}

func TestSetInvoicePDF(t *testing.T) {
	svc, repo, orderRepo, _ := newTestService(t)
	inv := generateInvoiceForTotal(t, svc, orderRepo, 1, 7, 100)

	url := "https://cdn.greenbox.example/invoices/1.pdf"
	require.NoError(t, svc.SetInvoicePDF(context.Background(), inv.ID, &url))

	stored, err := repo.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PDFURL)
	require.Equal(t, url, *stored.PDFURL)

	require.NoError(t, svc.SetInvoicePDF(context.Background(), inv.ID, nil))
	stored, err = repo.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Nil(t, stored.PDFURL)
}
