package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greenbox-ops/greenbox/internal/platform/db"
)

// ErrDuplicateInvoice is returned when an invoice already exists for an order.
// The invoices.order_id UNIQUE constraint backs this even under concurrent
// generation attempts.
var ErrDuplicateInvoice = errors.New("invoice already exists for order")

const uniqueViolation = "23505"

// Repository provides persistence for invoices, payments and the credit
// ledger. WithTx yields a Repository bound to one transaction so a
// read-then-write sequence commits or rolls back as a single unit.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error)
	GetInvoiceByOrderForUpdate(ctx context.Context, orderID int64) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error)
	ListInvoiceBalances(ctx context.Context, filter StatsFilter) ([]InvoiceBalance, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error
	AdjustInvoice(ctx context.Context, id int64, total, creditApplied float64, status InvoiceStatus) error
	SetInvoicePDFURL(ctx context.Context, id int64, url *string) error

	InsertPayment(ctx context.Context, p Payment) (int64, error)
	SumPayments(ctx context.Context, invoiceID int64) (float64, error)
	CountPayments(ctx context.Context, invoiceID int64) (int, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)

	InsertCredit(ctx context.Context, c Credit) (int64, error)
	SumCredits(ctx context.Context, customerID int64) (float64, error)
	ListCredits(ctx context.Context, customerID int64) ([]Credit, error)

	IncrementLoyaltyPoints(ctx context.Context, customerID int64, points int) error
	GetCustomerName(ctx context.Context, customerID int64) (string, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed billing repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

// --- Invoices ---

func (r *repository) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	const query = `
		INSERT INTO invoices (order_id, customer_id, subtotal, credit_applied, total, status, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		inv.OrderID,
		inv.CustomerID,
		inv.Subtotal,
		inv.CreditApplied,
		inv.Total,
		string(inv.Status),
		inv.DueDate,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrDuplicateInvoice
		}
		return 0, err
	}
	return id, nil
}

const invoiceColumns = `id, order_id, customer_id, subtotal, credit_applied, total, status, due_date, pdf_url, created_at, updated_at`

func (r *repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	query := fmt.Sprintf("SELECT %s FROM invoices WHERE id = $1", invoiceColumns)
	return r.scanInvoice(r.db.QueryRow(ctx, query, id))
}

func (r *repository) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	query := fmt.Sprintf("SELECT %s FROM invoices WHERE id = $1 FOR UPDATE", invoiceColumns)
	return r.scanInvoice(r.db.QueryRow(ctx, query, id))
}

func (r *repository) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	query := fmt.Sprintf("SELECT %s FROM invoices WHERE order_id = $1", invoiceColumns)
	return r.scanInvoice(r.db.QueryRow(ctx, query, orderID))
}

func (r *repository) GetInvoiceByOrderForUpdate(ctx context.Context, orderID int64) (*Invoice, error) {
	query := fmt.Sprintf("SELECT %s FROM invoices WHERE order_id = $1 FOR UPDATE", invoiceColumns)
	return r.scanInvoice(r.db.QueryRow(ctx, query, orderID))
}

func (r *repository) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var subtotal, creditApplied, total pgtype.Numeric
	var pdfURL pgtype.Text

	err := row.Scan(
		&inv.ID, &inv.OrderID, &inv.CustomerID,
		&subtotal, &creditApplied, &total,
		&inv.Status, &inv.DueDate, &pdfURL,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pgx.ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	inv.Subtotal = numericToFloat64(subtotal)
	inv.CreditApplied = numericToFloat64(creditApplied)
	inv.Total = numericToFloat64(total)
	if pdfURL.Valid {
		val := pdfURL.String
		inv.PDFURL = &val
	}
	return &inv, nil
}

func (r *repository) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error) {
	query := fmt.Sprintf("SELECT %s FROM invoices WHERE 1=1", invoiceColumns)

	args := []interface{}{}
	argPos := 1

	if req.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(*req.Status))
		argPos++
	}
	if req.CustomerID != nil {
		query += fmt.Sprintf(" AND customer_id = $%d", argPos)
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.FromDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *req.FromDate)
		argPos++
	}
	if req.ToDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, *req.ToDate)
		argPos++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, req.Limit)
		argPos++
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, req.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (r *repository) ListInvoiceBalances(ctx context.Context, filter StatsFilter) ([]InvoiceBalance, error) {
	query := `
		SELECT i.id, i.order_id, i.customer_id, i.status, i.total, COALESCE(SUM(p.amount), 0) AS paid, i.due_date
		FROM invoices i
		LEFT JOIN payments p ON p.invoice_id = i.id
		WHERE 1=1`

	args := []interface{}{}
	argPos := 1

	if filter.CustomerID != nil {
		query += fmt.Sprintf(" AND i.customer_id = $%d", argPos)
		args = append(args, *filter.CustomerID)
		argPos++
	}
	if filter.FromDate != nil {
		query += fmt.Sprintf(" AND i.created_at >= $%d", argPos)
		args = append(args, *filter.FromDate)
		argPos++
	}
	if filter.ToDate != nil {
		query += fmt.Sprintf(" AND i.created_at <= $%d", argPos)
		args = append(args, *filter.ToDate)
	}

	query += " GROUP BY i.id ORDER BY i.id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []InvoiceBalance
	for rows.Next() {
		var b InvoiceBalance
		var total, paid pgtype.Numeric
		if err := rows.Scan(&b.ID, &b.OrderID, &b.CustomerID, &b.Status, &total, &paid, &b.DueDate); err != nil {
			return nil, err
		}
		b.Total = numericToFloat64(total)
		b.Paid = numericToFloat64(paid)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *repository) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	_, err := r.db.Exec(ctx,
		"UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1",
		id, string(status),
	)
	return err
}

// AdjustInvoice rewrites total and credit_applied after a short-delivery
// adjustment. The cached pdf_url is cleared because the printed total is stale.
func (r *repository) AdjustInvoice(ctx context.Context, id int64, total, creditApplied float64, status InvoiceStatus) error {
	_, err := r.db.Exec(ctx, `
		UPDATE invoices
		SET total = $2, credit_applied = $3, status = $4, pdf_url = NULL, updated_at = NOW()
		WHERE id = $1`,
		id, total, creditApplied, string(status),
	)
	return err
}

func (r *repository) SetInvoicePDFURL(ctx context.Context, id int64, url *string) error {
	var value pgtype.Text
	if url != nil {
		value = pgtype.Text{String: *url, Valid: true}
	}
	_, err := r.db.Exec(ctx,
		"UPDATE invoices SET pdf_url = $2, updated_at = NOW() WHERE id = $1",
		id, value,
	)
	return err
}

// --- Payments ---

func (r *repository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	const query = `
		INSERT INTO payments (invoice_id, customer_id, amount, method, reference, payment_date, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		p.InvoiceID,
		p.CustomerID,
		p.Amount,
		string(p.Method),
		p.Reference,
		p.PaymentDate,
		p.Notes,
	).Scan(&id)
	return id, err
}

func (r *repository) SumPayments(ctx context.Context, invoiceID int64) (float64, error) {
	var sum pgtype.Numeric
	err := r.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1",
		invoiceID,
	).Scan(&sum)
	return numericToFloat64(sum), err
}

func (r *repository) CountPayments(ctx context.Context, invoiceID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM payments WHERE invoice_id = $1",
		invoiceID,
	).Scan(&count)
	return count, err
}

func (r *repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	const query = `
		SELECT id, invoice_id, customer_id, amount, method, reference, payment_date, notes, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY payment_date, id`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		var amount pgtype.Numeric
		var notes pgtype.Text
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.CustomerID, &amount, &p.Method, &p.Reference, &p.PaymentDate, &notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Amount = numericToFloat64(amount)
		if notes.Valid {
			p.Notes = notes.String
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// --- Credit ledger ---

func (r *repository) InsertCredit(ctx context.Context, c Credit) (int64, error) {
	const query = `
		INSERT INTO credits (customer_id, amount, reason, type, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		c.CustomerID,
		c.Amount,
		c.Reason,
		string(c.Type),
	).Scan(&id)
	return id, err
}

func (r *repository) SumCredits(ctx context.Context, customerID int64) (float64, error) {
	var sum pgtype.Numeric
	err := r.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM credits WHERE customer_id = $1",
		customerID,
	).Scan(&sum)
	return numericToFloat64(sum), err
}

func (r *repository) ListCredits(ctx context.Context, customerID int64) ([]Credit, error) {
	const query = `
		SELECT id, customer_id, amount, reason, type, created_at
		FROM credits
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var credits []Credit
	for rows.Next() {
		var c Credit
		var amount pgtype.Numeric
		if err := rows.Scan(&c.ID, &c.CustomerID, &amount, &c.Reason, &c.Type, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Amount = numericToFloat64(amount)
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

// --- Customers ---

func (r *repository) IncrementLoyaltyPoints(ctx context.Context, customerID int64, points int) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE customers SET loyalty_points = loyalty_points + $2 WHERE id = $1",
		customerID, points,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %d not found", customerID)
	}
	return nil
}

func (r *repository) GetCustomerName(ctx context.Context, customerID int64) (string, error) {
	var name string
	err := r.db.QueryRow(ctx, "SELECT name FROM customers WHERE id = $1", customerID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func numericToFloat64(n pgtype.Numeric) float64 {
	if !n.Valid {
		return 0
	}
	f, _ := n.Float64Value()
	return f.Float64
}
