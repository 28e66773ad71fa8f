package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/greenbox-ops/greenbox/internal/billing"
	jobmetrics "github.com/greenbox-ops/greenbox/internal/jobs"
)

// TaskTypeOverdueScan is the task type for the periodic overdue invoice scan.
const TaskTypeOverdueScan = "billing:overdue_scan"

const scanConcurrency = 4

// NewOverdueScanTask constructs the scheduler task for the overdue scan.
func NewOverdueScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeOverdueScan, nil)
}

// InvoiceSource lists invoice balances for the scan. Implemented by the
// billing repository.
type InvoiceSource interface {
	ListInvoiceBalances(ctx context.Context, filter billing.StatsFilter) ([]billing.InvoiceBalance, error)
}

// ReminderEnqueuer submits reminder tasks. Implemented by Client.
type ReminderEnqueuer interface {
	EnqueueInvoiceReminder(ctx context.Context, payload InvoiceReminderPayload) (*asynq.TaskInfo, error)
}

// OverdueScanner walks open invoices past their due date and enqueues one
// reminder per invoice.
type OverdueScanner struct {
	source  InvoiceSource
	queue   ReminderEnqueuer
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewOverdueScanner constructs the scanner.
func NewOverdueScanner(source InvoiceSource, queue ReminderEnqueuer, metrics *jobmetrics.Metrics, logger *slog.Logger) *OverdueScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverdueScanner{
		source:  source,
		queue:   queue,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// HandleTask adapts the scan to an Asynq handler.
func (s *OverdueScanner) HandleTask(ctx context.Context, _ *asynq.Task) error {
	return s.Scan(ctx)
}

// Scan enqueues reminders for unpaid and partially paid invoices past their
// due date. Enqueue failures abort the run; the scan is idempotent and the
// next schedule retries everything still overdue.
func (s *OverdueScanner) Scan(ctx context.Context) error {
	tracker := s.metrics.Track("overdue_scan")

	balances, err := s.source.ListInvoiceBalances(ctx, billing.StatsFilter{})
	if err != nil {
		return tracker.End(err)
	}

	now := s.now()
	printer := message.NewPrinter(language.English)

	var enqueued atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for _, b := range balances {
		if b.Status != billing.StatusUnpaid && b.Status != billing.StatusPartial {
			continue
		}
		if !b.DueDate.Before(now) {
			continue
		}
		outstanding := b.Total - b.Paid
		if outstanding <= 0 {
			continue
		}
		b := b
		g.Go(func() error {
			daysOverdue := int(now.Sub(b.DueDate).Hours() / 24)
			payload := InvoiceReminderPayload{
				InvoiceID:   b.ID,
				OrderID:     b.OrderID,
				CustomerID:  b.CustomerID,
				Outstanding: outstanding,
				DueDate:     b.DueDate,
				Message: printer.Sprintf("Invoice #%d is %d days overdue. Amount outstanding: R%.2f.",
					b.ID, daysOverdue, outstanding),
			}
			if _, err := s.queue.EnqueueInvoiceReminder(ctx, payload); err != nil {
				return err
			}
			enqueued.Add(1)
			return nil
		})
	}
	err = g.Wait()
	s.metrics.AddReminders(int(enqueued.Load()))
	s.logger.Info("overdue scan complete",
		"scanned", len(balances),
		"reminders", enqueued.Load(),
	)
	return tracker.End(err)
}
