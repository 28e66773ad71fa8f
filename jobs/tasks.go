package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeInvoiceReminder is the task type for overdue invoice reminders.
	TaskTypeInvoiceReminder = "billing:invoice_reminder"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with SMTP/Mailpit in phase 2.
	slog.Info("send email", "to", payload.To, "subject", payload.Subject)
	return nil
}

// InvoiceReminderPayload carries everything the reminder handler needs so it
// never has to query the database.
type InvoiceReminderPayload struct {
	InvoiceID   int64     `json:"invoice_id"`
	OrderID     int64     `json:"order_id"`
	CustomerID  int64     `json:"customer_id"`
	Outstanding float64   `json:"outstanding"`
	DueDate     time.Time `json:"due_date"`
	Message     string    `json:"message"`
}

// NewInvoiceReminderTask constructs an Asynq task.
func NewInvoiceReminderTask(payload InvoiceReminderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeInvoiceReminder, data), nil
}

// HandleInvoiceReminderTask processes TaskTypeInvoiceReminder tasks.
func HandleInvoiceReminderTask(ctx context.Context, t *asynq.Task) error {
	var payload InvoiceReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: hand over to WhatsApp/email delivery in phase 2.
	slog.Info("invoice reminder",
		"invoice_id", payload.InvoiceID,
		"customer_id", payload.CustomerID,
		"outstanding", payload.Outstanding,
		"message", payload.Message,
	)
	return nil
}
