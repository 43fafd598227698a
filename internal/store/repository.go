/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * required by the alumni-service. Business logic in `internal/app` depends only on
 * this interface, which keeps it independent of PostgreSQL and easy to stub in tests.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/alumniaid/alumni-service/internal/domain"
)

// AllocationFunc splits a deduction across loans that are already ordered
// oldest-first and locked by the caller's transaction.
type AllocationFunc func(loans []domain.Loan, deduction int64) (takes []domain.LoanDeduction, remaining int64)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Loan methods
	SumDeductibleBalance(ctx context.Context, studentUID string) (int64, error)
	ListLoansByStudent(ctx context.Context, studentUID string) ([]domain.Loan, error)
	FindLoanForStudent(ctx context.Context, loanID int64, studentUID string) (*domain.Loan, error)

	// Disbursement methods
	// ApproveDisbursement writes the disbursement, applies the allocation and the
	// footprint inside one transaction.
	ApproveDisbursement(ctx context.Context, d *domain.Disbursement, allocate AllocationFunc) (*domain.DisbursementResult, error)

	// Payment methods
	CreatePendingPayment(ctx context.Context, p *domain.Payment) error
	FindPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	ResolvePayment(ctx context.Context, transactionID string, status string, externalRef *string) (*ResolvePaymentResult, error)
	ListPendingPaymentsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error)
	ListSuccessfulPaymentsForLoan(ctx context.Context, loanID int64, studentUID string) ([]domain.Payment, error)
	FindReceiptPayment(ctx context.Context, paymentID int64, userUID string) (*domain.ReceiptPayment, error)

	// Chat methods
	CreateMessage(ctx context.Context, m *domain.Message) (int64, error)
	ListMessagesByConversation(ctx context.Context, conversationID string) ([]domain.Message, error)

	// Content methods
	ListPublishedNews(ctx context.Context) ([]domain.News, error)
	ListUpcomingEvents(ctx context.Context, from time.Time) ([]domain.Event, error)
	CreateNews(ctx context.Context, n *domain.News) (int64, error)

	// In-app notification methods
	CreateNotification(ctx context.Context, n domain.Notification) (bool, error)
	ListNotifications(ctx context.Context, userUID string, opts domain.NotificationListOptions) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userUID string, notificationID int64) (bool, error)
}

// ResolvePaymentResult reports the outcome of a conditional PENDING transition.
// Transitioned is false when the payment had already left PENDING.
type ResolvePaymentResult struct {
	Payment      *domain.Payment
	Transitioned bool
	LoanBalance  *int64
}
