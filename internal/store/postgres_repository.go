/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for the ledger tables (loans, disbursements, payments,
 * footprints) and for chat, content and in-app notifications.
 *
 * @notes
 * - Multi-row ledger mutations (disbursement approval, payment resolution) run in a
 *   single transaction and lock the affected loan rows with `FOR UPDATE`, so
 *   concurrent approvals and callbacks against the same loan serialize.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alumniaid/alumni-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrLoanNotFound         = errors.New("loan not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrDuplicateTransaction = errors.New("duplicate payment transaction id")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// SumDeductibleBalance totals the outstanding balance of a student's approved and active loans.
func (r *PostgresRepository) SumDeductibleBalance(ctx context.Context, studentUID string) (int64, error) {
	var total int64
	query := `
		SELECT COALESCE(SUM(outstanding_balance), 0)
		FROM loans
		WHERE student_uid = $1 AND status IN ('approved', 'active')
	`
	if err := r.db.QueryRow(ctx, query, studentUID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// ListLoansByStudent returns all loans for a student, oldest first.
func (r *PostgresRepository) ListLoansByStudent(ctx context.Context, studentUID string) ([]domain.Loan, error) {
	query := `
		SELECT id, student_uid, amount, outstanding_balance, status, created_at
		FROM loans
		WHERE student_uid = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, studentUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := make([]domain.Loan, 0)
	for rows.Next() {
		var loan domain.Loan
		if err := rows.Scan(&loan.ID, &loan.StudentUID, &loan.Amount, &loan.OutstandingBalance, &loan.Status, &loan.CreatedAt); err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

// FindLoanForStudent fetches a loan only if it belongs to the given student.
func (r *PostgresRepository) FindLoanForStudent(ctx context.Context, loanID int64, studentUID string) (*domain.Loan, error) {
	var loan domain.Loan
	query := `
		SELECT id, student_uid, amount, outstanding_balance, status, created_at
		FROM loans
		WHERE id = $1 AND student_uid = $2
	`
	err := r.db.QueryRow(ctx, query, loanID, studentUID).Scan(
		&loan.ID, &loan.StudentUID, &loan.Amount, &loan.OutstandingBalance, &loan.Status, &loan.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

// ApproveDisbursement inserts the disbursement, locks the student's open loans
// oldest-first, applies the allocation and appends the footprint, all atomically.
func (r *PostgresRepository) ApproveDisbursement(ctx context.Context, d *domain.Disbursement, allocate AllocationFunc) (*domain.DisbursementResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO disbursements (student_uid, original_amount, deduction_amount, net_amount, approved_by, approved_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, approved_at
	`
	if err := tx.QueryRow(ctx, insert, d.StudentUID, d.OriginalAmount, d.DeductionAmount, d.NetAmount, d.ApprovedBy).Scan(&d.ID, &d.ApprovedAt); err != nil {
		return nil, fmt.Errorf("insert disbursement: %w", err)
	}

	// Lock in allocation order so two approvals for one student cannot interleave.
	rows, err := tx.Query(ctx, `
		SELECT id, student_uid, amount, outstanding_balance, status, created_at
		FROM loans
		WHERE student_uid = $1 AND outstanding_balance > 0
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, d.StudentUID)
	if err != nil {
		return nil, fmt.Errorf("lock loans: %w", err)
	}
	loans := make([]domain.Loan, 0)
	for rows.Next() {
		var loan domain.Loan
		if err := rows.Scan(&loan.ID, &loan.StudentUID, &loan.Amount, &loan.OutstandingBalance, &loan.Status, &loan.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		loans = append(loans, loan)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	takes, remaining := allocate(loans, d.DeductionAmount)
	for _, take := range takes {
		if take.Amount <= 0 {
			continue
		}
		_, err := tx.Exec(ctx, `UPDATE loans SET outstanding_balance = outstanding_balance - $1 WHERE id = $2`, take.Amount, take.LoanID)
		if err != nil {
			return nil, fmt.Errorf("deduct loan %d: %w", take.LoanID, err)
		}
	}

	footprint := domain.Footprint{
		UserUID:    d.ApprovedBy,
		Action:     "approve_disbursement",
		TargetType: "disbursement",
		TargetID:   strconv.FormatInt(d.ID, 10),
		Meta: map[string]interface{}{
			"originalAmount": d.OriginalAmount,
			"deduction":      d.DeductionAmount,
			"unallocated":    remaining,
		},
	}
	if err := insertFootprint(ctx, tx, footprint); err != nil {
		return nil, fmt.Errorf("insert footprint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &domain.DisbursementResult{
		DisbursementID: d.ID,
		Applied:        takes,
		Unallocated:    remaining,
	}, nil
}

func insertFootprint(ctx context.Context, tx pgx.Tx, f domain.Footprint) error {
	meta := f.Meta
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO footprints (user_uid, action, target_type, target_id, meta) VALUES ($1, $2, $3, $4, $5)`,
		f.UserUID, f.Action, f.TargetType, f.TargetID, metaJSON,
	)
	return err
}

// CreatePendingPayment stores a payment the provider has accepted.
func (r *PostgresRepository) CreatePendingPayment(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (transaction_id, loan_id, user_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, p.TransactionID, p.LoanID, p.UserID, p.Amount, domain.PaymentStatusPending).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateTransaction
		}
		return err
	}
	p.Status = domain.PaymentStatusPending
	return nil
}

const paymentColumns = `id, transaction_id, loan_id, user_id, amount, status, external_ref, created_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	if err := row.Scan(&p.ID, &p.TransactionID, &p.LoanID, &p.UserID, &p.Amount, &p.Status, &p.ExternalRef, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPaymentByTransactionID looks a payment up by the reference id sent to the provider.
func (r *PostgresRepository) FindPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// ResolvePayment moves a PENDING payment to its final status. The status update is
// conditional on PENDING, so a redelivered callback finds nothing to update and the
// loan balance is touched at most once. On SUCCESSFUL the loan is decremented in
// the same transaction, without a floor.
func (r *PostgresRepository) ResolvePayment(ctx context.Context, transactionID string, status string, externalRef *string) (*ResolvePaymentResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE payments
		SET status = $2, external_ref = COALESCE($3, external_ref), updated_at = NOW()
		WHERE transaction_id = $1 AND status = 'PENDING'
		RETURNING ` + paymentColumns
	payment, err := scanPayment(tx.QueryRow(ctx, update, transactionID, status, externalRef))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update payment status: %w", err)
		}
		current, findErr := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID))
		if findErr != nil {
			if errors.Is(findErr, pgx.ErrNoRows) {
				return nil, ErrPaymentNotFound
			}
			return nil, findErr
		}
		return &ResolvePaymentResult{Payment: current, Transitioned: false}, nil
	}

	result := &ResolvePaymentResult{Payment: payment, Transitioned: true}
	if status == domain.PaymentStatusSuccessful {
		var balance int64
		err := tx.QueryRow(ctx,
			`UPDATE loans SET outstanding_balance = outstanding_balance - $1 WHERE id = $2 RETURNING outstanding_balance`,
			payment.Amount, payment.LoanID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("deduct loan %d: %w", payment.LoanID, ErrLoanNotFound)
			}
			return nil, fmt.Errorf("deduct loan %d: %w", payment.LoanID, err)
		}
		result.LoanBalance = &balance
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// ListPendingPaymentsOlderThan returns PENDING payments created before the cutoff, oldest first.
func (r *PostgresRepository) ListPendingPaymentsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	return r.queryPayments(ctx, query, cutoff, limit)
}

// ListSuccessfulPaymentsForLoan returns successful payments for a loan the student owns, newest first.
func (r *PostgresRepository) ListSuccessfulPaymentsForLoan(ctx context.Context, loanID int64, studentUID string) ([]domain.Payment, error) {
	query := `
		SELECT p.id, p.transaction_id, p.loan_id, p.user_id, p.amount, p.status, p.external_ref, p.created_at
		FROM payments p
		JOIN loans l ON p.loan_id = l.id
		WHERE p.loan_id = $1 AND l.student_uid = $2 AND p.status = 'SUCCESSFUL'
		ORDER BY p.created_at DESC
	`
	return r.queryPayments(ctx, query, loanID, studentUID)
}

func (r *PostgresRepository) queryPayments(ctx context.Context, query string, args ...interface{}) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// FindReceiptPayment fetches a SUCCESSFUL payment owned by the user together with
// the payer profile. Missing, foreign and unsuccessful payments all yield ErrPaymentNotFound.
func (r *PostgresRepository) FindReceiptPayment(ctx context.Context, paymentID int64, userUID string) (*domain.ReceiptPayment, error) {
	var rp domain.ReceiptPayment
	query := `
		SELECT p.id, p.transaction_id, p.loan_id, p.user_id, p.amount, p.status, p.external_ref, p.created_at,
		       COALESCE(u.full_name, ''), COALESCE(u.email, '')
		FROM payments p
		LEFT JOIN users u ON p.user_id = u.uid
		WHERE p.id = $1 AND p.user_id = $2 AND p.status = 'SUCCESSFUL'
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, paymentID, userUID).Scan(
		&rp.ID, &rp.TransactionID, &rp.LoanID, &rp.UserID, &rp.Amount, &rp.Status, &rp.ExternalRef, &rp.CreatedAt,
		&rp.PayerName, &rp.PayerEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &rp, nil
}

// CreateMessage appends a chat message and returns its id.
func (r *PostgresRepository) CreateMessage(ctx context.Context, m *domain.Message) (int64, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, recipient_id, message_text)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := r.db.QueryRow(ctx, query, m.ConversationID, m.SenderID, m.RecipientID, m.MessageText).Scan(&m.ID, &m.CreatedAt); err != nil {
		return 0, err
	}
	return m.ID, nil
}

// ListMessagesByConversation returns the thread in creation order.
func (r *PostgresRepository) ListMessagesByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, recipient_id, message_text, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.MessageText, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListPublishedNews returns published articles, newest first.
func (r *PostgresRepository) ListPublishedNews(ctx context.Context) ([]domain.News, error) {
	query := `
		SELECT id, title, content, author_id, target_audience, status, created_at
		FROM news
		WHERE status = 'published'
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.News, 0)
	for rows.Next() {
		var n domain.News
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.AuthorID, &n.TargetAudience, &n.Status, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// ListUpcomingEvents returns events on or after `from`, soonest first.
func (r *PostgresRepository) ListUpcomingEvents(ctx context.Context, from time.Time) ([]domain.Event, error) {
	query := `
		SELECT id, title, COALESCE(description, ''), COALESCE(location, ''), event_date, created_at
		FROM events
		WHERE event_date >= $1
		ORDER BY event_date ASC
	`
	rows, err := r.db.Query(ctx, query, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Event, 0)
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Location, &e.EventDate, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// CreateNews inserts a published article.
func (r *PostgresRepository) CreateNews(ctx context.Context, n *domain.News) (int64, error) {
	query := `
		INSERT INTO news (title, content, author_id, target_audience, status)
		VALUES ($1, $2, $3, $4, 'published')
		RETURNING id, status, created_at
	`
	if err := r.db.QueryRow(ctx, query, n.Title, n.Content, n.AuthorID, n.TargetAudience).Scan(&n.ID, &n.Status, &n.CreatedAt); err != nil {
		return 0, err
	}
	return n.ID, nil
}

// CreateNotification inserts an inbox item. It returns false when the dedupe key
// was already used, which makes event redelivery harmless.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n domain.Notification) (bool, error) {
	data := n.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return false, err
	}

	var dedupeKey *string
	if key := strings.TrimSpace(n.DedupeKey); key != "" {
		dedupeKey = &key
	}

	query := `
		INSERT INTO notifications (user_uid, type, title, body, data, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, n.UserUID, n.Type, n.Title, n.Body, dataJSON, dedupeKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListNotifications retrieves a page of the user's inbox, newest first.
func (r *PostgresRepository) ListNotifications(ctx context.Context, userUID string, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, user_uid, type, title, body, data, read_at, created_at
		FROM notifications
		WHERE user_uid = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userUID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		var dataJSON []byte
		if err := rows.Scan(&n.ID, &n.UserUID, &n.Type, &n.Title, &n.Body, &dataJSON, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
				return nil, fmt.Errorf("decode notification %d data: %w", n.ID, err)
			}
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// MarkNotificationRead marks one of the user's notifications as read.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, userUID string, notificationID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, NOW()) WHERE id = $1 AND user_uid = $2`,
		notificationID, userUID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
