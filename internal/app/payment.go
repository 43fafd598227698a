package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alumniaid/alumni-service/internal/domain"
	"github.com/alumniaid/alumni-service/internal/store"
)

const paymentInitiateRateLimitScope = "payment_initiate"

// RequestCollection asks the principal's mobile-money wallet to pay towards a loan.
// The PENDING payment row is written only once the provider has accepted the request.
func (s *Service) RequestCollection(ctx context.Context, principal domain.Principal, req domain.InitiatePaymentRequest) (*domain.Payment, error) {
	phone := strings.TrimSpace(req.Phone)
	if req.Amount <= 0 || phone == "" || req.LoanID <= 0 {
		return nil, newError(ErrInvalidArgument, "Amount, phone, and loanId are required.")
	}
	if strings.ToLower(strings.TrimSpace(req.Provider)) != domain.ProviderMTN {
		return nil, newError(ErrUnsupportedProvider, "Only MTN payments are supported in this demo.")
	}

	if _, err := s.repo.FindLoanForStudent(ctx, req.LoanID, principal.UID); err != nil {
		if errors.Is(err, store.ErrLoanNotFound) {
			return nil, newError(ErrNotFound, "Loan not found.")
		}
		return nil, fmt.Errorf("find loan: %w", err)
	}

	if err := s.consumeInitiateLimit(ctx, principal.UID); err != nil {
		return nil, err
	}

	transactionID := uuid.NewString()

	token, err := s.momo.GetToken(ctx)
	if err != nil {
		log.Printf("level=error component=service flow=payment_initiate msg=\"token exchange failed\" transaction_id=%s err=%v", transactionID, err)
		return nil, wrapError(ErrGateway, "Failed to initiate payment.", err)
	}

	payload := s.momo.NewCollectionRequest(req.Amount, phone, req.LoanID)
	if err := s.momo.RequestToPay(ctx, token, transactionID, s.opts.CallbackURL, payload); err != nil {
		log.Printf("level=error component=service flow=payment_initiate msg=\"request-to-pay rejected\" transaction_id=%s loan_id=%d err=%v", transactionID, req.LoanID, err)
		return nil, wrapError(ErrGateway, "Failed to initiate payment.", err)
	}

	payment := &domain.Payment{
		TransactionID: transactionID,
		LoanID:        req.LoanID,
		UserID:        principal.UID,
		Amount:        req.Amount,
		Status:        domain.PaymentStatusPending,
	}
	if err := s.repo.CreatePendingPayment(ctx, payment); err != nil {
		// The provider already holds this reference; the poll job cannot find it without a row.
		log.Printf("level=error component=service flow=payment_initiate msg=\"provider accepted but pending row not stored\" transaction_id=%s loan_id=%d err=%v", transactionID, req.LoanID, err)
		return nil, fmt.Errorf("store pending payment: %w", err)
	}

	log.Printf("level=info component=service flow=payment_initiate msg=\"request-to-pay accepted\" transaction_id=%s loan_id=%d amount=%d", transactionID, req.LoanID, req.Amount)
	return payment, nil
}

func (s *Service) consumeInitiateLimit(ctx context.Context, subject string) error {
	if s.limiter == nil || s.opts.InitiateRateLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, paymentInitiateRateLimitScope, subject, s.opts.InitiateRateLimitPerMinute, time.Minute)
	if err != nil {
		// Fail open: a Redis outage must not block repayments.
		log.Printf("level=warn component=service flow=payment_initiate msg=\"rate limiter unavailable; allowing\" user_id=%s err=%v", subject, err)
		return nil
	}
	if count > s.opts.InitiateRateLimitPerMinute {
		log.Printf("level=warn component=service flow=payment_initiate msg=\"rate limit exceeded\" user_id=%s count=%d", subject, count)
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

// ListLoanPayments returns successful payments for one of the principal's loans, newest first.
func (s *Service) ListLoanPayments(ctx context.Context, principal domain.Principal, loanID int64) ([]domain.Payment, error) {
	if loanID <= 0 {
		return nil, newError(ErrInvalidArgument, "A valid loan ID is required.")
	}
	payments, err := s.repo.ListSuccessfulPaymentsForLoan(ctx, loanID, principal.UID)
	if err != nil {
		return nil, fmt.Errorf("list loan payments: %w", err)
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	return payments, nil
}

// ListMyLoans returns the principal's loans, oldest first.
func (s *Service) ListMyLoans(ctx context.Context, principal domain.Principal) ([]domain.Loan, error) {
	loans, err := s.repo.ListLoansByStudent(ctx, principal.UID)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	if loans == nil {
		loans = []domain.Loan{}
	}
	return loans, nil
}
