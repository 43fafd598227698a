package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/alumniaid/alumni-service/internal/domain"
	"github.com/alumniaid/alumni-service/internal/store"
	"github.com/alumniaid/alumni-service/pkg/momoclient"
)

// normalizeProviderStatus folds a provider status into a terminal payment status.
// Anything other than SUCCESSFUL is treated as a failure.
func normalizeProviderStatus(status string) string {
	if strings.EqualFold(strings.TrimSpace(status), domain.PaymentStatusSuccessful) {
		return domain.PaymentStatusSuccessful
	}
	return domain.PaymentStatusFailed
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// OnCallback applies a provider's final status to the payment identified by transactionID.
// Unknown and already-resolved payments are acknowledged without changes, so provider
// retries and duplicate deliveries are safe.
func (s *Service) OnCallback(ctx context.Context, transactionID string, cb domain.PaymentCallback) (domain.ReconcileOutcome, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.ReconcileIgnoredUnknown, nil
	}

	status := normalizeProviderStatus(cb.Status)
	result, err := s.repo.ResolvePayment(ctx, transactionID, status, optionalString(cb.FinancialTransactionID))
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("level=info component=reconciler msg=\"callback for unknown payment; acknowledging\" transaction_id=%s", transactionID)
			return domain.ReconcileIgnoredUnknown, nil
		}
		return "", fmt.Errorf("resolve payment %s: %w", transactionID, err)
	}

	if !result.Transitioned {
		log.Printf("level=info component=reconciler msg=\"payment already resolved; ignoring\" transaction_id=%s status=%s", transactionID, result.Payment.Status)
		return domain.ReconcileIgnoredResolved, nil
	}

	payment := result.Payment
	if result.LoanBalance != nil && *result.LoanBalance < 0 {
		log.Printf("level=warn component=reconciler msg=\"loan balance negative after repayment\" transaction_id=%s loan_id=%d balance=%d", transactionID, payment.LoanID, *result.LoanBalance)
	}

	outcome := domain.ReconcileFailed
	routingKey := domain.EventPaymentFailed
	if status == domain.PaymentStatusSuccessful {
		outcome = domain.ReconcileSucceeded
		routingKey = domain.EventPaymentSuccessful
	}
	log.Printf("level=info component=reconciler msg=\"payment resolved\" transaction_id=%s loan_id=%d status=%s reason=%q", transactionID, payment.LoanID, status, cb.Reason)

	event := domain.PaymentResolvedEvent{
		EventID:       newEventID(),
		PaymentID:     payment.ID,
		TransactionID: payment.TransactionID,
		UserID:        payment.UserID,
		LoanID:        payment.LoanID,
		Amount:        payment.Amount,
		Status:        status,
		Timestamp:     s.now().UTC(),
	}
	if payment.ExternalRef != nil {
		event.ExternalRef = *payment.ExternalRef
	}
	s.publish(ctx, routingKey, event)
	return outcome, nil
}

// ReconcilePending polls the provider for payments stuck in PENDING for longer than minAge
// and feeds any terminal status through OnCallback. It returns how many were resolved.
func (s *Service) ReconcilePending(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-minAge)
	pending, err := s.repo.ListPendingPaymentsOlderThan(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending payments: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	token, err := s.momo.GetToken(ctx)
	if err != nil {
		return 0, wrapError(ErrGateway, "token exchange failed", err)
	}

	resolved := 0
	var errs []error
	for _, payment := range pending {
		status, err := s.momo.GetRequestToPayStatus(ctx, token, payment.TransactionID)
		if err != nil {
			var apiErr *momoclient.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
				// The provider never registered this reference, so it can never be paid.
				status = &momoclient.RequestToPayStatus{Status: momoclient.StatusFailed, Reason: momoclient.ErrorReason{Code: "RESOURCE_NOT_FOUND"}}
			} else {
				log.Printf("level=warn component=reconciler msg=\"status lookup failed\" transaction_id=%s err=%v", payment.TransactionID, err)
				errs = append(errs, err)
				continue
			}
		}
		if strings.EqualFold(status.Status, momoclient.StatusPending) || strings.TrimSpace(status.Status) == "" {
			continue
		}

		outcome, err := s.OnCallback(ctx, payment.TransactionID, domain.PaymentCallback{
			FinancialTransactionID: status.FinancialTransactionID,
			ExternalID:             status.ExternalID,
			Status:                 status.Status,
			Reason:                 status.Reason.String(),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if outcome == domain.ReconcileSucceeded || outcome == domain.ReconcileFailed {
			resolved++
		}
	}
	return resolved, errors.Join(errs...)
}
