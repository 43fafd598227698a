package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/alumniaid/alumni-service/internal/domain"
)

// AllocateDeduction walks loans in the given order (oldest first) and takes as much of
// the deduction from each as its outstanding balance allows. Loans with no balance are
// skipped. remaining is whatever the balances could not absorb.
func AllocateDeduction(loans []domain.Loan, deduction int64) (takes []domain.LoanDeduction, remaining int64) {
	remaining = deduction
	for _, loan := range loans {
		if remaining <= 0 {
			break
		}
		if loan.OutstandingBalance <= 0 {
			continue
		}
		take := loan.OutstandingBalance
		if remaining < take {
			take = remaining
		}
		takes = append(takes, domain.LoanDeduction{LoanID: loan.ID, Amount: take})
		remaining -= take
	}
	return takes, remaining
}

// PrepareDisbursement quotes how much of originalAmount would go towards the student's loans.
func (s *Service) PrepareDisbursement(ctx context.Context, studentUID string, originalAmount int64) (*domain.DisbursementQuote, error) {
	studentUID = strings.TrimSpace(studentUID)
	if studentUID == "" || originalAmount <= 0 {
		return nil, newError(ErrInvalidArgument, "missing params")
	}

	total, err := s.repo.SumDeductibleBalance(ctx, studentUID)
	if err != nil {
		return nil, fmt.Errorf("sum deductible balance: %w", err)
	}
	if total < 0 {
		total = 0
	}

	deduction := total
	if originalAmount < deduction {
		deduction = originalAmount
	}
	return &domain.DisbursementQuote{
		OriginalAmount: originalAmount,
		Deduction:      deduction,
		NetAmount:      originalAmount - deduction,
	}, nil
}

// ApproveDisbursement records a disbursement and applies its deduction oldest-loan-first.
func (s *Service) ApproveDisbursement(ctx context.Context, req domain.ApproveDisbursementRequest) (*domain.DisbursementResult, error) {
	req.StudentUID = strings.TrimSpace(req.StudentUID)
	req.Approver = strings.TrimSpace(req.Approver)
	if req.StudentUID == "" || req.Approver == "" || req.OriginalAmount <= 0 {
		return nil, newError(ErrInvalidArgument, "studentUid, approver and a positive originalAmount are required")
	}
	if req.Deduction < 0 || req.Deduction > req.OriginalAmount {
		return nil, newError(ErrInvalidArgument, "deduction must be between 0 and originalAmount")
	}

	d := &domain.Disbursement{
		StudentUID:      req.StudentUID,
		OriginalAmount:  req.OriginalAmount,
		DeductionAmount: req.Deduction,
		NetAmount:       req.OriginalAmount - req.Deduction,
		ApprovedBy:      req.Approver,
	}

	result, err := s.repo.ApproveDisbursement(ctx, d, AllocateDeduction)
	if err != nil {
		return nil, fmt.Errorf("approve disbursement: %w", err)
	}

	if result.Unallocated > 0 {
		log.Printf("level=warn component=service flow=disbursement msg=\"deduction exceeded outstanding balances; remainder dropped\" disbursement_id=%d student_uid=%s unallocated=%d", result.DisbursementID, req.StudentUID, result.Unallocated)
	}
	log.Printf("level=info component=service flow=disbursement msg=\"disbursement approved\" disbursement_id=%d student_uid=%s deduction=%d loans_touched=%d", result.DisbursementID, req.StudentUID, req.Deduction, len(result.Applied))

	s.publish(ctx, domain.EventDisbursementApproved, domain.DisbursementApprovedEvent{
		EventID:        newEventID(),
		DisbursementID: result.DisbursementID,
		StudentUID:     req.StudentUID,
		OriginalAmount: req.OriginalAmount,
		Deduction:      req.Deduction,
		NetAmount:      d.NetAmount,
		Approver:       req.Approver,
		Timestamp:      s.now().UTC(),
	})
	return result, nil
}
