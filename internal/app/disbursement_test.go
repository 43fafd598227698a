package app

import (
	"context"
	"errors"
	"testing"

	"github.com/alumniaid/alumni-service/internal/domain"
)

func TestAllocateDeduction(t *testing.T) {
	loans := func(balances ...int64) []domain.Loan {
		out := make([]domain.Loan, len(balances))
		for i, b := range balances {
			out[i] = domain.Loan{ID: int64(i + 1), OutstandingBalance: b}
		}
		return out
	}

	tests := []struct {
		name          string
		loans         []domain.Loan
		deduction     int64
		wantTakes     []domain.LoanDeduction
		wantRemaining int64
	}{
		{
			name:          "oldest first",
			loans:         loans(500, 300, 200),
			deduction:     600,
			wantTakes:     []domain.LoanDeduction{{LoanID: 1, Amount: 500}, {LoanID: 2, Amount: 100}},
			wantRemaining: 0,
		},
		{
			name:          "overflow",
			loans:         loans(200, 300),
			deduction:     800,
			wantTakes:     []domain.LoanDeduction{{LoanID: 1, Amount: 200}, {LoanID: 2, Amount: 300}},
			wantRemaining: 300,
		},
		{
			name:          "skips settled loans",
			loans:         loans(0, -50, 400),
			deduction:     100,
			wantTakes:     []domain.LoanDeduction{{LoanID: 3, Amount: 100}},
			wantRemaining: 0,
		},
		{
			name:          "zero deduction",
			loans:         loans(100),
			deduction:     0,
			wantTakes:     nil,
			wantRemaining: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			takes, remaining := AllocateDeduction(tc.loans, tc.deduction)
			if remaining != tc.wantRemaining {
				t.Fatalf("expected remaining %d, got %d", tc.wantRemaining, remaining)
			}
			if len(takes) != len(tc.wantTakes) {
				t.Fatalf("expected takes %v, got %v", tc.wantTakes, takes)
			}
			for i := range takes {
				if takes[i] != tc.wantTakes[i] {
					t.Fatalf("take %d: expected %v, got %v", i, tc.wantTakes[i], takes[i])
				}
			}
		})
	}
}

func TestApproveDisbursement_ConservesDeduction(t *testing.T) {
	env := newTestEnv(t)
	first := env.repo.addLoan(student.UID, 500, domain.LoanStatusActive)
	second := env.repo.addLoan(student.UID, 300, domain.LoanStatusActive)
	third := env.repo.addLoan(student.UID, 200, domain.LoanStatusApproved)

	result, err := env.svc.ApproveDisbursement(context.Background(), domain.ApproveDisbursementRequest{
		StudentUID:     student.UID,
		OriginalAmount: 1000,
		Deduction:      600,
		Approver:       staff.UID,
	})
	if err != nil {
		t.Fatalf("ApproveDisbursement returned error: %v", err)
	}
	if result.Unallocated != 0 {
		t.Fatalf("expected deduction fully allocated, got %d left", result.Unallocated)
	}

	got := []int64{env.repo.balance(first), env.repo.balance(second), env.repo.balance(third)}
	want := []int64{0, 200, 200}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected balances %v, got %v", want, got)
		}
		if got[i] < 0 {
			t.Fatalf("balance went negative: %v", got)
		}
	}
	if total := got[0] + got[1] + got[2]; total != 400 {
		t.Fatalf("expected 400 outstanding after deducting 600 from 1000, got %d", total)
	}

	if len(env.repo.disbursements) != 1 || env.repo.disbursements[0].NetAmount != 400 {
		t.Fatalf("unexpected disbursement rows %+v", env.repo.disbursements)
	}
	if fp := env.repo.footprints; len(fp) != 1 || fp[0].Action != "approve_disbursement" {
		t.Fatalf("expected one approve_disbursement footprint, got %+v", fp)
	}
	if keys := env.publisher.keys(); len(keys) != 1 || keys[0] != domain.EventDisbursementApproved {
		t.Fatalf("expected disbursement event, got %v", keys)
	}
}

func TestApproveDisbursement_OverflowDropsRemainder(t *testing.T) {
	env := newTestEnv(t)
	a := env.repo.addLoan(student.UID, 200, domain.LoanStatusActive)
	b := env.repo.addLoan(student.UID, 300, domain.LoanStatusActive)

	result, err := env.svc.ApproveDisbursement(context.Background(), domain.ApproveDisbursementRequest{
		StudentUID:     student.UID,
		OriginalAmount: 1000,
		Deduction:      800,
		Approver:       staff.UID,
	})
	if err != nil {
		t.Fatalf("ApproveDisbursement returned error: %v", err)
	}
	if env.repo.balance(a) != 0 || env.repo.balance(b) != 0 {
		t.Fatalf("expected all loans settled, got %d and %d", env.repo.balance(a), env.repo.balance(b))
	}
	if result.Unallocated != 300 {
		t.Fatalf("expected 300 unallocated, got %d", result.Unallocated)
	}
	if got := env.repo.footprints[0].Meta["unallocated"]; got != int64(300) {
		t.Fatalf("expected footprint to record the dropped remainder, got %v", got)
	}
}

func TestPrepareThenApprove_ReducesBalancesByDeduction(t *testing.T) {
	env := newTestEnv(t)
	env.repo.addLoan(student.UID, 400000, domain.LoanStatusActive)
	env.repo.addLoan(student.UID, 250000, domain.LoanStatusApproved)
	env.repo.addLoan(student.UID, 90000, domain.LoanStatusClosed)
	env.repo.addLoan(other.UID, 999999, domain.LoanStatusActive)

	ctx := context.Background()
	before, _ := env.repo.SumDeductibleBalance(ctx, student.UID)

	quote, err := env.svc.PrepareDisbursement(ctx, student.UID, 1_000_000)
	if err != nil {
		t.Fatalf("PrepareDisbursement returned error: %v", err)
	}
	if quote.Deduction != 650000 || quote.NetAmount != 350000 {
		t.Fatalf("unexpected quote %+v", quote)
	}

	if _, err := env.svc.ApproveDisbursement(ctx, domain.ApproveDisbursementRequest{
		StudentUID:     student.UID,
		OriginalAmount: quote.OriginalAmount,
		Deduction:      quote.Deduction,
		Approver:       staff.UID,
	}); err != nil {
		t.Fatalf("ApproveDisbursement returned error: %v", err)
	}

	after, _ := env.repo.SumDeductibleBalance(ctx, student.UID)
	if before-after != quote.Deduction {
		t.Fatalf("expected balances to drop by %d, dropped by %d", quote.Deduction, before-after)
	}
}

func TestPrepareDisbursement_CapsAtOriginalAmount(t *testing.T) {
	env := newTestEnv(t)
	env.repo.addLoan(student.UID, 5000, domain.LoanStatusActive)

	quote, err := env.svc.PrepareDisbursement(context.Background(), student.UID, 3000)
	if err != nil {
		t.Fatalf("PrepareDisbursement returned error: %v", err)
	}
	if quote.Deduction != 3000 || quote.NetAmount != 0 {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestDisbursement_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.PrepareDisbursement(ctx, "", 100); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank student, got %v", err)
	}
	if _, err := env.svc.PrepareDisbursement(ctx, student.UID, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero amount, got %v", err)
	}

	bad := []domain.ApproveDisbursementRequest{
		{StudentUID: student.UID, OriginalAmount: 100, Deduction: 10},
		{StudentUID: student.UID, OriginalAmount: 100, Deduction: 101, Approver: staff.UID},
		{StudentUID: student.UID, OriginalAmount: 100, Deduction: -1, Approver: staff.UID},
		{OriginalAmount: 100, Deduction: 10, Approver: staff.UID},
	}
	for _, req := range bad {
		if _, err := env.svc.ApproveDisbursement(ctx, req); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %+v, got %v", req, err)
		}
	}
	if len(env.repo.disbursements) != 0 {
		t.Fatal("expected no disbursement rows for invalid requests")
	}
}
