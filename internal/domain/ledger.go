/**
 * @description
 * This file defines the ledger models for the alumni-service: student loans,
 * disbursements, mobile-money payments and the footprint audit trail.
 *
 * @notes
 * - Amounts are whole Ugandan shillings stored as `int64`. UGX has no minor unit
 *   in circulation, so there is no kobo/cent scaling as in other currencies.
 * - Status values are stored verbatim in the database and compared case-sensitively.
 */

package domain

import "time"

// Loan statuses that count towards a student's deductible balance.
const (
	LoanStatusApproved = "approved"
	LoanStatusActive   = "active"
	LoanStatusClosed   = "closed"
)

// Payment statuses. A payment moves PENDING -> SUCCESSFUL or PENDING -> FAILED, once.
const (
	PaymentStatusPending    = "PENDING"
	PaymentStatusSuccessful = "SUCCESSFUL"
	PaymentStatusFailed     = "FAILED"
)

// ProviderMTN is the only mobile-money provider wired into the gateway.
const ProviderMTN = "mtn"

// Loan maps to the `loans` table.
type Loan struct {
	ID                 int64     `json:"id"`
	StudentUID         string    `json:"student_uid"`
	Amount             int64     `json:"amount"`
	OutstandingBalance int64     `json:"outstanding_balance"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// Disbursement maps to the `disbursements` table. Rows are immutable once written.
type Disbursement struct {
	ID              int64     `json:"id"`
	StudentUID      string    `json:"student_uid"`
	OriginalAmount  int64     `json:"original_amount"`
	DeductionAmount int64     `json:"deduction_amount"`
	NetAmount       int64     `json:"net_amount"`
	ApprovedBy      string    `json:"approved_by"`
	ApprovedAt      time.Time `json:"approved_at"`
}

// LoanDeduction is one step of an oldest-first allocation: take Amount from LoanID.
type LoanDeduction struct {
	LoanID int64 `json:"loan_id"`
	Amount int64 `json:"amount"`
}

// DisbursementQuote is the read-only result of preparing a disbursement.
type DisbursementQuote struct {
	OriginalAmount int64 `json:"originalAmount"`
	Deduction      int64 `json:"deduction"`
	NetAmount      int64 `json:"netAmount"`
}

// ApproveDisbursementRequest is the DTO for POST /disburse/approve.
type ApproveDisbursementRequest struct {
	StudentUID     string `json:"studentUid"`
	OriginalAmount int64  `json:"originalAmount"`
	Deduction      int64  `json:"deduction"`
	Approver       string `json:"approver"`
}

// DisbursementResult is what the store reports after applying an approval.
type DisbursementResult struct {
	DisbursementID int64
	Applied        []LoanDeduction
	Unallocated    int64
}

// Payment maps to the `payments` table.
type Payment struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transaction_id"`
	LoanID        int64     `json:"loan_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	ExternalRef   *string   `json:"external_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReceiptPayment is a successful payment joined with the payer's profile.
type ReceiptPayment struct {
	Payment
	PayerName  string
	PayerEmail string
}

// InitiatePaymentRequest is the DTO for POST /payments/initiate.
type InitiatePaymentRequest struct {
	Amount   int64  `json:"amount"`
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
	LoanID   int64  `json:"loanId"`
}

// PaymentCallback is a provider result reduced to what reconciliation needs. The
// transaction id travels separately (X-Reference-Id on callbacks).
type PaymentCallback struct {
	FinancialTransactionID string `json:"financialTransactionId"`
	ExternalID             string `json:"externalId,omitempty"`
	Status                 string `json:"status"`
	Reason                 string `json:"reason,omitempty"`
}

// ReconcileOutcome describes what a callback did to the ledger.
type ReconcileOutcome string

const (
	ReconcileIgnoredUnknown  ReconcileOutcome = "ignored_unknown"
	ReconcileIgnoredResolved ReconcileOutcome = "ignored_resolved"
	ReconcileSucceeded       ReconcileOutcome = "succeeded"
	ReconcileFailed          ReconcileOutcome = "failed"
)

// Footprint maps to the append-only `footprints` audit table.
type Footprint struct {
	UserUID    string                 `json:"user_uid"`
	Action     string                 `json:"action"`
	TargetType string                 `json:"target_type"`
	TargetID   string                 `json:"target_id"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}
