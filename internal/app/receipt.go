package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/alumniaid/alumni-service/internal/domain"
	"github.com/alumniaid/alumni-service/internal/store"
	"github.com/alumniaid/alumni-service/pkg/receipt"
)

const receiptNotFoundMessage = "Receipt not found or you do not have permission to view it."

// RenderedReceipt is a generated receipt document.
type RenderedReceipt struct {
	Filename string
	PDF      []byte
}

// RenderReceipt builds the PDF receipt for one of the principal's successful payments.
// Foreign, missing and unsuccessful payments are all reported as not found.
func (s *Service) RenderReceipt(ctx context.Context, principal domain.Principal, paymentID int64) (*RenderedReceipt, error) {
	if paymentID <= 0 {
		return nil, newError(ErrNotFound, receiptNotFoundMessage)
	}

	rp, err := s.repo.FindReceiptPayment(ctx, paymentID, principal.UID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			return nil, newError(ErrNotFound, receiptNotFoundMessage)
		}
		return nil, fmt.Errorf("find receipt payment: %w", err)
	}
	if rp.UserID != principal.UID || rp.Status != domain.PaymentStatusSuccessful {
		return nil, newError(ErrNotFound, receiptNotFoundMessage)
	}

	var buf bytes.Buffer
	err = s.receipts.Render(&buf, receipt.Receipt{
		PaymentID:  rp.ID,
		LoanID:     rp.LoanID,
		Amount:     rp.Amount,
		PaidAt:     rp.CreatedAt,
		PayerName:  rp.PayerName,
		PayerEmail: rp.PayerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("render receipt %d: %w", rp.ID, err)
	}
	return &RenderedReceipt{Filename: receipt.Filename(rp.ID), PDF: buf.Bytes()}, nil
}
