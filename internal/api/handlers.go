/**
 * @description
 * This file contains the HTTP handlers for the alumni-service. Handlers decode the
 * request, resolve the principal once, call the application service and translate
 * its error kinds into HTTP status codes.
 *
 * @dependencies
 * - net/http, encoding/json: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain: For business logic and domain models.
 * - pkg/momoclient: For the provider's callback body.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alumniaid/alumni-service/internal/app"
	"github.com/alumniaid/alumni-service/internal/domain"
	"github.com/alumniaid/alumni-service/pkg/momoclient"
)

const (
	internalErrorMessage = "An internal error occurred."
	maxRequestBodyBytes  = 1 << 20
)

// Handlers holds the dependencies for the HTTP handlers.
type Handlers struct {
	service *app.Service
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(service *app.Service) *Handlers {
	return &Handlers{service: service}
}

// principal resolves the caller or writes a 401. The middleware guarantees one on
// authenticated routes, so a miss here is a wiring bug.
func principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not identify user from token")
	}
	return p, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst)
}

// GetConversationHandler returns the message history between the caller and another user.
func (h *Handlers) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	messages, err := h.service.GetHistory(r.Context(), p, chi.URLParam(r, "otherUserId"))
	if err != nil {
		writeServiceError(w, "get_conversation", err, internalErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// SendMessageHandler stores a chat message from the caller.
func (h *Handlers) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req domain.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	recipientID, ok := req.RecipientID.(string)
	if !ok {
		writeError(w, http.StatusBadRequest, "A valid recipient ID is required.")
		return
	}
	text, ok := req.Message.(string)
	if !ok {
		writeError(w, http.StatusBadRequest, "A non-empty message is required.")
		return
	}

	id, err := h.service.PostMessage(r.Context(), p, recipientID, text)
	if err != nil {
		writeServiceError(w, "send_message", err, internalErrorMessage)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      id,
		"message": "Message sent successfully",
	})
}

// PrepareDisbursementHandler quotes the loan deduction for a pending disbursement.
func (h *Handlers) PrepareDisbursementHandler(w http.ResponseWriter, r *http.Request) {
	studentUID := strings.TrimSpace(r.URL.Query().Get("studentUid"))
	originalAmount, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("originalAmount")), 10, 64)
	if studentUID == "" || err != nil || originalAmount <= 0 {
		writeError(w, http.StatusBadRequest, "missing params")
		return
	}

	quote, err := h.service.PrepareDisbursement(r.Context(), studentUID, originalAmount)
	if err != nil {
		writeServiceError(w, "prepare_disbursement", err, "server error")
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// ApproveDisbursementHandler records a disbursement and applies its deduction.
func (h *Handlers) ApproveDisbursementHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req domain.ApproveDisbursementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Approver) == "" {
		req.Approver = p.UID
	}

	result, err := h.service.ApproveDisbursement(r.Context(), req)
	if err != nil {
		writeServiceError(w, "approve_disbursement", err, "server error")
		return
	}
	log.Printf("level=info component=api endpoint=approve_disbursement outcome=success disbursement_id=%d approver=%s", result.DisbursementID, req.Approver)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"disbursementId": result.DisbursementID,
	})
}

// InitiatePaymentHandler asks the provider to collect a loan repayment from the caller's phone.
func (h *Handlers) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req domain.InitiatePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := h.service.RequestCollection(r.Context(), p, req)
	if err != nil {
		writeServiceError(w, "initiate_payment", err, "Failed to initiate payment.")
		return
	}
	log.Printf("level=info component=api endpoint=initiate_payment outcome=accepted uid=%s loan_id=%d transaction_id=%s", p.UID, payment.LoanID, payment.TransactionID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":       "Payment request sent. Please approve on your phone.",
		"transactionId": payment.TransactionID,
	})
}

// PaymentCallbackHandler receives the provider's final status for a collection.
// A 500 makes the provider retry; everything else is acknowledged with 200.
func (h *Handlers) PaymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(r.Header.Get("X-Reference-Id"))

	var result momoclient.RequestToPayStatus
	if err := decodeJSON(w, r, &result); err != nil {
		if transactionID == "" {
			log.Printf("level=warn component=api endpoint=payment_callback outcome=ignored reason=invalid_body err=%v", err)
			writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.ReconcileIgnoredUnknown)})
			return
		}
		// Leave the payment PENDING; a redelivery or the status poll resolves it.
		log.Printf("level=error component=api endpoint=payment_callback outcome=retry reason=invalid_body transaction_id=%s err=%v", transactionID, err)
		writeError(w, http.StatusInternalServerError, "Could not process callback")
		return
	}

	outcome, err := h.service.OnCallback(r.Context(), transactionID, domain.PaymentCallback{
		FinancialTransactionID: result.FinancialTransactionID,
		ExternalID:             result.ExternalID,
		Status:                 result.Status,
		Reason:                 result.Reason.String(),
	})
	if err != nil {
		log.Printf("level=error component=api endpoint=payment_callback outcome=failed transaction_id=%s err=%v", transactionID, err)
		writeError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	log.Printf("level=info component=api endpoint=payment_callback outcome=%s transaction_id=%s", outcome, transactionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// ListLoanPaymentsHandler returns the successful payments for one of the caller's loans.
func (h *Handlers) ListLoanPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	loanID, err := strconv.ParseInt(chi.URLParam(r, "loanId"), 10, 64)
	if err != nil || loanID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid loan ID")
		return
	}

	payments, err := h.service.ListLoanPayments(r.Context(), p, loanID)
	if err != nil {
		writeServiceError(w, "list_loan_payments", err, internalErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// ListMyLoansHandler returns the caller's loans.
func (h *Handlers) ListMyLoansHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	loans, err := h.service.ListMyLoans(r.Context(), p)
	if err != nil {
		writeServiceError(w, "list_my_loans", err, internalErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

// DownloadReceiptHandler streams the PDF receipt for a successful payment.
func (h *Handlers) DownloadReceiptHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "paymentId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Receipt not found or you do not have permission to view it.")
		return
	}

	rendered, err := h.service.RenderReceipt(r.Context(), p, paymentID)
	if err != nil {
		writeServiceError(w, "download_receipt", err, "Could not generate receipt.")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rendered.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(rendered.PDF)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rendered.PDF); err != nil {
		log.Printf("level=warn component=api endpoint=download_receipt outcome=write_failed payment_id=%d err=%v", paymentID, err)
	}
}

// ListNewsHandler returns published news articles.
func (h *Handlers) ListNewsHandler(w http.ResponseWriter, r *http.Request) {
	news, err := h.service.ListNews(r.Context())
	if err != nil {
		writeServiceError(w, "list_news", err, "Failed to fetch news.")
		return
	}
	writeJSON(w, http.StatusOK, news)
}

// ListEventsHandler returns upcoming events.
func (h *Handlers) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListUpcomingEvents(r.Context())
	if err != nil {
		writeServiceError(w, "list_events", err, "Failed to fetch events.")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// CreateNewsHandler publishes a news article.
func (h *Handlers) CreateNewsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req domain.CreateNewsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.service.CreateNews(r.Context(), p, req)
	if err != nil {
		writeServiceError(w, "create_news", err, "Failed to create news article.")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      id,
		"message": "News article created successfully.",
	})
}

// CreateEventHandler is a placeholder until event management ships.
func (h *Handlers) CreateEventHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{"message": "Event creation not implemented yet."})
}

// ListNotificationsHandler returns the caller's in-app notifications.
func (h *Handlers) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	opts := domain.NotificationListOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	items, err := h.service.ListNotifications(r.Context(), p, opts)
	if err != nil {
		writeServiceError(w, "list_notifications", err, internalErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// MarkNotificationReadHandler flags one notification as read.
func (h *Handlers) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}

	if err := h.service.MarkNotificationRead(r.Context(), p, id); err != nil {
		writeServiceError(w, "mark_notification_read", err, internalErrorMessage)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps an application error to a status code. Client-facing
// messages come from *app.Error; anything else is logged and replaced by fallback.
func writeServiceError(w http.ResponseWriter, endpoint string, err error, fallback string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrInvalidArgument), errors.Is(err, app.ErrUnsupportedProvider):
		status = http.StatusBadRequest
	case errors.Is(err, app.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, app.ErrRateLimited):
		status = http.StatusTooManyRequests
		var rl *app.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds))
		}
	}

	message := fallback
	var appErr *app.Error
	var rl *app.RateLimitError
	switch {
	case errors.As(err, &appErr) && status != http.StatusInternalServerError:
		message = appErr.Message
	case errors.As(err, &rl):
		message = rl.Error()
	}

	if status >= http.StatusInternalServerError {
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
	} else {
		log.Printf("level=info component=api endpoint=%s outcome=rejected status=%d reason=%q", endpoint, status, message)
	}
	writeError(w, status, message)
}

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("level=error component=api msg=\"failed to write json response\" err=%v", err)
		}
	}
}

// writeError is a helper function to write JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
