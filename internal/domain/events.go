package domain

import "time"

// Routing keys published on the events exchange.
const (
	EventPaymentSuccessful    = "payment.successful"
	EventPaymentFailed        = "payment.failed"
	EventDisbursementApproved = "disbursement.approved"
	EventChatMessageSent      = "chat.message.sent"
	EventNewsPublished        = "news.published"
)

// PaymentResolvedEvent is published once a payment leaves PENDING.
type PaymentResolvedEvent struct {
	EventID       string    `json:"event_id"`
	PaymentID     int64     `json:"payment_id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	LoanID        int64     `json:"loan_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	ExternalRef   string    `json:"external_ref,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// DisbursementApprovedEvent is published after an approval commits.
type DisbursementApprovedEvent struct {
	EventID        string    `json:"event_id"`
	DisbursementID int64     `json:"disbursement_id"`
	StudentUID     string    `json:"student_uid"`
	OriginalAmount int64     `json:"original_amount"`
	Deduction      int64     `json:"deduction"`
	NetAmount      int64     `json:"net_amount"`
	Approver       string    `json:"approver"`
	Timestamp      time.Time `json:"timestamp"`
}

// ChatMessageSentEvent is published for every stored chat message.
type ChatMessageSentEvent struct {
	EventID     string    `json:"event_id"`
	MessageID   int64     `json:"message_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewsPublishedEvent is published when staff create an article.
type NewsPublishedEvent struct {
	EventID   string    `json:"event_id"`
	NewsID    int64     `json:"news_id"`
	Title     string    `json:"title"`
	AuthorID  string    `json:"author_id"`
	Audience  string    `json:"audience"`
	Timestamp time.Time `json:"timestamp"`
}
