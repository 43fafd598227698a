package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/alumniaid/alumni-service/internal/domain"
	"github.com/alumniaid/alumni-service/internal/store"
	"github.com/alumniaid/alumni-service/pkg/receipt"
)

// NotificationConsumer turns domain events into in-app inbox items.
type NotificationConsumer struct {
	repo store.Repository
}

func NewNotificationConsumer(repo store.Repository) *NotificationConsumer {
	return &NotificationConsumer{repo: repo}
}

// Bindings maps routing keys to handlers for rabbitmq.Consumer.ConsumeWithBindings.
func (c *NotificationConsumer) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		domain.EventPaymentSuccessful:    c.HandlePaymentResolved,
		domain.EventPaymentFailed:        c.HandlePaymentResolved,
		domain.EventDisbursementApproved: c.HandleDisbursementApproved,
		domain.EventChatMessageSent:      c.HandleChatMessageSent,
	}
}

// HandlePaymentResolved returns false only for retryable store failures.
func (c *NotificationConsumer) HandlePaymentResolved(body []byte) bool {
	var event domain.PaymentResolvedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("notification-consumer: failed to unmarshal payment event: %v", err)
		return true
	}
	if event.UserID == "" || event.TransactionID == "" {
		log.Printf("notification-consumer: payment event missing user or transaction id %+v", event)
		return true
	}

	n := domain.Notification{
		UserUID:   event.UserID,
		DedupeKey: "payment:" + event.TransactionID + ":" + event.Status,
		Data: map[string]interface{}{
			"payment_id":     event.PaymentID,
			"loan_id":        event.LoanID,
			"transaction_id": event.TransactionID,
			"amount":         event.Amount,
		},
	}
	if event.Status == domain.PaymentStatusSuccessful {
		n.Type = domain.EventPaymentSuccessful
		n.Title = "Payment received"
		n.Body = fmt.Sprintf("Your payment of UGX %s towards Loan #%d was successful.", receipt.FormatAmount(event.Amount), event.LoanID)
	} else {
		n.Type = domain.EventPaymentFailed
		n.Title = "Payment failed"
		n.Body = fmt.Sprintf("Your payment of UGX %s towards Loan #%d did not go through.", receipt.FormatAmount(event.Amount), event.LoanID)
	}
	return c.store(n)
}

func (c *NotificationConsumer) HandleDisbursementApproved(body []byte) bool {
	var event domain.DisbursementApprovedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("notification-consumer: failed to unmarshal disbursement event: %v", err)
		return true
	}
	if event.StudentUID == "" || event.DisbursementID == 0 {
		log.Printf("notification-consumer: disbursement event missing student or id %+v", event)
		return true
	}

	message := fmt.Sprintf("A disbursement of UGX %s has been approved.", receipt.FormatAmount(event.NetAmount))
	if event.Deduction > 0 {
		message = fmt.Sprintf("A disbursement of UGX %s has been approved. UGX %s was applied to your outstanding loans.",
			receipt.FormatAmount(event.NetAmount), receipt.FormatAmount(event.Deduction))
	}
	return c.store(domain.Notification{
		UserUID:   event.StudentUID,
		Type:      domain.EventDisbursementApproved,
		Title:     "Disbursement approved",
		Body:      message,
		DedupeKey: fmt.Sprintf("disbursement:%d", event.DisbursementID),
		Data: map[string]interface{}{
			"disbursement_id": event.DisbursementID,
			"original_amount": event.OriginalAmount,
			"deduction":       event.Deduction,
			"net_amount":      event.NetAmount,
		},
	})
}

func (c *NotificationConsumer) HandleChatMessageSent(body []byte) bool {
	var event domain.ChatMessageSentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("notification-consumer: failed to unmarshal chat event: %v", err)
		return true
	}
	if strings.TrimSpace(event.RecipientID) == "" || event.MessageID == 0 {
		log.Printf("notification-consumer: chat event missing recipient or id %+v", event)
		return true
	}

	return c.store(domain.Notification{
		UserUID:   event.RecipientID,
		Type:      domain.EventChatMessageSent,
		Title:     "New message",
		Body:      "You have a new message.",
		DedupeKey: fmt.Sprintf("chat:%d", event.MessageID),
		Data: map[string]interface{}{
			"message_id": event.MessageID,
			"sender_id":  event.SenderID,
		},
	})
}

func (c *NotificationConsumer) store(n domain.Notification) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, err := c.repo.CreateNotification(ctx, n)
	if err != nil {
		log.Printf("notification-consumer: failed to store %s notification for %s: %v", n.Type, n.UserUID, err)
		return false
	}
	if !created {
		log.Printf("notification-consumer: duplicate %s notification ignored dedupe_key=%s", n.Type, n.DedupeKey)
	}
	return true
}
