package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/alumniaid/alumni-service/internal/domain"
)

const conversationDelimiter = "--"

// ConversationID derives the order-independent thread key for two participants.
func ConversationID(a, b string) (string, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", newError(ErrInvalidArgument, "Both participants are required.")
	}
	if b < a {
		a, b = b, a
	}
	return a + conversationDelimiter + b, nil
}

// GetHistory returns the thread between the principal and otherUID, oldest first.
func (s *Service) GetHistory(ctx context.Context, principal domain.Principal, otherUID string) ([]domain.Message, error) {
	if strings.TrimSpace(otherUID) == "" {
		return nil, newError(ErrInvalidArgument, "No conversation partner specified.")
	}
	conversationID, err := ConversationID(principal.UID, otherUID)
	if err != nil {
		return nil, err
	}

	messages, err := s.repo.ListMessagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// PostMessage stores a message from the principal to recipientID and returns its id.
func (s *Service) PostMessage(ctx context.Context, principal domain.Principal, recipientID, text string) (int64, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, newError(ErrInvalidArgument, "A valid recipient ID is required.")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, newError(ErrInvalidArgument, "A non-empty message is required.")
	}
	if recipientID == strings.TrimSpace(principal.UID) {
		return 0, newError(ErrInvalidArgument, "You cannot send a message to yourself.")
	}

	conversationID, err := ConversationID(principal.UID, recipientID)
	if err != nil {
		return 0, err
	}

	msg := &domain.Message{
		ConversationID: conversationID,
		SenderID:       principal.UID,
		RecipientID:    recipientID,
		MessageText:    text,
	}
	id, err := s.repo.CreateMessage(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("create message: %w", err)
	}
	log.Printf("level=info component=service flow=chat msg=\"message stored\" message_id=%d conversation_id=%s", id, conversationID)

	s.publish(ctx, domain.EventChatMessageSent, domain.ChatMessageSentEvent{
		EventID:     newEventID(),
		MessageID:   id,
		SenderID:    principal.UID,
		RecipientID: recipientID,
		Timestamp:   s.now().UTC(),
	})
	return id, nil
}
