package app

import (
	"context"
	"fmt"

	"github.com/alumniaid/alumni-service/internal/domain"
)

// ListNotifications returns the principal's inbox, newest first.
func (s *Service) ListNotifications(ctx context.Context, principal domain.Principal, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	items, err := s.repo.ListNotifications(ctx, principal.UID, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if items == nil {
		items = []domain.Notification{}
	}
	return items, nil
}

// MarkNotificationRead flags one of the principal's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, principal domain.Principal, notificationID int64) error {
	if notificationID <= 0 {
		return newError(ErrInvalidArgument, "A valid notification ID is required.")
	}
	updated, err := s.repo.MarkNotificationRead(ctx, principal.UID, notificationID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !updated {
		return newError(ErrNotFound, "Notification not found.")
	}
	return nil
}
