package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/alumniaid/alumni-service/internal/domain"
)

const defaultNewsAudience = "all"

// ListNews returns published articles, newest first.
func (s *Service) ListNews(ctx context.Context) ([]domain.News, error) {
	items, err := s.repo.ListPublishedNews(ctx)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	if items == nil {
		items = []domain.News{}
	}
	return items, nil
}

// ListUpcomingEvents returns events from now onwards, soonest first.
func (s *Service) ListUpcomingEvents(ctx context.Context) ([]domain.Event, error) {
	items, err := s.repo.ListUpcomingEvents(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if items == nil {
		items = []domain.Event{}
	}
	return items, nil
}

// CreateNews publishes an article. Only staff roles may publish.
func (s *Service) CreateNews(ctx context.Context, principal domain.Principal, req domain.CreateNewsRequest) (int64, error) {
	if !principal.HasRole(domain.RoleAdmin, domain.RoleAlumniOffice) {
		return 0, newError(ErrForbidden, "You do not have permission to perform this action.")
	}
	title := strings.TrimSpace(req.Title)
	content := strings.TrimSpace(req.Content)
	if title == "" || content == "" {
		return 0, newError(ErrInvalidArgument, "Title and content are required")
	}
	audience := strings.TrimSpace(req.TargetAudience)
	if audience == "" {
		audience = defaultNewsAudience
	}

	news := &domain.News{
		Title:          title,
		Content:        content,
		AuthorID:       principal.UID,
		TargetAudience: audience,
		Status:         domain.NewsStatusPublish,
	}
	id, err := s.repo.CreateNews(ctx, news)
	if err != nil {
		return 0, fmt.Errorf("create news: %w", err)
	}
	log.Printf("level=info component=service flow=content msg=\"news published\" news_id=%d author_id=%s", id, principal.UID)

	s.publish(ctx, domain.EventNewsPublished, domain.NewsPublishedEvent{
		EventID:   newEventID(),
		NewsID:    id,
		Title:     title,
		AuthorID:  principal.UID,
		Audience:  audience,
		Timestamp: s.now().UTC(),
	})
	return id, nil
}
