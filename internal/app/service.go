/**
 * @description
 * This file contains the core wiring for the alumni-service business logic. The `Service`
 * struct coordinates the database repository, the MTN MoMo Collection API client, the
 * receipt renderer and the message broker.
 *
 * Key features:
 * - Declares the error kinds every use case reports (invalid argument, not found, gateway...).
 * - Takes the authenticated principal explicitly on every call; nothing reads identity from context.
 * - Publishes domain events to RabbitMQ after state changes commit. Publish failures are logged,
 *   never surfaced to the caller.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/momoclient, pkg/rabbitmq, pkg/receipt: For external service communication and rendering.
 */

package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alumniaid/alumni-service/internal/store"
	"github.com/alumniaid/alumni-service/pkg/momoclient"
	"github.com/alumniaid/alumni-service/pkg/rabbitmq"
	"github.com/alumniaid/alumni-service/pkg/receipt"
)

// Error kinds. Handlers map these to HTTP status codes with errors.Is.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrGateway             = errors.New("payment gateway error")
	ErrRateLimited         = errors.New("rate limited")
)

// Error pairs an error kind with the client-facing message.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind error, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// RateLimitError is returned when a caller exceeds an initiation window.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return "Too many payment requests. Please try again shortly."
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RateLimiter consumes one unit from a fixed window keyed by scope and subject.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Options carries the tunables the service reads at call time.
type Options struct {
	EventsExchange             string
	CallbackURL                string
	InitiateRateLimitPerMinute int
}

// Service provides the core business logic for the alumni portal.
type Service struct {
	repo          store.Repository
	momo          *momoclient.Client
	eventProducer rabbitmq.Publisher
	limiter       RateLimiter
	receipts      *receipt.Renderer
	opts          Options
	now           func() time.Time
}

// NewService creates a new service instance. limiter may be nil to disable rate limiting.
func NewService(repo store.Repository, momo *momoclient.Client, producer rabbitmq.Publisher, limiter RateLimiter, receipts *receipt.Renderer, opts Options) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	if receipts == nil {
		receipts = receipt.NewRenderer("")
	}
	if strings.TrimSpace(opts.EventsExchange) == "" {
		opts.EventsExchange = "alumni.events"
	}
	return &Service{
		repo:          repo,
		momo:          momo,
		eventProducer: producer,
		limiter:       limiter,
		receipts:      receipts,
		opts:          opts,
		now:           time.Now,
	}
}

// publish sends an event on the configured exchange. Failures are logged only.
func (s *Service) publish(ctx context.Context, routingKey string, event interface{}) {
	if err := s.eventProducer.Publish(ctx, s.opts.EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func newEventID() string {
	return uuid.NewString()
}
