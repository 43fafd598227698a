package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alumniaid/alumni-service/internal/config"
)

type reconcilerStub struct {
	called bool
	minAge time.Duration
	limit  int
	err    error
}

func (s *reconcilerStub) ReconcilePending(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	s.called = true
	s.minAge = minAge
	s.limit = limit
	return 0, s.err
}

func newTestJobs(reconciler PendingReconciler, cfg config.Config) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobs(reconciler, logger, cfg)
}

func TestReconcilePendingPayments_PassesConfiguredWindow(t *testing.T) {
	stub := &reconcilerStub{}
	jobs := newTestJobs(stub, config.Config{PendingPaymentMinAgeSeconds: 300, PendingPaymentBatchSize: 25})

	jobs.ReconcilePendingPayments()

	if !stub.called {
		t.Fatal("expected reconciler to be called")
	}
	if stub.minAge != 5*time.Minute || stub.limit != 25 {
		t.Fatalf("unexpected window min_age=%s limit=%d", stub.minAge, stub.limit)
	}
}

func TestReconcilePendingPayments_SurvivesErrors(t *testing.T) {
	stub := &reconcilerStub{err: errors.New("provider down")}
	jobs := newTestJobs(stub, config.Config{PendingPaymentBatchSize: 10})

	jobs.ReconcilePendingPayments()

	if !stub.called {
		t.Fatal("expected reconciler to be called")
	}
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{PendingPaymentPollSchedule: "not a schedule"}
	scheduler := NewScheduler(newTestJobs(&reconcilerStub{}, cfg), logger, cfg)

	if err := scheduler.Start(); err == nil {
		t.Fatal("expected an invalid cron spec to be rejected")
	}
}

func TestScheduler_StartsAndStops(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{PendingPaymentPollSchedule: "@every 1h"}
	scheduler := NewScheduler(newTestJobs(&reconcilerStub{}, cfg), logger, cfg)

	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-scheduler.Stop().Done()
}

func TestRedisRateLimiter_NoopWithoutClient(t *testing.T) {
	var limiter *RedisRateLimiter
	count, retry, err := limiter.ConsumeRateLimit(context.Background(), "scope", "subject", 5, time.Minute)
	if err != nil || count != 0 || retry != 0 {
		t.Fatalf("expected no-op, got count=%d retry=%d err=%v", count, retry, err)
	}

	limiter = NewRedisRateLimiter(nil, " custom:prefix: ")
	if limiter.prefix != "custom:prefix" {
		t.Fatalf("unexpected prefix %q", limiter.prefix)
	}
	if got := limiter.key("payment_initiate", "user-1"); got != "custom:prefix:payment_initiate:user-1" {
		t.Fatalf("unexpected key %q", got)
	}
	if _, _, err := limiter.ConsumeRateLimit(context.Background(), "scope", "subject", 5, time.Minute); err != nil {
		t.Fatalf("expected no-op without a client, got %v", err)
	}
}
