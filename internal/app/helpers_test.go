package app

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alumniaid/alumni-service/internal/domain"
	"github.com/alumniaid/alumni-service/internal/store"
	"github.com/alumniaid/alumni-service/pkg/momoclient"
	"github.com/alumniaid/alumni-service/pkg/receipt"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// memRepo is an in-memory store with the same allocation and reconciliation
// contract as the PostgreSQL repository.
type memRepo struct {
	mu            sync.Mutex
	nextID        int64
	loans         []*domain.Loan
	payments      []*domain.Payment
	users         map[string][2]string
	disbursements []domain.Disbursement
	footprints    []domain.Footprint
	messages      []domain.Message
	news          []domain.News
	events        []domain.Event
	notifications []domain.Notification
	dedupe        map[string]bool

	createPaymentErr error
	resolveErr       error
}

var _ store.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{users: map[string][2]string{}, dedupe: map[string]bool{}}
}

func (r *memRepo) id() int64 {
	r.nextID++
	return r.nextID
}

// addLoan appends a loan; later calls are treated as newer.
func (r *memRepo) addLoan(studentUID string, balance int64, status string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.id()
	r.loans = append(r.loans, &domain.Loan{
		ID:                 id,
		StudentUID:         studentUID,
		Amount:             balance,
		OutstandingBalance: balance,
		Status:             status,
		CreatedAt:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour),
	})
	return id
}

func (r *memRepo) addPayment(p domain.Payment) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.id()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(p.ID) * time.Minute)
	}
	r.payments = append(r.payments, &p)
	return p.ID
}

func (r *memRepo) balance(loanID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.loans {
		if l.ID == loanID {
			return l.OutstandingBalance
		}
	}
	return 0
}

func (r *memRepo) paymentByTx(txID string) *domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.TransactionID == txID {
			cp := *p
			return &cp
		}
	}
	return nil
}

func (r *memRepo) SumDeductibleBalance(ctx context.Context, studentUID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, l := range r.loans {
		if l.StudentUID == studentUID && (l.Status == domain.LoanStatusApproved || l.Status == domain.LoanStatusActive) {
			total += l.OutstandingBalance
		}
	}
	return total, nil
}

func (r *memRepo) ListLoansByStudent(ctx context.Context, studentUID string) ([]domain.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Loan
	for _, l := range r.loans {
		if l.StudentUID == studentUID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r *memRepo) FindLoanForStudent(ctx context.Context, loanID int64, studentUID string) (*domain.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.loans {
		if l.ID == loanID && l.StudentUID == studentUID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, store.ErrLoanNotFound
}

func (r *memRepo) ApproveDisbursement(ctx context.Context, d *domain.Disbursement, allocate store.AllocationFunc) (*domain.DisbursementResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = r.id()
	d.ApprovedAt = time.Now()
	r.disbursements = append(r.disbursements, *d)

	var candidates []domain.Loan
	for _, l := range r.loans {
		if l.StudentUID == d.StudentUID && l.OutstandingBalance > 0 {
			candidates = append(candidates, *l)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })

	takes, remaining := allocate(candidates, d.DeductionAmount)
	for _, take := range takes {
		for _, l := range r.loans {
			if l.ID == take.LoanID {
				l.OutstandingBalance -= take.Amount
			}
		}
	}
	r.footprints = append(r.footprints, domain.Footprint{
		UserUID:    d.ApprovedBy,
		Action:     "approve_disbursement",
		TargetType: "disbursement",
		Meta:       map[string]interface{}{"originalAmount": d.OriginalAmount, "deduction": d.DeductionAmount, "unallocated": remaining},
	})
	return &domain.DisbursementResult{DisbursementID: d.ID, Applied: takes, Unallocated: remaining}, nil
}

func (r *memRepo) CreatePendingPayment(ctx context.Context, p *domain.Payment) error {
	if r.createPaymentErr != nil {
		return r.createPaymentErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.TransactionID == p.TransactionID {
			return store.ErrDuplicateTransaction
		}
	}
	p.ID = r.id()
	p.CreatedAt = time.Now()
	cp := *p
	r.payments = append(r.payments, &cp)
	return nil
}

func (r *memRepo) FindPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	if p := r.paymentByTx(transactionID); p != nil {
		return p, nil
	}
	return nil, store.ErrPaymentNotFound
}

func (r *memRepo) ResolvePayment(ctx context.Context, transactionID string, status string, externalRef *string) (*store.ResolvePaymentResult, error) {
	if r.resolveErr != nil {
		return nil, r.resolveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.TransactionID != transactionID {
			continue
		}
		if p.Status != domain.PaymentStatusPending {
			cp := *p
			return &store.ResolvePaymentResult{Payment: &cp, Transitioned: false}, nil
		}
		p.Status = status
		if externalRef != nil {
			ref := *externalRef
			p.ExternalRef = &ref
		}
		result := &store.ResolvePaymentResult{Transitioned: true}
		if status == domain.PaymentStatusSuccessful {
			for _, l := range r.loans {
				if l.ID == p.LoanID {
					l.OutstandingBalance -= p.Amount
					bal := l.OutstandingBalance
					result.LoanBalance = &bal
				}
			}
		}
		cp := *p
		result.Payment = &cp
		return result, nil
	}
	return nil, store.ErrPaymentNotFound
}

func (r *memRepo) ListPendingPaymentsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.Status == domain.PaymentStatusPending && p.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memRepo) ListSuccessfulPaymentsForLoan(ctx context.Context, loanID int64, studentUID string) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned := false
	for _, l := range r.loans {
		if l.ID == loanID && l.StudentUID == studentUID {
			owned = true
		}
	}
	if !owned {
		return nil, nil
	}
	var out []domain.Payment
	for i := len(r.payments) - 1; i >= 0; i-- {
		p := r.payments[i]
		if p.LoanID == loanID && p.Status == domain.PaymentStatusSuccessful {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memRepo) FindReceiptPayment(ctx context.Context, paymentID int64, userUID string) (*domain.ReceiptPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ID == paymentID && p.UserID == userUID && p.Status == domain.PaymentStatusSuccessful {
			profile := r.users[p.UserID]
			return &domain.ReceiptPayment{Payment: *p, PayerName: profile[0], PayerEmail: profile[1]}, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (r *memRepo) CreateMessage(ctx context.Context, m *domain.Message) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = r.id()
	m.CreatedAt = time.Now()
	r.messages = append(r.messages, *m)
	return m.ID, nil
}

func (r *memRepo) ListMessagesByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) ListPublishedNews(ctx context.Context) ([]domain.News, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.News
	for i := len(r.news) - 1; i >= 0; i-- {
		if r.news[i].Status == domain.NewsStatusPublish {
			out = append(out, r.news[i])
		}
	}
	return out, nil
}

func (r *memRepo) ListUpcomingEvents(ctx context.Context, from time.Time) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if !e.EventDate.Before(from) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventDate.Before(out[j].EventDate) })
	return out, nil
}

func (r *memRepo) CreateNews(ctx context.Context, n *domain.News) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = r.id()
	r.news = append(r.news, *n)
	return n.ID, nil
}

func (r *memRepo) CreateNotification(ctx context.Context, n domain.Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.DedupeKey != "" {
		if r.dedupe[n.DedupeKey] {
			return false, nil
		}
		r.dedupe[n.DedupeKey] = true
	}
	n.ID = r.id()
	r.notifications = append(r.notifications, n)
	return true, nil
}

func (r *memRepo) ListNotifications(ctx context.Context, userUID string, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for i := len(r.notifications) - 1; i >= 0; i-- {
		if r.notifications[i].UserUID == userUID {
			out = append(out, r.notifications[i])
		}
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r *memRepo) MarkNotificationRead(ctx context.Context, userUID string, notificationID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		if r.notifications[i].ID == notificationID && r.notifications[i].UserUID == userUID {
			now := time.Now()
			r.notifications[i].ReadAt = &now
			return true, nil
		}
	}
	return false, nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.routingKey)
	}
	return out
}

type stubLimiter struct {
	count      int
	retryAfter int
	err        error
	calls      int
}

func (s *stubLimiter) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	s.calls++
	return s.count, s.retryAfter, s.err
}

// fakeMoMo is an httptest MoMo sandbox. statuses maps reference ids to the status
// returned by the lookup endpoint; missing ids answer 404.
type fakeMoMo struct {
	mu            sync.Mutex
	tokenStatus   int
	requestStatus int
	statuses      map[string]string
	tokenCalls    int
	requestCalls  int
	lastReference string
	lastCallback  string
}

func newFakeMoMo(t *testing.T) (*fakeMoMo, *momoclient.Client) {
	t.Helper()
	f := &fakeMoMo{tokenStatus: http.StatusOK, requestStatus: http.StatusAccepted, statuses: map[string]string{}}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	client := momoclient.NewClient(momoclient.Config{
		BaseURL:         server.URL,
		SubscriptionKey: "sub",
		APIUser:         "user",
		APIKey:          "key",
	})
	return f, client
}

func (f *fakeMoMo) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.URL.Path == "/collection/token/":
		f.tokenCalls++
		w.WriteHeader(f.tokenStatus)
		if f.tokenStatus == http.StatusOK {
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"access_token","expires_in":3600}`))
		}
	case r.URL.Path == "/collection/v1_0/requesttopay" && r.Method == http.MethodPost:
		f.requestCalls++
		f.lastReference = r.Header.Get("X-Reference-Id")
		f.lastCallback = r.Header.Get("X-Callback-Url")
		w.WriteHeader(f.requestStatus)
	case r.Method == http.MethodGet && len(r.URL.Path) > len("/collection/v1_0/requesttopay/"):
		ref := r.URL.Path[len("/collection/v1_0/requesttopay/"):]
		status, ok := f.statuses[ref]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"RESOURCE_NOT_FOUND","message":"Requested resource was not found."}`))
			return
		}
		_, _ = w.Write([]byte(`{"amount":"100","currency":"UGX","financialTransactionId":"fin-` + ref + `","externalId":"1","status":"` + status + `"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testEnv struct {
	repo      *memRepo
	publisher *recordingPublisher
	momo      *fakeMoMo
	limiter   *stubLimiter
	svc       *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newMemRepo()
	publisher := &recordingPublisher{}
	momo, client := newFakeMoMo(t)
	limiter := &stubLimiter{}
	svc := NewService(repo, client, publisher, limiter, receipt.NewRenderer(""), Options{
		EventsExchange:             "alumni.events",
		CallbackURL:                "https://alumni.example.test/api/payments/callback",
		InitiateRateLimitPerMinute: 5,
	})
	return &testEnv{repo: repo, publisher: publisher, momo: momo, limiter: limiter, svc: svc}
}

var (
	student = domain.Principal{UID: "student-1", Role: "student"}
	other   = domain.Principal{UID: "student-2", Role: "student"}
	staff   = domain.Principal{UID: "staff-1", Role: domain.RoleAlumniOffice}
)
