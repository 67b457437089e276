//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/adapter"
	"lms-payments/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================
// Repositories
// =============================

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.Payment

	SaveFunc              func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	FindByIDFunc          func(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error)
	FindByExternalRefFunc func(ctx context.Context, tx repository.Tx, gateway, ref string) (*model.Payment, error)
	Saves                 int
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.Payment{}}
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Saves++
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MockPaymentRepo) FindByExternalRef(ctx context.Context, tx repository.Tx, gateway, ref string) (*model.Payment, error) {
	if r.FindByExternalRefFunc != nil {
		return r.FindByExternalRefFunc(ctx, tx, gateway, ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.Gateway == gateway && p.ExternalRef != nil && *p.ExternalRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) ListByStudent(ctx context.Context, tx repository.Tx, studentID string) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.StudentID == studentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MockPaymentRepo) Aggregate(ctx context.Context, tx repository.Tx, from, to time.Time) ([]model.PaymentAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	groups := map[string]*model.PaymentAggregate{}
	var keys []string
	for _, p := range r.data {
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		key := strings.Join([]string{string(p.Status), p.Gateway, p.Currency}, "|")
		g := groups[key]
		if g == nil {
			g = &model.PaymentAggregate{Status: p.Status, Gateway: p.Gateway, Currency: p.Currency}
			groups[key] = g
			keys = append(keys, key)
		}
		g.Count++
		g.Amount = g.Amount.Add(p.Amount)
		g.PlatformFees = g.PlatformFees.Add(p.PlatformFee)
		g.NetAmount = g.NetAmount.Add(p.NetAmount)
	}
	sort.Strings(keys)
	out := make([]model.PaymentAggregate, 0, len(keys))
	for _, k := range keys {
		out = append(out, *groups[k])
	}
	return out, nil
}

func (r *MockPaymentRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// ---- Mock DiscountRepository ----

type MockDiscountRepo struct {
	mu          sync.Mutex
	byCode      map[string]*model.Discount
	redemptions []model.DiscountRedemption
}

var _ repository.DiscountRepository = (*MockDiscountRepo)(nil)

func NewMockDiscountRepo() *MockDiscountRepo {
	return &MockDiscountRepo{byCode: map[string]*model.Discount{}}
}

func (r *MockDiscountRepo) Create(ctx context.Context, tx repository.Tx, d *model.Discount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[d.Code]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *d
	r.byCode[d.Code] = &cp
	return nil
}

func (r *MockDiscountRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byCode[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// IncrementUsage mirrors the conditional UPDATE: atomic check-and-bump.
func (r *MockDiscountRepo) IncrementUsage(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.byCode {
		if d.ID != id {
			continue
		}
		if d.MaxUses != nil && d.UsesCount >= *d.MaxUses {
			return false, nil
		}
		d.UsesCount++
		return true, nil
	}
	return false, domain.ErrNotFound
}

func (r *MockDiscountRepo) CountRedemptions(ctx context.Context, tx repository.Tx, discountID, ownerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, red := range r.redemptions {
		if red.DiscountID == discountID && red.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (r *MockDiscountRepo) SaveRedemption(ctx context.Context, tx repository.Tx, red *model.DiscountRedemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redemptions = append(r.redemptions, *red)
	return nil
}

func (r *MockDiscountRepo) Uses(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byCode[code].UsesCount
}

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	data map[string]*model.Subscription

	SaveFunc func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	Locks    []string
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{data: map[string]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.IsActive {
		for _, o := range r.data {
			if o.ID != s.ID && o.StudentID == s.StudentID && o.IsActive {
				return domain.ErrAlreadyExists
			}
		}
	}
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MockSubscriptionRepo) FindActiveByStudent(ctx context.Context, tx repository.Tx, studentID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.data {
		if s.StudentID == studentID && s.IsActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) ListByStudent(ctx context.Context, tx repository.Tx, studentID string) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.data {
		if s.StudentID == studentID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockSubscriptionRepo) ListDueForRenewal(ctx context.Context, tx repository.Tx, horizon time.Time, limit int) ([]*model.Subscription, error) {
	return r.list(limit, func(s *model.Subscription) bool { return s.DueForRenewal(horizon) })
}

func (r *MockSubscriptionRepo) ListExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	return r.list(limit, func(s *model.Subscription) bool { return s.Expired(now) })
}

func (r *MockSubscriptionRepo) ListAwaitingPayment(ctx context.Context, tx repository.Tx, limit int) ([]*model.Subscription, error) {
	return r.list(limit, func(s *model.Subscription) bool { return s.IsActive && s.PendingPaymentID != nil })
}

func (r *MockSubscriptionRepo) list(limit int, keep func(*model.Subscription) bool) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.data {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockSubscriptionRepo) LockStudent(ctx context.Context, tx repository.Tx, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Locks = append(r.Locks, studentID)
	return nil
}

func (r *MockSubscriptionRepo) Put(s *model.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.data[s.ID] = &cp
}

// ---- Mock WebhookEventRepository ----

type MockWebhookEventRepo struct {
	mu   sync.Mutex
	seen map[string]model.ProcessedWebhook
}

var _ repository.WebhookEventRepository = (*MockWebhookEventRepo)(nil)

func NewMockWebhookEventRepo() *MockWebhookEventRepo {
	return &MockWebhookEventRepo{seen: map[string]model.ProcessedWebhook{}}
}

func (r *MockWebhookEventRepo) Record(ctx context.Context, tx repository.Tx, e *model.ProcessedWebhook) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.Join([]string{e.Gateway, e.ExternalRef, e.EventType}, "|")
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	r.seen[key] = *e
	return true, nil
}

func (r *MockWebhookEventRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

// ---- Mock InvoiceRepository ----

type MockInvoiceRepo struct {
	mu   sync.Mutex
	data map[string]*model.Invoice

	SaveFunc func(ctx context.Context, tx repository.Tx, inv *model.Invoice) error
}

var _ repository.InvoiceRepository = (*MockInvoiceRepo)(nil)

func NewMockInvoiceRepo() *MockInvoiceRepo {
	return &MockInvoiceRepo{data: map[string]*model.Invoice{}}
}

func (r *MockInvoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, inv)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.data {
		if other.ID != inv.ID && (other.PaymentID == inv.PaymentID || other.Number == inv.Number) {
			return domain.ErrAlreadyExists
		}
	}
	cp := *inv
	r.data[inv.ID] = &cp
	return nil
}

func (r *MockInvoiceRepo) find(keep func(*model.Invoice) bool) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.data {
		if keep(inv) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockInvoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Invoice, error) {
	return r.find(func(inv *model.Invoice) bool { return inv.ID == id })
}

func (r *MockInvoiceRepo) FindByNumber(ctx context.Context, tx repository.Tx, number string) (*model.Invoice, error) {
	return r.find(func(inv *model.Invoice) bool { return inv.Number == number })
}

func (r *MockInvoiceRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.Invoice, error) {
	return r.find(func(inv *model.Invoice) bool { return inv.PaymentID == paymentID })
}

func (r *MockInvoiceRepo) ListByStudent(ctx context.Context, tx repository.Tx, studentID string, status *model.InvoiceStatus, limit int) ([]*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Invoice
	for _, inv := range r.data {
		if inv.StudentID == studentID && (status == nil || inv.Status == *status) {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockInvoiceRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// NewSerialTxManager runs transactions one at a time, standing in for row locks.
func NewSerialTxManager() *MockTxManager {
	var mu sync.Mutex
	return &MockTxManager{WithTxFunc: func(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
		mu.Lock()
		defer mu.Unlock()
		return fn(ctx, repository.NoTX)
	}}
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockGateway struct {
	mu      sync.Mutex
	name    string
	Charges []string
	Refunds []adapter.RefundRequest

	ProcessPaymentFunc  func(ctx context.Context, p *model.Payment, req *model.PaymentRequest) (*adapter.ChargeResult, error)
	RefundPaymentFunc   func(ctx context.Context, req adapter.RefundRequest) (*adapter.RefundResult, error)
	VerifyAndDecodeFunc func(ctx context.Context, payload []byte, header http.Header) (*model.WebhookEvent, error)
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func NewMockGateway(name string) *MockGateway { return &MockGateway{name: name} }

func (g *MockGateway) Name() string { return g.name }

func (g *MockGateway) ProcessPayment(ctx context.Context, p *model.Payment, req *model.PaymentRequest) (*adapter.ChargeResult, error) {
	g.mu.Lock()
	g.Charges = append(g.Charges, p.ID)
	g.mu.Unlock()
	if g.ProcessPaymentFunc != nil {
		return g.ProcessPaymentFunc(ctx, p, req)
	}
	return &adapter.ChargeResult{ExternalRef: "ext-" + p.ID, Status: model.PaymentStatusCompleted, ClientSecret: "secret-" + p.ID}, nil
}

func (g *MockGateway) RefundPayment(ctx context.Context, req adapter.RefundRequest) (*adapter.RefundResult, error) {
	g.mu.Lock()
	g.Refunds = append(g.Refunds, req)
	g.mu.Unlock()
	if g.RefundPaymentFunc != nil {
		return g.RefundPaymentFunc(ctx, req)
	}
	return &adapter.RefundResult{ID: "re-" + req.ExternalRef, Status: "succeeded"}, nil
}

func (g *MockGateway) VerifyAndDecode(ctx context.Context, payload []byte, header http.Header) (*model.WebhookEvent, error) {
	if g.VerifyAndDecodeFunc != nil {
		return g.VerifyAndDecodeFunc(ctx, payload, header)
	}
	if header.Get("X-Test-Signature") != "valid" {
		return nil, &domain.Error{Kind: domain.KindValidation, Msg: "bad signature", Err: domain.ErrInvalidSignature}
	}
	// payload format: kind|external_ref|amount
	parts := strings.Split(string(payload), "|")
	evt := &model.WebhookEvent{Gateway: g.name, EventType: parts[0], Kind: model.WebhookEventKind(parts[0]), ExternalRef: parts[1]}
	if _, ok := evt.Kind.TargetStatus(); !ok {
		evt.Kind = model.WebhookUnknown
	}
	if len(parts) > 2 {
		evt.Amount = decimal.RequireFromString(parts[2])
	}
	return evt, nil
}

func (g *MockGateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Refunds)
}

// ---- Mock GatewayRegistry ----

type MockRegistry struct {
	byMethod map[model.PaymentMethod]adapter.PaymentGateway
	byName   map[string]adapter.PaymentGateway
}

var _ adapter.GatewayRegistry = (*MockRegistry)(nil)

// NewMockRegistry routes every card-like method and STRIPE to gw.
func NewMockRegistry(gw adapter.PaymentGateway) *MockRegistry {
	r := &MockRegistry{byMethod: map[model.PaymentMethod]adapter.PaymentGateway{}, byName: map[string]adapter.PaymentGateway{gw.Name(): gw}}
	for _, m := range []model.PaymentMethod{model.PaymentMethodCreditCard, model.PaymentMethodDebitCard, model.PaymentMethodStripe} {
		r.byMethod[m] = gw
	}
	return r
}

func (r *MockRegistry) ForMethod(m model.PaymentMethod) (adapter.PaymentGateway, error) {
	if gw, ok := r.byMethod[m]; ok {
		return gw, nil
	}
	return nil, domain.UnsupportedGatewayError("no gateway for method %s", m)
}

func (r *MockRegistry) ForName(name string) (adapter.PaymentGateway, error) {
	if gw, ok := r.byName[strings.ToLower(name)]; ok {
		return gw, nil
	}
	return nil, domain.UnsupportedGatewayError("unknown gateway %s", name)
}

// ---- Mock EventPublisher ----

type MockPublisher struct {
	mu     sync.Mutex
	Events []string
	Err    error
}

var _ adapter.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, key string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, key)
	return m.Err
}

func (m *MockPublisher) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Events {
		if e == key {
			n++
		}
	}
	return n
}

// ---- Mock RateLimiter ----

type MockLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	Err    error
}

var _ adapter.RateLimiter = (*MockLimiter)(nil)

func (m *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[key]++
	return m.counts[key] <= limit, nil
}

var errBoom = errors.New("boom")
