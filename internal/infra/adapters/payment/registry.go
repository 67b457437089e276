package payment

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/adapter"
)

const (
	GatewayStripe   = "stripe"
	GatewayPayPal   = "paypal"
	GatewayZarinPal = "zarinpal"
	GatewaySandbox  = "sandbox"
)

// methodRoutes is the closed routing table. Methods absent here have no gateway.
var methodRoutes = map[model.PaymentMethod]string{
	model.PaymentMethodCreditCard: GatewayStripe,
	model.PaymentMethodDebitCard:  GatewayStripe,
	model.PaymentMethodStripe:     GatewayStripe,
	model.PaymentMethodApplePay:   GatewayStripe,
	model.PaymentMethodGooglePay:  GatewayStripe,
	model.PaymentMethodPayPal:     GatewayPayPal,
	model.PaymentMethodZarinPal:   GatewayZarinPal,
}

var _ adapter.GatewayRegistry = (*Registry)(nil)

// Registry maps payment methods and gateway names onto registered adapters.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]adapter.PaymentGateway
	fallback adapter.PaymentGateway
	log      *zerolog.Logger

	warnMu sync.Mutex
	warned map[model.PaymentMethod]bool
}

func NewRegistry(gateways ...adapter.PaymentGateway) *Registry {
	r := &Registry{byName: make(map[string]adapter.PaymentGateway)}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds g under its lower-cased name, replacing any previous adapter.
func (r *Registry) Register(g adapter.PaymentGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[strings.ToLower(g.Name())] = g
}

// SetFallback serves routable methods whose provider is not configured (dev only).
// The first routing of each method to g is logged at warn level.
func (r *Registry) SetFallback(g adapter.PaymentGateway, logger *zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = g
	r.byName[strings.ToLower(g.Name())] = g
	if logger != nil {
		l := logger.With().Str("component", "GatewayRegistry").Logger()
		r.log = &l
	}
}

func (r *Registry) ForMethod(method model.PaymentMethod) (adapter.PaymentGateway, error) {
	name, ok := methodRoutes[method]
	if !ok {
		return nil, domain.UnsupportedGatewayError("payment method %s is not supported", method)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.byName[name]; ok {
		return g, nil
	}
	if r.fallback != nil {
		r.warnFallback(method, name)
		return r.fallback, nil
	}
	return nil, domain.UnsupportedGatewayError("gateway %s for method %s is not configured", name, method)
}

func (r *Registry) warnFallback(method model.PaymentMethod, provider string) {
	if r.log == nil {
		return
	}
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	if r.warned[method] {
		return
	}
	if r.warned == nil {
		r.warned = make(map[model.PaymentMethod]bool)
	}
	r.warned[method] = true
	r.log.Warn().Str("method", string(method)).Str("provider", provider).Str("fallback", r.fallback.Name()).
		Msg("provider not configured; routing method to fallback gateway")
}

func (r *Registry) ForName(name string) (adapter.PaymentGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return g, nil
	}
	return nil, domain.UnsupportedGatewayError("unsupported gateway: %s", name)
}

// Names lists registered gateway names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	return out
}
