package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/infra/logging"
	"lms-payments/internal/usecase"
)

const maxWebhookBody = 1 << 20

// Handler adapts the use cases to HTTP.
type Handler struct {
	payments  usecase.PaymentUseCase
	subs      usecase.SubscriptionUseCase
	discounts usecase.DiscountUseCase
	invoices  usecase.InvoiceUseCase
	log       *zerolog.Logger
}

func NewHandler(payments usecase.PaymentUseCase, subs usecase.SubscriptionUseCase, discounts usecase.DiscountUseCase, invoices usecase.InvoiceUseCase, logger *zerolog.Logger) *Handler {
	l := logger.With().Str("component", "API").Logger()
	return &Handler{payments: payments, subs: subs, discounts: discounts, invoices: invoices, log: &l}
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return domain.ValidationError("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ValidationError("request body is required")
		}
		return domain.ValidationError("malformed request body")
	}
	return nil
}

// --- payments ---

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	method, err := model.ParsePaymentMethod(req.Method)
	if err != nil {
		writeError(w, r, h.log, domain.ValidationError("unknown payment method %q", req.Method))
		return
	}
	ctx := logging.WithStudentID(r.Context(), req.StudentID)
	res, err := h.payments.CreatePayment(ctx, model.PaymentRequest{
		StudentID:      req.StudentID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         method,
		CourseID:       req.CourseID,
		SubscriptionID: req.SubscriptionID,
		DiscountCode:   req.DiscountCode,
		Description:    req.Description,
		Metadata:       req.Metadata,
		CardToken:      req.CardToken,
		ReturnURL:      req.ReturnURL,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreatePaymentResponse(res))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (h *Handler) listStudentPayments(w http.ResponseWriter, r *http.Request) {
	ps, err := h.payments.ListByStudent(r.Context(), chi.URLParam(r, "studentId"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	out := make([]paymentResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	var amount *decimal.Decimal
	if raw := strings.TrimSpace(r.URL.Query().Get("amount")); raw != "" {
		a, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, r, h.log, domain.ValidationError("amount must be a decimal number"))
			return
		}
		amount = &a
	}
	p, err := h.payments.RefundPayment(r.Context(), chi.URLParam(r, "id"), amount)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

const (
	defaultStatsDays = 30
	maxStatsDays     = 366
)

// paymentStatistics reports on the last ?days=N days, 30 by default.
func (h *Handler) paymentStatistics(w http.ResponseWriter, r *http.Request) {
	days := defaultStatsDays
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsDays {
			writeError(w, r, h.log, domain.ValidationError("days must be between 1 and %d", maxStatsDays))
			return
		}
		days = n
	}
	to := time.Now().UTC()
	s, err := h.payments.Statistics(r.Context(), to.AddDate(0, 0, -days), to)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentStatisticsResponse(s))
}

// --- invoices ---

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoices.Get(r.Context(), chi.URLParam(r, "id"))
	h.writeInvoice(w, r, inv, err)
}

func (h *Handler) getInvoiceByNumber(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoices.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	h.writeInvoice(w, r, inv, err)
}

func (h *Handler) getPaymentInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoices.GetByPayment(r.Context(), chi.URLParam(r, "id"))
	h.writeInvoice(w, r, inv, err)
}

func (h *Handler) writeInvoice(w http.ResponseWriter, r *http.Request, inv *model.Invoice, err error) {
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *Handler) listStudentInvoices(w http.ResponseWriter, r *http.Request) {
	invs, err := h.invoices.ListByStudent(r.Context(), chi.URLParam(r, "studentId"), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	out := make([]invoiceResponse, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toInvoiceResponse(inv))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- webhooks ---

// webhook accepts provider notifications. Browser-redirect callbacks arrive
// as GET (or as POST with an empty body) and carry their data in the query.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")
	var payload []byte
	if r.Method == http.MethodPost {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, r, h.log, domain.ValidationError("webhook body too large or unreadable"))
			return
		}
		payload = b
	}
	if len(payload) == 0 {
		payload = []byte(r.URL.RawQuery)
	}
	outcome, err := h.payments.HandleWebhook(r.Context(), gateway, payload, r.Header)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// --- subscriptions ---

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ctx := logging.WithStudentID(r.Context(), req.StudentID)
	s, err := h.subs.Create(ctx, usecase.CreateSubscriptionInput{
		StudentID:     req.StudentID,
		Type:          req.Type,
		PaymentMethod: req.PaymentMethod,
		AutoRenew:     req.AutoRenew,
		TrialDays:     req.TrialDays,
		Currency:      req.Currency,
		PaymentID:     req.PaymentID,

		PaymentMethodRef: req.PaymentMethodRef,
		CustomerRef:      req.CustomerRef,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(s))
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	s, err := h.subs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(s))
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	s, err := h.subs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(s))
}

func (h *Handler) listStudentSubscriptions(w http.ResponseWriter, r *http.Request) {
	ss, err := h.subs.ListByStudent(r.Context(), chi.URLParam(r, "studentId"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	out := make([]subscriptionResponse, 0, len(ss))
	for _, s := range ss {
		out = append(out, toSubscriptionResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- discounts (admin) ---

func (h *Handler) createDiscount(w http.ResponseWriter, r *http.Request) {
	var req createDiscountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	d, err := h.discounts.Create(r.Context(), usecase.CreateDiscountInput{
		Code:           req.Code,
		Type:           model.DiscountType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Value:          req.Value,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		MaxUses:        req.MaxUses,
		MaxUsesPerUser: req.MaxUsesPerUser,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDiscountResponse(d))
}

// validateDiscount quotes a code for a student without redeeming it.
func (h *Handler) validateDiscount(w http.ResponseWriter, r *http.Request) {
	var req validateDiscountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ctx := logging.WithStudentID(r.Context(), req.StudentID)
	app, err := h.discounts.Preview(ctx, req.Code, req.Amount, req.Currency, req.StudentID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountQuoteResponse(app, req.Amount))
}

func (h *Handler) getDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := h.discounts.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountResponse(d))
}
