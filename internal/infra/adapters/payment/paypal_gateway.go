// File: internal/infra/adapters/payment/paypal_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*PayPalGateway)(nil)

// PayPalGateway implements adapter.PaymentGateway using the Orders v2 REST API.
type PayPalGateway struct {
	clientID     string
	clientSecret string
	webhookID    string
	returnURL    string
	cancelURL    string
	baseURL      string
	client       *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalGateway(clientID, clientSecret, mode, webhookID, returnURL, cancelURL string) (*PayPalGateway, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("paypal client credentials empty")
	}
	base := "https://api-m.sandbox.paypal.com"
	if mode == "live" {
		base = "https://api-m.paypal.com"
	}
	return &PayPalGateway{
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    webhookID,
		returnURL:    returnURL,
		cancelURL:    cancelURL,
		baseURL:      base,
		client:       &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// SetBaseURL points the gateway at another API host.
func (g *PayPalGateway) SetBaseURL(u string) { g.baseURL = strings.TrimRight(u, "/") }

func (g *PayPalGateway) Name() string { return GatewayPayPal }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func paypalValue(amount decimal.Decimal, currency string) (string, error) {
	if _, err := model.ToMinorUnits(amount, currency); err != nil {
		return "", err
	}
	return amount.StringFixed(model.CurrencyExponent(currency)), nil
}

func (g *PayPalGateway) ProcessPayment(ctx context.Context, p *model.Payment, req *model.PaymentRequest) (*adapter.ChargeResult, error) {
	value, err := paypalValue(p.Amount, p.Currency)
	if err != nil {
		return nil, domain.PaymentError(err, "amount %s %s cannot be charged exactly", p.Amount, p.Currency)
	}
	returnURL := g.returnURL
	if req != nil && req.ReturnURL != "" {
		returnURL = req.ReturnURL
	}
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": p.ID,
			"custom_id":    p.ID,
			"invoice_id":   p.TransactionID,
			"description":  p.Description,
			"amount":       paypalAmount{CurrencyCode: p.Currency, Value: value},
		}},
		"application_context": map[string]any{
			"return_url":  returnURL,
			"cancel_url":  g.cancelURL,
			"user_action": "PAY_NOW",
		},
	}
	var order paypalOrder
	if err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", "order-"+p.ID, body, &order); err != nil {
		return nil, fmt.Errorf("paypal create order: %w", err)
	}
	res := &adapter.ChargeResult{ExternalRef: order.ID, Status: mapPayPalStatus(order.Status)}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			res.RedirectURL = l.Href
			break
		}
	}
	return res, nil
}

// RefundPayment refunds the first capture of the order identified by ExternalRef.
func (g *PayPalGateway) RefundPayment(ctx context.Context, req adapter.RefundRequest) (*adapter.RefundResult, error) {
	value, err := paypalValue(req.Amount, req.Currency)
	if err != nil {
		return nil, domain.PaymentError(err, "refund amount %s %s cannot be refunded exactly", req.Amount, req.Currency)
	}
	var order paypalOrder
	if err := g.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(req.ExternalRef), "", nil, &order); err != nil {
		return nil, fmt.Errorf("paypal get order: %w", err)
	}
	captureID := ""
	for _, pu := range order.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			if c.Status == "COMPLETED" || c.Status == "PARTIALLY_REFUNDED" {
				captureID = c.ID
				break
			}
		}
	}
	if captureID == "" {
		return nil, fmt.Errorf("paypal order %s has no refundable capture", req.ExternalRef)
	}
	body := map[string]any{
		"amount":        paypalAmount{CurrencyCode: req.Currency, Value: value},
		"custom_id":     req.PaymentID,
		"note_to_payer": req.Reason,
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := g.call(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(captureID)+"/refund", req.IdempotencyKey, body, &out); err != nil {
		return nil, fmt.Errorf("paypal refund capture: %w", err)
	}
	return &adapter.RefundResult{ID: out.ID, Status: out.Status}, nil
}

type paypalEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalResource struct {
	ID                string       `json:"id"`
	Status            string       `json:"status"`
	CustomID          string       `json:"custom_id"`
	Amount            paypalAmount `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	PurchaseUnits []struct {
		CustomID string       `json:"custom_id"`
		Amount   paypalAmount `json:"amount"`
	} `json:"purchase_units"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
}

func (g *PayPalGateway) VerifyAndDecode(ctx context.Context, payload []byte, header http.Header) (*model.WebhookEvent, error) {
	if header.Get("PAYPAL-TRANSMISSION-SIG") == "" {
		return nil, domain.ValidationError("missing PAYPAL-TRANSMISSION-SIG header")
	}
	var evt paypalEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.EventType == "" {
		return nil, domain.ValidationError("malformed paypal event")
	}
	if err := g.verifySignature(ctx, payload, header); err != nil {
		return nil, err
	}

	out := &model.WebhookEvent{Gateway: GatewayPayPal, EventID: evt.ID, EventType: evt.EventType, Kind: model.WebhookUnknown}
	var res paypalResource
	if err := json.Unmarshal(evt.Resource, &res); err != nil {
		return nil, domain.ValidationError("malformed paypal event resource")
	}

	switch evt.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		// buyer approved; the order is only paid once captured
		return g.captureApproved(ctx, out, res)
	case "PAYMENT.CAPTURE.COMPLETED":
		out.Kind = model.WebhookPaymentSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		out.Kind = model.WebhookPaymentFailed
		out.FailureReason = res.StatusDetails.Reason
	case "PAYMENT.CAPTURE.REFUNDED":
		out.Kind = model.WebhookChargeRefunded
	case "CHECKOUT.ORDER.VOIDED":
		out.Kind = model.WebhookPaymentCanceled
		out.ExternalRef = res.ID
	default:
		return out, nil
	}
	if out.ExternalRef == "" {
		out.ExternalRef = res.SupplementaryData.RelatedIDs.OrderID
	}
	out.PaymentID = res.CustomID
	out.Currency = res.Amount.CurrencyCode
	if amt, err := decimal.NewFromString(res.Amount.Value); err == nil {
		out.Amount = amt
	}
	if out.ExternalRef == "" && out.PaymentID == "" {
		return nil, domain.ValidationError("paypal event %s carries no payment reference", evt.ID)
	}
	return out, nil
}

func (g *PayPalGateway) captureApproved(ctx context.Context, out *model.WebhookEvent, res paypalResource) (*model.WebhookEvent, error) {
	var order paypalOrder
	if err := g.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(res.ID)+"/capture", "capture-"+res.ID, map[string]any{}, &order); err != nil {
		return nil, fmt.Errorf("paypal capture order: %w", err)
	}
	out.ExternalRef = res.ID
	if len(res.PurchaseUnits) > 0 {
		out.PaymentID = res.PurchaseUnits[0].CustomID
		out.Currency = res.PurchaseUnits[0].Amount.CurrencyCode
		if amt, err := decimal.NewFromString(res.PurchaseUnits[0].Amount.Value); err == nil {
			out.Amount = amt
		}
	}
	switch mapPayPalStatus(order.Status) {
	case model.PaymentStatusCompleted:
		out.Kind = model.WebhookPaymentSucceeded
	case model.PaymentStatusFailed:
		out.Kind = model.WebhookPaymentFailed
	}
	return out, nil
}

func (g *PayPalGateway) verifySignature(ctx context.Context, payload []byte, header http.Header) error {
	body := map[string]any{
		"auth_algo":         header.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          header.Get("PAYPAL-CERT-URL"),
		"transmission_id":   header.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  header.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": header.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        g.webhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := g.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "", body, &out); err != nil {
		return fmt.Errorf("paypal verify signature: %w", err)
	}
	if out.VerificationStatus != "SUCCESS" {
		return &domain.Error{Kind: domain.KindValidation, Msg: "invalid paypal signature", Err: domain.ErrInvalidSignature}
	}
	return nil
}

func (g *PayPalGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.clientID, g.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal oauth http %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	g.accessToken = out.AccessToken
	// refresh a minute early
	g.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return g.accessToken, nil
}

func (g *PayPalGateway) call(ctx context.Context, method, path, requestID string, in, out any) error {
	tok, err := g.token(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("paypal http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mapPayPalStatus(status string) model.PaymentStatus {
	switch status {
	case "CREATED", "SAVED", "APPROVED", "PAYER_ACTION_REQUIRED":
		return model.PaymentStatusPending
	case "PENDING":
		return model.PaymentStatusProcessing
	case "COMPLETED":
		return model.PaymentStatusCompleted
	case "VOIDED":
		return model.PaymentStatusCancelled
	default:
		return model.PaymentStatusFailed
	}
}
