// File: internal/infra/adapters/payment/zarinpal_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*ZarinPalGateway)(nil)

// ZarinPalGateway implements adapter.PaymentGateway using REST v4 for request/verify
// and GraphQL v4 for refunds. Only IRR amounts are accepted.
type ZarinPalGateway struct {
	merchantID      string
	callback        string
	sandbox         bool
	client          *http.Client
	apiBase         string
	startPayBase    string
	accessToken     string // OAuth2 access token (GraphQL)
	graphqlEndpoint string
}

func NewZarinPalGateway(merchantID, callbackURL string, sandbox bool) (*ZarinPalGateway, error) {
	if merchantID == "" {
		return nil, errors.New("merchant id empty")
	}
	if _, err := url.Parse(callbackURL); err != nil {
		return nil, fmt.Errorf("invalid callback url: %w", err)
	}
	z := &ZarinPalGateway{
		merchantID:      merchantID,
		callback:        callbackURL,
		sandbox:         sandbox,
		client:          &http.Client{Timeout: 15 * time.Second},
		apiBase:         "https://api.zarinpal.com/pg/v4",
		startPayBase:    "https://www.zarinpal.com/pg/StartPay/",
		graphqlEndpoint: "https://api.zarinpal.com/api/v4/graphql",
	}
	if sandbox {
		z.apiBase = "https://sandbox.zarinpal.com/pg/v4"
		z.startPayBase = "https://sandbox.zarinpal.com/pg/StartPay/"
	}
	return z, nil
}

// SetRefundAuth optionally configures OAuth and GraphQL endpoint for refunds.
func (z *ZarinPalGateway) SetRefundAuth(accessToken, graphqlEndpoint string) {
	z.accessToken = accessToken
	if graphqlEndpoint != "" {
		z.graphqlEndpoint = graphqlEndpoint
	}
}

// SetBaseURL overrides the REST API base (e.g. http://host/pg/v4).
func (z *ZarinPalGateway) SetBaseURL(u string) { z.apiBase = strings.TrimRight(u, "/") }

func (z *ZarinPalGateway) Name() string { return GatewayZarinPal }

// callbackURL embeds our payment id and expected amount; verify re-checks both with the provider.
func (z *ZarinPalGateway) callbackURL(paymentID string, amount int64) string {
	u, err := url.Parse(z.callback)
	if err != nil {
		return z.callback
	}
	q := u.Query()
	q.Set("pid", paymentID)
	q.Set("amount", strconv.FormatInt(amount, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// ProcessPayment calls /payment/request.json; the payer is redirected to StartPay.
func (z *ZarinPalGateway) ProcessPayment(ctx context.Context, p *model.Payment, _ *model.PaymentRequest) (*adapter.ChargeResult, error) {
	if p.Currency != "IRR" {
		return nil, domain.PaymentError(domain.ErrInvalidArgument, "zarinpal only accepts IRR, got %s", p.Currency)
	}
	amount, err := model.ToMinorUnits(p.Amount, p.Currency)
	if err != nil {
		return nil, domain.PaymentError(err, "amount %s IRR cannot be charged exactly", p.Amount)
	}
	payload := map[string]any{
		"merchant_id":  z.merchantID,
		"amount":       amount,
		"description":  p.Description,
		"callback_url": z.callbackURL(p.ID, amount),
		"metadata":     map[string]any{"order_id": p.TransactionID},
	}
	var out struct {
		Data struct {
			Authority string `json:"authority"`
			Code      int    `json:"code"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.post(ctx, "/payment/request.json", payload, &out); err != nil {
		return nil, err
	}
	if out.Data.Code != 100 || out.Data.Authority == "" {
		return nil, fmt.Errorf("zarinpal request failed: code %d", out.Data.Code)
	}
	return &adapter.ChargeResult{
		ExternalRef: out.Data.Authority,
		Status:      model.PaymentStatusPending,
		RedirectURL: z.startPayBase + out.Data.Authority,
	}, nil
}

// verify calls /payment/verify.json; codes 100 and 101 (already verified) are success.
func (z *ZarinPalGateway) verify(ctx context.Context, authority string, amount int64) (refID string, code int, err error) {
	payload := map[string]any{
		"merchant_id": z.merchantID,
		"amount":      amount,
		"authority":   authority,
	}
	var out struct {
		Data struct {
			Code  int   `json:"code"`
			RefID int64 `json:"ref_id"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.post(ctx, "/payment/verify.json", payload, &out); err != nil {
		return "", 0, err
	}
	if (out.Data.Code != 100 && out.Data.Code != 101) || out.Data.RefID == 0 {
		return "", out.Data.Code, nil
	}
	return strconv.FormatInt(out.Data.RefID, 10), out.Data.Code, nil
}

// VerifyAndDecode handles the browser callback; payload is its raw query string.
// There is no signature: authenticity comes from the server-side verify call,
// which decides the outcome for both OK and NOK callbacks.
func (z *ZarinPalGateway) VerifyAndDecode(ctx context.Context, payload []byte, _ http.Header) (*model.WebhookEvent, error) {
	q, err := url.ParseQuery(strings.TrimPrefix(string(payload), "?"))
	if err != nil {
		return nil, domain.ValidationError("malformed zarinpal callback")
	}
	authority, status := q.Get("Authority"), q.Get("Status")
	amount, err := strconv.ParseInt(q.Get("amount"), 10, 64)
	if authority == "" || status == "" || err != nil {
		return nil, domain.ValidationError("zarinpal callback missing Authority, Status or amount")
	}
	out := &model.WebhookEvent{
		Gateway:     GatewayZarinPal,
		EventType:   "callback." + status,
		ExternalRef: authority,
		PaymentID:   q.Get("pid"),
		Amount:      model.FromMinorUnits(amount, "IRR"),
		Currency:    "IRR",
		Kind:        model.WebhookPaymentFailed,
	}
	refID, code, err := z.verify(ctx, authority, amount)
	if err != nil {
		return nil, fmt.Errorf("zarinpal verify: %w", err)
	}
	if refID == "" {
		out.FailureReason = fmt.Sprintf("zarinpal verify code %d", code)
		if status != "OK" {
			out.FailureReason = fmt.Sprintf("payer cancelled at zarinpal (verify code %d)", code)
		}
		return out, nil
	}
	out.Kind = model.WebhookPaymentSucceeded
	out.EventID = refID
	return out, nil
}

// RefundPayment issues a refund via GraphQL AddRefund mutation.
// ZarinPal requires a session id, amount, a refund method (CARD|PAYA) and a reason code.
func (z *ZarinPalGateway) RefundPayment(ctx context.Context, req adapter.RefundRequest) (*adapter.RefundResult, error) {
	if z.accessToken == "" {
		return nil, errors.New("zarinpal refund requires access token: configure payment.zarinpal.access_token")
	}
	amount, err := model.ToMinorUnits(req.Amount, "IRR")
	if err != nil {
		return nil, domain.PaymentError(err, "refund amount %s IRR cannot be refunded exactly", req.Amount)
	}
	type gqlReq struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	reqBody := gqlReq{
		Query: `mutation AddRefund($session_id: ID!, $amount: BigInteger!, $description: String, $method: InstantPayoutActionTypeEnum, $reason: RefundReasonEnum) {
  resource: AddRefund(session_id: $session_id, amount: $amount, description: $description, method: $method, reason: $reason) {
    id
    amount
    timeline { refund_amount refund_time refund_status }
  }
}`,
		Variables: map[string]interface{}{
			"session_id":  req.ExternalRef,
			"amount":      amount,
			"description": req.Reason,
			"method":      "CARD",
			"reason":      "CUSTOMER_REQUEST",
		},
	}
	b, _ := json.Marshal(reqBody)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, z.graphqlEndpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+z.accessToken)

	resp, err := z.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("refund http %d", resp.StatusCode)
	}
	var out struct {
		Data struct {
			Resource struct {
				ID       string `json:"id"`
				Timeline struct {
					RefundStatus string `json:"refund_status"`
				} `json:"timeline"`
			} `json:"resource"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Errors != nil {
		return nil, fmt.Errorf("refund gql error: %v", out.Errors)
	}
	return &adapter.RefundResult{ID: out.Data.Resource.ID, Status: out.Data.Resource.Timeline.RefundStatus}, nil
}

func (z *ZarinPalGateway) post(ctx context.Context, path string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.apiBase+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := z.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
