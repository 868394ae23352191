package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/gigpay/internal/gateway/domain"
)

const (
	providerName    = "paystack"
	defaultBaseURL  = "https://api.paystack.co"
	signatureHeader = "x-paystack-signature"
)

type Config struct {
	SecretKey  string
	BaseURL    string
	HTTPClient *http.Client
}

type Adapter struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func New(cfg Config) (*Adapter, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{secretKey: secret, baseURL: baseURL, client: client}, nil
}

func (a *Adapter) Provider() string { return providerName }

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
}

type transferData struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Reason       string `json:"reason"`
	Failures     any    `json:"failures"`
}

type refundData struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	MerchantNote string `json:"merchant_note"`
}

func (a *Adapter) ResolveRecipient(ctx context.Context, details domain.RecipientDetails) (*domain.Recipient, error) {
	if code := strings.TrimSpace(details.RecipientCode); code != "" {
		return &domain.Recipient{Code: code}, nil
	}
	if strings.TrimSpace(details.AccountNumber) == "" || strings.TrimSpace(details.BankCode) == "" {
		return nil, domain.InvalidRecipient(a.Provider(), "destination has no account number or bank code")
	}

	// Paystack returns the existing recipient for a known account.
	body := map[string]any{
		"type":           "nuban",
		"name":           details.AccountName,
		"account_number": details.AccountNumber,
		"bank_code":      details.BankCode,
		"currency":       strings.ToUpper(details.Currency),
		"metadata":       map[string]any{"recipient_ref": details.RecipientRef},
	}
	var data recipientData
	if _, err := a.do(ctx, http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return nil, rejectedFrom(err)
	}
	if data.RecipientCode == "" {
		return nil, domain.Unavailable(providerName, errors.New("empty recipient code"))
	}
	return &domain.Recipient{Code: data.RecipientCode}, nil
}

func (a *Adapter) InitiateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.Transfer, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    req.Amount,
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
		"currency":  strings.ToUpper(req.Currency),
	}
	var data transferData
	raw, err := a.do(ctx, http.MethodPost, "/transfer", body, &data)
	if err != nil {
		if isDuplicateReference(err) {
			return a.VerifyTransfer(ctx, req.Reference)
		}
		return nil, rejectedFrom(err)
	}
	return toTransfer(data, raw), nil
}

func (a *Adapter) VerifyTransfer(ctx context.Context, reference string) (*domain.Transfer, error) {
	var data transferData
	raw, err := a.do(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &data)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, rejectedFrom(err)
	}
	if data.Reference == "" && data.TransferCode == "" {
		return nil, domain.ErrTransferNotFound
	}
	return toTransfer(data, raw), nil
}

func (a *Adapter) InitiateRefund(ctx context.Context, req domain.RefundRequest) (*domain.Transfer, error) {
	if strings.TrimSpace(req.PaymentRef) == "" {
		return nil, domain.ErrMissingPaymentRef
	}
	existing, err := a.VerifyRefund(ctx, req)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, domain.ErrTransferNotFound):
		return nil, err
	}

	body := map[string]any{
		"transaction":   req.PaymentRef,
		"amount":        req.Amount,
		"currency":      strings.ToUpper(req.Currency),
		"merchant_note": req.Reference,
	}
	var data refundData
	raw, err := a.do(ctx, http.MethodPost, "/refund", body, &data)
	if err != nil {
		return nil, rejectedFrom(err)
	}
	return toRefund(req.Reference, data, raw), nil
}

// VerifyRefund finds the refund by the reference stored in merchant_note.
func (a *Adapter) VerifyRefund(ctx context.Context, req domain.RefundRequest) (*domain.Transfer, error) {
	if strings.TrimSpace(req.PaymentRef) == "" {
		return nil, domain.ErrMissingPaymentRef
	}
	var data []refundData
	if _, err := a.do(ctx, http.MethodGet, "/refund?transaction="+url.QueryEscape(req.PaymentRef), nil, &data); err != nil {
		if isNotFound(err) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, rejectedFrom(err)
	}
	for _, item := range data {
		if item.MerchantNote == req.Reference {
			return toRefund(req.Reference, item, nil), nil
		}
	}
	return nil, domain.ErrTransferNotFound
}

type webhookPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type webhookData struct {
	ID           json.Number    `json:"id"`
	Reference    string         `json:"reference"`
	TransferCode string         `json:"transfer_code"`
	Amount       int64          `json:"amount"`
	Currency     string         `json:"currency"`
	Status       string         `json:"status"`
	Reason       string         `json:"reason"`
	GatewayResp  string         `json:"gateway_response"`
	MerchantNote string         `json:"merchant_note"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    string         `json:"createdAt"`
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*domain.WebhookEvent, error) {
	if err := a.verifySignature(payload, headers); err != nil {
		return nil, err
	}

	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	var data webhookData
	decoder := json.NewDecoder(bytes.NewReader(event.Data))
	decoder.UseNumber()
	if err := decoder.Decode(&data); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	out := &domain.WebhookEvent{
		Provider:   providerName,
		EventID:    strings.TrimSpace(event.Event) + ":" + data.ID.String(),
		Amount:     data.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(data.Currency)),
		OccurredAt: parseTime(data.CreatedAt),
		RawPayload: payload,
	}
	if data.ID.String() == "" {
		out.EventID = strings.TrimSpace(event.Event) + ":" + data.Reference
	}

	switch strings.TrimSpace(event.Event) {
	case "transfer.success":
		out.Type = domain.WebhookTransferSuccess
		out.Reference = data.Reference
		out.ExternalRef = data.TransferCode
	case "transfer.failed", "transfer.reversed":
		out.Type = domain.WebhookTransferFailed
		if event.Event == "transfer.reversed" {
			out.Type = domain.WebhookTransferReversed
		}
		out.Reference = data.Reference
		out.ExternalRef = data.TransferCode
		out.FailureReason = firstNonEmpty(data.Reason, data.GatewayResp, event.Event)
	case "refund.processed":
		out.Type = domain.WebhookRefundProcessed
		out.Reference = data.MerchantNote
		out.ExternalRef = data.ID.String()
	case "refund.failed":
		out.Type = domain.WebhookRefundFailed
		out.Reference = data.MerchantNote
		out.ExternalRef = data.ID.String()
		out.FailureReason = firstNonEmpty(data.Reason, event.Event)
	case "charge.success":
		out.Type = domain.WebhookChargeSuccess
		out.Reference = data.Reference
		out.ExternalRef = data.Reference
		if value, ok := data.Metadata["booking_id"]; ok {
			out.BookingRef = strings.TrimSpace(fmt.Sprint(value))
		}
	default:
		return nil, domain.ErrEventIgnored
	}
	if out.Reference == "" {
		return nil, domain.ErrInvalidPayload
	}
	return out, nil
}

func (a *Adapter) verifySignature(payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(a.secretKey))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type apiError struct {
	status  int
	message string
	code    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("paystack %d: %s", e.status, e.message)
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.Unavailable(providerName, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.Unavailable(providerName, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(payload, &env)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.Unavailable(providerName, &apiError{status: resp.StatusCode, message: env.Message})
	case resp.StatusCode >= 400:
		apiErr := &apiError{status: resp.StatusCode, message: env.Message, code: env.Code}
		if isNotFound(apiErr) || isDuplicateReference(apiErr) {
			return nil, apiErr
		}
		return nil, &domain.RejectedError{Provider: providerName, Code: strconv.Itoa(resp.StatusCode), Reason: firstNonEmpty(env.Message, http.StatusText(resp.StatusCode))}
	}
	if decodeErr != nil {
		return nil, domain.Unavailable(providerName, decodeErr)
	}
	if !env.Status {
		return nil, &domain.RejectedError{Provider: providerName, Code: env.Code, Reason: firstNonEmpty(env.Message, "request rejected")}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, domain.Unavailable(providerName, err)
		}
	}
	var raw map[string]any
	_ = json.Unmarshal(env.Data, &raw)
	return raw, nil
}

// rejectedFrom turns a lookup-style API error into a rejection for callers
// that have no special handling for it.
func rejectedFrom(err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return &domain.RejectedError{Provider: providerName, Code: strconv.Itoa(apiErr.status), Reason: firstNonEmpty(apiErr.message, http.StatusText(apiErr.status))}
	}
	return err
}

func isNotFound(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.status == http.StatusNotFound {
		return true
	}
	return apiErr.status == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.message), "not found")
}

func isDuplicateReference(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.message)
	return apiErr.status == http.StatusBadRequest &&
		strings.Contains(msg, "reference") &&
		(strings.Contains(msg, "duplicate") || strings.Contains(msg, "already"))
}

func toTransfer(data transferData, raw map[string]any) *domain.Transfer {
	transfer := &domain.Transfer{
		Reference:   data.Reference,
		ExternalRef: data.TransferCode,
		Status:      mapStatus(data.Status),
		Amount:      data.Amount,
		Currency:    strings.ToUpper(data.Currency),
		Raw:         raw,
	}
	if transfer.Status == domain.TransferStatusFailed {
		transfer.FailureReason = firstNonEmpty(data.Reason, "transfer "+data.Status)
	}
	return transfer
}

func toRefund(reference string, data refundData, raw map[string]any) *domain.Transfer {
	status := domain.TransferStatusPending
	switch strings.ToLower(data.Status) {
	case "processed":
		status = domain.TransferStatusSuccess
	case "failed":
		status = domain.TransferStatusFailed
	}
	transfer := &domain.Transfer{
		Reference:   reference,
		ExternalRef: strconv.FormatInt(data.ID, 10),
		Status:      status,
		Amount:      data.Amount,
		Currency:    strings.ToUpper(data.Currency),
		Raw:         raw,
	}
	if status == domain.TransferStatusFailed {
		transfer.FailureReason = "refund failed"
	}
	return transfer
}

func mapStatus(status string) domain.TransferStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return domain.TransferStatusSuccess
	case "failed", "reversed", "abandoned", "rejected":
		return domain.TransferStatusFailed
	default:
		return domain.TransferStatusPending
	}
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
