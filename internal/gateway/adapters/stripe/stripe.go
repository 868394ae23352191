package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/gigpay/internal/gateway/domain"
	stripe "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"
)

const (
	providerName       = "stripe"
	referenceMetadata  = "reference"
	bookingMetadataKey = "booking_id"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API endpoint, for stripe-mock in tests.
	BaseURL    string
	HTTPClient *http.Client
}

type Adapter struct {
	api           *client.API
	webhookSecret string
}

func New(cfg Config) (*Adapter, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, domain.ErrInvalidConfig
	}

	var backends *stripe.Backends
	if cfg.BaseURL != "" || cfg.HTTPClient != nil {
		backendCfg := &stripe.BackendConfig{HTTPClient: cfg.HTTPClient}
		if cfg.BaseURL != "" {
			backendCfg.URL = stripe.String(strings.TrimRight(cfg.BaseURL, "/"))
		}
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	api := &client.API{}
	api.Init(key, backends)
	return &Adapter{api: api, webhookSecret: strings.TrimSpace(cfg.WebhookSecret)}, nil
}

func (a *Adapter) Provider() string { return providerName }

// ResolveRecipient maps the provider to a Connect account. Stripe has no
// separate recipient object.
func (a *Adapter) ResolveRecipient(ctx context.Context, details domain.RecipientDetails) (*domain.Recipient, error) {
	account := strings.TrimSpace(details.StripeAccountID)
	if account == "" {
		account = strings.TrimSpace(details.RecipientCode)
	}
	if !strings.HasPrefix(account, "acct_") {
		return nil, domain.InvalidRecipient(a.Provider(), "destination has no connect account")
	}
	return &domain.Recipient{Code: account}, nil
}

func (a *Adapter) InitiateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Destination:   stripe.String(req.RecipientCode),
		TransferGroup: stripe.String(req.Reference),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	params.AddMetadata(referenceMetadata, req.Reference)

	tr, err := a.api.Transfers.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	return toTransfer(req.Reference, tr), nil
}

func (a *Adapter) VerifyTransfer(ctx context.Context, reference string) (*domain.Transfer, error) {
	params := &stripe.TransferListParams{TransferGroup: stripe.String(reference)}
	params.Context = ctx
	iter := a.api.Transfers.List(params)
	for iter.Next() {
		if tr := iter.Transfer(); tr != nil {
			return toTransfer(reference, tr), nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	return nil, domain.ErrTransferNotFound
}

func (a *Adapter) InitiateRefund(ctx context.Context, req domain.RefundRequest) (*domain.Transfer, error) {
	if strings.TrimSpace(req.PaymentRef) == "" {
		return nil, domain.ErrMissingPaymentRef
	}
	params := &stripe.RefundParams{Amount: stripe.Int64(req.Amount)}
	if strings.HasPrefix(req.PaymentRef, "ch_") {
		params.Charge = stripe.String(req.PaymentRef)
	} else {
		params.PaymentIntent = stripe.String(req.PaymentRef)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	params.AddMetadata(referenceMetadata, req.Reference)

	refund, err := a.api.Refunds.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	return toRefund(req.Reference, refund), nil
}

func (a *Adapter) VerifyRefund(ctx context.Context, req domain.RefundRequest) (*domain.Transfer, error) {
	if strings.TrimSpace(req.PaymentRef) == "" {
		return nil, domain.ErrMissingPaymentRef
	}
	params := &stripe.RefundListParams{}
	if strings.HasPrefix(req.PaymentRef, "ch_") {
		params.Charge = stripe.String(req.PaymentRef)
	} else {
		params.PaymentIntent = stripe.String(req.PaymentRef)
	}
	params.Context = ctx
	iter := a.api.Refunds.List(params)
	for iter.Next() {
		refund := iter.Refund()
		if refund != nil && refund.Metadata[referenceMetadata] == req.Reference {
			return toRefund(req.Reference, refund), nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	return nil, domain.ErrTransferNotFound
}

type transferObject struct {
	ID            string            `json:"id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	TransferGroup string            `json:"transfer_group"`
	Status        string            `json:"status"`
	FailureReason string            `json:"failure_reason"`
	Metadata      map[string]string `json:"metadata"`
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*domain.WebhookEvent, error) {
	if a.webhookSecret == "" {
		return nil, domain.ErrInvalidConfig
	}
	event, err := webhook.ConstructEvent(payload, headers.Get("Stripe-Signature"), a.webhookSecret)
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}
	if event.Data == nil {
		return nil, domain.ErrInvalidPayload
	}

	var object transferObject
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	out := &domain.WebhookEvent{
		Provider:    providerName,
		EventID:     event.ID,
		ExternalRef: object.ID,
		Amount:      object.Amount,
		Currency:    strings.ToUpper(object.Currency),
		OccurredAt:  time.Unix(event.Created, 0).UTC(),
		RawPayload:  payload,
	}
	switch event.Type {
	case "transfer.created", "transfer.paid":
		out.Type = domain.WebhookTransferSuccess
		out.Reference = object.TransferGroup
	case "transfer.reversed", "transfer.failed":
		out.Type = domain.WebhookTransferReversed
		out.Reference = object.TransferGroup
		out.FailureReason = "transfer reversed"
	case "charge.refund.updated", "refund.updated":
		out.Reference = object.Metadata[referenceMetadata]
		switch object.Status {
		case string(stripe.RefundStatusSucceeded):
			out.Type = domain.WebhookRefundProcessed
		case string(stripe.RefundStatusFailed), string(stripe.RefundStatusCanceled):
			out.Type = domain.WebhookRefundFailed
			out.FailureReason = strings.TrimSpace(object.FailureReason)
			if out.FailureReason == "" {
				out.FailureReason = "refund " + object.Status
			}
		default:
			return nil, domain.ErrEventIgnored
		}
	case "payment_intent.succeeded":
		out.Type = domain.WebhookChargeSuccess
		out.Reference = object.ID
		out.BookingRef = object.Metadata[bookingMetadataKey]
	default:
		return nil, domain.ErrEventIgnored
	}
	if out.Reference == "" {
		return nil, domain.ErrInvalidPayload
	}
	return out, nil
}

func mapError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return domain.Unavailable(providerName, err)
	}
	status := stripeErr.HTTPStatusCode
	switch {
	case status == 0, status >= 500, status == http.StatusTooManyRequests:
		return domain.Unavailable(providerName, err)
	case status == http.StatusNotFound:
		return domain.ErrTransferNotFound
	}
	code := string(stripeErr.Code)
	if code == "" {
		code = strconv.Itoa(status)
	}
	reason := strings.TrimSpace(stripeErr.Msg)
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &domain.RejectedError{Provider: providerName, Code: code, Reason: reason}
}

func toTransfer(reference string, tr *stripe.Transfer) *domain.Transfer {
	out := &domain.Transfer{
		Reference:   reference,
		ExternalRef: tr.ID,
		Status:      domain.TransferStatusSuccess,
		Amount:      tr.Amount,
		Currency:    strings.ToUpper(string(tr.Currency)),
		Raw:         map[string]any{"id": tr.ID, "transfer_group": tr.TransferGroup},
	}
	if tr.Reversed {
		out.Status = domain.TransferStatusFailed
		out.FailureReason = "transfer reversed"
	}
	return out
}

func toRefund(reference string, refund *stripe.Refund) *domain.Transfer {
	out := &domain.Transfer{
		Reference:   reference,
		ExternalRef: refund.ID,
		Status:      domain.TransferStatusPending,
		Amount:      refund.Amount,
		Currency:    strings.ToUpper(string(refund.Currency)),
		Raw:         map[string]any{"id": refund.ID, "status": string(refund.Status)},
	}
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		out.Status = domain.TransferStatusSuccess
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		out.Status = domain.TransferStatusFailed
		out.FailureReason = "refund " + string(refund.Status)
		if refund.FailureReason != "" {
			out.FailureReason = string(refund.FailureReason)
		}
	}
	return out
}
