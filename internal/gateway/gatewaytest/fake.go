// Package gatewaytest provides an in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/smallbiznis/gigpay/internal/gateway/domain"
)

const (
	OpResolveRecipient = "resolve_recipient"
	OpInitiateTransfer = "initiate_transfer"
	OpVerifyTransfer   = "verify_transfer"
	OpInitiateRefund   = "initiate_refund"
	OpVerifyRefund     = "verify_refund"

	SignatureHeader = "X-Fake-Signature"
	ValidSignature  = "valid"
)

// Fake dedupes transfers and refunds by reference, like a real provider
// honoring idempotency keys. Faults are injected per operation.
type Fake struct {
	mu            sync.Mutex
	provider      string
	transfers     map[string]*domain.Transfer
	refunds       map[string]*domain.Transfer
	calls         map[string]int
	faults        map[string][]error
	lostResponses map[string]int
	initialStatus domain.TransferStatus
	delay         time.Duration
	seq           int
}

func NewFake() *Fake {
	return &Fake{
		provider:      "fake",
		transfers:     map[string]*domain.Transfer{},
		refunds:       map[string]*domain.Transfer{},
		calls:         map[string]int{},
		faults:        map[string][]error{},
		lostResponses: map[string]int{},
		initialStatus: domain.TransferStatusSuccess,
	}
}

func (f *Fake) Provider() string { return f.provider }

// FailNext makes the next call of op return err without side effects.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = append(f.faults[op], err)
}

// LoseResponse makes the next call of op take effect and then report
// ErrUnavailable, as if the response timed out in transit.
func (f *Fake) LoseResponse(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lostResponses[op]++
}

// SetInitialStatus controls the status of newly created transfers and refunds.
func (f *Fake) SetInitialStatus(status domain.TransferStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialStatus = status
}

// SetDelay slows every call down, honoring context cancellation.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Settle moves an existing transfer or refund to a final status.
func (f *Fake) Settle(reference string, status domain.TransferStatus, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, store := range []map[string]*domain.Transfer{f.transfers, f.refunds} {
		if item, ok := store[reference]; ok {
			item.Status = status
			item.FailureReason = reason
		}
	}
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

func (f *Fake) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

func (f *Fake) Transfer(reference string) (domain.Transfer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.transfers[reference]
	if !ok {
		return domain.Transfer{}, false
	}
	return *item, true
}

func (f *Fake) begin(ctx context.Context, op string) (bool, error) {
	f.mu.Lock()
	f.calls[op]++
	delay := f.delay
	var fault error
	if queue := f.faults[op]; len(queue) > 0 {
		fault = queue[0]
		f.faults[op] = queue[1:]
	}
	lost := false
	if f.lostResponses[op] > 0 {
		f.lostResponses[op]--
		lost = true
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
	return lost, fault
}

func (f *Fake) ResolveRecipient(ctx context.Context, details domain.RecipientDetails) (*domain.Recipient, error) {
	if _, err := f.begin(ctx, OpResolveRecipient); err != nil {
		return nil, err
	}
	if details.RecipientCode != "" {
		return &domain.Recipient{Code: details.RecipientCode}, nil
	}
	if details.AccountNumber == "" && details.StripeAccountID == "" {
		return nil, domain.InvalidRecipient(f.Provider(), "destination has no account")
	}
	return &domain.Recipient{Code: "RCP_" + details.RecipientRef}, nil
}

func (f *Fake) InitiateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.Transfer, error) {
	lost, err := f.begin(ctx, OpInitiateTransfer)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	item, ok := f.transfers[req.Reference]
	if !ok {
		f.seq++
		item = &domain.Transfer{
			Reference:   req.Reference,
			ExternalRef: fmt.Sprintf("TRF_%d", f.seq),
			Status:      f.initialStatus,
			Amount:      req.Amount,
			Currency:    req.Currency,
		}
		f.transfers[req.Reference] = item
	}
	out := *item
	f.mu.Unlock()
	if lost {
		return nil, domain.Unavailable(f.provider, context.DeadlineExceeded)
	}
	return &out, nil
}

func (f *Fake) VerifyTransfer(ctx context.Context, reference string) (*domain.Transfer, error) {
	if _, err := f.begin(ctx, OpVerifyTransfer); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.transfers[reference]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	out := *item
	return &out, nil
}

func (f *Fake) InitiateRefund(ctx context.Context, req domain.RefundRequest) (*domain.Transfer, error) {
	lost, err := f.begin(ctx, OpInitiateRefund)
	if err != nil {
		return nil, err
	}
	if req.PaymentRef == "" {
		return nil, domain.ErrMissingPaymentRef
	}
	f.mu.Lock()
	item, ok := f.refunds[req.Reference]
	if !ok {
		f.seq++
		item = &domain.Transfer{
			Reference:   req.Reference,
			ExternalRef: fmt.Sprintf("RFD_%d", f.seq),
			Status:      f.initialStatus,
			Amount:      req.Amount,
			Currency:    req.Currency,
		}
		f.refunds[req.Reference] = item
	}
	out := *item
	f.mu.Unlock()
	if lost {
		return nil, domain.Unavailable(f.provider, context.DeadlineExceeded)
	}
	return &out, nil
}

func (f *Fake) VerifyRefund(ctx context.Context, req domain.RefundRequest) (*domain.Transfer, error) {
	if _, err := f.begin(ctx, OpVerifyRefund); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.refunds[req.Reference]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	out := *item
	return &out, nil
}

// ParseWebhook accepts a JSON encoded domain.WebhookEvent when the
// signature header carries ValidSignature.
func (f *Fake) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*domain.WebhookEvent, error) {
	if headers.Get(SignatureHeader) != ValidSignature {
		return nil, domain.ErrInvalidSignature
	}
	var event domain.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if event.EventID == "" || event.Reference == "" {
		return nil, domain.ErrInvalidPayload
	}
	event.Provider = f.provider
	event.RawPayload = payload
	return &event, nil
}
