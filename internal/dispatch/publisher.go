// Package dispatch pushes composed messages to the per-channel delivery
// gateways and decides which delivery errors are worth retrying.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

// Publisher delivers one message to its channel's gateway. Mocking this
// interface in tests gives full control over gateway behaviour without
// making real HTTP calls.
type Publisher interface {
	Publish(ctx context.Context, msg *domain.Message) error
}

// payloadFunc builds the gateway-specific body for one message.
type payloadFunc func(msg *domain.Message) (any, error)

// WebhookPublisher POSTs channel payloads to a gateway endpoint. A 2xx
// response means accepted. Client errors other than 429 are permanent: the
// payload itself is unacceptable and retrying cannot fix it.
type WebhookPublisher struct {
	endpoint   string
	httpClient *http.Client
	payload    payloadFunc
}

func newWebhookPublisher(endpoint string, timeout time.Duration, payload payloadFunc) *WebhookPublisher {
	return &WebhookPublisher{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		payload: payload,
	}
}

// NewSMSPublisher returns a Publisher for the SMS gateway.
func NewSMSPublisher(endpoint string, timeout time.Duration) *WebhookPublisher {
	return newWebhookPublisher(endpoint, timeout, smsPayload)
}

// NewEmailPublisher returns a Publisher for the email gateway.
func NewEmailPublisher(endpoint string, timeout time.Duration) *WebhookPublisher {
	return newWebhookPublisher(endpoint, timeout, emailPayload)
}

// NewPushPublisher returns a Publisher for the push gateway.
func NewPushPublisher(endpoint string, timeout time.Duration) *WebhookPublisher {
	return newWebhookPublisher(endpoint, timeout, pushPayload)
}

func (p *WebhookPublisher) Publish(ctx context.Context, msg *domain.Message) error {
	payload, err := p.payload(msg)
	if err != nil {
		return domain.Permanent(err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("gateway throttled: %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return domain.Permanent(fmt.Errorf("gateway rejected payload: %d", resp.StatusCode))
	default:
		return fmt.Errorf("unexpected gateway status: %d", resp.StatusCode)
	}
}

func smsPayload(msg *domain.Message) (any, error) {
	sender, ok := msg.Sender.(domain.SMSSender)
	if !ok {
		return nil, fmt.Errorf("sms message %s: %w", msg.ID, domain.ErrUnknownSender)
	}
	return SMSPayload{
		SenderPhone: sender.Phone,
		Phone:       msg.Recipient.Phone,
		Body:        msg.Content.Body,
	}, nil
}

func emailPayload(msg *domain.Message) (any, error) {
	sender, ok := msg.Sender.(domain.EmailSender)
	if !ok {
		return nil, fmt.Errorf("email message %s: %w", msg.ID, domain.ErrUnknownSender)
	}
	return EmailPayload{
		SenderAddress: sender.Address,
		SenderName:    sender.Name,
		Address:       msg.Recipient.Email,
		Title:         msg.Content.Title,
		Body:          msg.Content.Body,
		RedirectURL:   msg.Content.RedirectURL,
		ImageURL:      msg.Content.ImageURL,
	}, nil
}

func pushPayload(msg *domain.Message) (any, error) {
	sender, ok := msg.Sender.(domain.PushSender)
	if !ok {
		return nil, fmt.Errorf("push message %s: %w", msg.ID, domain.ErrUnknownSender)
	}
	return PushPayload{
		SenderName:  sender.Name,
		DeviceToken: msg.Recipient.DeviceToken,
		Title:       msg.Content.Title,
		Body:        msg.Content.Body,
		RedirectURL: msg.Content.RedirectURL,
		ImageURL:    msg.Content.ImageURL,
	}, nil
}

// compile-time check that WebhookPublisher implements Publisher
var _ Publisher = (*WebhookPublisher)(nil)
