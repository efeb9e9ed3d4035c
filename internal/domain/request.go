package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus tracks the lifecycle of a notification request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestDispatched RequestStatus = "dispatched"
	RequestFailed     RequestStatus = "failed"
	RequestCanceled   RequestStatus = "canceled"
)

// Request is the accepted notification request aggregate. One request fans
// out into one Message per resolved recipient per reachable channel.
type Request struct {
	ID            string        `json:"id"`
	Requester     Requester     `json:"requester"`
	Recipients    RecipientRefs `json:"recipients"`
	Channels      []Channel     `json:"channels"`
	Senders       SenderInfos   `json:"senders"`
	Content       *Content      `json:"content,omitempty"`
	Template      *TemplateRef  `json:"template,omitempty"`
	ScheduledAt   *time.Time    `json:"scheduled_at,omitempty"`
	Memo          string        `json:"memo,omitempty"`
	Status        RequestStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewRequest validates and constructs a pending request. Validation errors
// are rejected synchronously here and never persisted.
func NewRequest(
	requester Requester,
	recipients RecipientRefs,
	channels []Channel,
	senders SenderInfos,
	content *Content,
	template *TemplateRef,
	scheduledAt *time.Time,
	memo string,
) (*Request, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	if len(senders) == 0 {
		return nil, ErrNoSenders
	}
	for _, ch := range channels {
		if !ch.IsValid() {
			return nil, ErrInvalidChannel
		}
	}
	if (content == nil) == (template == nil) {
		return nil, ErrContentExclusive
	}

	return &Request{
		ID:          uuid.New().String(),
		Requester:   requester,
		Recipients:  recipients,
		Channels:    channels,
		Senders:     senders,
		Content:     content,
		Template:    template,
		ScheduledAt: scheduledAt,
		Memo:        memo,
		Status:      RequestPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// MarkProcessing transitions PENDING -> PROCESSING.
func (r *Request) MarkProcessing() error {
	if r.Status != RequestPending {
		return ErrInvalidTransition
	}
	r.Status = RequestProcessing
	r.touch()
	return nil
}

// MarkDispatched transitions PROCESSING -> DISPATCHED. All derived messages
// are persisted at this point; a request whose fan-out was empty still ends
// here.
func (r *Request) MarkDispatched() error {
	if r.Status != RequestProcessing {
		return ErrInvalidTransition
	}
	r.Status = RequestDispatched
	r.touch()
	return nil
}

// MarkFailed transitions PROCESSING -> FAILED on an unrecoverable
// composition error.
func (r *Request) MarkFailed(reason string) error {
	if r.Status != RequestProcessing {
		return ErrInvalidTransition
	}
	r.Status = RequestFailed
	r.FailureReason = reason
	r.touch()
	return nil
}

// MarkCanceled transitions PENDING or PROCESSING -> CANCELED.
func (r *Request) MarkCanceled() error {
	switch r.Status {
	case RequestCanceled:
		return ErrAlreadyCanceled
	case RequestPending, RequestProcessing:
		r.Status = RequestCanceled
		r.touch()
		return nil
	default:
		return ErrNotCancelable
	}
}

// Reset returns a FAILED request to PENDING ahead of a dead-letter replay.
func (r *Request) Reset() error {
	if r.Status != RequestFailed {
		return ErrInvalidTransition
	}
	r.Status = RequestPending
	r.FailureReason = ""
	r.ProcessedAt = nil
	return nil
}

// Terminal reports whether the request can no longer change state.
func (r *Request) Terminal() bool {
	switch r.Status {
	case RequestDispatched, RequestFailed, RequestCanceled:
		return true
	}
	return false
}

func (r *Request) touch() {
	now := time.Now().UTC()
	r.ProcessedAt = &now
}
