package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus tracks the lifecycle of a single message.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDispatched DeliveryStatus = "dispatched"
	DeliveryFailed     DeliveryStatus = "failed"
)

// Message is one deliverable unit: a single recipient on a single channel,
// derived from a Request by the composer.
type Message struct {
	ID            string         `json:"id"`
	RequestID     string         `json:"request_id"`
	Channel       Channel        `json:"channel"`
	Recipient     Contact        `json:"recipient"`
	Content       Content        `json:"content"`
	Sender        SenderInfo     `json:"-"`
	Status        DeliveryStatus `json:"status"`
	ScheduledAt   *time.Time     `json:"scheduled_at,omitempty"`
	DispatchedAt  *time.Time     `json:"dispatched_at,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewMessage constructs a pending message for one recipient×channel pair.
func NewMessage(
	requestID string,
	channel Channel,
	recipient Contact,
	content Content,
	sender SenderInfo,
	scheduledAt *time.Time,
) *Message {
	return &Message{
		ID:          uuid.New().String(),
		RequestID:   requestID,
		Channel:     channel,
		Recipient:   recipient,
		Content:     content,
		Sender:      sender,
		Status:      DeliveryPending,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now().UTC(),
	}
}

// MarkDispatched transitions PENDING -> DISPATCHED after a successful
// publish.
func (m *Message) MarkDispatched() error {
	if m.Status != DeliveryPending {
		return ErrInvalidTransition
	}
	m.Status = DeliveryDispatched
	now := time.Now().UTC()
	m.DispatchedAt = &now
	return nil
}

// MarkFailed transitions PENDING or DISPATCHED -> FAILED. Only invoked once
// the outbox record is dead-lettered or the failure is permanent; transient
// publish errors never fail the message itself.
func (m *Message) MarkFailed(reason string) error {
	if m.Status != DeliveryPending && m.Status != DeliveryDispatched {
		return ErrInvalidTransition
	}
	m.Status = DeliveryFailed
	m.FailureReason = reason
	return nil
}

// Reset returns a FAILED message to PENDING ahead of a dead-letter replay.
func (m *Message) Reset() error {
	if m.Status != DeliveryFailed {
		return ErrInvalidTransition
	}
	m.Status = DeliveryPending
	m.FailureReason = ""
	m.DispatchedAt = nil
	return nil
}

// messageJSON shadows Message with the sender flattened into its
// channel-discriminated envelope so outbox payloads round-trip.
type messageJSON struct {
	ID            string          `json:"id"`
	RequestID     string          `json:"request_id"`
	Channel       Channel         `json:"channel"`
	Recipient     Contact         `json:"recipient"`
	Content       Content         `json:"content"`
	Sender        *senderEnvelope `json:"sender,omitempty"`
	Status        DeliveryStatus  `json:"status"`
	ScheduledAt   *time.Time      `json:"scheduled_at,omitempty"`
	DispatchedAt  *time.Time      `json:"dispatched_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	shadow := messageJSON{
		ID:            m.ID,
		RequestID:     m.RequestID,
		Channel:       m.Channel,
		Recipient:     m.Recipient,
		Content:       m.Content,
		Status:        m.Status,
		ScheduledAt:   m.ScheduledAt,
		DispatchedAt:  m.DispatchedAt,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
	}
	if m.Sender != nil {
		e, err := encodeSender(m.Sender)
		if err != nil {
			return nil, err
		}
		shadow.Sender = &e
	}
	return json.Marshal(shadow)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var shadow messageJSON
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}

	*m = Message{
		ID:            shadow.ID,
		RequestID:     shadow.RequestID,
		Channel:       shadow.Channel,
		Recipient:     shadow.Recipient,
		Content:       shadow.Content,
		Status:        shadow.Status,
		ScheduledAt:   shadow.ScheduledAt,
		DispatchedAt:  shadow.DispatchedAt,
		FailureReason: shadow.FailureReason,
		CreatedAt:     shadow.CreatedAt,
	}
	if shadow.Sender != nil {
		s, err := decodeSender(*shadow.Sender)
		if err != nil {
			return err
		}
		m.Sender = s
	}
	return nil
}
