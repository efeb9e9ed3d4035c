package domain

import (
	"encoding/json"
	"fmt"
)

// RecipientType discriminates the closed set of recipient reference variants.
type RecipientType string

const (
	RecipientUser    RecipientType = "user"
	RecipientDirect  RecipientType = "direct"
	RecipientAll     RecipientType = "all_users"
	RecipientSegment RecipientType = "segment"
)

// RecipientRef is a reference to one or more recipients as supplied on a
// request. It is a closed union: the composer matches exhaustively on the
// four variants below, so adding a variant requires updating every match
// site deliberately.
type RecipientRef interface {
	RecipientType() RecipientType
}

// UserRecipient targets a single registered user; contact details are
// resolved from the user-profile provider at composition time.
type UserRecipient struct {
	UserID string `json:"user_id"`
}

func (UserRecipient) RecipientType() RecipientType { return RecipientUser }

// DirectRecipient carries contact details inline, bypassing profile lookup.
type DirectRecipient struct {
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
}

func (DirectRecipient) RecipientType() RecipientType { return RecipientDirect }

// AllUsersRecipient targets every registered user.
type AllUsersRecipient struct{}

func (AllUsersRecipient) RecipientType() RecipientType { return RecipientAll }

// SegmentRecipient targets a named user segment resolved by the profile
// provider.
type SegmentRecipient struct {
	Segment string `json:"segment"`
}

func (SegmentRecipient) RecipientType() RecipientType { return RecipientSegment }

// RecipientRefs is a slice of recipient references with a stable JSON
// encoding: each element is wrapped in an envelope carrying a "type"
// discriminator so outbox payload snapshots round-trip.
type RecipientRefs []RecipientRef

type recipientEnvelope struct {
	Type        RecipientType `json:"type"`
	UserID      string        `json:"user_id,omitempty"`
	Email       string        `json:"email,omitempty"`
	Phone       string        `json:"phone,omitempty"`
	DeviceToken string        `json:"device_token,omitempty"`
	Segment     string        `json:"segment,omitempty"`
}

func (rs RecipientRefs) MarshalJSON() ([]byte, error) {
	envelopes := make([]recipientEnvelope, len(rs))
	for i, r := range rs {
		switch v := r.(type) {
		case UserRecipient:
			envelopes[i] = recipientEnvelope{Type: RecipientUser, UserID: v.UserID}
		case DirectRecipient:
			envelopes[i] = recipientEnvelope{
				Type:        RecipientDirect,
				Email:       v.Email,
				Phone:       v.Phone,
				DeviceToken: v.DeviceToken,
			}
		case AllUsersRecipient:
			envelopes[i] = recipientEnvelope{Type: RecipientAll}
		case SegmentRecipient:
			envelopes[i] = recipientEnvelope{Type: RecipientSegment, Segment: v.Segment}
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnknownRecipient, r)
		}
	}
	return json.Marshal(envelopes)
}

func (rs *RecipientRefs) UnmarshalJSON(data []byte) error {
	var envelopes []recipientEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}

	out := make(RecipientRefs, len(envelopes))
	for i, e := range envelopes {
		switch e.Type {
		case RecipientUser:
			out[i] = UserRecipient{UserID: e.UserID}
		case RecipientDirect:
			out[i] = DirectRecipient{Email: e.Email, Phone: e.Phone, DeviceToken: e.DeviceToken}
		case RecipientAll:
			out[i] = AllUsersRecipient{}
		case RecipientSegment:
			out[i] = SegmentRecipient{Segment: e.Segment}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownRecipient, e.Type)
		}
	}
	*rs = out
	return nil
}

// Contact is a fully resolved recipient: the concrete contact methods a
// single person can be reached on, as used by a Message.
type Contact struct {
	UserID      string `json:"user_id,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
	Language    string `json:"language,omitempty"`
}

// CanReceive reports whether the contact has a usable, non-blank contact
// method for the given channel.
func (c Contact) CanReceive(ch Channel) bool {
	switch ch {
	case ChannelSMS:
		return c.Phone != ""
	case ChannelEmail:
		return c.Email != ""
	case ChannelPush:
		return c.DeviceToken != ""
	}
	return false
}

// Key returns a stable identity for deduplicating messages per recipient.
// Resolved users are keyed by user ID; direct contacts by their contact
// methods.
func (c Contact) Key() string {
	if c.UserID != "" {
		return "user:" + c.UserID
	}
	return "direct:" + c.Email + ":" + c.Phone + ":" + c.DeviceToken
}
