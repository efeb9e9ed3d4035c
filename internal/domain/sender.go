package domain

import (
	"encoding/json"
	"fmt"
)

// SenderInfo is the channel-specific sender identity attached to a request.
// Closed union: SMSSender, EmailSender, PushSender.
type SenderInfo interface {
	SenderChannel() Channel
}

type SMSSender struct {
	Phone string `json:"phone"`
}

func (SMSSender) SenderChannel() Channel { return ChannelSMS }

type EmailSender struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

func (EmailSender) SenderChannel() Channel { return ChannelEmail }

type PushSender struct {
	Name string `json:"name"`
}

func (PushSender) SenderChannel() Channel { return ChannelPush }

// SenderInfos maps each requested channel to its sender identity.
// JSON encoding wraps each entry in a channel-discriminated envelope so
// outbox payload snapshots round-trip.
type SenderInfos map[Channel]SenderInfo

type senderEnvelope struct {
	Channel Channel `json:"channel"`
	Phone   string  `json:"phone,omitempty"`
	Address string  `json:"address,omitempty"`
	Name    string  `json:"name,omitempty"`
}

func encodeSender(s SenderInfo) (senderEnvelope, error) {
	switch v := s.(type) {
	case SMSSender:
		return senderEnvelope{Channel: ChannelSMS, Phone: v.Phone}, nil
	case EmailSender:
		return senderEnvelope{Channel: ChannelEmail, Address: v.Address, Name: v.Name}, nil
	case PushSender:
		return senderEnvelope{Channel: ChannelPush, Name: v.Name}, nil
	default:
		return senderEnvelope{}, fmt.Errorf("%w: %T", ErrUnknownSender, s)
	}
}

func decodeSender(e senderEnvelope) (SenderInfo, error) {
	switch e.Channel {
	case ChannelSMS:
		return SMSSender{Phone: e.Phone}, nil
	case ChannelEmail:
		return EmailSender{Address: e.Address, Name: e.Name}, nil
	case ChannelPush:
		return PushSender{Name: e.Name}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSender, e.Channel)
	}
}

func (ss SenderInfos) MarshalJSON() ([]byte, error) {
	envelopes := make([]senderEnvelope, 0, len(ss))
	// Fixed iteration order keeps payload snapshots deterministic.
	for _, ch := range []Channel{ChannelSMS, ChannelEmail, ChannelPush} {
		s, ok := ss[ch]
		if !ok {
			continue
		}
		e, err := encodeSender(s)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, e)
	}
	return json.Marshal(envelopes)
}

func (ss *SenderInfos) UnmarshalJSON(data []byte) error {
	var envelopes []senderEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}

	out := make(SenderInfos, len(envelopes))
	for _, e := range envelopes {
		s, err := decodeSender(e)
		if err != nil {
			return err
		}
		out[e.Channel] = s
	}
	*ss = out
	return nil
}
