package domain

// Channel is the delivery channel for a notification message.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

// RequesterType identifies what kind of caller submitted a request.
type RequesterType string

const (
	RequesterUser    RequesterType = "user"
	RequesterService RequesterType = "service"
	RequesterAdmin   RequesterType = "admin"
)

// Requester identifies the party that submitted a notification request.
type Requester struct {
	Type RequesterType `json:"type"`
	ID   string        `json:"id"`
}
