package dispatch

// Channel-specific wire payloads posted to the downstream delivery
// gateways. Field shapes follow what each gateway expects, not the internal
// message model.

// SMSPayload is the body posted to the SMS gateway.
type SMSPayload struct {
	SenderPhone string `json:"senderPhone"`
	Phone       string `json:"phone"`
	Body        string `json:"body"`
}

// EmailPayload is the body posted to the email gateway.
type EmailPayload struct {
	SenderAddress string `json:"senderAddress"`
	SenderName    string `json:"senderName,omitempty"`
	Address       string `json:"address"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
	ImageURL      string `json:"imageUrl,omitempty"`
}

// PushPayload is the body posted to the push gateway.
type PushPayload struct {
	SenderName  string `json:"senderName"`
	DeviceToken string `json:"deviceToken"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}
