package domain

// Content is the renderable body of a notification. For literal-content
// requests it is used verbatim for every recipient; for template requests
// it is produced per recipient language by the composer.
type Content struct {
	Title       string `json:"title,omitempty"`
	Body        string `json:"body"`
	RedirectURL string `json:"redirect_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// TemplateRef points at a stored template definition plus the parameter map
// bound against its {{placeholder}} variables at composition time.
type TemplateRef struct {
	TemplateID string            `json:"template_id"`
	Parameters map[string]string `json:"parameters,omitempty"`
}
