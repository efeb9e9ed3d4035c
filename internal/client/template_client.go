package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/notifyhub/notification-outbox/internal/composer"
	"github.com/notifyhub/notification-outbox/internal/domain"
)

// TemplateClient fetches template definitions from the template catalog.
// Definitions come back with their {{placeholder}} markers intact; rendering
// happens in the composer.
type TemplateClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewTemplateClient(baseURL string, timeout time.Duration) *TemplateClient {
	return &TemplateClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetDefinition fetches the (channel, language) variant of a template. The
// catalog resolves language fallbacks itself; a 404 means no variant exists
// for the channel at all.
func (c *TemplateClient) GetDefinition(ctx context.Context, templateID string, channel domain.Channel, language string) (*domain.Content, error) {
	q := url.Values{}
	q.Set("channel", string(channel))
	if language != "" {
		q.Set("language", language)
	}
	endpoint := c.baseURL + "/templates/" + url.PathEscape(templateID) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("template service request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected template service status: %d", resp.StatusCode)
	}

	var content domain.Content
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return nil, fmt.Errorf("decode template response: %w", err)
	}
	return &content, nil
}

// compile-time check that TemplateClient implements composer.TemplateProvider
var _ composer.TemplateProvider = (*TemplateClient)(nil)
