// Package client holds the HTTP clients for the services this system
// depends on: the user-profile directory and the template catalog. Base URLs
// are injected from config so tests can point at a local httptest server.
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

// ProfileClient resolves user IDs, segments, and the full user base to
// concrete contacts via the profile service's REST API.
type ProfileClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewProfileClient(baseURL string, timeout time.Duration) *ProfileClient {
	return &ProfileClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *ProfileClient) GetProfile(ctx context.Context, userID string) (*domain.Contact, error) {
	var contact domain.Contact
	err := c.get(ctx, c.baseURL+"/users/"+url.PathEscape(userID), &contact)
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (c *ProfileClient) ListAll(ctx context.Context) ([]*domain.Contact, error) {
	var contacts []*domain.Contact
	if err := c.get(ctx, c.baseURL+"/users", &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *ProfileClient) ListSegment(ctx context.Context, segment string) ([]*domain.Contact, error) {
	var contacts []*domain.Contact
	endpoint := c.baseURL + "/segments/" + url.PathEscape(segment) + "/users"
	if err := c.get(ctx, endpoint, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *ProfileClient) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("profile service request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected profile service status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode profile response: %w", err)
	}
	return nil
}

// compile-time check that ProfileClient implements composer.ProfileProvider
var _ composer.ProfileProvider = (*ProfileClient)(nil)
