// Package composer expands a validated request into its per-recipient,
// per-channel messages. Composition is re-entrant: the unique
// (request, recipient, channel) constraint in the message store makes a
// second pass over the same request skip pairs that already exist.
package composer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// ProfileProvider resolves recipient references to concrete contacts.
type ProfileProvider interface {
	GetProfile(ctx context.Context, userID string) (*domain.Contact, error)
	ListAll(ctx context.Context) ([]*domain.Contact, error)
	ListSegment(ctx context.Context, segment string) ([]*domain.Contact, error)
}

// TemplateProvider fetches template definitions. A template is keyed by
// (id, channel, language): the same template ID carries distinct variants
// per channel, an email body is not an SMS body. The returned content still
// carries its {{placeholder}} markers.
type TemplateProvider interface {
	GetDefinition(ctx context.Context, templateID string, channel domain.Channel, language string) (*domain.Content, error)
}

// Notify is called once per newly persisted message with its outbox ID.
type Notify func(outboxID string)

// Composer turns one request into messages with escorting outbox records.
type Composer struct {
	messages  repository.MessageRepository
	profiles  ProfileProvider
	templates TemplateProvider
	logger    *zap.Logger
	notify    Notify
}

func New(
	messages repository.MessageRepository,
	profiles ProfileProvider,
	templates TemplateProvider,
	logger *zap.Logger,
	notify Notify,
) *Composer {
	return &Composer{
		messages:  messages,
		profiles:  profiles,
		templates: templates,
		logger:    logger,
		notify:    notify,
	}
}

// Compose fans the request out to every reachable recipient x channel pair
// and reports how many messages were newly created. Contacts that cannot
// receive a channel are skipped. A channel with no configured sender is a
// permanent failure for the whole request.
func (c *Composer) Compose(ctx context.Context, req *domain.Request) (int, error) {
	contacts, err := c.resolveRecipients(ctx, req)
	if err != nil {
		return 0, err
	}

	created := 0
	rendered := make(map[string]domain.Content)
	for _, contact := range contacts {
		for _, ch := range req.Channels {
			if !contact.CanReceive(ch) {
				continue
			}
			sender, ok := req.Senders[ch]
			if !ok {
				return created, domain.Permanent(
					fmt.Errorf("channel %s: %w", ch, domain.ErrMissingSender))
			}

			content, err := c.contentFor(ctx, req, ch, contact, rendered)
			if err != nil {
				return created, err
			}

			inserted, err := c.persist(ctx, req, ch, contact, content, sender)
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
	}

	c.logger.Info("request composed",
		zap.String("request_id", req.ID),
		zap.Int("contacts", len(contacts)),
		zap.Int("messages_created", created))
	return created, nil
}

func (c *Composer) persist(
	ctx context.Context,
	req *domain.Request,
	ch domain.Channel,
	contact *domain.Contact,
	content domain.Content,
	sender domain.SenderInfo,
) (bool, error) {
	msg := domain.NewMessage(req.ID, ch, *contact, content, sender, req.ScheduledAt)
	payload, err := msg.MarshalJSON()
	if err != nil {
		return false, fmt.Errorf("marshal message payload: %w", err)
	}
	ob, err := domain.NewOutbox(msg.ID, payload, req.ScheduledAt)
	if err != nil {
		return false, err
	}
	inserted, err := c.messages.CreateWithOutbox(ctx, msg, ob)
	if err != nil {
		return false, err
	}
	if inserted && c.notify != nil {
		c.notify(ob.ID)
	}
	return inserted, nil
}

// resolveRecipients expands each reference into contacts, deduplicated by
// contact key. User references that resolve to no profile are skipped with
// a warning rather than failing the whole request.
func (c *Composer) resolveRecipients(ctx context.Context, req *domain.Request) ([]*domain.Contact, error) {
	seen := make(map[string]bool)
	var contacts []*domain.Contact
	add := func(list ...*domain.Contact) {
		for _, contact := range list {
			if key := contact.Key(); !seen[key] {
				seen[key] = true
				contacts = append(contacts, contact)
			}
		}
	}

	for _, ref := range req.Recipients {
		switch r := ref.(type) {
		case domain.UserRecipient:
			contact, err := c.profiles.GetProfile(ctx, r.UserID)
			if errors.Is(err, domain.ErrNotFound) {
				c.logger.Warn("recipient profile not found",
					zap.String("request_id", req.ID),
					zap.String("user_id", r.UserID))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve user %s: %w", r.UserID, err)
			}
			add(contact)
		case domain.DirectRecipient:
			add(&domain.Contact{
				Email:       r.Email,
				Phone:       r.Phone,
				DeviceToken: r.DeviceToken,
			})
		case domain.AllUsersRecipient:
			all, err := c.profiles.ListAll(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve all users: %w", err)
			}
			add(all...)
		case domain.SegmentRecipient:
			seg, err := c.profiles.ListSegment(ctx, r.Segment)
			if err != nil {
				return nil, fmt.Errorf("resolve segment %s: %w", r.Segment, err)
			}
			add(seg...)
		default:
			return nil, domain.Permanent(
				fmt.Errorf("%w: %T", domain.ErrUnknownRecipient, ref))
		}
	}
	return contacts, nil
}

// contentFor yields the final content for one contact on one channel: direct
// content is used verbatim, templated content is fetched per (channel,
// language) variant and cached for the duration of the call.
func (c *Composer) contentFor(
	ctx context.Context,
	req *domain.Request,
	ch domain.Channel,
	contact *domain.Contact,
	cache map[string]domain.Content,
) (domain.Content, error) {
	if req.Template == nil {
		return *req.Content, nil
	}

	key := string(ch) + "/" + contact.Language
	if got, ok := cache[key]; ok {
		return got, nil
	}

	def, err := c.templates.GetDefinition(ctx, req.Template.TemplateID, ch, contact.Language)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Content{}, domain.Permanent(
			fmt.Errorf("template %s for %s: %w", req.Template.TemplateID, ch, err))
	}
	if err != nil {
		return domain.Content{}, fmt.Errorf("fetch template %s for %s: %w", req.Template.TemplateID, ch, err)
	}

	rendered := Render(*def, req.Template.Parameters)
	cache[key] = rendered
	return rendered, nil
}
