package composer_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/composer"
	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// fakeProfiles serves contacts out of fixed maps.
type fakeProfiles struct {
	users    map[string]*domain.Contact
	segments map[string][]*domain.Contact
	err      error
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*domain.Contact, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeProfiles) ListAll(_ context.Context) ([]*domain.Contact, error) {
	if f.err != nil {
		return nil, f.err
	}
	var all []*domain.Contact
	for _, c := range f.users {
		all = append(all, c)
	}
	return all, nil
}

func (f *fakeProfiles) ListSegment(_ context.Context, segment string) ([]*domain.Contact, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.segments[segment], nil
}

// fakeTemplates serves one definition per (id, channel, language) variant
// and records every lookup key.
type fakeTemplates struct {
	defs    map[string]*domain.Content
	lookups []string
}

func (f *fakeTemplates) GetDefinition(_ context.Context, templateID string, ch domain.Channel, language string) (*domain.Content, error) {
	key := templateID + "/" + string(ch) + "/" + language
	f.lookups = append(f.lookups, key)
	def, ok := f.defs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return def, nil
}

func buildRequest(t *testing.T, recipients domain.RecipientRefs, channels []domain.Channel, senders domain.SenderInfos, content *domain.Content, template *domain.TemplateRef) *domain.Request {
	t.Helper()
	req, err := domain.NewRequest(
		domain.Requester{Type: domain.RequesterService, ID: "billing"},
		recipients, channels, senders, content, template, nil, "",
	)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func allSenders() domain.SenderInfos {
	return domain.SenderInfos{
		domain.ChannelSMS:   domain.SMSSender{Phone: "+15559990000"},
		domain.ChannelEmail: domain.EmailSender{Address: "noreply@example.com"},
		domain.ChannelPush:  domain.PushSender{Name: "NotifyHub"},
	}
}

func TestComposer_SkipsUnreachableChannels(t *testing.T) {
	// Email-only contact on an {email, sms} request yields one message.
	profiles := &fakeProfiles{users: map[string]*domain.Contact{
		"u-1": {UserID: "u-1", Email: "ada@example.com"},
	}}
	repo := repository.NewMockMessageRepository()
	var notified []string
	comp := composer.New(repo, profiles, &fakeTemplates{}, zap.NewNop(),
		func(id string) { notified = append(notified, id) })

	req := buildRequest(t,
		domain.RecipientRefs{domain.UserRecipient{UserID: "u-1"}},
		[]domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		allSenders(),
		&domain.Content{Title: "hi", Body: "hello"}, nil)

	created, err := comp.Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 message, got %d", created)
	}

	msgs, _ := repo.ListByRequestID(context.Background(), req.ID)
	if len(msgs) != 1 || msgs[0].Channel != domain.ChannelEmail {
		t.Fatalf("unexpected fan-out: %#v", msgs)
	}
	if len(notified) != 1 {
		t.Fatalf("expected 1 wakeup, got %d", len(notified))
	}
}

func TestComposer_MissingSenderIsPermanent(t *testing.T) {
	profiles := &fakeProfiles{users: map[string]*domain.Contact{
		"u-1": {UserID: "u-1", Phone: "+15550001111"},
	}}
	comp := composer.New(repository.NewMockMessageRepository(), profiles, &fakeTemplates{}, zap.NewNop(), nil)

	req := buildRequest(t,
		domain.RecipientRefs{domain.UserRecipient{UserID: "u-1"}},
		[]domain.Channel{domain.ChannelSMS},
		domain.SenderInfos{domain.ChannelEmail: domain.EmailSender{Address: "noreply@example.com"}},
		&domain.Content{Body: "hello"}, nil)

	_, err := comp.Compose(context.Background(), req)
	if !domain.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !errors.Is(err, domain.ErrMissingSender) {
		t.Fatalf("expected ErrMissingSender, got %v", err)
	}
}

func TestComposer_ReentrantAfterPartialFanOut(t *testing.T) {
	profiles := &fakeProfiles{users: map[string]*domain.Contact{
		"u-1": {UserID: "u-1", Email: "ada@example.com"},
		"u-2": {UserID: "u-2", Email: "grace@example.com"},
	}}
	repo := repository.NewMockMessageRepository()
	comp := composer.New(repo, profiles, &fakeTemplates{}, zap.NewNop(), nil)

	req := buildRequest(t,
		domain.RecipientRefs{
			domain.UserRecipient{UserID: "u-1"},
			domain.UserRecipient{UserID: "u-2"},
		},
		[]domain.Channel{domain.ChannelEmail},
		allSenders(),
		&domain.Content{Body: "hello"}, nil)

	created, err := comp.Compose(context.Background(), req)
	if err != nil || created != 2 {
		t.Fatalf("first pass: created=%d err=%v", created, err)
	}

	// A second pass over the same request must not duplicate anything.
	created, err = comp.Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected 0 new messages on second pass, got %d", created)
	}
	if len(repo.Outboxes) != 2 {
		t.Fatalf("expected 2 outbox records total, got %d", len(repo.Outboxes))
	}
}

func TestComposer_DeduplicatesRecipients(t *testing.T) {
	profiles := &fakeProfiles{
		users: map[string]*domain.Contact{
			"u-1": {UserID: "u-1", Email: "ada@example.com"},
		},
		segments: map[string][]*domain.Contact{
			"beta": {{UserID: "u-1", Email: "ada@example.com"}},
		},
	}
	repo := repository.NewMockMessageRepository()
	comp := composer.New(repo, profiles, &fakeTemplates{}, zap.NewNop(), nil)

	req := buildRequest(t,
		domain.RecipientRefs{
			domain.UserRecipient{UserID: "u-1"},
			domain.SegmentRecipient{Segment: "beta"},
		},
		[]domain.Channel{domain.ChannelEmail},
		allSenders(),
		&domain.Content{Body: "hello"}, nil)

	created, err := comp.Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 message for deduplicated recipient, got %d", created)
	}
}

func TestComposer_SkipsMissingProfiles(t *testing.T) {
	profiles := &fakeProfiles{users: map[string]*domain.Contact{
		"u-1": {UserID: "u-1", Email: "ada@example.com"},
	}}
	repo := repository.NewMockMessageRepository()
	comp := composer.New(repo, profiles, &fakeTemplates{}, zap.NewNop(), nil)

	req := buildRequest(t,
		domain.RecipientRefs{
			domain.UserRecipient{UserID: "u-1"},
			domain.UserRecipient{UserID: "u-gone"},
		},
		[]domain.Channel{domain.ChannelEmail},
		allSenders(),
		&domain.Content{Body: "hello"}, nil)

	created, err := comp.Compose(context.Background(), req)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected missing profile to be skipped, created=%d", created)
	}
}

func TestComposer_TemplatedContentPerLanguage(t *testing.T) {
	profiles := &fakeProfiles{users: map[string]*domain.Contact{
		"u-1": {UserID: "u-1", Email: "ada@example.com", Language: "en"},
		"u-2": {UserID: "u-2", Email: "mina@example.com", Language: "tr"},
	}}
	templates := &fakeTemplates{defs: map[string]*domain.Content{
		"welcome/email/en": {Body: "Hi {{name}}"},
		"welcome/email/tr": {Body: "Merhaba {{name}}"},
	}}
	repo := repository.NewMockMessageRepository()
	comp := composer.New(repo, profiles, templates, zap.NewNop(), nil)

	req := buildRequest(t,
		domain.RecipientRefs{
			domain.UserRecipient{UserID: "u-1"},
			domain.UserRecipient{UserID: "u-2"},
		},
		[]domain.Channel{domain.ChannelEmail},
		allSenders(),
		nil, &domain.TemplateRef{
			TemplateID: "welcome",
			Parameters: map[string]string{"name": "Ada"},
		})

	created, err := comp.Compose(context.Background(), req)
	if err != nil || created != 2 {
		t.Fatalf("compose: created=%d err=%v", created, err)
	}

	msgs, _ := repo.ListByRequestID(context.Background(), req.ID)
	bodies := map[string]bool{}
	for _, m := range msgs {
		bodies[m.Content.Body] = true
	}
	if !bodies["Hi Ada"] || !bodies["Merhaba Ada"] {
		t.Fatalf("unexpected rendered bodies: %v", bodies)
	}
	if len(templates.lookups) != 2 {
		t.Fatalf("expected one fetch per language, got %v", templates.lookups)
	}
}

func TestComposer_TemplatedContentPerChannel(t *testing.T) {
	// One template ID resolves to a different variant per channel; a contact
	// reachable on both gets channel-specific content, not one shared body.
	profiles := &fakeProfiles{users: map[string]*domain.Contact{
		"u-1": {UserID: "u-1", Email: "ada@example.com", Phone: "+15550001111", Language: "en"},
		"u-2": {UserID: "u-2", Email: "grace@example.com", Phone: "+15550002222", Language: "en"},
	}}
	templates := &fakeTemplates{defs: map[string]*domain.Content{
		"welcome/email/en": {Title: "Welcome {{name}}", Body: "The long email body for {{name}}"},
		"welcome/sms/en":   {Body: "Hi {{name}}, welcome"},
	}}
	repo := repository.NewMockMessageRepository()
	comp := composer.New(repo, profiles, templates, zap.NewNop(), nil)

	req := buildRequest(t,
		domain.RecipientRefs{
			domain.UserRecipient{UserID: "u-1"},
			domain.UserRecipient{UserID: "u-2"},
		},
		[]domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		allSenders(),
		nil, &domain.TemplateRef{
			TemplateID: "welcome",
			Parameters: map[string]string{"name": "Ada"},
		})

	created, err := comp.Compose(context.Background(), req)
	if err != nil || created != 4 {
		t.Fatalf("compose: created=%d err=%v", created, err)
	}

	msgs, _ := repo.ListByRequestID(context.Background(), req.ID)
	byChannel := map[domain.Channel]string{}
	for _, m := range msgs {
		byChannel[m.Channel] = m.Content.Body
	}
	if byChannel[domain.ChannelEmail] != "The long email body for Ada" {
		t.Fatalf("email body: %q", byChannel[domain.ChannelEmail])
	}
	if byChannel[domain.ChannelSMS] != "Hi Ada, welcome" {
		t.Fatalf("sms body: %q", byChannel[domain.ChannelSMS])
	}

	// One fetch per (channel, language) variant, not per contact.
	if len(templates.lookups) != 2 {
		t.Fatalf("expected one fetch per channel variant, got %v", templates.lookups)
	}
	seen := map[string]bool{}
	for _, l := range templates.lookups {
		seen[l] = true
	}
	if !seen["welcome/email/en"] || !seen["welcome/sms/en"] {
		t.Fatalf("lookups missed a channel variant: %v", templates.lookups)
	}
}

func TestComposer_MissingTemplateIsPermanent(t *testing.T) {
	profiles := &fakeProfiles{users: map[string]*domain.Contact{
		"u-1": {UserID: "u-1", Email: "ada@example.com", Language: "en"},
	}}
	comp := composer.New(repository.NewMockMessageRepository(), profiles, &fakeTemplates{}, zap.NewNop(), nil)

	req := buildRequest(t,
		domain.RecipientRefs{domain.UserRecipient{UserID: "u-1"}},
		[]domain.Channel{domain.ChannelEmail},
		allSenders(),
		nil, &domain.TemplateRef{TemplateID: "nope"})

	_, err := comp.Compose(context.Background(), req)
	if !domain.IsPermanent(err) {
		t.Fatalf("expected permanent error for missing template, got %v", err)
	}
}

func TestComposer_TransientProfileErrorPropagates(t *testing.T) {
	profiles := &fakeProfiles{err: errors.New("profile service 503")}
	comp := composer.New(repository.NewMockMessageRepository(), profiles, &fakeTemplates{}, zap.NewNop(), nil)

	req := buildRequest(t,
		domain.RecipientRefs{domain.UserRecipient{UserID: "u-1"}},
		[]domain.Channel{domain.ChannelEmail},
		allSenders(),
		&domain.Content{Body: "hello"}, nil)

	_, err := comp.Compose(context.Background(), req)
	if err == nil || domain.IsPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
