package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

type pgRequestRepository struct {
	pool *pgxpool.Pool
}

// NewPgRequestRepository returns a RequestRepository backed by PostgreSQL.
func NewPgRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &pgRequestRepository{pool: pool}
}

func (r *pgRequestRepository) CreateWithOutbox(ctx context.Context, tx pgx.Tx, req *domain.Request, outbox *domain.Outbox) error {
	recipients, err := json.Marshal(req.Recipients)
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}
	senders, err := json.Marshal(req.Senders)
	if err != nil {
		return fmt.Errorf("marshal senders: %w", err)
	}
	content, err := marshalNullable(req.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	template, err := marshalNullable(req.Template)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO notification_requests
			(id, requester_type, requester_id, recipients, channels, senders,
			 content, template, scheduled_at, memo, status, failure_reason,
			 processed_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		req.ID, req.Requester.Type, req.Requester.ID, recipients, channelStrings(req.Channels),
		senders, content, template, req.ScheduledAt, req.Memo, req.Status,
		nullableString(req.FailureReason), req.ProcessedAt, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO request_outbox
			(id, aggregate_id, payload, status, retry_attempts, next_retry_at, processed_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		outbox.ID, outbox.AggregateID, outbox.Payload, outbox.Status,
		outbox.RetryAttempts, outbox.NextRetryAt, outbox.ProcessedAt, outbox.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request outbox: %w", err)
	}
	return nil
}

const requestColumns = `id, requester_type, requester_id, recipients, channels, senders,
       content, template, scheduled_at, memo, status, failure_reason,
       processed_at, created_at`

func (r *pgRequestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM notification_requests WHERE id = $1`, id)

	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return req, err
}

func (r *pgRequestRepository) Save(ctx context.Context, req *domain.Request) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_requests
		SET status = $1, failure_reason = $2, processed_at = $3
		WHERE id = $4`,
		req.Status, nullableString(req.FailureReason), req.ProcessedAt, req.ID)
	if err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}

func (r *pgRequestRepository) List(ctx context.Context, f ListFilter) ([]*domain.Request, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	countQuery := "SELECT COUNT(*) FROM notification_requests" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`
		SELECT `+requestColumns+`
		FROM notification_requests%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, req)
	}
	return requests, total, rows.Err()
}

// ---- helpers ----

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var (
		req                 domain.Request
		recipients, senders []byte
		content, template   []byte
		channels            []string
		failureReason       *string
	)
	err := row.Scan(
		&req.ID, &req.Requester.Type, &req.Requester.ID, &recipients, &channels,
		&senders, &content, &template, &req.ScheduledAt, &req.Memo, &req.Status,
		&failureReason, &req.ProcessedAt, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(recipients, &req.Recipients); err != nil {
		return nil, fmt.Errorf("unmarshal recipients: %w", err)
	}
	if err := json.Unmarshal(senders, &req.Senders); err != nil {
		return nil, fmt.Errorf("unmarshal senders: %w", err)
	}
	if content != nil {
		req.Content = &domain.Content{}
		if err := json.Unmarshal(content, req.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
	}
	if template != nil {
		req.Template = &domain.TemplateRef{}
		if err := json.Unmarshal(template, req.Template); err != nil {
			return nil, fmt.Errorf("unmarshal template: %w", err)
		}
	}
	req.Channels = make([]domain.Channel, len(channels))
	for i, ch := range channels {
		req.Channels[i] = domain.Channel(ch)
	}
	if failureReason != nil {
		req.FailureReason = *failureReason
	}
	return &req, nil
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}
	return out
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case *domain.Content:
		if t == nil {
			return nil, nil
		}
	case *domain.TemplateRef:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
