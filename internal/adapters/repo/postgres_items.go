package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/metrics"
)

var (
	_ domain.ItemStore      = (*Postgres)(nil)
	_ domain.EventStore     = (*Postgres)(nil)
	_ domain.EventPublisher = (*Postgres)(nil)
)

const itemColumns = `id, scope, source_post_id, community, source_url, source_job_id, title, body, author, matched_keyword,
relevance_score, is_recommended, analysis_summary, low_relevance, generated_draft, edited_draft, status,
assigned_account_id, reviewer_id, reviewer_notes, reviewed_at, published_at, published_reference_id,
published_score, reply_count, stats_refreshed_at, last_error, discovered_at, updated_at, version`

// UpsertDiscovered сохраняет найденные публикации. Для уже известных обновляются только поля контента.
func (p *Postgres) UpsertDiscovered(ctx context.Context, items []domain.EngagementItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, item := range items {
		discovered := item.DiscoveredAt
		if discovered.IsZero() {
			discovered = time.Now().UTC()
		}
		batch.Queue(`
INSERT INTO engagement_items (id, scope, source_post_id, community, source_url, source_job_id, title, body, author,
    matched_keyword, status, discovered_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'discovered', $11, $11, 1)
ON CONFLICT (scope, community, source_post_id) DO UPDATE
SET title = EXCLUDED.title,
    body = EXCLUDED.body,
    author = EXCLUDED.author,
    source_url = EXCLUDED.source_url,
    updated_at = now()
`, item.ID, item.Scope, item.SourcePostID, item.Community, item.SourceURL, item.SourceJobID, item.Title, item.Body,
			item.Author, item.MatchedKeyword, discovered)
	}

	start := time.Now()
	results := p.pool.SendBatch(ctx, batch)
	stored := 0
	var batchErr error
	for range items {
		tag, err := results.Exec()
		if err != nil {
			batchErr = err
			break
		}
		stored += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil && batchErr == nil {
		batchErr = err
	}
	metrics.ObserveNetworkRequest("postgres", "items_upsert", "engagement_items", start, batchErr)
	if batchErr != nil {
		return 0, batchErr
	}
	return stored, nil
}

// GetItem возвращает элемент по идентификатору.
func (p *Postgres) GetItem(ctx context.Context, id string) (domain.EngagementItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	item, err := scanItem(p.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM engagement_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "items_get", "engagement_items", start, nil)
		return domain.EngagementItem{}, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "items_get", "engagement_items", start, err)
	return item, err
}

// ListItems возвращает элементы в порядке discovered_at DESC, id DESC.
func (p *Postgres) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.EngagementItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Scope != "" {
		where = append(where, "scope = "+arg(filter.Scope))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if filter.Community != "" {
		where = append(where, "community = "+arg(filter.Community))
	}
	if filter.Recommended != nil {
		where = append(where, "is_recommended = "+arg(*filter.Recommended))
	}
	if filter.Before != "" {
		cursor := arg(filter.Before)
		where = append(where, "(discovered_at, id) < (SELECT discovered_at, id FROM engagement_items WHERE id = "+cursor+")")
	}
	query := `SELECT ` + itemColumns + ` FROM engagement_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY discovered_at DESC, id DESC LIMIT ` + arg(limit)

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "items_list", "engagement_items", start, err)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// UpdateItem сохраняет поля конечного автомата с проверкой версии и допустимости перехода.
func (p *Postgres) UpdateItem(ctx context.Context, item domain.EngagementItem, expectedVersion int64) (domain.EngagementItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "engagement_items", start, err)
	if err != nil {
		return domain.EngagementItem{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		current string
		version int64
	)
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT status, version FROM engagement_items WHERE id = $1 FOR UPDATE`, item.ID).Scan(&current, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "items_lock", "engagement_items", start, nil)
		return domain.EngagementItem{}, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "items_lock", "engagement_items", start, err)
	if err != nil {
		return domain.EngagementItem{}, err
	}
	if version != expectedVersion {
		return domain.EngagementItem{}, fmt.Errorf("%w: item %s has version %d, expected %d", domain.ErrVersionConflict, item.ID, version, expectedVersion)
	}
	from := domain.ItemStatus(current)
	if !domain.ValidStatusChange(from, item.Status) {
		return domain.EngagementItem{}, fmt.Errorf("%w: item %s %s -> %s", domain.ErrInvalidTransition, item.ID, from, item.Status)
	}

	updatedAt := item.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	start = time.Now()
	saved, err := scanItem(tx.QueryRow(ctx, `
UPDATE engagement_items
SET relevance_score = $2,
    is_recommended = $3,
    analysis_summary = $4,
    low_relevance = $5,
    generated_draft = $6,
    edited_draft = $7,
    status = $8,
    assigned_account_id = $9,
    reviewer_id = $10,
    reviewer_notes = $11,
    reviewed_at = $12,
    published_at = $13,
    published_reference_id = $14,
    last_error = $15,
    updated_at = $16,
    version = version + 1
WHERE id = $1
RETURNING `+itemColumns,
		item.ID, item.RelevanceScore, item.IsRecommended, item.AnalysisSummary, item.LowRelevance,
		item.GeneratedDraft, item.EditedDraft, string(item.Status), item.AssignedAccountID, item.ReviewerID,
		item.ReviewerNotes, item.ReviewedAt, item.PublishedAt, item.PublishedReferenceID, item.LastError, updatedAt))
	metrics.ObserveNetworkRequest("postgres", "items_update", "engagement_items", start, err)
	if err != nil {
		return domain.EngagementItem{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit_tx", "engagement_items", start, err)
	if err != nil {
		return domain.EngagementItem{}, err
	}
	return saved, nil
}

// ListPublished возвращает опубликованные ответы области.
func (p *Postgres) ListPublished(ctx context.Context, scope string) ([]domain.EngagementItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+itemColumns+` FROM engagement_items
WHERE scope = $1 AND status = 'published' AND published_reference_id <> ''
ORDER BY published_at DESC
`, scope)
	metrics.ObserveNetworkRequest("postgres", "items_list_published", "engagement_items", start, err)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// UpdatePublishedStats обновляет статистику опубликованного ответа, не трогая статус.
func (p *Postgres) UpdatePublishedStats(ctx context.Context, stats domain.PostStats, refreshedAt time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE engagement_items
SET published_score = $2, reply_count = $3, stats_refreshed_at = $4
WHERE id = $1 AND status = 'published'
`, stats.ItemID, stats.Score, stats.Replies, refreshedAt)
	metrics.ObserveNetworkRequest("postgres", "items_update_stats", "engagement_items", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordEvent сохраняет событие в журнал аудита.
func (p *Postgres) RecordEvent(ctx context.Context, event domain.Event) error {
	if event.Name == "" {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var payload []byte
	if event.Metadata != nil {
		if data, err := json.Marshal(event.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO item_events (name, scope, item_id, job_id, from_status, to_status, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, event.Name, event.Scope, event.ItemID, event.JobID, event.From, event.To, payload, event.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "item_events_insert", "item_events", start, err)
	return err
}

// Publish позволяет использовать журнал как получателя событий.
func (p *Postgres) Publish(ctx context.Context, event domain.Event) error {
	return p.RecordEvent(ctx, event)
}

func collectItems(rows pgx.Rows) ([]domain.EngagementItem, error) {
	defer rows.Close()
	var items []domain.EngagementItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (domain.EngagementItem, error) {
	var (
		item   domain.EngagementItem
		status string
	)
	err := row.Scan(
		&item.ID, &item.Scope, &item.SourcePostID, &item.Community, &item.SourceURL, &item.SourceJobID,
		&item.Title, &item.Body, &item.Author, &item.MatchedKeyword,
		&item.RelevanceScore, &item.IsRecommended, &item.AnalysisSummary, &item.LowRelevance,
		&item.GeneratedDraft, &item.EditedDraft, &status,
		&item.AssignedAccountID, &item.ReviewerID, &item.ReviewerNotes, &item.ReviewedAt, &item.PublishedAt,
		&item.PublishedReferenceID, &item.PublishedScore, &item.ReplyCount, &item.StatsRefreshedAt,
		&item.LastError, &item.DiscoveredAt, &item.UpdatedAt, &item.Version,
	)
	if err != nil {
		return domain.EngagementItem{}, err
	}
	item.Status = domain.ItemStatus(status)
	return item, nil
}
