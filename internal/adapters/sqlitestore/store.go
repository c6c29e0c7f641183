// Package sqlitestore хранит задачи и элементы во встроенной SQLite для запуска без Postgres.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"engagement-hub/internal/domain"
)

// Store реализует хранилища поверх gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ domain.JobStore       = (*Store)(nil)
	_ domain.ItemStore      = (*Store)(nil)
	_ domain.ChannelStore   = (*Store)(nil)
	_ domain.EventStore     = (*Store)(nil)
	_ domain.EventPublisher = (*Store)(nil)
)

// New создаёт хранилище и применяет схему.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&jobRecord{}, &itemRecord{}, &channelRecord{}, &eventRecord{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS jobs_active_kind_scope_idx
ON jobs (kind, scope) WHERE status IN ('pending', 'running')`).Error; err != nil {
		return nil, fmt.Errorf("индекс активных задач: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

var activeStatuses = []string{string(domain.JobStatusPending), string(domain.JobStatusRunning)}

// CreateJob проверяет активные задачи и создаёт новую в одной транзакции.
func (s *Store) CreateJob(ctx context.Context, kind domain.JobKind, scope string, params domain.JobParams) (domain.Job, error) {
	rec := jobRecord{
		ID:        uuid.NewString(),
		Kind:      string(kind),
		Scope:     scope,
		Status:    string(domain.JobStatusPending),
		Params:    params,
		CreatedAt: s.now(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active jobRecord
		err := tx.Where("kind = ? AND scope = ? AND status IN ?", string(kind), scope, activeStatuses).First(&active).Error
		if err == nil {
			return &domain.ConflictError{Kind: kind, Scope: scope, ActiveJobID: active.ID}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Job{}, &domain.ConflictError{Kind: kind, Scope: scope}
		}
		return domain.Job{}, err
	}
	return rec.toDomain(), nil
}

// MarkRunning переводит задачу из pending в running.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("id = ? AND status = ?", id, string(domain.JobStatusPending)).
		Updates(map[string]any{"status": string(domain.JobStatusRunning), "started_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: задача %s не ожидает запуска", domain.ErrNotFound, id)
	}
	return nil
}

// UpdateProgress не уменьшает прогресс и не трогает завершённые задачи.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress, resultCount, skipped int) error {
	progress = min(max(progress, 0), domain.MaxRunningProgress)
	return s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]any{
			"progress":      gorm.Expr("MAX(progress, ?)", progress),
			"result_count":  resultCount,
			"skipped_count": skipped,
		}).Error
}

// CompleteJob завершает задачу успешно.
func (s *Store) CompleteJob(ctx context.Context, id string, resultCount, skipped int) error {
	return s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]any{
			"status":        string(domain.JobStatusCompleted),
			"progress":      100,
			"result_count":  resultCount,
			"skipped_count": skipped,
			"completed_at":  s.now(),
		}).Error
}

// FailJob завершает задачу с ошибкой.
func (s *Store) FailJob(ctx context.Context, id string, message string) error {
	return s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]any{
			"status":       string(domain.JobStatusFailed),
			"error":        message,
			"completed_at": s.now(),
		}).Error
}

// FailInterrupted помечает ошибкой все незавершённые задачи.
func (s *Store) FailInterrupted(ctx context.Context, message string) (int, error) {
	res := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("status IN ?", activeStatuses).
		Updates(map[string]any{
			"status":       string(domain.JobStatusFailed),
			"error":        message,
			"completed_at": s.now(),
		})
	return int(res.RowsAffected), res.Error
}

// GetJob возвращает задачу.
func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var rec jobRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return domain.Job{}, notFound(err)
	}
	return rec.toDomain(), nil
}

// ListJobs возвращает задачи, начиная с новых.
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	q := s.db.WithContext(ctx).Model(&jobRecord{})
	if filter.Scope != "" {
		q = q.Where("scope = ?", filter.Scope)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", string(filter.Kind))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	var recs []jobRecord
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.Job, 0, len(recs))
	for _, r := range recs {
		jobs = append(jobs, r.toDomain())
	}
	return jobs, nil
}

// UpsertDiscovered сохраняет публикации; у известных обновляются только поля контента.
func (s *Store) UpsertDiscovered(ctx context.Context, items []domain.EngagementItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	now := s.now()
	recs := make([]itemRecord, 0, len(items))
	for _, item := range items {
		item.Status = domain.ItemStatusDiscovered
		item.Version = 1
		if item.DiscoveredAt.IsZero() {
			item.DiscoveredAt = now
		}
		item.UpdatedAt = now
		recs = append(recs, itemFromDomain(item))
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "community"}, {Name: "source_post_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "body", "author", "source_url", "updated_at"}),
	}).Create(&recs)
	if res.Error != nil {
		return 0, res.Error
	}
	return len(recs), nil
}

// GetItem возвращает элемент.
func (s *Store) GetItem(ctx context.Context, id string) (domain.EngagementItem, error) {
	var rec itemRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return domain.EngagementItem{}, notFound(err)
	}
	return rec.toDomain(), nil
}

// ListItems возвращает элементы в порядке discovered_at DESC, id DESC.
func (s *Store) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.EngagementItem, error) {
	db := s.db.WithContext(ctx)
	q := db.Model(&itemRecord{})
	if filter.Scope != "" {
		q = q.Where("scope = ?", filter.Scope)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.Community != "" {
		q = q.Where("community = ?", filter.Community)
	}
	if filter.Recommended != nil {
		q = q.Where("is_recommended = ?", *filter.Recommended)
	}
	if filter.Before != "" {
		var cursor itemRecord
		if err := db.Select("id", "discovered_at").First(&cursor, "id = ?", filter.Before).Error; err != nil {
			return nil, notFound(err)
		}
		q = q.Where("discovered_at < ? OR (discovered_at = ? AND id < ?)", cursor.DiscoveredAt, cursor.DiscoveredAt, cursor.ID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var recs []itemRecord
	if err := q.Order("discovered_at DESC, id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	return toItems(recs), nil
}

// UpdateItem сохраняет поля конечного автомата с проверкой версии и допустимости перехода.
func (s *Store) UpdateItem(ctx context.Context, item domain.EngagementItem, expectedVersion int64) (domain.EngagementItem, error) {
	var saved itemRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current itemRecord
		if err := tx.First(&current, "id = ?", item.ID).Error; err != nil {
			return notFound(err)
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: item %s has version %d, expected %d", domain.ErrVersionConflict, item.ID, current.Version, expectedVersion)
		}
		from := domain.ItemStatus(current.Status)
		if !domain.ValidStatusChange(from, item.Status) {
			return fmt.Errorf("%w: item %s %s -> %s", domain.ErrInvalidTransition, item.ID, from, item.Status)
		}
		next := itemFromDomain(item)
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = s.now()
		}
		res := tx.Model(&itemRecord{}).
			Where("id = ? AND version = ?", item.ID, expectedVersion).
			Updates(map[string]any{
				"relevance_score":        next.RelevanceScore,
				"is_recommended":         next.IsRecommended,
				"analysis_summary":       next.AnalysisSummary,
				"low_relevance":          next.LowRelevance,
				"generated_draft":        next.GeneratedDraft,
				"edited_draft":           next.EditedDraft,
				"status":                 next.Status,
				"assigned_account_id":    next.AssignedAccountID,
				"reviewer_id":            next.ReviewerID,
				"reviewer_notes":         next.ReviewerNotes,
				"reviewed_at":            next.ReviewedAt,
				"published_at":           next.PublishedAt,
				"published_reference_id": next.PublishedReferenceID,
				"last_error":             next.LastError,
				"updated_at":             next.UpdatedAt,
				"version":                gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrVersionConflict
		}
		return tx.First(&saved, "id = ?", item.ID).Error
	})
	if err != nil {
		return domain.EngagementItem{}, err
	}
	return saved.toDomain(), nil
}

// ListPublished возвращает опубликованные ответы области.
func (s *Store) ListPublished(ctx context.Context, scope string) ([]domain.EngagementItem, error) {
	var recs []itemRecord
	err := s.db.WithContext(ctx).
		Where("scope = ? AND status = ? AND published_reference_id <> ''", scope, string(domain.ItemStatusPublished)).
		Order("published_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return toItems(recs), nil
}

// UpdatePublishedStats обновляет статистику, не меняя статус.
func (s *Store) UpdatePublishedStats(ctx context.Context, stats domain.PostStats, refreshedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&itemRecord{}).
		Where("id = ? AND status = ?", stats.ItemID, string(domain.ItemStatusPublished)).
		Updates(map[string]any{
			"published_score":    stats.Score,
			"reply_count":        stats.Replies,
			"stats_refreshed_at": refreshedAt.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertChannels сохраняет найденные каналы.
func (s *Store) UpsertChannels(ctx context.Context, channels []domain.DiscoveredChannel) (int, error) {
	if len(channels) == 0 {
		return 0, nil
	}
	now := s.now()
	recs := make([]channelRecord, 0, len(channels))
	for _, ch := range channels {
		discovered := ch.DiscoveredAt
		if discovered.IsZero() {
			discovered = now
		}
		recs = append(recs, channelRecord{
			Scope:          ch.Scope,
			ExternalID:     ch.ExternalID,
			Alias:          ch.Alias,
			Title:          ch.Title,
			Participants:   ch.Participants,
			MatchedKeyword: ch.MatchedKeyword,
			SourceJobID:    ch.SourceJobID,
			DiscoveredAt:   discovered.UTC(),
			UpdatedAt:      now,
		})
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"alias", "title", "participants", "updated_at"}),
	}).Create(&recs)
	if res.Error != nil {
		return 0, res.Error
	}
	return len(recs), nil
}

// ListChannels возвращает каналы области.
func (s *Store) ListChannels(ctx context.Context, scope string, limit int) ([]domain.DiscoveredChannel, error) {
	var recs []channelRecord
	if err := s.db.WithContext(ctx).Where("scope = ?", scope).Order("discovered_at DESC, id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.DiscoveredChannel, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// RecordEvent сохраняет событие в журнал.
func (s *Store) RecordEvent(ctx context.Context, event domain.Event) error {
	if event.Name == "" {
		return nil
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	return s.db.WithContext(ctx).Create(&eventRecord{
		Name:       event.Name,
		Scope:      event.Scope,
		ItemID:     event.ItemID,
		JobID:      event.JobID,
		FromStatus: event.From,
		ToStatus:   event.To,
		Metadata:   event.Metadata,
		OccurredAt: occurred.UTC(),
	}).Error
}

// Publish позволяет использовать журнал как получателя событий.
func (s *Store) Publish(ctx context.Context, event domain.Event) error {
	return s.RecordEvent(ctx, event)
}

func toItems(recs []itemRecord) []domain.EngagementItem {
	items := make([]domain.EngagementItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, r.toDomain())
	}
	return items
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
