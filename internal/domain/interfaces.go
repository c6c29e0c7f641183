package domain

import (
	"context"
	"time"
)

// JobStore хранит записи о фоновых задачах. Все записи атомарны относительно чтений.
type JobStore interface {
	// CreateJob создаёт задачу в статусе pending или возвращает *ConflictError,
	// если для (kind, scope) уже есть незавершённая задача.
	CreateJob(ctx context.Context, kind JobKind, scope string, params JobParams) (Job, error)
	MarkRunning(ctx context.Context, id string) error
	// UpdateProgress не уменьшает прогресс и ничего не делает для завершённой задачи.
	UpdateProgress(ctx context.Context, id string, progress, resultCount, skipped int) error
	CompleteJob(ctx context.Context, id string, resultCount, skipped int) error
	FailJob(ctx context.Context, id string, message string) error
	GetJob(ctx context.Context, id string) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	// FailInterrupted завершает ошибкой задачи, оставшиеся незавершёнными после рестарта.
	FailInterrupted(ctx context.Context, message string) (int, error)
}

// ItemStore хранит элементы. Статус меняется только через UpdateItem,
// который проверяет переход по таблице и версию записи.
type ItemStore interface {
	UpsertDiscovered(ctx context.Context, items []EngagementItem) (int, error)
	GetItem(ctx context.Context, id string) (EngagementItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]EngagementItem, error)
	UpdateItem(ctx context.Context, item EngagementItem, expectedVersion int64) (EngagementItem, error)
	ListPublished(ctx context.Context, scope string) ([]EngagementItem, error)
	UpdatePublishedStats(ctx context.Context, stats PostStats, refreshedAt time.Time) error
}

// ChannelStore хранит найденные каналы.
type ChannelStore interface {
	UpsertChannels(ctx context.Context, channels []DiscoveredChannel) (int, error)
	ListChannels(ctx context.Context, scope string, limit int) ([]DiscoveredChannel, error)
}

// EventStore сохраняет журнал событий.
type EventStore interface {
	RecordEvent(ctx context.Context, event Event) error
}

// ContentSource выгружает публикации по параметрам поиска.
type ContentSource interface {
	Fetch(ctx context.Context, params JobParams) Batches[RawContentRecord]
}

// ChannelSource ищет сообщества по ключевым словам.
type ChannelSource interface {
	Search(ctx context.Context, params JobParams) Batches[DiscoveredChannel]
}

// AnalyticsSource возвращает статистику опубликованных ответов.
type AnalyticsSource interface {
	Stats(ctx context.Context, refs []PublishedRef) Batches[PostStats]
}

// Analysis — результат оценки публикации.
type Analysis struct {
	Score       float64
	Recommended bool
	Rationale   string
}

// DraftOptions задаёт параметры генерации черновика. Все поля необязательны.
type DraftOptions struct {
	Length       string `json:"length,omitempty"`
	Style        string `json:"style,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Drafter — внешний генератор оценок и черновиков.
type Drafter interface {
	Analyze(ctx context.Context, item EngagementItem) (Analysis, error)
	Generate(ctx context.Context, item EngagementItem, opts DraftOptions) (string, error)
	Refine(ctx context.Context, text string, action RefineAction, targetStyle string) (string, error)
}

// PublishRequest описывает ответ, который нужно опубликовать.
type PublishRequest struct {
	Item      EngagementItem
	Text      string
	AccountID string
}

// Publisher публикует ответ и возвращает внешний идентификатор.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (string, error)
}

// EligibilityProvider проверяет, может ли аккаунт публиковать сейчас.
type EligibilityProvider interface {
	IsEligible(ctx context.Context, accountID string) (bool, error)
	RecordPublish(ctx context.Context, accountID string) error
}

// EventPublisher рассылает доменные события.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
