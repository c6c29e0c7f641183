package domain

import (
	"iter"
	"time"
)

// JobKind описывает тип фоновой задачи.
type JobKind string

const (
	// JobKindContentDiscovery ищет публикации по ключевым словам и сообществам.
	JobKindContentDiscovery JobKind = "content-discovery"
	// JobKindChannelDiscovery ищет новые каналы по ключевым словам.
	JobKindChannelDiscovery JobKind = "channel-discovery"
	// JobKindAnalyticsSync обновляет статистику опубликованных ответов.
	JobKindAnalyticsSync JobKind = "analytics-sync"
)

// JobKinds перечисляет поддерживаемые типы задач.
var JobKinds = []JobKind{JobKindContentDiscovery, JobKindChannelDiscovery, JobKindAnalyticsSync}

// Valid сообщает, известен ли тип задачи.
func (k JobKind) Valid() bool {
	for _, known := range JobKinds {
		if k == known {
			return true
		}
	}
	return false
}

// JobStatus описывает состояние задачи.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal сообщает, что задача завершена и больше не меняется.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// MaxRunningProgress — верхняя граница прогресса до завершения задачи.
const MaxRunningProgress = 99

// JobParams содержит параметры запуска задачи.
type JobParams struct {
	Keywords    []string   `json:"keywords,omitempty"`
	Communities []string   `json:"communities,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
}

// Job хранит состояние фоновой задачи.
type Job struct {
	ID           string     `json:"id"`
	Kind         JobKind    `json:"kind"`
	Scope        string     `json:"scope"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	ResultCount  int        `json:"result_count"`
	SkippedCount int        `json:"skipped_count"`
	Error        string     `json:"error,omitempty"`
	Params       JobParams  `json:"params"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// JobFilter ограничивает выборку задач.
type JobFilter struct {
	Scope  string
	Kind   JobKind
	Status JobStatus
	Limit  int
}

// Batches — ленивая конечная последовательность пачек результатов.
// Expected равен нулю, если число пачек заранее неизвестно.
// Последовательность нельзя перезапустить: упавший прогон начинается заново.
type Batches[T any] struct {
	Expected int
	Seq      iter.Seq2[[]T, error]
}

// FailedBatches возвращает последовательность, сразу завершающуюся ошибкой.
func FailedBatches[T any](err error) Batches[T] {
	return Batches[T]{Seq: func(yield func([]T, error) bool) {
		yield(nil, err)
	}}
}

// SliceBatches отдаёт заранее известные пачки.
func SliceBatches[T any](batches ...[]T) Batches[T] {
	return Batches[T]{
		Expected: len(batches),
		Seq: func(yield func([]T, error) bool) {
			for _, b := range batches {
				if !yield(b, nil) {
					return
				}
			}
		},
	}
}
