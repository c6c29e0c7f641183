package domain

import (
	"context"
	"time"
)

// Event описывает доменное событие для журнала и внешних подписчиков.
type Event struct {
	Name       string         `json:"name"`
	Scope      string         `json:"scope"`
	ItemID     string         `json:"item_id,omitempty"`
	JobID      string         `json:"job_id,omitempty"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

const (
	// EventJobCompleted фиксирует успешное завершение задачи.
	EventJobCompleted = "job.completed"
	// EventJobFailed фиксирует завершение задачи с ошибкой.
	EventJobFailed = "job.failed"
)

// ItemEventName возвращает имя события для операции над элементом.
func ItemEventName(op Operation) string {
	return "item." + string(op)
}

// NopEvents игнорирует события.
type NopEvents struct{}

// Publish ничего не делает.
func (NopEvents) Publish(context.Context, Event) error { return nil }
