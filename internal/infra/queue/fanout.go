// Package queue доставляет доменные события во внешние приёмники.
package queue

import (
	"context"
	"errors"

	"engagement-hub/internal/domain"
)

// Fanout рассылает событие во все приёмники и объединяет их ошибки.
type Fanout struct {
	sinks []domain.EventPublisher
}

var _ domain.EventPublisher = (*Fanout)(nil)

// NewFanout создаёт рассылку. nil-приёмники пропускаются.
func NewFanout(sinks ...domain.EventPublisher) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len возвращает число приёмников.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish отправляет событие каждому приёмнику; ошибка одного не мешает остальным.
func (f *Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
