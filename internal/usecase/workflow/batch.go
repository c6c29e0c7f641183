package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/metrics"
)

// BatchAction — операция, доступная в пакетном режиме.
type BatchAction string

const (
	BatchApprove BatchAction = "approve"
	BatchReject  BatchAction = "reject"
)

// Valid сообщает, поддерживается ли пакетное действие.
func (a BatchAction) Valid() bool {
	return a == BatchApprove || a == BatchReject
}

// Результаты обработки одного элемента пакета.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Outcome — результат пакетной операции для одного элемента.
type Outcome struct {
	ItemID string                 `json:"id"`
	Result string                 `json:"outcome"`
	Detail string                 `json:"detail,omitempty"`
	Code   string                 `json:"code,omitempty"`
	Item   *domain.EngagementItem `json:"item,omitempty"`
}

// Batch одобряет или отклоняет набор элементов. Каждый элемент обрабатывается
// независимо: неподходящие по статусу пропускаются, ошибки не прерывают остальные.
// Порядок результатов совпадает с порядком уникальных идентификаторов.
func (s *Service) Batch(ctx context.Context, action BatchAction, ids []string, review Review) ([]Outcome, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: batch action %q", domain.ErrInvalidParams, action)
	}
	ids = UniqueIDs(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty id list", domain.ErrInvalidParams)
	}

	outcomes := make([]Outcome, len(ids))
	var g errgroup.Group
	g.SetLimit(s.policy.BatchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = s.batchOne(ctx, action, id, review)
			metrics.ObserveBatchOutcome(string(action), outcomes[i].Result)
			return nil
		})
	}
	_ = g.Wait()

	var succeeded, skipped, failed int
	for _, o := range outcomes {
		switch o.Result {
		case OutcomeSuccess:
			succeeded++
		case OutcomeSkipped:
			skipped++
		default:
			failed++
		}
	}
	s.log.Info().
		Str("action", string(action)).
		Int("total", len(ids)).
		Int("succeeded", succeeded).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("workflow: пакетная операция завершена")
	return outcomes, nil
}

func (s *Service) batchOne(ctx context.Context, action BatchAction, id string, review Review) Outcome {
	item, err := s.items.GetItem(ctx, id)
	if err != nil {
		return errorOutcome(id, err)
	}
	if !item.Status.EligibleForReviewAction() {
		return Outcome{ItemID: id, Result: OutcomeSkipped, Detail: fmt.Sprintf("status %s", item.Status), Code: "invalid_transition"}
	}

	var updated domain.EngagementItem
	switch action {
	case BatchApprove:
		updated, err = s.Approve(ctx, id, review)
	case BatchReject:
		updated, err = s.Reject(ctx, id, review)
	}
	if err != nil {
		// Статус мог смениться между чтением и блокировкой.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return Outcome{ItemID: id, Result: OutcomeSkipped, Detail: err.Error(), Code: domain.ErrorCode(err)}
		}
		return errorOutcome(id, err)
	}
	return Outcome{ItemID: id, Result: OutcomeSuccess, Item: &updated}
}

func errorOutcome(id string, err error) Outcome {
	return Outcome{ItemID: id, Result: OutcomeError, Detail: err.Error(), Code: domain.ErrorCode(err)}
}

// UniqueIDs убирает пустые и повторяющиеся идентификаторы, сохраняя порядок.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// BatchApprove одобряет набор элементов.
func (s *Service) BatchApprove(ctx context.Context, ids []string, review Review) ([]Outcome, error) {
	return s.Batch(ctx, BatchApprove, ids, review)
}

// BatchReject отклоняет набор элементов.
func (s *Service) BatchReject(ctx context.Context, ids []string, review Review) ([]Outcome, error) {
	return s.Batch(ctx, BatchReject, ids, review)
}
