package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Policy задаёт пороги и ограничения конечного автомата.
type Policy struct {
	PublishThreshold   float64
	RecommendThreshold float64
	MaxContentLength   int
	AdapterTimeout     time.Duration
	BatchConcurrency   int
}

// DefaultPolicy возвращает ограничения по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		PublishThreshold:   6,
		RecommendThreshold: 7,
		MaxContentLength:   10000,
		AdapterTimeout:     45 * time.Second,
		BatchConcurrency:   4,
	}
}

// Service реализует конечный автомат элементов.
type Service struct {
	items       domain.ItemStore
	drafter     domain.Drafter
	publisher   domain.Publisher
	eligibility domain.EligibilityProvider
	events      domain.EventPublisher
	locks       *Locker
	policy      Policy
	log         zerolog.Logger
	now         func() time.Time
	tracer      trace.Tracer
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithEvents задаёт получателя событий.
func WithEvents(events domain.EventPublisher) Option {
	return func(s *Service) {
		if events != nil {
			s.events = events
		}
	}
}

// WithPolicy задаёт пороги и ограничения.
func WithPolicy(policy Policy) Option {
	return func(s *Service) {
		defaults := DefaultPolicy()
		if policy.MaxContentLength <= 0 {
			policy.MaxContentLength = defaults.MaxContentLength
		}
		if policy.AdapterTimeout <= 0 {
			policy.AdapterTimeout = defaults.AdapterTimeout
		}
		if policy.BatchConcurrency <= 0 {
			policy.BatchConcurrency = defaults.BatchConcurrency
		}
		s.policy = policy
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService создаёт сервис.
func NewService(items domain.ItemStore, drafter domain.Drafter, publisher domain.Publisher, eligibility domain.EligibilityProvider, opts ...Option) *Service {
	s := &Service{
		items:       items,
		drafter:     drafter,
		publisher:   publisher,
		eligibility: eligibility,
		events:      domain.NopEvents{},
		locks:       NewLocker(),
		policy:      DefaultPolicy(),
		log:         zerolog.Nop(),
		now:         func() time.Time { return time.Now().UTC() },
		tracer:      otel.Tracer("engagement-hub/workflow"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DraftRequest — параметры генерации черновика.
type DraftRequest struct {
	AccountID string
	Options   domain.DraftOptions
}

// RefineRequest — параметры доработки черновика.
type RefineRequest struct {
	Action      domain.RefineAction
	TargetStyle string
}

// Review — данные ревьюера для одобрения или отклонения.
type Review struct {
	ReviewerID string
	Notes      string
}

// Get возвращает элемент.
func (s *Service) Get(ctx context.Context, id string) (domain.EngagementItem, error) {
	return s.items.GetItem(ctx, id)
}

// ListLimit возвращает фактический размер страницы списка для запрошенного limit.
func ListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

// List возвращает элементы, начиная с недавно найденных.
func (s *Service) List(ctx context.Context, filter domain.ItemFilter) ([]domain.EngagementItem, error) {
	filter.Limit = ListLimit(filter.Limit)
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidParams, status)
		}
	}
	return s.items.ListItems(ctx, filter)
}

// Analyze оценивает релевантность. Статус остаётся analyzing до появления черновика.
func (s *Service) Analyze(ctx context.Context, id string) (domain.EngagementItem, error) {
	return s.mutate(ctx, id, domain.OpAnalyze, func(ctx context.Context, item *domain.EngagementItem) error {
		actx, cancel := s.adapterCtx(ctx)
		defer cancel()
		analysis, err := s.drafter.Analyze(actx, *item)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrAnalysisUnavailable, err)
		}
		score := clampScore(analysis.Score)
		item.RelevanceScore = &score
		item.IsRecommended = analysis.Recommended || score >= s.policy.RecommendThreshold
		item.AnalysisSummary = strings.TrimSpace(analysis.Rationale)
		item.LowRelevance = score < s.policy.PublishThreshold
		item.Status = domain.ItemStatusAnalyzing
		return nil
	})
}

// GenerateDraft создаёт черновик и переводит элемент в draft_ready.
// Существующая правка не затирается, данные ревью сохраняются.
func (s *Service) GenerateDraft(ctx context.Context, id string, req DraftRequest) (domain.EngagementItem, error) {
	return s.mutate(ctx, id, domain.OpGenerateDraft, func(ctx context.Context, item *domain.EngagementItem) error {
		actx, cancel := s.adapterCtx(ctx)
		defer cancel()
		draft, err := s.drafter.Generate(actx, *item, req.Options)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
		}
		if strings.TrimSpace(draft) == "" {
			return fmt.Errorf("%w: empty draft", domain.ErrGenerationUnavailable)
		}
		item.GeneratedDraft = draft
		if strings.TrimSpace(item.EditedDraft) == "" {
			item.EditedDraft = draft
		}
		if acct := strings.TrimSpace(req.AccountID); acct != "" {
			item.AssignedAccountID = acct
		}
		item.LowRelevance = item.RelevanceScore != nil && *item.RelevanceScore < s.policy.PublishThreshold
		item.Status = domain.ItemStatusDraftReady
		return nil
	})
}

// Refine дорабатывает текущую правку (или сгенерированный черновик) и сохраняет результат в правку.
func (s *Service) Refine(ctx context.Context, id string, req RefineRequest) (domain.EngagementItem, error) {
	if !req.Action.Valid() {
		return domain.EngagementItem{}, fmt.Errorf("%w: refine action %q", domain.ErrInvalidParams, req.Action)
	}
	return s.mutate(ctx, id, domain.OpRefine, func(ctx context.Context, item *domain.EngagementItem) error {
		input := item.CurrentDraft()
		if strings.TrimSpace(input) == "" {
			return domain.ErrDraftEmpty
		}
		actx, cancel := s.adapterCtx(ctx)
		defer cancel()
		revised, err := s.drafter.Refine(actx, input, req.Action, req.TargetStyle)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
		}
		if strings.TrimSpace(revised) == "" {
			return fmt.Errorf("%w: empty draft", domain.ErrGenerationUnavailable)
		}
		item.EditedDraft = revised
		return nil
	})
}

// EditDraft сохраняет ручную правку ревьюера.
func (s *Service) EditDraft(ctx context.Context, id, text string) (domain.EngagementItem, error) {
	if strings.TrimSpace(text) == "" {
		return domain.EngagementItem{}, domain.ErrDraftEmpty
	}
	return s.mutate(ctx, id, domain.OpEditDraft, func(_ context.Context, item *domain.EngagementItem) error {
		item.EditedDraft = text
		return nil
	})
}

// SubmitForReview передаёт черновик ревьюеру.
func (s *Service) SubmitForReview(ctx context.Context, id, reviewerID string) (domain.EngagementItem, error) {
	return s.mutate(ctx, id, domain.OpSubmitForReview, func(_ context.Context, item *domain.EngagementItem) error {
		if strings.TrimSpace(item.CurrentDraft()) == "" {
			return domain.ErrDraftEmpty
		}
		if reviewerID = strings.TrimSpace(reviewerID); reviewerID != "" {
			item.ReviewerID = reviewerID
		}
		item.Status = domain.ItemStatusInReview
		return nil
	})
}

// Approve одобряет черновик, если он не пуст и укладывается в лимит длины.
func (s *Service) Approve(ctx context.Context, id string, review Review) (domain.EngagementItem, error) {
	return s.mutate(ctx, id, domain.OpApprove, func(_ context.Context, item *domain.EngagementItem) error {
		draft := item.CurrentDraft()
		if strings.TrimSpace(draft) == "" {
			return domain.ErrDraftEmpty
		}
		if n := utf8.RuneCountInString(draft); n > s.policy.MaxContentLength {
			return fmt.Errorf("%w: %d > %d", domain.ErrContentTooLong, n, s.policy.MaxContentLength)
		}
		s.applyReview(item, review)
		item.Status = domain.ItemStatusApproved
		return nil
	})
}

// Reject отклоняет элемент.
func (s *Service) Reject(ctx context.Context, id string, review Review) (domain.EngagementItem, error) {
	return s.mutate(ctx, id, domain.OpReject, func(_ context.Context, item *domain.EngagementItem) error {
		s.applyReview(item, review)
		item.Status = domain.ItemStatusRejected
		return nil
	})
}

// Publish публикует одобренный ответ. При ошибке адаптера элемент переходит в failed
// и возвращается вместе с ErrPublishUnavailable; повторная публикация невозможна.
func (s *Service) Publish(ctx context.Context, id string) (domain.EngagementItem, error) {
	return s.mutate(ctx, id, domain.OpPublish, func(ctx context.Context, item *domain.EngagementItem) error {
		account := strings.TrimSpace(item.AssignedAccountID)
		if account == "" {
			return fmt.Errorf("%w: account is not assigned", domain.ErrAccountIneligible)
		}
		// Проверка лимита, отправка и учёт публикации выполняются под блокировкой аккаунта.
		lockCtx, cancelLock := s.adapterCtx(ctx)
		unlockAccount, err := s.locks.Lock(lockCtx, accountLockKey(account))
		cancelLock()
		if err != nil {
			return fmt.Errorf("%w: account %s is busy: %v", domain.ErrPublishUnavailable, account, err)
		}
		defer unlockAccount()

		actx, cancel := s.adapterCtx(ctx)
		defer cancel()
		eligible, err := s.eligibility.IsEligible(actx, account)
		if err != nil {
			return fmt.Errorf("%w: eligibility check: %v", domain.ErrPublishUnavailable, err)
		}
		if !eligible {
			return fmt.Errorf("%w: %s", domain.ErrAccountIneligible, account)
		}

		ref, err := s.publisher.Publish(actx, domain.PublishRequest{Item: *item, Text: item.CurrentDraft(), AccountID: account})
		if err == nil && strings.TrimSpace(ref) == "" {
			err = errors.New("publisher returned empty reference")
		}
		if err != nil {
			item.Status = domain.ItemStatusFailed
			item.LastError = err.Error()
			return &persistedFailure{err: fmt.Errorf("%w: %v", domain.ErrPublishUnavailable, err)}
		}

		now := s.now()
		item.PublishedAt = &now
		item.PublishedReferenceID = ref
		item.LastError = ""
		item.Status = domain.ItemStatusPublished
		if err := s.eligibility.RecordPublish(ctx, account); err != nil {
			s.log.Warn().Err(err).Str("account", account).Msg("workflow: не удалось учесть публикацию в лимите")
		}
		return nil
	})
}

func (s *Service) applyReview(item *domain.EngagementItem, review Review) {
	now := s.now()
	item.ReviewedAt = &now
	if reviewer := strings.TrimSpace(review.ReviewerID); reviewer != "" {
		item.ReviewerID = reviewer
	}
	if notes := strings.TrimSpace(review.Notes); notes != "" {
		item.ReviewerNotes = notes
	}
}

// persistedFailure означает, что изменения нужно сохранить, а ошибку вернуть вызывающему.
type persistedFailure struct {
	err error
}

func (p *persistedFailure) Error() string { return p.err.Error() }
func (p *persistedFailure) Unwrap() error { return p.err }

type mutation func(ctx context.Context, item *domain.EngagementItem) error

// mutate выполняет операцию под блокировкой элемента: читает, проверяет переход,
// применяет fn и сохраняет с проверкой версии. При ошибке fn ничего не пишется.
func (s *Service) mutate(ctx context.Context, id string, op domain.Operation, fn mutation) (result domain.EngagementItem, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow."+string(op), trace.WithAttributes(
		attribute.String("item.id", id),
		attribute.String("operation", string(op)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.ObserveOperationError(string(op), domain.ErrorCode(err))
		}
		span.End()
	}()

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return domain.EngagementItem{}, err
	}
	defer unlock()
	if err := ctx.Err(); err != nil {
		return domain.EngagementItem{}, err
	}
	// После захвата блокировки операция доводится до конца: вызов адаптера
	// ограничен AdapterTimeout, а результат сохраняется даже при отмене запроса.
	ctx = context.WithoutCancel(ctx)

	current, err := s.items.GetItem(ctx, id)
	if err != nil {
		return domain.EngagementItem{}, err
	}
	if !domain.Allowed(op, current.Status) {
		return domain.EngagementItem{}, &domain.TransitionError{ItemID: id, From: current.Status, Operation: op}
	}

	next := current
	var deferred error
	if err := fn(ctx, &next); err != nil {
		var pf *persistedFailure
		if !errors.As(err, &pf) {
			return domain.EngagementItem{}, err
		}
		deferred = pf.err
	}
	next.UpdatedAt = s.now()

	saved, err := s.items.UpdateItem(ctx, next, current.Version)
	if err != nil {
		return domain.EngagementItem{}, fmt.Errorf("сохранение элемента: %w", err)
	}
	span.SetAttributes(attribute.String("item.from", string(current.Status)), attribute.String("item.to", string(saved.Status)))
	metrics.ObserveTransition(string(op), string(current.Status), string(saved.Status))
	s.emit(ctx, op, current, saved, deferred)

	if deferred != nil {
		s.log.Error().Err(deferred).Str("item_id", id).Str("operation", string(op)).Msg("workflow: операция завершилась ошибкой адаптера")
		return saved, deferred
	}
	s.log.Debug().Str("item_id", id).Str("operation", string(op)).Str("from", string(current.Status)).Str("to", string(saved.Status)).Msg("workflow: переход выполнен")
	return saved, nil
}

func (s *Service) emit(ctx context.Context, op domain.Operation, before, after domain.EngagementItem, opErr error) {
	event := domain.Event{
		Name:       domain.ItemEventName(op),
		Scope:      after.Scope,
		ItemID:     after.ID,
		From:       string(before.Status),
		To:         string(after.Status),
		OccurredAt: s.now(),
	}
	if opErr != nil {
		event.Metadata = map[string]any{"error": opErr.Error()}
	}
	if after.PublishedReferenceID != "" && op == domain.OpPublish {
		event.Metadata = map[string]any{"reference_id": after.PublishedReferenceID}
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("event", event.Name).Str("item_id", after.ID).Msg("workflow: не удалось отправить событие")
	}
}

func accountLockKey(account string) string {
	return "account:" + account
}

func (s *Service) adapterCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.policy.AdapterTimeout)
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}
