package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/metrics"
	"engagement-hub/internal/usecase/channels"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	maxKeywords      = 20
	maxCommunities   = 50
	maxResultLimit   = 1000

	interruptedMessage = "interrupted by restart"
)

// Sources объединяет внешние источники. Nil-источник означает, что задачи этого типа недоступны.
type Sources struct {
	Content   domain.ContentSource
	Channels  domain.ChannelSource
	Analytics domain.AnalyticsSource
}

// Runner запускает фоновые задачи и ведёт их записи.
type Runner struct {
	jobs     domain.JobStore
	items    domain.ItemStore
	channels domain.ChannelStore
	sources  Sources
	events   domain.EventPublisher
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
	tracer   trace.Tracer

	wg sync.WaitGroup
}

// Option настраивает Runner.
type Option func(*Runner)

// WithLogger задаёт логгер.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithEvents задаёт получателя событий о задачах.
func WithEvents(events domain.EventPublisher) Option {
	return func(r *Runner) {
		if events != nil {
			r.events = events
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов элементов.
func WithIDGenerator(newID func() string) Option {
	return func(r *Runner) { r.newID = newID }
}

// NewRunner создаёт исполнитель задач.
func NewRunner(jobs domain.JobStore, items domain.ItemStore, channelStore domain.ChannelStore, sources Sources, opts ...Option) *Runner {
	r := &Runner{
		jobs:     jobs,
		items:    items,
		channels: channelStore,
		sources:  sources,
		events:   domain.NopEvents{},
		log:      zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    NewItemID,
		tracer:   otel.Tracer("engagement-hub/jobs"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start создаёт задачу и запускает её в отдельной горутине. Возвращается сразу после
// создания записи; конфликт с активной задачей того же типа возвращается как *domain.ConflictError.
func (r *Runner) Start(ctx context.Context, kind domain.JobKind, scope string, params domain.JobParams) (domain.Job, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return domain.Job{}, fmt.Errorf("%w: scope is required", domain.ErrInvalidParams)
	}
	if !kind.Valid() {
		return domain.Job{}, fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidParams, kind)
	}
	params, err := normalizeParams(kind, params)
	if err != nil {
		return domain.Job{}, err
	}
	if !r.sourceEnabled(kind) {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrSourceDisabled, kind)
	}

	job, err := r.jobs.CreateJob(ctx, kind, scope, params)
	if err != nil {
		return domain.Job{}, err
	}
	metrics.JobsRunning.WithLabelValues(string(kind)).Inc()
	r.log.Info().Str("job_id", job.ID).Str("kind", string(kind)).Str("scope", scope).Msg("jobs: задача создана")

	r.wg.Add(1)
	go r.execute(context.WithoutCancel(ctx), job)
	return job, nil
}

// Get возвращает задачу для опроса.
func (r *Runner) Get(ctx context.Context, id string) (domain.Job, error) {
	return r.jobs.GetJob(ctx, id)
}

// List возвращает задачи, начиная с новых.
func (r *Runner) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidParams, filter.Kind)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return r.jobs.ListJobs(ctx, filter)
}

// Wait ждёт завершения всех запущенных задач.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// RecoverInterrupted завершает ошибкой задачи, оставшиеся от предыдущего процесса.
func (r *Runner) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := r.jobs.FailInterrupted(ctx, interruptedMessage)
	if err != nil {
		return 0, fmt.Errorf("восстановление задач: %w", err)
	}
	if n > 0 {
		r.log.Warn().Int("jobs", n).Msg("jobs: незавершённые задачи помечены ошибкой")
	}
	return n, nil
}

func (r *Runner) sourceEnabled(kind domain.JobKind) bool {
	switch kind {
	case domain.JobKindContentDiscovery:
		return r.sources.Content != nil && r.items != nil
	case domain.JobKindChannelDiscovery:
		return r.sources.Channels != nil && r.channels != nil
	case domain.JobKindAnalyticsSync:
		return r.sources.Analytics != nil && r.items != nil
	}
	return false
}

// tally — итоги выполнения задачи.
type tally struct {
	stored  int
	skipped int
}

func (r *Runner) execute(ctx context.Context, job domain.Job) {
	defer r.wg.Done()
	defer metrics.JobsRunning.WithLabelValues(string(job.Kind)).Dec()

	ctx, span := r.tracer.Start(ctx, "jobs."+string(job.Kind), trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.scope", job.Scope),
	))
	defer span.End()

	logger := r.log.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("scope", job.Scope).Logger()
	started := r.now()

	var (
		result tally
		err    error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("jobs: паника при выполнении задачи")
				err = fmt.Errorf("internal error: %v", rec)
			}
		}()
		if err = r.jobs.MarkRunning(ctx, job.ID); err != nil {
			err = fmt.Errorf("перевод задачи в running: %w", err)
			return
		}
		result, err = r.runStage(ctx, job)
	}()

	if err == nil && result.stored == 0 && result.skipped > 0 {
		err = fmt.Errorf("no usable records: %d skipped", result.skipped)
	}

	event := domain.Event{Scope: job.Scope, JobID: job.ID, OccurredAt: r.now(), Metadata: map[string]any{
		"kind":    string(job.Kind),
		"results": result.stored,
		"skipped": result.skipped,
	}}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ferr := r.jobs.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("jobs: не удалось сохранить ошибку задачи")
		}
		metrics.ObserveJobFinished(string(job.Kind), string(domain.JobStatusFailed), result.skipped)
		logger.Error().Err(err).Int("results", result.stored).Int("skipped", result.skipped).Msg("jobs: задача завершилась ошибкой")
		event.Name = domain.EventJobFailed
		event.Metadata["error"] = err.Error()
	} else {
		if cerr := r.jobs.CompleteJob(ctx, job.ID, result.stored, result.skipped); cerr != nil {
			logger.Error().Err(cerr).Msg("jobs: не удалось завершить задачу")
		}
		metrics.ObserveJobFinished(string(job.Kind), string(domain.JobStatusCompleted), result.skipped)
		logger.Info().Int("results", result.stored).Int("skipped", result.skipped).Dur("took", r.now().Sub(started)).Msg("jobs: задача завершена")
		event.Name = domain.EventJobCompleted
	}
	if perr := r.events.Publish(ctx, event); perr != nil {
		logger.Warn().Err(perr).Str("event", event.Name).Msg("jobs: не удалось отправить событие")
	}
}

func (r *Runner) runStage(ctx context.Context, job domain.Job) (tally, error) {
	switch job.Kind {
	case domain.JobKindContentDiscovery:
		return drain(ctx, r, job, r.sources.Content.Fetch(ctx, job.Params), r.persistContent(job))
	case domain.JobKindChannelDiscovery:
		return drain(ctx, r, job, r.sources.Channels.Search(ctx, job.Params), r.persistChannels(job))
	case domain.JobKindAnalyticsSync:
		return r.syncAnalytics(ctx, job)
	}
	return tally{}, fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidParams, job.Kind)
}

// persistFunc сохраняет пачку и возвращает число сохранённых и пропущенных записей.
type persistFunc[T any] func(ctx context.Context, batch []T) (stored, skipped int, err error)

// drain проходит по пачкам источника, сохраняет их и после каждой пачки обновляет прогресс.
func drain[T any](ctx context.Context, r *Runner, job domain.Job, batches domain.Batches[T], persist persistFunc[T]) (tally, error) {
	var (
		total     tally
		processed int
	)
	for batch, err := range batches.Seq {
		if err != nil {
			return total, fmt.Errorf("источник: %w", err)
		}
		// Тело цикла может выполняться в горутине источника, поэтому паника
		// перехватывается здесь, а не только в execute.
		if err := r.guard(job, func() error {
			stored, skipped, err := persist(ctx, batch)
			if err != nil {
				return err
			}
			total.stored += stored
			total.skipped += skipped
			processed++

			progress := Progress(processed, batches.Expected)
			if err := r.jobs.UpdateProgress(ctx, job.ID, progress, total.stored, total.skipped); err != nil {
				return fmt.Errorf("обновление прогресса: %w", err)
			}
			r.log.Debug().Str("job_id", job.ID).Int("batch", processed).Int("progress", progress).Int("stored", stored).Int("skipped", skipped).Msg("jobs: пачка обработана")
			return nil
		}); err != nil {
			return total, err
		}
	}
	return total, nil
}

// guard выполняет fn и превращает панику в ошибку задачи.
func (r *Runner) guard(job domain.Job, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("job_id", job.ID).Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("jobs: паника при обработке пачки")
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()
	return fn()
}

// Progress оценивает прогресс после processed пачек из expected.
// До завершения задачи значение не превышает domain.MaxRunningProgress.
func Progress(processed, expected int) int {
	if processed <= 0 {
		return 0
	}
	var p int
	if expected > 0 {
		p = processed * 100 / expected
	} else {
		p = domain.MaxRunningProgress - domain.MaxRunningProgress/(processed+1)
	}
	return min(max(p, 0), domain.MaxRunningProgress)
}

func (r *Runner) persistContent(job domain.Job) persistFunc[domain.RawContentRecord] {
	return func(ctx context.Context, batch []domain.RawContentRecord) (int, int, error) {
		items := make([]domain.EngagementItem, 0, len(batch))
		skipped := 0
		seen := make(map[string]struct{}, len(batch))
		for _, rec := range batch {
			if err := rec.Validate(); err != nil {
				skipped++
				r.log.Debug().Str("job_id", job.ID).Str("post", rec.SourcePostID).Msg("jobs: пропущена некорректная запись")
				continue
			}
			key := rec.Community + "/" + rec.SourcePostID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			items = append(items, r.itemFromRecord(job, rec))
		}
		if len(items) == 0 {
			return 0, skipped, nil
		}
		stored, err := r.items.UpsertDiscovered(ctx, items)
		if err != nil {
			return 0, skipped, fmt.Errorf("сохранение публикаций: %w", err)
		}
		return stored, skipped, nil
	}
}

func (r *Runner) itemFromRecord(job domain.Job, rec domain.RawContentRecord) domain.EngagementItem {
	now := r.now()
	return domain.EngagementItem{
		ID:             r.newID(),
		Scope:          job.Scope,
		SourcePostID:   strings.TrimSpace(rec.SourcePostID),
		Community:      strings.TrimSpace(rec.Community),
		SourceURL:      rec.URL,
		SourceJobID:    job.ID,
		Title:          strings.TrimSpace(rec.Title),
		Body:           strings.TrimSpace(rec.Body),
		Author:         rec.Author,
		MatchedKeyword: rec.MatchedKeyword,
		Status:         domain.ItemStatusDiscovered,
		DiscoveredAt:   now,
		UpdatedAt:      now,
		Version:        1,
	}
}

func (r *Runner) persistChannels(job domain.Job) persistFunc[domain.DiscoveredChannel] {
	return func(ctx context.Context, batch []domain.DiscoveredChannel) (int, int, error) {
		valid := make([]domain.DiscoveredChannel, 0, len(batch))
		skipped := 0
		for _, ch := range batch {
			alias, err := channels.ParseAlias(ch.Alias)
			if err != nil || ch.ExternalID == 0 {
				skipped++
				continue
			}
			ch.Alias = alias
			ch.Scope = job.Scope
			ch.SourceJobID = job.ID
			if ch.DiscoveredAt.IsZero() {
				ch.DiscoveredAt = r.now()
			}
			valid = append(valid, ch)
		}
		if len(valid) == 0 {
			return 0, skipped, nil
		}
		stored, err := r.channels.UpsertChannels(ctx, valid)
		if err != nil {
			return 0, skipped, fmt.Errorf("сохранение каналов: %w", err)
		}
		return stored, skipped, nil
	}
}

func (r *Runner) syncAnalytics(ctx context.Context, job domain.Job) (tally, error) {
	published, err := r.items.ListPublished(ctx, job.Scope)
	if err != nil {
		return tally{}, fmt.Errorf("получение опубликованных ответов: %w", err)
	}
	if len(published) == 0 {
		return tally{}, nil
	}
	refs := make([]domain.PublishedRef, 0, len(published))
	known := make(map[string]struct{}, len(published))
	for _, item := range published {
		refs = append(refs, domain.PublishedRef{ItemID: item.ID, Community: item.Community, ReferenceID: item.PublishedReferenceID})
		known[item.ID] = struct{}{}
	}
	return drain(ctx, r, job, r.sources.Analytics.Stats(ctx, refs), func(ctx context.Context, batch []domain.PostStats) (int, int, error) {
		stored, skipped := 0, 0
		refreshed := r.now()
		for _, stats := range batch {
			if _, ok := known[stats.ItemID]; !ok || stats.Score < 0 || stats.Replies < 0 {
				skipped++
				continue
			}
			if err := r.items.UpdatePublishedStats(ctx, stats, refreshed); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					skipped++
					continue
				}
				return stored, skipped, fmt.Errorf("сохранение статистики: %w", err)
			}
			stored++
		}
		return stored, skipped, nil
	})
}

func normalizeParams(kind domain.JobKind, params domain.JobParams) (domain.JobParams, error) {
	params.Keywords = channels.NormalizeKeywords(params.Keywords)
	communities := make([]string, 0, len(params.Communities))
	seen := make(map[string]struct{})
	for _, raw := range params.Communities {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		alias, err := channels.ParseAlias(raw)
		if err != nil {
			return params, fmt.Errorf("%w: community %q: %v", domain.ErrInvalidParams, raw, err)
		}
		if _, ok := seen[alias]; ok {
			continue
		}
		seen[alias] = struct{}{}
		communities = append(communities, alias)
	}
	params.Communities = communities

	if len(params.Keywords) > maxKeywords {
		return params, fmt.Errorf("%w: at most %d keywords", domain.ErrInvalidParams, maxKeywords)
	}
	if len(params.Communities) > maxCommunities {
		return params, fmt.Errorf("%w: at most %d communities", domain.ErrInvalidParams, maxCommunities)
	}
	if params.Limit < 0 || params.Limit > maxResultLimit {
		return params, fmt.Errorf("%w: limit must be within 0..%d", domain.ErrInvalidParams, maxResultLimit)
	}

	switch kind {
	case domain.JobKindContentDiscovery:
		if len(params.Keywords) == 0 && len(params.Communities) == 0 {
			return params, fmt.Errorf("%w: keywords or communities are required", domain.ErrInvalidParams)
		}
	case domain.JobKindChannelDiscovery:
		if len(params.Keywords) == 0 {
			return params, fmt.Errorf("%w: keywords are required", domain.ErrInvalidParams)
		}
	}
	return params, nil
}
