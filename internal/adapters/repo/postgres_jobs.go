package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/metrics"
)

var _ domain.JobStore = (*Postgres)(nil)

const activeJobIndex = "jobs_active_kind_scope_idx"

const jobColumns = `id::text, kind, scope, status, progress, result_count, skipped_count, error, params, created_at, started_at, completed_at`

// CreateJob реализует domain.JobStore. Единственность активной задачи обеспечивает частичный уникальный индекс.
func (p *Postgres) CreateJob(ctx context.Context, kind domain.JobKind, scope string, params domain.JobParams) (domain.Job, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	payload, err := json.Marshal(params)
	if err != nil {
		return domain.Job{}, fmt.Errorf("кодирование параметров: %w", err)
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO jobs (id, kind, scope, status, params)
VALUES ($1, $2, $3, 'pending', $4)
RETURNING `+jobColumns, uuid.NewString(), string(kind), scope, payload)
	job, err := scanJob(row)
	if isUniqueViolation(err, activeJobIndex) {
		metrics.ObserveNetworkRequest("postgres", "jobs_insert", "jobs", start, nil)
		conflict := &domain.ConflictError{Kind: kind, Scope: scope}
		if active, lookupErr := p.activeJobID(ctx, kind, scope); lookupErr == nil {
			conflict.ActiveJobID = active
		}
		return domain.Job{}, conflict
	}
	metrics.ObserveNetworkRequest("postgres", "jobs_insert", "jobs", start, err)
	if err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (p *Postgres) activeJobID(ctx context.Context, kind domain.JobKind, scope string) (string, error) {
	var id string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id FROM jobs WHERE kind = $1 AND scope = $2 AND status IN ('pending', 'running')
`, string(kind), scope).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "jobs_active", "jobs", start, err)
	return id, err
}

// MarkRunning переводит задачу из pending в running.
func (p *Postgres) MarkRunning(ctx context.Context, id string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE jobs SET status = 'running', started_at = now()
WHERE id = $1 AND status = 'pending'
`, id)
	metrics.ObserveNetworkRequest("postgres", "jobs_mark_running", "jobs", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: задача %s не ожидает запуска", domain.ErrNotFound, id)
	}
	return nil
}

// UpdateProgress реализует domain.JobStore. Прогресс не уменьшается, завершённые задачи не меняются.
func (p *Postgres) UpdateProgress(ctx context.Context, id string, progress, resultCount, skipped int) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	progress = min(max(progress, 0), domain.MaxRunningProgress)
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE jobs
SET progress = GREATEST(progress, $2), result_count = $3, skipped_count = $4
WHERE id = $1 AND status IN ('pending', 'running')
`, id, progress, resultCount, skipped)
	metrics.ObserveNetworkRequest("postgres", "jobs_progress", "jobs", start, err)
	return err
}

// CompleteJob завершает задачу успешно.
func (p *Postgres) CompleteJob(ctx context.Context, id string, resultCount, skipped int) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE jobs
SET status = 'completed', progress = 100, result_count = $2, skipped_count = $3, completed_at = now()
WHERE id = $1 AND status IN ('pending', 'running')
`, id, resultCount, skipped)
	metrics.ObserveNetworkRequest("postgres", "jobs_complete", "jobs", start, err)
	return err
}

// FailJob завершает задачу с ошибкой.
func (p *Postgres) FailJob(ctx context.Context, id string, message string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE jobs SET status = 'failed', error = $2, completed_at = now()
WHERE id = $1 AND status IN ('pending', 'running')
`, id, message)
	metrics.ObserveNetworkRequest("postgres", "jobs_fail", "jobs", start, err)
	return err
}

// FailInterrupted помечает ошибкой все незавершённые задачи.
func (p *Postgres) FailInterrupted(ctx context.Context, message string) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE jobs SET status = 'failed', error = $1, completed_at = now()
WHERE status IN ('pending', 'running')
`, message)
	metrics.ObserveNetworkRequest("postgres", "jobs_fail_interrupted", "jobs", start, err)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// GetJob возвращает задачу по идентификатору.
func (p *Postgres) GetJob(ctx context.Context, id string) (domain.Job, error) {
	if err := uuid.Validate(id); err != nil {
		return domain.Job{}, domain.ErrNotFound
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	job, err := scanJob(p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "jobs_get", "jobs", start, nil)
		return domain.Job{}, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "jobs_get", "jobs", start, err)
	return job, err
}

// ListJobs возвращает задачи, начиная с новых.
func (p *Postgres) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Scope != "" {
		add("scope = $%d", filter.Scope)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "jobs_list", "jobs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		job    domain.Job
		kind   string
		status string
		params []byte
	)
	if err := row.Scan(&job.ID, &kind, &job.Scope, &status, &job.Progress, &job.ResultCount, &job.SkippedCount,
		&job.Error, &params, &job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
		return domain.Job{}, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return domain.Job{}, fmt.Errorf("распаковка параметров задачи: %w", err)
		}
	}
	return job, nil
}
